// Copyright 2023 the fmcmdd Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fmgen

import (
	"fmt"
	"strconv"

	log "github.com/golang/glog"

	"github.com/fmselab/fmcmdd/fmtree"
)

// BuildSchema walks the feature tree depth-first and allocates one
// schema variable per feature that needs an own encoding, together with
// the implication and grouping tables the pipeline consumes. Three
// encodings shrink the variable count:
//
//   - a mandatory leaf outside an alternative is not encoded at all; it
//     is recorded in Substitutions and every later reference resolves
//     to its parent;
//   - an alternative with several children becomes one enumerative
//     variable whose values are the child names plus NONE;
//   - with cfg.CompressAnd set, an and-group of at most
//     cfg.CompressThreshold leaves becomes one variable whose values
//     enumerate the admissible child subsets as
//     bitmask labels, recorded per child in AndLeafs.
func BuildSchema(root *fmtree.Node, cfg *Config) (*Schema, error) {
	if root == nil {
		return nil, fmt.Errorf("feature tree is empty")
	}
	sy := &synthesizer{cfg: cfg, s: newSchema()}
	if err := sy.visit(root); err != nil {
		return nil, err
	}
	if log.V(2) {
		log.Infof("defined variables:\n%s", sy.s)
	}
	return sy.s, nil
}

type synthesizer struct {
	cfg *Config
	s   *Schema
}

func (sy *synthesizer) visit(n *fmtree.Node) error {
	if sy.cfg.IgnoreHidden && n.Hidden {
		log.V(1).Infof("ignoring hidden feature %q", n.Name)
		return nil
	}
	switch n.Kind {
	case fmtree.AltNode:
		return sy.visitAlt(n)
	case fmtree.AndNode:
		return sy.visitAnd(n)
	case fmtree.OrNode:
		return sy.visitOr(n)
	case fmtree.FeatureNode:
		return sy.visitFeature(n)
	default:
		return fmt.Errorf("%w: %v", fmtree.ErrInvalidNodeKind, n.Kind)
	}
}

// visitFeature encodes a plain feature as a boolean variable, unless
// the mandatory-leaf substitution applies. It also allocates the group
// variable when called on behalf of visitOr.
func (sy *synthesizer) visitFeature(n *fmtree.Node) error {
	if n.Mandatory && n.Parent != nil && n.IsLeaf() && n.Parent.Kind != fmtree.AltNode {
		// Selected exactly when the parent is: no variable needed, only
		// a rename for constraint references.
		sy.s.Substitutions[n.Name] = n.Parent.Name
		return nil
	}
	idx := sy.defineBoolVar(n.Name)
	sy.setMandatory(n, 0, idx)
	sy.setDependency(n, idx)
	return nil
}

// visitAnd encodes an and-group, either compressed into a bitmask
// variable or as a boolean variable plus individually encoded children.
func (sy *synthesizer) visitAnd(n *fmtree.Node) error {
	visible := sy.visibleChildren(n)
	if allLeaves(n) && sy.cfg.CompressAnd && len(visible) <= sy.cfg.CompressThreshold {
		var mandatories []int
		for i, c := range visible {
			if c.Mandatory {
				mandatories = append(mandatories, i)
			}
		}
		values := []string{"NONE"}
		for mask := 0; mask < 1<<len(visible); mask++ {
			if len(mandatories) > 0 && mask == 0 {
				// With a mandatory child the empty subset is invalid.
				continue
			}
			ok := true
			for _, m := range mandatories {
				if mask&(1<<m) == 0 {
					ok = false
					break
				}
			}
			if ok {
				values = append(values, strconv.Itoa(mask))
			}
		}
		idx := sy.s.addVariable(n.Name, values, 0)
		sy.setDependency(n, idx)
		sy.setMandatory(n, 0, idx)

		for i, c := range visible {
			var labels []string
			for _, v := range values[1:] {
				mask, _ := strconv.Atoi(v)
				if mask&(1<<i) != 0 {
					labels = append(labels, v)
				}
			}
			sy.s.AndLeafs[c.Name] = AndLeaf{Parent: n.Name, Labels: labels}
		}
		return nil
	}

	idx := sy.defineBoolVar(n.Name)
	sy.setDependency(n, idx)
	sy.setMandatory(n, 0, idx)
	for _, c := range n.Children {
		if err := sy.visit(c); err != nil {
			return err
		}
	}
	return nil
}

// visitOr encodes an or-group: a boolean variable for the group itself
// plus one variable per child, collected into the or table in its leaf
// or general form.
func (sy *synthesizer) visitOr(n *fmtree.Node) error {
	if err := sy.visitFeature(n); err != nil {
		return err
	}
	pIdx, ok := sy.s.index[n.Name]
	if !ok {
		// A childless mandatory group was substituted away; there is no
		// group constraint to emit.
		return nil
	}
	parent := ValueRef{Var: pIdx, Value: sy.s.none[pIdx]}

	if allLeaves(n) {
		var children []int
		for _, c := range n.Children {
			if err := sy.visit(c); err != nil {
				return err
			}
			// Substituted or ignored children carry no own variable and
			// cannot take part in the group constraint.
			if cIdx, ok := sy.s.index[c.Name]; ok {
				children = append(children, cIdx)
			}
		}
		sy.s.OrGroupsLeaf = append(sy.s.OrGroupsLeaf, LeafOrGroup{Parent: parent, Children: children})
		return nil
	}

	var children []ValueRef
	for _, c := range n.Children {
		if err := sy.visit(c); err != nil {
			return err
		}
		if cIdx, ok := sy.s.index[c.Name]; ok {
			children = append(children, ValueRef{Var: cIdx, Value: sy.s.none[cIdx]})
		}
	}
	sy.s.OrGroups = append(sy.s.OrGroups, Group{Parent: parent, Children: children})
	return nil
}

// visitAlt encodes an alternative. With several children the group
// collapses into one enumerative variable over the child names; an
// alternative or or-group child is then encoded separately and tied to
// its value by a biconditional using the negated-value overload, while
// any other child is represented by its value alone and only its own
// children receive variables. A single-child
// alternative falls back to a boolean group variable with an explicit
// exclusion group.
func (sy *synthesizer) visitAlt(n *fmtree.Node) error {
	if len(n.Children) > 1 {
		values := make([]string, 0, len(n.Children)+1)
		for _, c := range n.Children {
			values = append(values, c.Name)
		}
		noneIdx := len(values)
		values = append(values, "NONE")

		idx := sy.s.addVariable(n.Name, values, noneIdx)
		sy.setMandatory(n, noneIdx, idx)
		sy.setDependency(n, idx)

		for _, c := range n.Children {
			if c.Kind == fmtree.FeatureNode {
				continue
			}
			if c.Kind == fmtree.AltNode || c.Kind == fmtree.OrNode {
				if err := sy.visit(c); err != nil {
					return err
				}
				cIdx, ok := sy.s.index[c.Name]
				if !ok {
					// The child was skipped (hidden); nothing to tie.
					continue
				}
				valIdx := indexOf(values, c.Name)
				sy.s.MandatoryImplications = append(sy.s.MandatoryImplications, Implication{
					Child:  ValueRef{Var: cIdx, Value: sy.s.none[cIdx]},
					Parent: ValueRef{Var: idx, Value: valIdx + len(values)},
				})
				continue
			}
			// The child feature itself is represented by its value in
			// the enumerative variable; only its children need own
			// variables.
			for _, gc := range c.Children {
				if err := sy.visit(gc); err != nil {
					return err
				}
			}
		}
		return nil
	}

	idx := sy.defineBoolVar(n.Name)
	sy.setDependency(n, idx)
	sy.setMandatory(n, 0, idx)

	var children []ValueRef
	for _, c := range n.Children {
		if err := sy.visit(c); err != nil {
			return err
		}
		if cIdx, ok := sy.s.index[c.Name]; ok {
			children = append(children, ValueRef{Var: cIdx, Value: sy.s.none[cIdx]})
		}
	}
	sy.s.AltGroups = append(sy.s.AltGroups, Group{
		Parent:   ValueRef{Var: idx, Value: sy.s.none[idx]},
		Children: children,
	})
	return nil
}

// defineBoolVar allocates a boolean variable with false as the none
// sentinel.
func (sy *synthesizer) defineBoolVar(name string) int {
	return sy.s.addVariable(name, []string{"false", "true"}, 0)
}

// setMandatory records the mandatory semantics of a freshly allocated
// variable: a tree root goes into MandatoryRoots, any other node is
// tied to its parent with a biconditional.
func (sy *synthesizer) setMandatory(n *fmtree.Node, noneIdx, varIdx int) {
	if !n.Mandatory {
		return
	}
	if n.Parent == nil {
		log.V(1).Infof("variable %d (%s) is mandatory at the root", varIdx, n.Name)
		sy.s.MandatoryRoots = append(sy.s.MandatoryRoots, varIdx)
		return
	}
	parentName := n.Parent.Name
	if pIdx, ok := sy.s.index[parentName]; ok {
		sy.s.MandatoryImplications = append(sy.s.MandatoryImplications, Implication{
			Child:  ValueRef{Var: varIdx, Value: noneIdx},
			Parent: ValueRef{Var: pIdx, Value: sy.s.none[pIdx]},
		})
		return
	}
	if vVar, vVal, ok := sy.s.IndexOfValue(parentName); ok {
		// The parent collapsed into an alternative; tie to the negation
		// of its value there.
		sy.s.MandatoryImplications = append(sy.s.MandatoryImplications, Implication{
			Child:  ValueRef{Var: varIdx, Value: noneIdx},
			Parent: ValueRef{Var: vVar, Value: vVal + sy.s.DomainSize(vVar)},
		})
		return
	}
	// The parent was folded into a compressed and-group; there is no
	// single value to tie the biconditional to.
	log.Warningf("mandatory feature %q under compressed group %q: constraint dropped", n.Name, parentName)
}

// setDependency records that the freshly allocated variable cannot be
// selected unless its parent is.
func (sy *synthesizer) setDependency(n *fmtree.Node, varIdx int) {
	if n.Parent == nil {
		return
	}
	noneIdx := sy.s.none[varIdx]
	parentName := n.Parent.Name
	if pIdx, ok := sy.s.index[parentName]; ok {
		sy.s.SingleImplications = append(sy.s.SingleImplications, Implication{
			Child:  ValueRef{Var: varIdx, Value: noneIdx},
			Parent: ValueRef{Var: pIdx, Value: sy.s.none[pIdx]},
		})
		return
	}
	if vVar, vVal, ok := sy.s.IndexOfValue(parentName); ok {
		sy.s.SingleImplicationsNonLeaf = append(sy.s.SingleImplicationsNonLeaf, Implication{
			Child:  ValueRef{Var: varIdx, Value: noneIdx},
			Parent: ValueRef{Var: vVar, Value: vVal},
		})
		return
	}
	log.Warningf("feature %q depends on compressed group %q: constraint dropped", n.Name, parentName)
}

// visibleChildren returns the children that take part in the encoding
// under the current hidden-feature policy.
func (sy *synthesizer) visibleChildren(n *fmtree.Node) []*fmtree.Node {
	if !sy.cfg.IgnoreHidden {
		return n.Children
	}
	var out []*fmtree.Node
	for _, c := range n.Children {
		if !c.Hidden {
			out = append(out, c)
		}
	}
	return out
}

// allLeaves reports whether every child is a plain feature; group
// children force the general encoding.
func allLeaves(n *fmtree.Node) bool {
	for _, c := range n.Children {
		if c.Kind != fmtree.FeatureNode {
			return false
		}
	}
	return true
}

func indexOf(values []string, v string) int {
	for i, x := range values {
		if x == v {
			return i
		}
	}
	return -1
}
