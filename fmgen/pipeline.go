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

// Package fmgen is the symbolic core of the product counter: it
// synthesizes a variable schema from a feature tree, compiles the
// feature semantics and the cross-tree constraints into decision
// diagram edges, and folds them into one diagram whose cardinality is
// the number of valid configurations.
package fmgen

import (
	"fmt"
	"math/big"
	"os"

	log "github.com/golang/glog"
	"golang.org/x/exp/slices"

	"github.com/fmselab/fmcmdd/fmtree"
	"github.com/fmselab/fmcmdd/mdd"
	"github.com/fmselab/fmcmdd/util"
)

// Result is the outcome of one counting run.
type Result struct {
	// Count is the number of valid configurations.
	Count *big.Int
	// MaxNodes and MaxEdges are the high-water marks of the running
	// diagram across cross-tree constraint application.
	MaxNodes int
	MaxEdges int
	// Warnings collects the non-fatal issues encountered: dropped
	// constraints and unresolved feature references.
	Warnings util.Errors
}

// CountProductsFromFile parses the feature model stored at path and
// counts its valid configurations.
func CountProductsFromFile(path string, cfg *Config) (*Result, error) {
	m, err := fmtree.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return CountProducts(m, cfg)
}

// CountProducts counts the valid configurations of the model. The
// feature tree is encoded into diagram variables, the structural
// constraints are applied in a fixed order (mandatory roots, mandatory
// biconditionals, or-groups, alt-groups, parent-child dependencies) and
// the cross-tree rules last, each constraint intersected into the
// running diagram. Per-constraint backend failures are reported in
// Result.Warnings and skipped; every other error is fatal.
func CountProducts(m *fmtree.Model, cfg *Config) (*Result, error) {
	s, err := BuildSchema(m.Root, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SortVariables {
		s.ReorderByOccurrences(m.Rules)
	}

	f, err := mdd.NewForest(s.Bounds())
	if err != nil {
		return nil, fmt.Errorf("cannot create diagram domain: %w", err)
	}
	if cfg.NodeLimit > 0 {
		f.SetNodeLimit(cfg.NodeLimit)
	}
	log.V(1).Infof("created domain with %d variables", f.NumVariables())

	p := &pipeline{
		cfg:   cfg,
		s:     s,
		f:     f,
		top:   f.Constant(true),
		start: f.Constant(true),
		res:   &Result{},
	}
	defer func() {
		p.start.Detach()
		p.top.Detach()
		f.ClearComputeTable()
	}()
	p.logCardinality("initial")

	if err := p.applyMandatoryRoots(); err != nil {
		return nil, err
	}
	p.logCardinality("mandatory roots")

	if err := p.applyMandatoryImplications(); err != nil {
		return nil, err
	}
	p.logCardinality("mandatory features")

	if err := p.applyOrGroups(); err != nil {
		return nil, err
	}
	p.logCardinality("or-groups")

	if err := p.applyAltGroups(); err != nil {
		return nil, err
	}
	p.logCardinality("alt-groups")

	if err := p.applySingleImplications(); err != nil {
		return nil, err
	}
	p.logCardinality("feature dependencies")

	if err := p.applyCrossTree(m.Rules); err != nil {
		return nil, err
	}

	p.res.Count = p.start.Cardinality()
	log.Infof("number of valid products: %s", p.res.Count)

	if cfg.PrintMdd {
		if err := p.writeDot(); err != nil {
			log.Errorf("cannot write diagram: %v", err)
			p.res.Warnings = util.AppendErr(p.res.Warnings, err)
		}
	}
	return p.res, nil
}

// pipeline owns the running diagram while the constraints are folded
// in.
type pipeline struct {
	cfg   *Config
	s     *Schema
	f     *mdd.Forest
	top   *mdd.Edge
	start *mdd.Edge
	res   *Result
}

func (p *pipeline) logCardinality(stage string) {
	if log.V(1) {
		log.Infof("cardinality after %s: %s", stage, p.start.Cardinality())
	}
}

// intersect folds c into the running diagram and releases c.
func (p *pipeline) intersect(c *mdd.Edge) error {
	defer c.Detach()
	next, err := p.start.Intersect(c)
	if err != nil {
		return err
	}
	p.start.Detach()
	p.start = next
	return nil
}

// pin builds the edge of assignments with ref's variable at ref's
// value; refNeg additionally interprets the negation overload.
func (p *pipeline) pin(ref ValueRef) (*mdd.Edge, error) {
	tuple := make([]int, p.s.NumVariables())
	for i := range tuple {
		tuple[i] = -1
	}
	tuple[ref.Var] = ref.Value
	return p.f.FromTuple(tuple)
}

func (p *pipeline) refNeg(ref ValueRef) (*mdd.Edge, error) {
	bound := p.s.DomainSize(ref.Var)
	if ref.Value < bound {
		return p.pin(ref)
	}
	e, err := p.pin(ValueRef{Var: ref.Var, Value: ref.Value - bound})
	if err != nil {
		return nil, err
	}
	defer e.Detach()
	return p.top.Difference(e)
}

// applyMandatoryRoots pins every mandatory root to a selected value by
// excluding the assignment where they are all at their none sentinel.
func (p *pipeline) applyMandatoryRoots() error {
	if len(p.s.MandatoryRoots) == 0 {
		return nil
	}
	tuple := make([]int, p.s.NumVariables())
	for i := range tuple {
		tuple[i] = -1
	}
	for _, idx := range p.s.MandatoryRoots {
		log.V(1).Infof("variable %d set as mandatory", idx)
		tuple[idx] = p.s.NoneIndex(idx)
	}
	allNone, err := p.f.FromTuple(tuple)
	if err != nil {
		return err
	}
	defer allNone.Detach()
	c, err := p.top.Difference(allNone)
	if err != nil {
		return err
	}
	return p.intersect(c)
}

// applyMandatoryImplications applies every child ⇔ parent biconditional
// with the diagram equivalence operator.
func (p *pipeline) applyMandatoryImplications() error {
	for _, imp := range p.s.MandatoryImplications {
		log.V(1).Infof("adding constraint [%d=%s] <=> [%d=%s]",
			imp.Child.Var, p.s.ValueLabel(imp.Child.Var, imp.Child.Value),
			imp.Parent.Var, p.s.ValueLabel(imp.Parent.Var, imp.Parent.Value))
		a, err := p.refNeg(imp.Child)
		if err != nil {
			return err
		}
		b, err := p.refNeg(imp.Parent)
		if err != nil {
			a.Detach()
			return err
		}
		c, err := a.Equiv(b)
		a.Detach()
		b.Detach()
		if err != nil {
			return err
		}
		if err := p.intersect(c); err != nil {
			return err
		}
	}
	return nil
}

// applyOrGroups enforces parent-selected ⇒ at-least-one-child for both
// or-group forms.
func (p *pipeline) applyOrGroups() error {
	for _, g := range p.s.OrGroupsLeaf {
		if len(g.Children) == 0 {
			continue
		}
		log.V(1).Infof("adding or-group constraint for variable %d", g.Parent.Var)
		parentOff, err := p.pin(g.Parent)
		if err != nil {
			return err
		}
		var anyChild *mdd.Edge
		for _, cIdx := range g.Children {
			e, err := p.pin(ValueRef{Var: cIdx, Value: 1})
			if err != nil {
				parentOff.Detach()
				if anyChild != nil {
					anyChild.Detach()
				}
				return err
			}
			if anyChild == nil {
				anyChild = e
				continue
			}
			next, err := anyChild.Union(e)
			anyChild.Detach()
			e.Detach()
			if err != nil {
				parentOff.Detach()
				return err
			}
			anyChild = next
		}
		c, err := parentOff.Union(anyChild)
		parentOff.Detach()
		anyChild.Detach()
		if err != nil {
			return err
		}
		if err := p.intersect(c); err != nil {
			return err
		}
	}

	for _, g := range p.s.OrGroups {
		if len(g.Children) == 0 {
			continue
		}
		log.V(1).Infof("adding or-group constraint for variable %d", g.Parent.Var)
		parentOff, err := p.pin(g.Parent)
		if err != nil {
			return err
		}
		var anyChild *mdd.Edge
		for _, ref := range g.Children {
			off, err := p.pin(ref)
			if err == nil {
				var sel *mdd.Edge
				sel, err = p.top.Difference(off)
				off.Detach()
				if err == nil {
					if anyChild == nil {
						anyChild = sel
					} else {
						var next *mdd.Edge
						next, err = anyChild.Union(sel)
						anyChild.Detach()
						sel.Detach()
						anyChild = next
					}
				}
			}
			if err != nil {
				parentOff.Detach()
				if anyChild != nil {
					anyChild.Detach()
				}
				return err
			}
		}
		c, err := parentOff.Union(anyChild)
		parentOff.Detach()
		anyChild.Detach()
		if err != nil {
			return err
		}
		if err := p.intersect(c); err != nil {
			return err
		}
	}
	return nil
}

// applyAltGroups enforces the exactly-one semantics of the alternative
// groups that kept a boolean parent variable: pairwise exclusion of the
// children plus parent ⇒ at-least-one.
func (p *pipeline) applyAltGroups() error {
	for _, g := range p.s.AltGroups {
		if len(g.Children) == 0 {
			continue
		}
		log.V(1).Infof("adding alt-group constraint for variable %d", g.Parent.Var)
		for i := range g.Children {
			// child i selected ⇒ every sibling unselected.
			iOff, err := p.pin(g.Children[i])
			if err != nil {
				return err
			}
			others := p.top.Clone()
			for j := range g.Children {
				if j == i {
					continue
				}
				jOff, err := p.pin(g.Children[j])
				if err == nil {
					var next *mdd.Edge
					next, err = others.Intersect(jOff)
					others.Detach()
					jOff.Detach()
					others = next
				}
				if err != nil {
					iOff.Detach()
					return err
				}
			}
			c, err := iOff.Union(others)
			iOff.Detach()
			others.Detach()
			if err != nil {
				return err
			}
			if err := p.intersect(c); err != nil {
				return err
			}
		}

		parentOff, err := p.pin(g.Parent)
		if err != nil {
			return err
		}
		var anySelected *mdd.Edge
		for _, ref := range g.Children {
			off, err := p.pin(ref)
			if err == nil {
				var sel *mdd.Edge
				sel, err = p.top.Difference(off)
				off.Detach()
				if err == nil {
					if anySelected == nil {
						anySelected = sel
					} else {
						var next *mdd.Edge
						next, err = anySelected.Union(sel)
						anySelected.Detach()
						sel.Detach()
						anySelected = next
					}
				}
			}
			if err != nil {
				parentOff.Detach()
				if anySelected != nil {
					anySelected.Detach()
				}
				return err
			}
		}
		c, err := parentOff.Union(anySelected)
		parentOff.Detach()
		anySelected.Detach()
		if err != nil {
			return err
		}
		if err := p.intersect(c); err != nil {
			return err
		}
	}
	return nil
}

// applySingleImplications enforces child-selected ⇒ parent-selected for
// every dependency entry.
func (p *pipeline) applySingleImplications() error {
	for _, imp := range p.s.SingleImplications {
		log.V(1).Infof("adding dependency [%d!=%s] => [%d!=%s]",
			imp.Child.Var, p.s.ValueLabel(imp.Child.Var, imp.Child.Value),
			imp.Parent.Var, p.s.ValueLabel(imp.Parent.Var, imp.Parent.Value))
		parentOff, err := p.pin(imp.Parent)
		if err != nil {
			return err
		}
		parentOn, err := p.top.Difference(parentOff)
		parentOff.Detach()
		if err != nil {
			return err
		}
		childOff, err := p.pin(imp.Child)
		if err != nil {
			parentOn.Detach()
			return err
		}
		c, err := parentOn.Union(childOff)
		parentOn.Detach()
		childOff.Detach()
		if err != nil {
			return err
		}
		if err := p.intersect(c); err != nil {
			return err
		}
	}

	// For a parent merged into a collapsed alternative the parent side
	// pins the real value, so the implication needs no complement.
	for _, imp := range p.s.SingleImplicationsNonLeaf {
		log.V(1).Infof("adding dependency [%d child] => [%d=%s]",
			imp.Child.Var, imp.Parent.Var, p.s.ValueLabel(imp.Parent.Var, imp.Parent.Value))
		parentAt, err := p.pin(imp.Parent)
		if err != nil {
			return err
		}
		childOff, err := p.pin(imp.Child)
		if err != nil {
			parentAt.Detach()
			return err
		}
		c, err := parentAt.Union(childOff)
		parentAt.Detach()
		childOff.Detach()
		if err != nil {
			return err
		}
		if err := p.intersect(c); err != nil {
			return err
		}
	}
	return nil
}

// applyCrossTree compiles and applies the cross-tree rules. Failures of
// individual constraints are recorded and skipped; diagram growth is
// watched and may trigger dynamic variable reordering.
func (p *pipeline) applyCrossTree(rules []*fmtree.Formula) error {
	if len(rules) == 0 {
		return nil
	}
	comp := &compiler{cfg: p.cfg, s: p.s, f: p.f, top: p.top}
	edges, err := comp.compile(rules)
	p.res.Warnings = util.AppendErrs(p.res.Warnings, comp.warnings)
	if err != nil {
		return err
	}

	if p.cfg.SortWhenApplying {
		slices.SortFunc(edges, func(a, b *mdd.Edge) int {
			return a.NodeCount() - b.NodeCount()
		})
	}

	oldNodes := 0
	for i, e := range edges {
		next, err := p.start.Intersect(e)
		e.Detach()
		if err != nil {
			log.Errorf("constraint application %d failed: %v", i+1, err)
			p.res.Warnings = util.AppendErr(p.res.Warnings, fmt.Errorf("constraint application %d failed: %v", i+1, err))
			continue
		}
		p.start.Detach()
		p.start = next

		nodes := p.start.NodeCount()
		if p.cfg.ReorderVariables && i != 0 && i != len(edges)-1 && p.shouldReorder(nodes, oldNodes) {
			log.V(1).Info("start reordering")
			p.f.ClearComputeTable()
			p.f.ReorderVariables()
			log.V(1).Info("end reordering")
			nodes = p.start.NodeCount()
		}

		edgeCount := p.start.EdgeCount()
		if log.V(1) {
			log.Infof("cardinality after constraint %d: %s - edges: %d - nodes: %d",
				i+1, p.start.Cardinality(), edgeCount, nodes)
		}
		if nodes > p.res.MaxNodes {
			p.res.MaxNodes = nodes
		}
		if edgeCount > p.res.MaxEdges {
			p.res.MaxEdges = edgeCount
		}
		oldNodes = nodes
	}
	return nil
}

// shouldReorder applies the growth thresholds: a moderate growth factor
// in the mid node band, a tighter one above it.
func (p *pipeline) shouldReorder(nodes, oldNodes int) bool {
	switch {
	case nodes >= p.cfg.NodesLarge:
		return float64(nodes) > p.cfg.GrowthLarge*float64(oldNodes)
	case nodes > p.cfg.NodesMid:
		return float64(nodes) > p.cfg.GrowthMid*float64(oldNodes)
	}
	return false
}

func (p *pipeline) writeDot() error {
	w, err := os.Create(p.cfg.DotPath)
	if err != nil {
		return err
	}
	defer w.Close()
	return p.f.WriteDot(w, p.start, "MDD")
}
