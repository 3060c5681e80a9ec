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
	"sort"

	"github.com/fmselab/fmcmdd/fmtree"
)

// ValueRef addresses one value of one schema variable. A Value at or
// beyond the variable's domain size carries the negation overload: it
// stands for "variable is NOT Value-minus-domain-size", and consumers
// complement accordingly.
type ValueRef struct {
	Var   int
	Value int
}

// Implication relates a child variable reference to a parent reference.
// Both sides name the "none" value of their variable unless the
// negation overload applies, except in SingleImplicationsNonLeaf, whose
// parent side names a real value; the pipeline decides whether the relation
// is one-directional (single implication) or a biconditional
// (mandatory implication).
type Implication struct {
	Child  ValueRef
	Parent ValueRef
}

// LeafOrGroup is an or-group whose children are all boolean leaf
// variables, referenced by index only.
type LeafOrGroup struct {
	// Parent references the group variable at its none value.
	Parent   ValueRef
	Children []int
}

// Group is an or- or alt-group over arbitrary child variables; every
// reference names the none value of its variable.
type Group struct {
	Parent   ValueRef
	Children []ValueRef
}

// AndLeaf records how a leaf feature was folded into a bitmask-encoded
// and-group: the enclosing group variable and the subset of its value
// labels that select the leaf.
type AndLeaf struct {
	Parent string
	Labels []string
}

// Schema is the variable encoding of one feature tree: the ordered
// variables with their domains, plus the symbolic tables the pipeline
// and the constraint compiler interpret. A Schema is built once by
// BuildSchema and read-only afterwards.
type Schema struct {
	names   []string
	index   map[string]int
	domains [][]string
	none    []int

	// MandatoryRoots lists variables that are selected unconditionally.
	MandatoryRoots []int
	// MandatoryImplications holds child ⇔ parent biconditionals.
	MandatoryImplications []Implication
	// SingleImplications holds child-selected ⇒ parent-selected
	// dependencies; SingleImplicationsNonLeaf the variant whose parent
	// side is a real value of a collapsed alternative variable.
	SingleImplications        []Implication
	SingleImplicationsNonLeaf []Implication
	// OrGroupsLeaf and OrGroups hold the inclusive-or groups in their
	// boolean-children and general forms.
	OrGroupsLeaf []LeafOrGroup
	OrGroups     []Group
	// AltGroups holds the alternative groups that were not collapsed
	// into an enumerative variable.
	AltGroups []Group
	// Substitutions renames mandatory leaf features to their parent.
	Substitutions map[string]string
	// AndLeafs maps a folded leaf feature to its bitmask encoding.
	AndLeafs map[string]AndLeaf
}

func newSchema() *Schema {
	return &Schema{
		index:         map[string]int{},
		Substitutions: map[string]string{},
		AndLeafs:      map[string]AndLeaf{},
	}
}

// addVariable allocates the next variable index for name.
func (s *Schema) addVariable(name string, domain []string, none int) int {
	idx := len(s.names)
	s.names = append(s.names, name)
	s.index[name] = idx
	s.domains = append(s.domains, domain)
	s.none = append(s.none, none)
	return idx
}

// NumVariables returns the number of allocated variables.
func (s *Schema) NumVariables() int {
	return len(s.names)
}

// Name returns the feature or group name of variable i.
func (s *Schema) Name(i int) string {
	return s.names[i]
}

// Index returns the variable index allocated for name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Domain returns the value labels of variable i. Callers must not
// mutate the returned slice.
func (s *Schema) Domain(i int) []string {
	return s.domains[i]
}

// DomainSize returns the number of values of variable i.
func (s *Schema) DomainSize(i int) int {
	return len(s.domains[i])
}

// Bounds returns the per-variable domain sizes, in index order.
func (s *Schema) Bounds() []int {
	b := make([]int, len(s.domains))
	for i, d := range s.domains {
		b[i] = len(d)
	}
	return b
}

// NoneIndex returns the position of the none sentinel of variable i.
func (s *Schema) NoneIndex(i int) int {
	return s.none[i]
}

// NoneIndexOf returns the none sentinel position of the variable
// allocated for name.
func (s *Schema) NoneIndexOf(name string) (int, bool) {
	i, ok := s.index[name]
	if !ok {
		return 0, false
	}
	return s.none[i], true
}

// ValueLabel renders value v of variable i, using a leading minus for
// the negation overload.
func (s *Schema) ValueLabel(i, v int) string {
	d := s.domains[i]
	if v >= len(d) {
		return "-" + d[v-len(d)]
	}
	return d[v]
}

// IndexOfValue locates label as a value of some variable, scanning in
// index order; it resolves features that were merged into an
// enumerative variable.
func (s *Schema) IndexOfValue(label string) (varIdx, valIdx int, ok bool) {
	for i, d := range s.domains {
		for v, l := range d {
			if l == label {
				return i, v, true
			}
		}
	}
	return 0, 0, false
}

// isBoolean reports whether variable i is a plain boolean feature
// variable rather than an enumerative encoding.
func (s *Schema) isBoolean(i int) bool {
	d := s.domains[i]
	if len(d) != 2 {
		return false
	}
	return d[0] == "false" || d[0] == "true" || d[1] == "false" || d[1] == "true"
}

// ReorderByOccurrences renumbers the variables by ascending number of
// occurrences across the cross-tree rules, so that the most-referenced
// variables take the highest indices. Every table is rewritten under
// the new numbering. The relative order of equally-counted variables
// follows their allocation order.
func (s *Schema) ReorderByOccurrences(rules []*fmtree.Formula) {
	counts := make([]int, len(s.names))
	for i, name := range s.names {
		for _, r := range rules {
			counts[i] += occurrences(r, name)
		}
	}
	order := make([]int, len(s.names))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] < counts[order[b]]
	})

	// order[newIdx] = oldIdx; invert into a rewrite map.
	remap := make([]int, len(order))
	for newIdx, oldIdx := range order {
		remap[oldIdx] = newIdx
	}

	names := make([]string, len(s.names))
	domains := make([][]string, len(s.domains))
	none := make([]int, len(s.none))
	for oldIdx, newIdx := range remap {
		names[newIdx] = s.names[oldIdx]
		domains[newIdx] = s.domains[oldIdx]
		none[newIdx] = s.none[oldIdx]
		s.index[s.names[oldIdx]] = newIdx
	}
	s.names, s.domains, s.none = names, domains, none

	for i := range s.MandatoryRoots {
		s.MandatoryRoots[i] = remap[s.MandatoryRoots[i]]
	}
	remapImplications := func(imps []Implication) {
		for i := range imps {
			imps[i].Child.Var = remap[imps[i].Child.Var]
			imps[i].Parent.Var = remap[imps[i].Parent.Var]
		}
	}
	remapImplications(s.MandatoryImplications)
	remapImplications(s.SingleImplications)
	remapImplications(s.SingleImplicationsNonLeaf)
	for i := range s.OrGroupsLeaf {
		s.OrGroupsLeaf[i].Parent.Var = remap[s.OrGroupsLeaf[i].Parent.Var]
		for j := range s.OrGroupsLeaf[i].Children {
			s.OrGroupsLeaf[i].Children[j] = remap[s.OrGroupsLeaf[i].Children[j]]
		}
	}
	remapGroups := func(groups []Group) {
		for i := range groups {
			groups[i].Parent.Var = remap[groups[i].Parent.Var]
			for j := range groups[i].Children {
				groups[i].Children[j].Var = remap[groups[i].Children[j].Var]
			}
		}
	}
	remapGroups(s.OrGroups)
	remapGroups(s.AltGroups)
}

// occurrences counts how many var leaves of f name word.
func occurrences(f *fmtree.Formula, word string) int {
	if f.Op == fmtree.OpVar {
		if f.Var == word {
			return 1
		}
		return 0
	}
	n := 0
	for _, sub := range f.Operands {
		n += occurrences(sub, word)
	}
	return n
}

// String renders a one-line-per-variable summary, used by debug logs.
func (s *Schema) String() string {
	out := ""
	for i, name := range s.names {
		out += fmt.Sprintf("%s - index: %d - size: %d\n", name, i, len(s.domains[i]))
	}
	return out
}
