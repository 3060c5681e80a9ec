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

// Package fmtree reads a feature model description from its XML form
// into a feature tree and a list of cross-tree constraint formulas.
// The tree and the formulas are plain tagged values; interpretation of
// the group semantics is left to the fmgen package.
package fmtree

import (
	"errors"
	"fmt"
)

// Kind discriminates the variants of a feature tree node.
type Kind int

const (
	// FeatureNode is a plain feature, a leaf unless it has children.
	FeatureNode Kind = iota
	// AndNode selects each child independently, subject to the child's
	// mandatory flag.
	AndNode
	// OrNode requires at least one selected child when the node itself
	// is selected.
	OrNode
	// AltNode requires exactly one selected child when the node itself
	// is selected.
	AltNode
)

// String returns the XML element name of the kind.
func (k Kind) String() string {
	switch k {
	case FeatureNode:
		return "feature"
	case AndNode:
		return "and"
	case OrNode:
		return "or"
	case AltNode:
		return "alt"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Node is a node of the feature tree.
type Node struct {
	// Kind is the group semantics of the node.
	Kind Kind
	// Name is the feature name; unique within a well-formed model.
	Name string
	// Mandatory reports whether the feature must be selected whenever
	// its parent is.
	Mandatory bool
	// Hidden marks features that can be excluded from counting.
	Hidden bool
	// Children are the sub-features, in document order.
	Children []*Node
	// Parent is the enclosing tree node, nil for the root.
	Parent *Node
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// FormulaOp discriminates the variants of a constraint formula node.
type FormulaOp int

const (
	// OpVar is a reference to a feature by name.
	OpVar FormulaOp = iota
	// OpNot negates its single operand.
	OpNot
	// OpImplies is material implication over two operands.
	OpImplies
	// OpEquiv is boolean equivalence over two operands.
	OpEquiv
	// OpDisj is the disjunction of all operands.
	OpDisj
	// OpConj is the conjunction of all operands.
	OpConj
)

// String returns the XML element name of the operator.
func (op FormulaOp) String() string {
	switch op {
	case OpVar:
		return "var"
	case OpNot:
		return "not"
	case OpImplies:
		return "imp"
	case OpEquiv:
		return "eq"
	case OpDisj:
		return "disj"
	case OpConj:
		return "conj"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Formula is a node of a cross-tree constraint formula.
type Formula struct {
	// Op is the operator of this node.
	Op FormulaOp
	// Var is the referenced feature name; set only when Op is OpVar.
	Var string
	// Operands are the sub-formulas, in document order.
	Operands []*Formula
}

// Model is a parsed feature model: the feature tree plus the cross-tree
// constraint rules that accompany it.
type Model struct {
	// Root is the root of the feature tree.
	Root *Node
	// Rules holds one formula per constraint rule, in document order.
	Rules []*Formula
}

var (
	// ErrInvalidNodeKind reports an XML element that is not part of the
	// feature model vocabulary.
	ErrInvalidNodeKind = errors.New("invalid node type")
	// ErrMissingAttribute reports a tree node without the required
	// name attribute.
	ErrMissingAttribute = errors.New("missing required attribute")
)
