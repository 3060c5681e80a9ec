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

package fmtree

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// xmlElem is the generic XML element shape the decoder produces before
// the document is interpreted as a feature model.
type xmlElem struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Elems   []xmlElem  `xml:",any"`
}

func (e *xmlElem) attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (e *xmlElem) boolAttr(name string) bool {
	v, ok := e.attr(name)
	return ok && v == "true"
}

func (e *xmlElem) child(name string) *xmlElem {
	for i := range e.Elems {
		if e.Elems[i].XMLName.Local == name {
			return &e.Elems[i]
		}
	}
	return nil
}

// ParseFile reads and parses the feature model stored at path.
func ParseFile(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read feature model: %w", err)
	}
	return Parse(b)
}

// Parse parses an XML feature model document. The document root must
// contain a struct element with a single feature tree inside it; a
// sibling constraints element with rule children is optional.
func Parse(b []byte) (*Model, error) {
	var doc xmlElem
	if err := xml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("cannot parse feature model XML: %w", err)
	}

	structElem := doc.child("struct")
	if structElem == nil {
		return nil, fmt.Errorf("document has no struct element")
	}

	m := &Model{}
	for i := range structElem.Elems {
		e := &structElem.Elems[i]
		if e.XMLName.Local == "description" {
			continue
		}
		if m.Root != nil {
			return nil, fmt.Errorf("struct element holds more than one feature tree")
		}
		root, err := parseTree(e, nil)
		if err != nil {
			return nil, err
		}
		m.Root = root
	}
	if m.Root == nil {
		return nil, fmt.Errorf("struct element holds no feature tree")
	}

	if c := doc.child("constraints"); c != nil {
		for i := range c.Elems {
			e := &c.Elems[i]
			if e.XMLName.Local != "rule" {
				continue
			}
			f, err := parseRule(e)
			if err != nil {
				return nil, err
			}
			m.Rules = append(m.Rules, f)
		}
	}
	return m, nil
}

// parseTree converts one XML element (and its subtree) into a feature
// tree node with parent back-links.
func parseTree(e *xmlElem, parent *Node) (*Node, error) {
	var kind Kind
	switch e.XMLName.Local {
	case "feature":
		kind = FeatureNode
	case "and":
		kind = AndNode
	case "or":
		kind = OrNode
	case "alt":
		kind = AltNode
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidNodeKind, e.XMLName.Local)
	}

	name, ok := e.attr("name")
	if !ok {
		return nil, fmt.Errorf("%w: %s element has no name", ErrMissingAttribute, e.XMLName.Local)
	}

	n := &Node{
		Kind:      kind,
		Name:      name,
		Mandatory: e.boolAttr("mandatory"),
		Hidden:    e.boolAttr("hidden"),
		Parent:    parent,
	}
	for i := range e.Elems {
		ce := &e.Elems[i]
		if ce.XMLName.Local == "description" {
			continue
		}
		c, err := parseTree(ce, n)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}

// parseRule unwraps a rule element, which carries exactly one formula.
func parseRule(e *xmlElem) (*Formula, error) {
	var f *Formula
	for i := range e.Elems {
		if e.Elems[i].XMLName.Local == "description" {
			continue
		}
		if f != nil {
			return nil, fmt.Errorf("rule element holds more than one formula")
		}
		var err error
		if f, err = parseFormula(&e.Elems[i]); err != nil {
			return nil, err
		}
	}
	if f == nil {
		return nil, fmt.Errorf("rule element holds no formula")
	}
	return f, nil
}

func parseFormula(e *xmlElem) (*Formula, error) {
	var op FormulaOp
	switch e.XMLName.Local {
	case "var":
		return &Formula{Op: OpVar, Var: strings.TrimSpace(e.Content)}, nil
	case "not":
		op = OpNot
	case "imp":
		op = OpImplies
	case "eq":
		op = OpEquiv
	case "disj":
		op = OpDisj
	case "conj":
		op = OpConj
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidNodeKind, e.XMLName.Local)
	}

	f := &Formula{Op: op}
	for i := range e.Elems {
		sub, err := parseFormula(&e.Elems[i])
		if err != nil {
			return nil, err
		}
		f.Operands = append(f.Operands, sub)
	}
	switch {
	case op == OpNot && len(f.Operands) != 1:
		return nil, fmt.Errorf("not takes one operand, got %d", len(f.Operands))
	case (op == OpImplies || op == OpEquiv) && len(f.Operands) != 2:
		return nil, fmt.Errorf("%s takes two operands, got %d", op, len(f.Operands))
	case (op == OpDisj || op == OpConj) && len(f.Operands) == 0:
		return nil, fmt.Errorf("%s takes at least one operand", op)
	}
	return f, nil
}
