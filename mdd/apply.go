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

package mdd

// op identifies a binary boolean apply operator.
type op int

const (
	opUnion op = iota
	opIntersect
	opDifference
	opEquiv
)

// applyKey memoizes one apply invocation. Commutative operators store
// their operands in normalized order.
type applyKey struct {
	op   op
	a, b nodeID
}

// Union returns the set union of the two edges.
func (e *Edge) Union(o *Edge) (*Edge, error) {
	return e.binary(opUnion, o)
}

// Intersect returns the set intersection of the two edges.
func (e *Edge) Intersect(o *Edge) (*Edge, error) {
	return e.binary(opIntersect, o)
}

// Difference returns the assignments in e that are not in o.
func (e *Edge) Difference(o *Edge) (*Edge, error) {
	return e.binary(opDifference, o)
}

// Equiv returns the pointwise boolean equivalence of the two edges: the
// set of assignments on which both functions agree.
func (e *Edge) Equiv(o *Edge) (*Edge, error) {
	return e.binary(opEquiv, o)
}

func (e *Edge) binary(op op, o *Edge) (*Edge, error) {
	if err := e.check(o); err != nil {
		return nil, err
	}
	n, err := e.f.apply(op, e.n, o.n)
	if err != nil {
		return nil, err
	}
	return e.f.newEdge(n), nil
}

func (f *Forest) apply(o op, a, b nodeID) (nodeID, error) {
	// Operator-specific shortcuts on equal or constant operands.
	switch o {
	case opUnion:
		switch {
		case a == b, b == falseID:
			return a, nil
		case a == falseID:
			return b, nil
		case a == trueID || b == trueID:
			return trueID, nil
		}
	case opIntersect:
		switch {
		case a == b, b == trueID:
			return a, nil
		case a == trueID:
			return b, nil
		case a == falseID || b == falseID:
			return falseID, nil
		}
	case opDifference:
		switch {
		case a == falseID, b == trueID, a == b:
			return falseID, nil
		case b == falseID:
			return a, nil
		}
	case opEquiv:
		if a == b {
			return trueID, nil
		}
		if a == trueID {
			return b, nil
		}
		if b == trueID {
			return a, nil
		}
	}

	ka, kb := a, b
	if (o == opUnion || o == opIntersect || o == opEquiv) && ka > kb {
		ka, kb = kb, ka
	}
	key := applyKey{o, ka, kb}
	if r, ok := f.compute[key]; ok {
		return r, nil
	}

	na, nb := f.nodes[a], f.nodes[b]
	level := na.level
	if nb.level > level {
		level = nb.level
	}
	children := make([]nodeID, f.bounds[f.level2var[level]])
	for i := range children {
		ca, cb := a, b
		if na.level == level {
			ca = na.children[i]
		}
		if nb.level == level {
			cb = nb.children[i]
		}
		r, err := f.apply(o, ca, cb)
		if err != nil {
			return falseID, err
		}
		children[i] = r
	}
	r, err := f.mkNode(level, children)
	if err != nil {
		return falseID, err
	}
	f.compute[key] = r
	return r, nil
}
