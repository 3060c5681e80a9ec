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
	"errors"
	"fmt"
	"math/rand"
	"time"

	log "github.com/golang/glog"
	"golang.org/x/exp/slices"

	"github.com/fmselab/fmcmdd/fmtree"
	"github.com/fmselab/fmcmdd/mdd"
	"github.com/fmselab/fmcmdd/util"
)

// ErrUnresolvedVar reports a constraint reference to a feature that is
// neither a schema variable nor present in any alias table. By default
// such a reference compiles to the unconstrained set with a warning;
// Config.StrictUnresolved turns it into this error.
var ErrUnresolvedVar = errors.New("unresolved feature reference")

// compiler turns cross-tree formulas into diagram edges over the
// schema's variable encoding.
type compiler struct {
	cfg      *Config
	s        *Schema
	f        *mdd.Forest
	top      *mdd.Edge
	warnings util.Errors
}

// compile translates every rule into one edge and applies the
// configured batching. A rule that fails on a backend error is dropped
// with a warning; a reference error under StrictUnresolved aborts.
func (c *compiler) compile(rules []*fmtree.Formula) ([]*mdd.Edge, error) {
	var edges []*mdd.Edge
	for i, r := range rules {
		e, err := c.visit(r)
		if err != nil {
			if errors.Is(err, ErrUnresolvedVar) {
				detachAll(edges)
				return nil, err
			}
			log.Errorf("constraint %d dropped: %v", i+1, err)
			c.warnings = util.AppendErr(c.warnings, fmt.Errorf("constraint %d dropped: %v", i+1, err))
			continue
		}
		if log.V(1) {
			log.Infof("constraint %d cardinality %s", i+1, e.Cardinality())
		}
		edges = append(edges, e)
	}
	if c.cfg.ReductionFactor > 0 {
		return c.batch(edges)
	}
	return edges, nil
}

// visit compiles one formula node into the edge holding its satisfying
// assignments.
func (c *compiler) visit(f *fmtree.Formula) (*mdd.Edge, error) {
	switch f.Op {
	case fmtree.OpVar:
		return c.visitVar(f.Var)
	case fmtree.OpNot:
		sub, err := c.visit(f.Operands[0])
		if err != nil {
			return nil, err
		}
		defer sub.Detach()
		return c.top.Difference(sub)
	case fmtree.OpConj:
		acc := c.top.Clone()
		for _, sub := range f.Operands {
			e, err := c.visit(sub)
			if err != nil {
				acc.Detach()
				return nil, err
			}
			next, err := acc.Intersect(e)
			acc.Detach()
			e.Detach()
			if err != nil {
				return nil, err
			}
			acc = next
		}
		return acc, nil
	case fmtree.OpDisj:
		var acc *mdd.Edge
		for _, sub := range f.Operands {
			e, err := c.visit(sub)
			if err != nil {
				if acc != nil {
					acc.Detach()
				}
				return nil, err
			}
			if acc == nil {
				acc = e
				continue
			}
			next, err := acc.Union(e)
			acc.Detach()
			e.Detach()
			if err != nil {
				return nil, err
			}
			acc = next
		}
		return acc, nil
	case fmtree.OpImplies:
		left, err := c.visit(f.Operands[0])
		if err != nil {
			return nil, err
		}
		right, err := c.visit(f.Operands[1])
		if err != nil {
			left.Detach()
			return nil, err
		}
		defer left.Detach()
		defer right.Detach()
		notLeft, err := c.top.Difference(left)
		if err != nil {
			return nil, err
		}
		defer notLeft.Detach()
		return notLeft.Union(right)
	case fmtree.OpEquiv:
		left, err := c.visit(f.Operands[0])
		if err != nil {
			return nil, err
		}
		right, err := c.visit(f.Operands[1])
		if err != nil {
			left.Detach()
			return nil, err
		}
		defer left.Detach()
		defer right.Detach()
		return left.Equiv(right)
	default:
		return nil, fmt.Errorf("%w: %v", fmtree.ErrInvalidNodeKind, f.Op)
	}
}

// visitVar resolves a feature name through the alias tables and builds
// the edge of the assignments that select it: substitution first, then
// a schema variable of its own, then a value of a collapsed
// alternative, then a bit of a compressed and-group.
func (c *compiler) visitVar(name string) (*mdd.Edge, error) {
	if sub, ok := c.s.Substitutions[name]; ok {
		name = sub
	}

	if idx, ok := c.s.Index(name); ok {
		if c.s.isBoolean(idx) {
			return c.pinned(idx, 1)
		}
		// Enumerative variable standing for the feature itself: any
		// value but the none sentinel selects it.
		none, err := c.pinned(idx, c.s.NoneIndex(idx))
		if err != nil {
			return nil, err
		}
		defer none.Detach()
		return c.top.Difference(none)
	}

	if vVar, vVal, ok := c.s.IndexOfValue(name); ok {
		return c.pinned(vVar, vVal)
	}

	if al, ok := c.s.AndLeafs[name]; ok {
		idx, ok := c.s.Index(al.Parent)
		if !ok {
			return nil, fmt.Errorf("and-group variable %q missing from schema", al.Parent)
		}
		var acc *mdd.Edge
		for _, label := range al.Labels {
			valIdx := indexOf(c.s.Domain(idx), label)
			e, err := c.pinned(idx, valIdx)
			if err != nil {
				if acc != nil {
					acc.Detach()
				}
				return nil, err
			}
			if acc == nil {
				acc = e
				continue
			}
			next, err := acc.Union(e)
			acc.Detach()
			e.Detach()
			if err != nil {
				return nil, err
			}
			acc = next
		}
		if acc == nil {
			acc = c.f.Constant(false)
		}
		return acc, nil
	}

	if c.cfg.StrictUnresolved {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedVar, name)
	}
	log.Warningf("constraint references unknown feature %q (hidden and ignored?); treating the occurrence as unconstrained", name)
	c.warnings = util.AppendErr(c.warnings, fmt.Errorf("%w: %s", ErrUnresolvedVar, name))
	return c.top.Clone(), nil
}

// pinned builds the edge of all assignments with variable idx at value
// val.
func (c *compiler) pinned(idx, val int) (*mdd.Edge, error) {
	tuple := make([]int, c.s.NumVariables())
	for i := range tuple {
		tuple[i] = -1
	}
	tuple[idx] = val
	return c.f.FromTuple(tuple)
}

// batch reduces the constraint list by intersecting consecutive groups
// of ReductionFactor edges. Before grouping, the list is either
// shuffled or interleaved largest-smallest-... by edge count, which
// keeps the compound intersections from growing monotonically.
func (c *compiler) batch(edges []*mdd.Edge) ([]*mdd.Edge, error) {
	if c.cfg.ShuffleConstraints {
		seed := c.cfg.ShuffleSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(edges), func(i, j int) {
			edges[i], edges[j] = edges[j], edges[i]
		})
	} else {
		slices.SortFunc(edges, func(a, b *mdd.Edge) int {
			return a.EdgeCount() - b.EdgeCount()
		})
		interleaved := make([]*mdd.Edge, 0, len(edges))
		i, j := 0, len(edges)-1
		for i < j {
			interleaved = append(interleaved, edges[j], edges[i])
			j--
			i++
		}
		if len(edges)%2 != 0 {
			interleaved = append(interleaved, edges[i])
		}
		edges = interleaved
	}

	r := c.cfg.ReductionFactor
	var out []*mdd.Edge
	for i := 0; i < len(edges); i += r {
		cur := edges[i]
		log.V(1).Infof("reducing constraints from %d", i+1)
		for j := 1; j < r && i+j < len(edges); j++ {
			next, err := cur.Intersect(edges[i+j])
			cur.Detach()
			edges[i+j].Detach()
			if err != nil {
				detachAll(out)
				return nil, err
			}
			cur = next
		}
		out = append(out, cur)
	}
	log.V(1).Infof("constraints reduced to %d", len(out))
	return out, nil
}

func detachAll(edges []*mdd.Edge) {
	for _, e := range edges {
		if e != nil {
			e.Detach()
		}
	}
}
