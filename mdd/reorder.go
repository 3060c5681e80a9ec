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

import "math/big"

// ReorderVariables greedily reorders the forest levels to shrink the
// diagram: after collecting garbage it sweeps the levels bottom-up,
// swapping each adjacent pair and keeping the swap only when it lowers
// the live node count. The variable-to-level mapping is updated in
// place, so existing attached edges stay valid and tuple-based
// constructors keep addressing variables by their original index.
//
// All memoized operation results and cardinalities are dropped.
func (f *Forest) ReorderVariables() {
	f.collectGarbage()
	for l := 1; l < len(f.bounds); l++ {
		before := len(f.nodes)
		f.swapLevels(l)
		if len(f.nodes) >= before {
			f.swapLevels(l)
		}
	}
}

// rebuild translates live nodes into a fresh arena.
type rebuild struct {
	f      *Forest
	nodes  []node
	unique map[string]nodeID
	memo   map[nodeID]nodeID
}

func (f *Forest) newRebuild() *rebuild {
	return &rebuild{
		f:      f,
		nodes:  []node{{level: 0}, {level: 0}},
		unique: map[string]nodeID{},
		memo:   map[nodeID]nodeID{},
	}
}

// mk interns into the rebuild arena. The node limit is not enforced
// here: a rebuild only ever holds nodes derived from live ones.
func (r *rebuild) mk(level int32, children []nodeID) nodeID {
	same := true
	for _, c := range children {
		if c != children[0] {
			same = false
			break
		}
	}
	if same {
		return children[0]
	}
	k := uniqueKey(level, children)
	if id, ok := r.unique[k]; ok {
		return id
	}
	id := nodeID(len(r.nodes))
	r.nodes = append(r.nodes, node{level: level, children: children})
	r.unique[k] = id
	return id
}

// install replaces the forest storage with the rebuilt arena and drops
// every cache keyed by node identity.
func (r *rebuild) install() {
	f := r.f
	for e := range f.roots {
		e.n = r.memo[e.n]
	}
	f.nodes = r.nodes
	f.unique = r.unique
	f.compute = map[applyKey]nodeID{}
	f.card = map[nodeID]*big.Int{}
}

// collectGarbage drops every node not reachable from an attached edge.
func (f *Forest) collectGarbage() {
	r := f.newRebuild()
	for e := range f.roots {
		r.memo[e.n] = r.copy(e.n)
	}
	r.install()
}

func (r *rebuild) copy(n nodeID) nodeID {
	if n <= trueID {
		return n
	}
	if m, ok := r.memo[n]; ok {
		return m
	}
	nd := r.f.nodes[n]
	children := make([]nodeID, len(nd.children))
	for i, c := range nd.children {
		children[i] = r.copy(c)
	}
	out := r.mk(nd.level, children)
	r.memo[n] = out
	return out
}

// swapLevels exchanges the variables at levels l and l+1, rebuilding
// the forest from the attached edges. Only nodes at the two affected
// levels change shape; everything else is re-interned as-is.
func (f *Forest) swapLevels(l int) {
	r := f.newRebuild()
	for e := range f.roots {
		r.memo[e.n] = r.swap(e.n, l)
	}
	r.install()

	u, v := f.level2var[l+1], f.level2var[l]
	f.level2var[l], f.level2var[l+1] = u, v
	f.var2level[u], f.var2level[v] = l, l+1
}

func (r *rebuild) swap(n nodeID, l int) nodeID {
	if n <= trueID {
		return n
	}
	if m, ok := r.memo[n]; ok {
		return m
	}
	nd := r.f.nodes[n]
	var out nodeID
	switch int(nd.level) {
	case l:
		// Branches on the lower variable with the upper one redundant;
		// after the swap the same branching sits one level higher.
		children := make([]nodeID, len(nd.children))
		for j, c := range nd.children {
			children[j] = r.swap(c, l)
		}
		out = r.mk(int32(l+1), children)
	case l + 1:
		// The classic adjacent exchange: branch on the lower variable
		// first, re-branching each case on the upper one.
		upperBound := len(nd.children)
		lowerBound := r.f.bounds[r.f.level2var[l]]
		outer := make([]nodeID, lowerBound)
		for j := 0; j < lowerBound; j++ {
			inner := make([]nodeID, upperBound)
			for i := 0; i < upperBound; i++ {
				c := nd.children[i]
				if int(r.f.nodes[c].level) == l {
					inner[i] = r.swap(r.f.nodes[c].children[j], l)
				} else {
					inner[i] = r.swap(c, l)
				}
			}
			outer[j] = r.mk(int32(l), inner)
		}
		out = r.mk(int32(l+1), outer)
	default:
		children := make([]nodeID, len(nd.children))
		for i, c := range nd.children {
			children[i] = r.swap(c, l)
		}
		out = r.mk(nd.level, children)
	}
	r.memo[n] = out
	return out
}
