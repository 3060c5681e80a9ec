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

// Cardinality returns the number of assignments in the set the edge
// denotes. Counts routinely exceed 64 bits, so the result is an
// arbitrary-precision integer owned by the caller; it stays valid after
// the forest is discarded.
func (e *Edge) Cardinality() *big.Int {
	if e.detached {
		return big.NewInt(0)
	}
	return new(big.Int).Set(e.f.scaledCount(e.n, len(e.f.bounds)))
}

// scaledCount counts the assignments of levels 1..level satisfying the
// function rooted at n. Levels above n's own are unconstrained and
// multiply the count by their domain size.
func (f *Forest) scaledCount(n nodeID, level int) *big.Int {
	c := new(big.Int).Set(f.nodeCount(n))
	for l := int(f.nodes[n].level) + 1; l <= level; l++ {
		c.Mul(c, big.NewInt(int64(f.bounds[f.level2var[l]])))
	}
	return c
}

// nodeCount memoizes the assignment count of levels 1..level(n) for the
// function rooted at n.
func (f *Forest) nodeCount(n nodeID) *big.Int {
	switch n {
	case falseID:
		return big.NewInt(0)
	case trueID:
		return big.NewInt(1)
	}
	if c, ok := f.card[n]; ok {
		return c
	}
	nd := f.nodes[n]
	total := new(big.Int)
	for _, child := range nd.children {
		total.Add(total, f.scaledCount(child, int(nd.level)-1))
	}
	f.card[n] = total
	return total
}
