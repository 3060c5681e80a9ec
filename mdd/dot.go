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

import (
	"fmt"
	"io"
	"sort"
)

// WriteDot renders the diagram reachable from e as a Graphviz digraph
// named name. Nodes are labelled with the variable they branch on and
// edges with the value they carry; arcs to the false terminal are
// omitted to keep the picture readable.
func (f *Forest) WriteDot(w io.Writer, e *Edge, name string) error {
	if err := e.check(nil); err != nil {
		return err
	}
	seen := map[nodeID]bool{}
	f.countReachable(e.n, seen)

	ids := make([]nodeID, 0, len(seen))
	for id := range seen {
		if id > trueID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if _, err := fmt.Fprintf(w, "digraph %q {\n", name); err != nil {
		return err
	}
	fmt.Fprintf(w, "  root [shape=point];\n")
	if seen[trueID] || e.n == trueID {
		fmt.Fprintf(w, "  t1 [shape=box, label=\"T\"];\n")
	}
	for _, id := range ids {
		nd := f.nodes[id]
		fmt.Fprintf(w, "  n%d [shape=circle, label=\"x%d\"];\n", id, f.level2var[nd.level])
	}

	writeArc := func(from string, to nodeID, label string) {
		switch {
		case to == falseID:
		case to == trueID:
			fmt.Fprintf(w, "  %s -> t1 [label=%q];\n", from, label)
		default:
			fmt.Fprintf(w, "  %s -> n%d [label=%q];\n", from, to, label)
		}
	}
	writeArc("root", e.n, "")
	for _, id := range ids {
		for val, c := range f.nodes[id].children {
			writeArc(fmt.Sprintf("n%d", id), c, fmt.Sprintf("%d", val))
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
