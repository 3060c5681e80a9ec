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

// Config collects every knob of the counting pipeline. A Config is
// built once, before any processing starts, and is never mutated by the
// pipeline; the zero value is not useful, start from DefaultConfig.
type Config struct {
	// IgnoreHidden excludes hidden features from the variable schema.
	IgnoreHidden bool

	// CompressAnd merges an and-group whose children are all leaves
	// into a single bitmask-encoded variable, provided the group has at
	// most CompressThreshold children.
	CompressAnd       bool
	CompressThreshold int

	// ReductionFactor is the number of consecutive compiled cross-tree
	// constraints intersected into one edge before application; 0
	// disables batching entirely.
	ReductionFactor int

	// SortWhenApplying applies cross-tree constraints from the smallest
	// diagram to the largest.
	SortWhenApplying bool

	// ShuffleConstraints randomizes the constraint order before
	// batching instead of the alternate largest/smallest interleave.
	// ShuffleSeed seeds the shuffle; 0 draws a seed from the clock,
	// reproducing the non-deterministic behavior, so tests must set it.
	ShuffleConstraints bool
	ShuffleSeed        int64

	// StrictUnresolved turns a constraint reference to an unknown
	// feature into a compilation error instead of an unconstrained
	// occurrence with a warning. Unknown references typically arise
	// when a hidden feature is ignored but still named in a rule.
	StrictUnresolved bool

	// SortVariables renumbers the schema variables by ascending number
	// of occurrences in the cross-tree rules before the diagram domain
	// is created, giving the busiest variables the highest indices and
	// so the top levels of the diagram.
	SortVariables bool

	// PrintMdd writes the final diagram to DotPath in Graphviz form.
	PrintMdd bool
	DotPath  string

	// ReorderVariables lets the pipeline trigger dynamic variable
	// reordering when the diagram grows past the thresholds below: a
	// growth beyond GrowthMid while the node count is above NodesMid and
	// below NodesLarge, or beyond GrowthLarge at NodesLarge and above.
	ReorderVariables bool
	GrowthMid        float64
	GrowthLarge      float64
	NodesMid         int
	NodesLarge       int

	// NodeLimit caps the diagram size; an operation exceeding it fails
	// and is skipped where the pipeline allows. 0 means unbounded.
	NodeLimit int
}

// DefaultConfig returns the counting defaults: and-group compression up
// to ten children, no batching, no reordering.
func DefaultConfig() *Config {
	return &Config{
		CompressAnd:       true,
		CompressThreshold: 10,
		DotPath:           "MDD.dot",
		GrowthMid:         1.5,
		GrowthLarge:       1.1,
		NodesMid:          100_000,
		NodesLarge:        1_000_000,
	}
}
