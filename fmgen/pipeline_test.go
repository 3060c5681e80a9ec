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
	"math/big"
	"path/filepath"
	"testing"

	"github.com/kr/pretty"

	"github.com/fmselab/fmcmdd/fmtree"
	"github.com/fmselab/fmcmdd/mdd"
)

func countFromXML(t *testing.T, doc string, cfg *Config) *Result {
	t.Helper()
	m, err := fmtree.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	res, err := CountProducts(m, cfg)
	if err != nil {
		t.Fatalf("CountProducts: unexpected error: %v", err)
	}
	return res
}

func TestCountProducts(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		cfg  func(*Config)
		want string
	}{{
		name: "single mandatory root",
		doc: `<featureModel><struct>
			<feature name="root" mandatory="true"/>
		</struct></featureModel>`,
		want: "1",
	}, {
		name: "optional feature doubles the count",
		doc: `<featureModel><struct>
			<and name="root" mandatory="true">
				<or name="gate"><feature name="a"/></or>
				<feature name="opt"/>
			</and>
		</struct></featureModel>`,
		// gate off: 1; gate on forces a: 1; opt doubles: 4.
		want: "4",
	}, {
		name: "or group needs at least one child",
		doc: `<featureModel><struct>
			<and name="root" mandatory="true">
				<or name="conn">
					<feature name="bt"/>
					<feature name="usb"/>
					<feature name="wifi"/>
				</or>
				<feature name="display"/>
			</and>
		</struct></featureModel>`,
		// conn off: 1; conn on: 7 child subsets; display doubles: 16.
		want: "16",
	}, {
		name: "collapsed alternative picks exactly one",
		doc: `<featureModel><struct>
			<and name="car" mandatory="true">
				<feature name="engine" mandatory="true"/>
				<alt name="gear" mandatory="true">
					<feature name="manual"/>
					<feature name="automatic"/>
				</alt>
				<feature name="radio"/>
			</and>
		</struct></featureModel>`,
		// gear is one of two, radio free: 4.
		want: "4",
	}, {
		name: "cross-tree implication",
		doc: `<featureModel><struct>
			<and name="car" mandatory="true">
				<feature name="engine" mandatory="true"/>
				<alt name="gear" mandatory="true">
					<feature name="manual"/>
					<feature name="automatic"/>
				</alt>
				<feature name="radio"/>
			</and></struct>
			<constraints>
				<rule><imp><var>radio</var><var>automatic</var></imp></rule>
			</constraints>
		</featureModel>`,
		// manual without radio, automatic with or without: 3.
		want: "3",
	}, {
		name: "compressed and group",
		doc: `<featureModel><struct>
			<and name="root" mandatory="true">
				<feature name="a" mandatory="true"/>
				<feature name="b"/>
				<feature name="c"/>
			</and></struct>
			<constraints>
				<rule><imp><var>b</var><var>c</var></imp></rule>
			</constraints>
		</featureModel>`,
		// Subsets with a set and b=>c: {a}, {a,c}, {a,b,c}.
		want: "3",
	}, {
		name: "same model without compression",
		doc: `<featureModel><struct>
			<and name="root" mandatory="true">
				<feature name="a" mandatory="true"/>
				<feature name="b"/>
				<feature name="c"/>
			</and></struct>
			<constraints>
				<rule><imp><var>b</var><var>c</var></imp></rule>
			</constraints>
		</featureModel>`,
		cfg:  func(c *Config) { c.CompressAnd = false },
		want: "3",
	}, {
		name: "nested alternatives",
		doc: `<featureModel><struct>
			<alt name="top" mandatory="true">
				<feature name="x"/>
				<alt name="sub">
					<feature name="p"/>
					<feature name="q"/>
				</alt>
			</alt>
		</struct></featureModel>`,
		// x, sub/p, sub/q.
		want: "3",
	}, {
		name: "nested alternative pinned by constraint",
		doc: `<featureModel><struct>
			<alt name="top" mandatory="true">
				<feature name="x"/>
				<alt name="sub">
					<feature name="p"/>
					<feature name="q"/>
				</alt>
			</alt></struct>
			<constraints>
				<rule><var>sub</var></rule>
			</constraints>
		</featureModel>`,
		want: "2",
	}, {
		name: "single-child alternative",
		doc: `<featureModel><struct>
			<and name="root" mandatory="true">
				<alt name="mode">
					<feature name="basic"/>
				</alt>
			</and>
		</struct></featureModel>`,
		// mode and basic rise and fall together.
		want: "2",
	}, {
		name: "contradictory constraints empty the model",
		doc: `<featureModel><struct>
			<feature name="root" mandatory="true"/>
			</struct>
			<constraints>
				<rule><not><var>root</var></not></rule>
			</constraints>
		</featureModel>`,
		want: "0",
	}, {
		name: "conjunction and equivalence",
		doc: `<featureModel><struct>
			<and name="root" mandatory="true">
				<feature name="a"/>
				<feature name="b"/>
				<feature name="c"/>
			</and></struct>
			<constraints>
				<rule><conj><eq><var>a</var><var>b</var></eq><disj><var>b</var><var>c</var></disj></conj></rule>
			</constraints>
		</featureModel>`,
		cfg: func(c *Config) { c.CompressAnd = false },
		// a=b and (b or c): (0,0,1), (1,1,0), (1,1,1).
		want: "3",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			res := countFromXML(t, tt.doc, cfg)
			if got := res.Count.String(); got != tt.want {
				t.Errorf("Count: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCountProductsFromFile(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"connectivity.xml", "16"},
		{"car.xml", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			res, err := CountProductsFromFile(filepath.Join("testdata", tt.file), DefaultConfig())
			if err != nil {
				t.Fatalf("CountProductsFromFile: unexpected error: %v", err)
			}
			if got := res.Count.String(); got != tt.want {
				t.Errorf("Count: got %s, want %s; result: %s", got, tt.want, pretty.Sprint(res))
			}
		})
	}
}

const hiddenDoc = `<featureModel><struct>
	<and name="root" mandatory="true">
		<feature name="opt"/>
		<feature name="h" hidden="true"/>
	</and></struct>
	<constraints>
		<rule><var>h</var></rule>
	</constraints>
</featureModel>`

func TestCountProductsHidden(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressAnd = false

	// With hidden features encoded the rule pins h.
	res := countFromXML(t, hiddenDoc, cfg)
	if got := res.Count.String(); got != "2" {
		t.Errorf("Count with hidden encoded: got %s, want 2", got)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings: got %v, want none", res.Warnings)
	}

	// Ignoring hidden features drops the constraint with a warning.
	cfg.IgnoreHidden = true
	res = countFromXML(t, hiddenDoc, cfg)
	if got := res.Count.String(); got != "2" {
		t.Errorf("Count with hidden ignored: got %s, want 2", got)
	}
	if len(res.Warnings) == 0 {
		t.Error("Warnings: got none, want unresolved-reference warning")
	} else if !errors.Is(res.Warnings[0], ErrUnresolvedVar) {
		t.Errorf("Warnings[0]: got %v, want ErrUnresolvedVar", res.Warnings[0])
	}

	// Strict mode turns the dangling reference into a failure.
	cfg.StrictUnresolved = true
	m, err := fmtree.Parse([]byte(hiddenDoc))
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	if _, err := CountProducts(m, cfg); !errors.Is(err, ErrUnresolvedVar) {
		t.Errorf("CountProducts strict: got error %v, want ErrUnresolvedVar", err)
	}
}

func TestIgnoreHiddenNeverIncreasesCount(t *testing.T) {
	docs := []string{
		hiddenDoc,
		`<featureModel><struct>
			<and name="root" mandatory="true">
				<or name="g">
					<feature name="a"/>
					<feature name="b" hidden="true"/>
				</or>
			</and>
		</struct></featureModel>`,
	}
	for _, doc := range docs {
		cfg := DefaultConfig()
		cfg.CompressAnd = false
		with := countFromXML(t, doc, cfg).Count
		cfg.IgnoreHidden = true
		without := countFromXML(t, doc, cfg).Count
		if without.Cmp(with) > 0 {
			t.Errorf("ignoring hidden features increased the count: %s > %s", without, with)
		}
	}
}

// TestPipelineMonotonicCardinality checks that every pipeline stage can
// only narrow the configuration set.
func TestPipelineMonotonicCardinality(t *testing.T) {
	m, err := fmtree.Parse([]byte(`<featureModel><struct>
		<and name="root" mandatory="true">
			<or name="conn"><feature name="bt"/><feature name="usb"/></or>
			<alt name="gear" mandatory="true"><feature name="m"/><feature name="a"/></alt>
			<alt name="mode"><feature name="basic"/></alt>
		</and></struct>
		<constraints>
			<rule><imp><var>bt</var><var>m</var></imp></rule>
		</constraints>
	</featureModel>`))
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}

	cfg := DefaultConfig()
	s, err := BuildSchema(m.Root, cfg)
	if err != nil {
		t.Fatalf("BuildSchema: unexpected error: %v", err)
	}
	f, err := mdd.NewForest(s.Bounds())
	if err != nil {
		t.Fatalf("NewForest: unexpected error: %v", err)
	}
	p := &pipeline{cfg: cfg, s: s, f: f, top: f.Constant(true), start: f.Constant(true), res: &Result{}}

	steps := []struct {
		name string
		run  func() error
	}{
		{"mandatory roots", p.applyMandatoryRoots},
		{"mandatory implications", p.applyMandatoryImplications},
		{"or groups", p.applyOrGroups},
		{"alt groups", p.applyAltGroups},
		{"single implications", p.applySingleImplications},
		{"cross tree", func() error { return p.applyCrossTree(m.Rules) }},
	}
	prev := p.start.Cardinality()
	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%s: unexpected error: %v", step.name, err)
		}
		cur := p.start.Cardinality()
		if cur.Cmp(prev) > 0 {
			t.Errorf("%s increased cardinality: %s -> %s", step.name, prev, cur)
		}
		prev = cur
	}
}

// TestPipelineFinalInvariants enumerates the final diagram and checks
// the synthesized tables against every surviving assignment.
func TestPipelineFinalInvariants(t *testing.T) {
	m, err := fmtree.Parse([]byte(`<featureModel><struct>
		<and name="root" mandatory="true">
			<or name="conn"><feature name="bt"/><feature name="usb"/></or>
			<alt name="gear" mandatory="true"><feature name="m"/><feature name="a"/></alt>
			<alt name="mode"><feature name="basic"/></alt>
			<feature name="radio"/>
		</and>
	</struct></featureModel>`))
	if err != nil {
		t.Fatalf("Parse: unexpected error: %v", err)
	}
	cfg := DefaultConfig()
	s, err := BuildSchema(m.Root, cfg)
	if err != nil {
		t.Fatalf("BuildSchema: unexpected error: %v", err)
	}
	f, err := mdd.NewForest(s.Bounds())
	if err != nil {
		t.Fatalf("NewForest: unexpected error: %v", err)
	}
	p := &pipeline{cfg: cfg, s: s, f: f, top: f.Constant(true), start: f.Constant(true), res: &Result{}}
	for _, step := range []func() error{
		p.applyMandatoryRoots, p.applyMandatoryImplications,
		p.applyOrGroups, p.applyAltGroups, p.applySingleImplications,
	} {
		if err := step(); err != nil {
			t.Fatalf("pipeline step: unexpected error: %v", err)
		}
	}

	holds := func(a []int, ref ValueRef) bool {
		bound := s.DomainSize(ref.Var)
		if ref.Value >= bound {
			return a[ref.Var] != ref.Value-bound
		}
		return a[ref.Var] == ref.Value
	}
	p.start.Assignments(func(a []int) bool {
		for _, imp := range s.SingleImplications {
			if a[imp.Child.Var] != imp.Child.Value && a[imp.Parent.Var] == imp.Parent.Value {
				t.Errorf("assignment %v violates dependency %v", a, imp)
			}
		}
		for _, imp := range s.MandatoryImplications {
			if holds(a, imp.Child) != holds(a, imp.Parent) {
				t.Errorf("assignment %v violates biconditional %v", a, imp)
			}
		}
		for _, g := range s.AltGroups {
			if a[g.Parent.Var] == g.Parent.Value {
				continue
			}
			selected := 0
			for _, c := range g.Children {
				if a[c.Var] != c.Value {
					selected++
				}
			}
			if selected != 1 {
				t.Errorf("assignment %v selects %d children of alt group %v, want 1", a, selected, g)
			}
		}
		return true
	})
}

func TestCountProductsWatermarks(t *testing.T) {
	res := countFromXML(t, `<featureModel><struct>
		<and name="root" mandatory="true">
			<feature name="a"/>
			<feature name="b"/>
			<feature name="c"/>
		</and></struct>
		<constraints>
			<rule><imp><var>a</var><var>b</var></imp></rule>
			<rule><imp><var>b</var><var>c</var></imp></rule>
		</constraints>
	</featureModel>`, DefaultConfig())
	if res.MaxNodes <= 0 {
		t.Errorf("MaxNodes: got %d, want > 0", res.MaxNodes)
	}
	if res.MaxEdges <= 0 {
		t.Errorf("MaxEdges: got %d, want > 0", res.MaxEdges)
	}
}

func TestCountProductsBigModel(t *testing.T) {
	// Eighty independent optional features push the count beyond 64
	// bits: 2^80.
	doc := `<featureModel><struct><and name="root" mandatory="true">`
	for i := 0; i < 80; i++ {
		doc += `<feature name="f` + string(rune('a'+i%26)) + string(rune('0'+i/26)) + `"/>`
	}
	doc += `</and></struct></featureModel>`

	cfg := DefaultConfig()
	cfg.CompressAnd = false
	res := countFromXML(t, doc, cfg)
	want := new(big.Int).Lsh(big.NewInt(1), 80)
	if res.Count.Cmp(want) != 0 {
		t.Errorf("Count: got %s, want %s", res.Count, want)
	}
}
