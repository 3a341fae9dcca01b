//go:build property

package analyzer

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/wasmscope/internal/testutils"
)

var knownKinds = map[ErrorKind]bool{
	KindInvalidMagic:       true,
	KindUnsupportedVersion: true,
	KindTruncatedSection:   true,
	KindUnresolvedImport:   true,
	KindMalformedSection:   true,
	KindOversized:          true,
	KindTimeout:            true,
}

// TestAnalyzerProperties checks decoding invariants over generated input.
func TestAnalyzerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	a := New(DefaultOptions())

	properties.Property("arbitrary bytes fail with a known kind or decode", prop.ForAll(
		func(data []byte) bool {
			g, err := a.Analyze(context.Background(), data)
			if err != nil {
				return g == nil && knownKinds[KindOf(err)]
			}
			return g != nil
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("truncated components decode or fail with a known kind", prop.ForAll(
		func(cut int) bool {
			data := testutils.GeometryComponent()
			cut %= len(data)
			g, err := a.Analyze(context.Background(), data[:cut])
			if cut < headerSize {
				return err != nil && KindOf(err) == KindTruncatedSection
			}
			if err != nil {
				return knownKinds[KindOf(err)]
			}
			return g != nil
		},
		gen.IntRange(0, 1<<16),
	))

	properties.Property("decoding is deterministic", prop.ForAll(
		func(names []string) bool {
			for _, n := range names {
				data := testutils.GreeterComponent(n)
				g1, err1 := a.Analyze(context.Background(), data)
				g2, err2 := a.Analyze(context.Background(), data)
				if (err1 == nil) != (err2 == nil) {
					return false
				}
				if err1 == nil && (g1.Digest() != g2.Digest() || g1.WIT != g2.WIT) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.Identifier()),
	))

	properties.Property("exported function names round-trip", prop.ForAll(
		func(name string) bool {
			g, err := a.Analyze(context.Background(), testutils.GreeterComponent(name))
			if err != nil || len(g.Interfaces) != 1 {
				return false
			}
			fns := g.Interfaces[0].Functions
			return len(fns) == 1 && fns[0].Name == name &&
				g.WIT == fmt.Sprintf("world root {\n  export %s: func() -> string;\n}\n", name)
		},
		gen.Identifier(),
	))

	properties.Property("records render every field", prop.ForAll(
		func(fields []string) bool {
			seen := map[string]bool{}
			var encoded [][]byte
			for _, f := range fields {
				if seen[f] {
					continue
				}
				seen[f] = true
				encoded = append(encoded, testutils.Field(f, testutils.Prim(testutils.U32)))
			}
			data := testutils.Component(
				testutils.TypeSection(testutils.Record(encoded...)),
				testutils.ExportSection(testutils.Export("rec", testutils.SortType, 0)),
			)
			g, err := a.Analyze(context.Background(), data)
			if err != nil {
				return false
			}
			def := g.Interfaces[0].Types[0].Definition
			for f := range seen {
				if !containsField(def, f) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.Identifier()),
	))

	properties.TestingRun(t)
}

func containsField(def, field string) bool {
	want := field + ": u32"
	for i := 0; i+len(want) <= len(def); i++ {
		if def[i:i+len(want)] == want {
			return true
		}
	}
	return false
}
