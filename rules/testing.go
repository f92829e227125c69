//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// BenchmarkLoop flags b.N iteration in benchmarks. b.Loop (Go 1.24) runs
// setup once per -count and keeps the compiler from eliding the body,
// which matters for the DSP throughput benchmarks where the work is a
// handful of multiplies.
//
//	for i := 0; i < b.N; i++ { ... }  ->  for b.Loop() { ... }
//
// See: https://pkg.go.dev/testing#B.Loop
func BenchmarkLoop(m dsl.Matcher) {
	m.Match(
		`for $i := 0; $i < $b.N; $i++ { $*body }`,
	).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() instead of iterating to $b.N (Go 1.24+); declare a counter separately if the body needs $i")

	m.Match(
		`for $i := range $b.N { $*body }`,
	).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() instead of ranging over $b.N (Go 1.24+); declare a counter separately if the body needs $i")

	m.Match(
		`for range $b.N { $*body }`,
	).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() instead of ranging over $b.N (Go 1.24+)").
		Suggest("for $b.Loop() { $body }")
}

// TestingContext flags context.Background and context.TODO in test files.
// t.Context (Go 1.24) cancels when the test ends, so goroutines blocked
// on the context unwind instead of tripping the goleak checks.
//
// See: https://pkg.go.dev/testing#T.Context
func TestingContext(m dsl.Matcher) {
	m.Match(
		`$ctx := context.Background()`,
		`$ctx = context.Background()`,
		`$ctx := context.TODO()`,
		`$ctx = context.TODO()`,
	).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("use t.Context() in tests, it cancels on test completion (Go 1.24+)")

	m.Match(
		`$fn(context.Background(), $*args)`,
		`$fn(context.TODO(), $*args)`,
	).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("use t.Context() in tests, it cancels on test completion (Go 1.24+)")
}
