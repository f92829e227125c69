//go:build ruleguard

// Package gorules holds the custom ruleguard checks run by golangci-lint.
// They flag pre-generics idioms that still creep in from older snippets,
// mostly around the DSP clamp helpers and the render loops.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// MinMaxBuiltin flags math.Min/math.Max round-trips through float64 where
// the untyped min/max builtins (Go 1.21) do the same without conversions.
// Sample clamping code is the usual offender.
//
//	int32(math.Max(float64(a), float64(b)))  ->  max(a, b)
//
// See: https://pkg.go.dev/builtin#min
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(
		`int(math.Min(float64($a), float64($b)))`,
		`int32(math.Min(float64($a), float64($b)))`,
		`int64(math.Min(float64($a), float64($b)))`,
	).
		Report("use min($a, $b) instead of converting through math.Min (Go 1.21+)").
		Suggest("min($a, $b)")

	m.Match(
		`int(math.Max(float64($a), float64($b)))`,
		`int32(math.Max(float64($a), float64($b)))`,
		`int64(math.Max(float64($a), float64($b)))`,
	).
		Report("use max($a, $b) instead of converting through math.Max (Go 1.21+)").
		Suggest("max($a, $b)")
}

// ClearBuiltin flags delete-in-range map clearing, replaced by the clear
// builtin in Go 1.21.
//
//	for k := range m { delete(m, k) }  ->  clear(m)
//
// See: https://pkg.go.dev/builtin#clear
func ClearBuiltin(m dsl.Matcher) {
	m.Match(
		`for $k := range $m { delete($m, $k) }`,
		`for $k, _ := range $m { delete($m, $k) }`,
	).
		Report("use clear($m) instead of a delete loop (Go 1.21+)").
		Suggest("clear($m)")
}

// RangeOverInteger flags counted loops from zero that Go 1.22 writes as
// range over an integer. The per-frame loops in render code follow the
// range form; keep new code consistent.
//
//	for i := 0; i < frames; i++  ->  for i := range frames
//
// Benchmark loops over b.N are excluded, BenchmarkLoop handles those.
func RangeOverInteger(m dsl.Matcher) {
	m.Match(
		`for $i := 0; $i < $n; $i++ { $*body }`,
	).
		Where(
			!m["n"].Text.Matches(`.*\.N$`),
		).
		Report("use for $i := range $n (Go 1.22+)").
		Suggest("for $i := range $n { $body }")
}
