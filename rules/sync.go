//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the manual Add/Done goroutine pattern that Go 1.25
// wraps up in WaitGroup.Go. The Add/Done split invites mismatches when a
// branch returns before the goroutine launches.
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    work()
//	}()
//
// becomes
//
//	wg.Go(work)
//
// See: https://pkg.go.dev/sync#WaitGroup.Go
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done (Go 1.25+)").
		Suggest("$wg.Go(func() { $body })")

	m.Match(
		`$wg.Add(1); go func($param $typ) { defer $param.Done(); $*body }($wg)`,
		`$wg.Add(1); go func($param $typ) { defer $param.Done(); $*body }(&$wg)`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done (Go 1.25+)")
}
