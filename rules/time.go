//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// TimerChannelLen flags len and cap checks on timer and ticker channels.
// Since Go 1.23 those channels are unbuffered, so the checks always see
// zero. The render and monitor loops drain tickers with select, which is
// the correct form.
//
// See: https://go.dev/doc/go1.23#timer-changes
func TimerChannelLen(m dsl.Matcher) {
	m.Match(
		`len($t.C)`,
		`cap($t.C)`,
	).
		Where(m["t"].Type.Is("*time.Timer")).
		Report("timer channels are unbuffered since Go 1.23, len/cap is always 0; drain with a non-blocking select")

	m.Match(
		`len($t.C)`,
		`cap($t.C)`,
	).
		Where(m["t"].Type.Is("*time.Ticker")).
		Report("ticker channels are unbuffered since Go 1.23, len/cap is always 0; drain with a non-blocking select")
}

// DeferredTimeSince flags time.Since passed directly as a deferred call
// argument. The argument evaluates when the defer statement runs, so the
// logged duration is always near zero.
//
//	defer log.Println(time.Since(start))            // wrong, ~0
//	defer func() { log.Println(time.Since(start)) }()
//
// See: https://pkg.go.dev/time#Since
func DeferredTimeSince(m dsl.Matcher) {
	m.Match(
		`defer $fn(time.Since($start))`,
		`defer $fn(time.Since($start), $*args)`,
		`defer $fn($arg, time.Since($start))`,
	).
		Report("time.Since($start) evaluates when the defer statement runs, not at function exit; wrap the call in a func literal")
}

// DeferredTimeNow is the same trap with time.Now as the argument.
func DeferredTimeNow(m dsl.Matcher) {
	m.Match(
		`defer $fn(time.Now())`,
		`defer $fn($*args, time.Now())`,
	).
		Report("time.Now() evaluates when the defer statement runs, not at function exit; wrap the call in a func literal")
}
