// Package backoff provides the exponential-backoff-with-jitter calculation
// shared by the transfer engine's block retry loop (architecture.md §4.4.1)
// and the graphdrive backend's HTTP retry loop. Generalized out of the
// teacher's graph.Client.calcBackoff so both call sites share one
// implementation instead of two copies.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy is an exponential backoff schedule with jitter.
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	Factor     float64
	Jitter     float64 // fraction, e.g. 0.25 for ±25%
	MaxRetries int
}

// BlockRetry is the transfer engine's per-block retry policy (architecture.md
// §4.4.1: base 500ms, cap 10s, N=5).
var BlockRetry = Policy{Base: 500 * time.Millisecond, Cap: 10 * time.Second, Factor: 2, Jitter: 0.25, MaxRetries: 5}

// HTTPRetry is the graphdrive backend's HTTP retry policy, matching the
// teacher's graph.Client constants (base 1s, factor 2x, max 60s, ±25%
// jitter, max 5 retries).
var HTTPRetry = Policy{Base: 1 * time.Second, Cap: 60 * time.Second, Factor: 2, Jitter: 0.25, MaxRetries: 5}

// Duration computes the backoff duration for the given attempt (0-indexed).
func (p Policy) Duration(attempt int) time.Duration {
	d := float64(p.Base) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}

	jitter := d * p.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(d + jitter)
}

// Sleep waits for the computed backoff duration or until ctx is canceled.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Duration(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
