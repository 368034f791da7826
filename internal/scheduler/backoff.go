// Package scheduler implements the workflow scheduler: it turns a DAG plus
// a running context into a stream of ready task claims (spec §4.1
// "Workflow scheduler"), computing backoff for retries, applying trigger
// rules across dependency edges, and deciding pipeline-level failure
// policy.
package scheduler

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FixedPolicy retries after a constant delay (spec §4.1 "Backoff": "Fixed(delay)").
type FixedPolicy struct {
	Delay_ time.Duration
}

// Delay implements workflow.BackoffPolicy.
func (p FixedPolicy) Delay(attempt int) time.Duration { return p.Delay_ }

// MarshalPolicy implements workflow.BackoffPolicy.
func (p FixedPolicy) MarshalPolicy() map[string]any {
	return map[string]any{"kind": "fixed", "delay_ms": p.Delay_.Milliseconds()}
}

// LinearPolicy retries after base*attempt (spec §4.1 "Linear(base·attempt)").
type LinearPolicy struct {
	Base time.Duration
}

// Delay implements workflow.BackoffPolicy.
func (p LinearPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Base * time.Duration(attempt)
}

// MarshalPolicy implements workflow.BackoffPolicy.
func (p LinearPolicy) MarshalPolicy() map[string]any {
	return map[string]any{"kind": "linear", "base_ms": p.Base.Milliseconds()}
}

// ExponentialPolicy retries after base*2^(attempt-1), capped, with a
// jitter fraction applied (spec §4.1 "Exponential(base·2^(attempt-1) with
// cap and ±jitter fraction)"). The cap is mandatory; Jitter must be in
// [0, 1). Built on cenkalti/backoff's ExponentialBackOff for the
// multiplier/cap arithmetic, since that is the retry primitive the rest of
// this codebase's dependency pack already uses for exponential schedules.
type ExponentialPolicy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // fraction in [0, 1)

	// rng is overridable in tests for deterministic jitter assertions.
	rng func() float64
}

// NewExponentialPolicy validates and constructs an ExponentialPolicy.
func NewExponentialPolicy(base, capDur time.Duration, jitter float64) ExponentialPolicy {
	if capDur <= 0 {
		panic("scheduler: ExponentialPolicy cap is mandatory and must be > 0")
	}
	if jitter < 0 || jitter >= 1 {
		panic("scheduler: ExponentialPolicy jitter must be in [0, 1)")
	}
	return ExponentialPolicy{Base: base, Cap: capDur, Jitter: jitter}
}

// Delay implements workflow.BackoffPolicy.
func (p ExponentialPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = p.Cap
	eb.MaxElapsedTime = 0
	eb.Reset() // restart from InitialInterval; the constructor already reset to the library default

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	if d > p.Cap {
		d = p.Cap
	}

	if p.Jitter > 0 {
		randFn := p.rng
		if randFn == nil {
			randFn = rand.Float64
		}
		// Symmetric jitter: d +/- (Jitter * d), clamped to the cap and to
		// a non-negative floor.
		spread := float64(d) * p.Jitter
		offset := (randFn()*2 - 1) * spread
		d = time.Duration(float64(d) + offset)
		if d < 0 {
			d = 0
		}
		if d > p.Cap {
			d = p.Cap
		}
	}
	return d
}

// MarshalPolicy implements workflow.BackoffPolicy.
func (p ExponentialPolicy) MarshalPolicy() map[string]any {
	return map[string]any{
		"kind":    "exponential",
		"base_ms": p.Base.Milliseconds(),
		"cap_ms":  p.Cap.Milliseconds(),
		"jitter":  p.Jitter,
	}
}
