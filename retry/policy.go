/*
 * MIT License
 *
 * Copyright (c) 2022-2025 Arsene Tochemey Gandote
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package retry

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Kind names a backoff strategy
type Kind int

const (
	// KindNone never retries
	KindNone Kind = iota
	// KindLinear waits a fixed delay between a fixed number of attempts
	KindLinear
	// KindExponential doubles the delay after every attempt until it exceeds the maximum
	KindExponential
	// KindRandom waits a uniformly sampled delay between a fixed number of attempts
	KindRandom
)

// String returns the lowercase name of the kind
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLinear:
		return "linear"
	case KindExponential:
		return "exponential"
	case KindRandom:
		return "random"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	DefaultRetryCount   = 3
	DefaultSpinFor      = time.Second
	DefaultInitialDelay = time.Second
	DefaultMinDelay     = time.Second
	DefaultMaxDelay     = 100 * time.Second
)

// Policy describes how a failing operation is retried.
// Zero valued durations and counts are replaced by defaults when the policy is used.
type Policy struct {
	Kind Kind
	// RetryCount is the total number of invocations for linear policies
	// and the number of retries for random policies.
	RetryCount int
	// SpinFor is the fixed delay of linear policies
	SpinFor time.Duration
	// InitialDelay is the first delay of exponential policies
	InitialDelay time.Duration
	// MinDelay is the lower bound of random policies
	MinDelay time.Duration
	// MaxDelay bounds exponential and random policies
	MaxDelay time.Duration
	// ErrorFilter, when set, must accept an error for it to be retried
	ErrorFilter func(error) bool
	// Notify, when set, is called before every wait
	Notify func(err error, wait time.Duration)
}

// None returns a policy that never retries
func None() Policy {
	return Policy{Kind: KindNone}
}

// Linear returns a policy invoking the operation up to count times, waiting spinFor in between
func Linear(count int, spinFor time.Duration) Policy {
	return Policy{Kind: KindLinear, RetryCount: count, SpinFor: spinFor}
}

// Exponential returns a policy waiting initial, 2*initial, 4*initial...
// It stops once the next delay would exceed maxDelay.
func Exponential(initial, maxDelay time.Duration) Policy {
	return Policy{Kind: KindExponential, InitialDelay: initial, MaxDelay: maxDelay}
}

// Random returns a policy retrying up to count times with a delay drawn from [minDelay, maxDelay]
func Random(count int, minDelay, maxDelay time.Duration) Policy {
	return Policy{Kind: KindRandom, RetryCount: count, MinDelay: minDelay, MaxDelay: maxDelay}
}

// WithErrorFilter returns a copy of the policy only retrying errors accepted by filter
func (p Policy) WithErrorFilter(filter func(error) bool) Policy {
	p.ErrorFilter = filter
	return p
}

// WithNotify returns a copy of the policy calling fn before every wait
func (p Policy) WithNotify(fn func(err error, wait time.Duration)) Policy {
	p.Notify = fn
	return p
}

// Sanitize fills unset fields with defaults
func (p Policy) Sanitize() Policy {
	if p.RetryCount <= 0 {
		p.RetryCount = DefaultRetryCount
	}
	if p.SpinFor <= 0 {
		p.SpinFor = DefaultSpinFor
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MinDelay <= 0 {
		p.MinDelay = DefaultMinDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Kind == KindRandom && p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	return p
}

// retryable reports whether the error passes the filter
func (p Policy) retryable(err error) bool {
	if p.ErrorFilter == nil {
		return true
	}
	return p.ErrorFilter(err)
}

// newBackOff returns a fresh backoff state for one execution
func (p Policy) newBackOff() backoff.BackOff {
	p = p.Sanitize()
	switch p.Kind {
	case KindLinear:
		return &linearBackOff{count: p.RetryCount, remaining: p.RetryCount, spinFor: p.SpinFor}
	case KindExponential:
		return &exponentialBackOff{initial: p.InitialDelay, maxDelay: p.MaxDelay}
	case KindRandom:
		return &randomBackOff{count: p.RetryCount, remaining: p.RetryCount, minDelay: p.MinDelay, maxDelay: p.MaxDelay}
	default:
		return &backoff.StopBackOff{}
	}
}

type linearBackOff struct {
	count     int
	remaining int
	spinFor   time.Duration
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.remaining--
	if b.remaining <= 0 {
		return backoff.Stop
	}
	return b.spinFor
}

func (b *linearBackOff) Reset() {
	b.remaining = b.count
}

type exponentialBackOff struct {
	initial  time.Duration
	maxDelay time.Duration
	current  time.Duration
}

var _ backoff.BackOff = (*exponentialBackOff)(nil)

func (b *exponentialBackOff) NextBackOff() time.Duration {
	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current *= 2
	}

	if b.current > b.maxDelay {
		return backoff.Stop
	}
	return b.current
}

func (b *exponentialBackOff) Reset() {
	b.current = 0
}

type randomBackOff struct {
	count     int
	remaining int
	minDelay  time.Duration
	maxDelay  time.Duration
}

var _ backoff.BackOff = (*randomBackOff)(nil)

func (b *randomBackOff) NextBackOff() time.Duration {
	if b.remaining <= 0 {
		return backoff.Stop
	}
	b.remaining--
	return b.minDelay + rand.N(b.maxDelay-b.minDelay+1)
}

func (b *randomBackOff) Reset() {
	b.remaining = b.count
}
