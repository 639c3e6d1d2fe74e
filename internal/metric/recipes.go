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

package metric

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recipes groups the instruments recorded by the coordination recipes.
//
// Instruments:
//   - twopc.transactions          (Int64Counter, attribute outcome)
//   - twopc.transaction.duration  (Float64Histogram, unit ms)
//   - lock.acquisitions           (Int64Counter)
//   - lock.wait.duration          (Float64Histogram, unit ms)
//   - watchtree.events            (Int64Counter, attribute type)
type Recipes struct {
	transactions        metric.Int64Counter
	transactionDuration metric.Float64Histogram
	lockAcquisitions    metric.Int64Counter
	lockWait            metric.Float64Histogram
	watchEvents         metric.Int64Counter
}

// NewRecipes creates the instruments on the given meter.
// It returns an error if any instrument cannot be created.
func NewRecipes(meter metric.Meter) (*Recipes, error) {
	var instruments Recipes
	var err error

	if instruments.transactions, err = meter.Int64Counter(
		"twopc.transactions",
		metric.WithDescription("Number of two-phase commit transactions by outcome"),
	); err != nil {
		return nil, err
	}

	if instruments.transactionDuration, err = meter.Float64Histogram(
		"twopc.transaction.duration",
		metric.WithDescription("Duration of two-phase commit transactions"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if instruments.lockAcquisitions, err = meter.Int64Counter(
		"lock.acquisitions",
		metric.WithDescription("Number of distributed lock acquisitions"),
	); err != nil {
		return nil, err
	}

	if instruments.lockWait, err = meter.Float64Histogram(
		"lock.wait.duration",
		metric.WithDescription("Time spent waiting for a distributed lock"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if instruments.watchEvents, err = meter.Int64Counter(
		"watchtree.events",
		metric.WithDescription("Number of watch events applied to watch trees"),
	); err != nil {
		return nil, err
	}

	return &instruments, nil
}

// RecordTransaction records the outcome and duration of one transaction
func (x *Recipes) RecordTransaction(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	x.transactions.Add(ctx, 1, attrs)
	x.transactionDuration.Record(ctx, toMillis(elapsed), attrs)
}

// RecordLockAcquired records one acquisition and the time spent waiting for it
func (x *Recipes) RecordLockAcquired(ctx context.Context, waited time.Duration) {
	x.lockAcquisitions.Add(ctx, 1)
	x.lockWait.Record(ctx, toMillis(waited))
}

// RecordWatchEvent records one event applied to a watch tree
func (x *Recipes) RecordWatchEvent(ctx context.Context, eventType string) {
	x.watchEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
