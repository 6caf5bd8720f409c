// Package report accumulates timing and traffic statistics for operators.
package report

import (
	"fmt"
	"time"
)

// Report describes one or more executions of an operator.
type Report struct {
	Calls        int
	Elapsed      time.Duration
	FLOPs        int64
	BytesRead    int64
	BytesWritten int64

	start time.Time
}

// Reset clears all counters.
func (r *Report) Reset() {
	*r = Report{}
}

// Start resets the report and marks the beginning of a call.
func (r *Report) Start() {
	r.Reset()
	r.start = time.Now()
}

// End closes a call started with Start and records its cost.
func (r *Report) End(flops, read, written int64) {
	r.Calls++
	if !r.start.IsZero() {
		r.Elapsed += time.Since(r.start)
	}
	r.FLOPs += flops
	r.BytesRead += read
	r.BytesWritten += written
}

// Aggregate adds the counters of o into r, including its call count.
func (r *Report) Aggregate(o Report) {
	r.Calls += o.Calls
	r.Elapsed += o.Elapsed
	r.FLOPs += o.FLOPs
	r.BytesRead += o.BytesRead
	r.BytesWritten += o.BytesWritten
}

// AggregateStats adds the cost counters of o without touching Calls or Elapsed.
func (r *Report) AggregateStats(o Report) {
	r.FLOPs += o.FLOPs
	r.BytesRead += o.BytesRead
	r.BytesWritten += o.BytesWritten
}

// GFLOPS returns throughput over the recorded elapsed time.
func (r Report) GFLOPS() float64 {
	s := r.Elapsed.Seconds()
	if s == 0 {
		return 0
	}
	return float64(r.FLOPs) / s / 1e9
}

func (r Report) String() string {
	return fmt.Sprintf("calls=%d elapsed=%s flops=%d read=%dB written=%dB (%.3f GFLOPS)",
		r.Calls, r.Elapsed, r.FLOPs, r.BytesRead, r.BytesWritten, r.GFLOPS())
}
