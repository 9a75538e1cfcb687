// Package profiler - Operation timing for evaluation runs.
package profiler

import (
	"sort"
	"sync"
	"time"
)

// OperationStats summarises the recorded durations of one operation.
type OperationStats struct {
	Name  string        `json:"name"`
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Mean returns the average duration, or zero before any sample.
func (s OperationStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Timings tracks how long named operations take. It is safe for concurrent
// use; the zero value is ready.
type Timings struct {
	mu  sync.Mutex
	ops map[string]*OperationStats
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (t *Timings) StartOperation(name string) func() {
	if t == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		t.Record(name, time.Since(start))
	}
}

// Record adds one duration sample for name.
func (t *Timings) Record(name string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ops == nil {
		t.ops = make(map[string]*OperationStats)
	}
	op, ok := t.ops[name]
	if !ok {
		op = &OperationStats{Name: name, Min: d, Max: d}
		t.ops[name] = op
	}
	op.Count++
	op.Total += d
	if d < op.Min {
		op.Min = d
	}
	if d > op.Max {
		op.Max = d
	}
}

// Stats returns the statistics of every operation, sorted by name.
func (t *Timings) Stats() []OperationStats {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]OperationStats, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
