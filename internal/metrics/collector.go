// Package metrics keeps per-operation call counts and latencies for the
// lifetime of the daemon. Nothing is persisted.
package metrics

import (
	"sync"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

const (
	OpAssistantAsk  = "assistant_ask"
	OpJobProcessing = "job_processing"
	OpStoreWrite    = "store_write"
	OpLLMGenerate   = "llm_generate"
)

type tally struct {
	calls    int64
	failures int64
	total    time.Duration
	fastest  time.Duration
	slowest  time.Duration
}

func (t *tally) add(d time.Duration, failed bool) {
	if t.calls == 0 || d < t.fastest {
		t.fastest = d
	}
	if d > t.slowest {
		t.slowest = d
	}
	t.calls++
	t.total += d
	if failed {
		t.failures++
	}
}

func (t tally) timing() models.OperationTiming {
	return models.OperationTiming{
		Count:     t.calls,
		Errors:    t.failures,
		AvgTimeMs: float64(t.total.Microseconds()) / 1000 / float64(t.calls),
		MinTimeMs: t.fastest.Milliseconds(),
		MaxTimeMs: t.slowest.Milliseconds(),
	}
}

// Collector is safe for concurrent use. A nil *Collector records nothing,
// so components can be built without one.
type Collector struct {
	started time.Time

	mu  sync.Mutex
	ops map[string]*tally
}

func NewCollector() *Collector {
	return &Collector{started: time.Now(), ops: map[string]*tally{}}
}

// Record adds one call of op. A non-nil err counts it as failed.
func (c *Collector) Record(op string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	t := c.ops[op]
	if t == nil {
		t = &tally{}
		c.ops[op] = t
	}
	t.add(d, err != nil)
	c.mu.Unlock()
}

// RecordTiming adds one successful call of op.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	c.Record(op, d, nil)
}

// Time starts a stopwatch for op. The returned func records the call with
// its outcome.
//
//	done := c.Time(metrics.OpStoreWrite)
//	err := store.Save(ctx, state)
//	done(err)
func (c *Collector) Time(op string) func(error) {
	start := time.Now()
	return func(err error) { c.Record(op, time.Since(start), err) }
}

// Snapshot copies the current tallies.
func (c *Collector) Snapshot() models.RuntimeStats {
	if c == nil {
		return models.RuntimeStats{Operations: map[string]models.OperationTiming{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := models.RuntimeStats{
		UptimeSeconds: time.Since(c.started).Seconds(),
		Operations:    make(map[string]models.OperationTiming, len(c.ops)),
	}
	for name, t := range c.ops {
		out.Operations[name] = t.timing()
	}
	return out
}
