package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecord(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpAssistantAsk, 100*time.Millisecond)
	c.RecordTiming(OpAssistantAsk, 300*time.Millisecond)
	c.Record(OpAssistantAsk, 200*time.Millisecond, errors.New("no tab"))

	snap := c.Snapshot()
	op, ok := snap.Operations[OpAssistantAsk]
	require.True(t, ok)

	assert.Equal(t, int64(3), op.Count)
	assert.Equal(t, int64(1), op.Errors)
	assert.InDelta(t, 200.0, op.AvgTimeMs, 0.001)
	assert.Equal(t, int64(100), op.MinTimeMs)
	assert.Equal(t, int64(300), op.MaxTimeMs)
}

func TestCollectorSnapshotOmitsUnused(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpStoreWrite, time.Millisecond)

	snap := c.Snapshot()
	assert.Len(t, snap.Operations, 1)
	assert.NotContains(t, snap.Operations, OpJobProcessing)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestCollectorNil(t *testing.T) {
	var c *Collector
	c.Record(OpStoreWrite, time.Second, nil)
	done := c.Time(OpJobProcessing)
	done(nil)
	assert.Empty(t, c.Snapshot().Operations)
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := c.Time(OpJobProcessing)
			done(nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.Snapshot().Operations[OpJobProcessing].Count)
}
