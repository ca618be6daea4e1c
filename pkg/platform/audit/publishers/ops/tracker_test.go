package ops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "rotaclock/pkg/platform/audit"
	"rotaclock/pkg/platform/audit/store/memory"
)

func rejection(reason string) audit.OpsEvent {
	return audit.OpsEvent{
		StudentID: "stu-1",
		Action:    string(audit.EventClockRejected),
		Reason:    reason,
		SiteID:    "site-1",
	}
}

func TestTracker_DrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	tr := NewTracker(store, WithBufferSize(100))

	for range 10 {
		tr.Track(context.Background(), rejection("OUTSIDE_HOURS"))
	}
	require.NoError(t, tr.Close(context.Background()))

	events, err := store.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, events, 10, "all events should be drained on close")
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
	assert.Equal(t, "OUTSIDE_HOURS", events[0].Reason)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestTracker_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	tr := NewTracker(store)
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	ev := rejection("NO_ROTATION")
	ev.Timestamp = at
	tr.Track(context.Background(), ev)
	require.NoError(t, tr.Close(context.Background()))

	events, err := store.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp)
}

func TestTracker_BufferFullNeverBlocks(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMetrics(prometheus.NewRegistry())
	tr := NewTracker(store, WithBufferSize(1), WithMetrics(m))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Track(context.Background(), rejection("GEOFENCE_FAIL"))
		}()
	}
	wg.Wait()
	require.NoError(t, tr.Close(context.Background()))

	tracked := testutil.ToFloat64(m.Tracked)
	dropped := testutil.ToFloat64(m.Dropped)
	assert.InDelta(t, 50, tracked+dropped, 0)
	assert.Equal(t, int(tracked), store.Len())
}

func TestTracker_TrackAfterCloseIsIgnored(t *testing.T) {
	store := memory.NewInMemoryStore()
	tr := NewTracker(store)
	require.NoError(t, tr.Close(context.Background()))
	require.NoError(t, tr.Close(context.Background()))

	tr.Track(context.Background(), rejection("OUTSIDE_SLOT"))
	assert.Equal(t, 0, store.Len())
}

func TestTracker_Sampling(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMetrics(prometheus.NewRegistry())
	sampler := NewSampler(1)
	sampler.SetRate("OUTSIDE_HOURS", 0)
	tr := NewTracker(store, WithSampler(sampler), WithMetrics(m))

	tr.Track(context.Background(), rejection("OUTSIDE_HOURS"))
	tr.Track(context.Background(), rejection("DUPLICATE_OPEN"))
	require.NoError(t, tr.Close(context.Background()))

	events, err := store.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "DUPLICATE_OPEN", events[0].Reason)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sampled), 0)
}

func TestSampler_ClampsRates(t *testing.T) {
	s := NewSampler(5)
	assert.True(t, s.Keep("anything"))
	s.SetRate("x", -1)
	assert.False(t, s.Keep("x"))

	s.roll = func() float64 { return 0.3 }
	s.SetRate("half", 0.5)
	assert.True(t, s.Keep("half"))
	s.roll = func() float64 { return 0.7 }
	assert.False(t, s.Keep("half"))
}
