package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "rotaclock/pkg/platform/audit"
	"rotaclock/pkg/platform/audit/store/memory"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}

func TestPublisher_Emit(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store)

	err := pub.Emit(context.Background(), audit.ComplianceEvent{
		StudentID: "stu-1",
		Action:    string(audit.EventClockInAccepted),
		RecordID:  "rec-1",
	})
	require.NoError(t, err)

	events, err := store.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.Equal(t, "rec-1", events[0].RecordID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store)
	at := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

	require.NoError(t, pub.Emit(context.Background(), audit.ComplianceEvent{
		StudentID: "stu-1",
		Action:    string(audit.EventClockOutAccepted),
		Timestamp: at,
	}))

	events, err := store.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp)
}

func TestPublisher_RequiresFields(t *testing.T) {
	pub := New(memory.NewInMemoryStore())
	assert.Error(t, pub.Emit(context.Background(), audit.ComplianceEvent{Action: "x"}))
	assert.Error(t, pub.Emit(context.Background(), audit.ComplianceEvent{StudentID: "stu-1"}))
}

func TestPublisher_FailsClosed(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	pub := New(failingStore{}, WithMetrics(m))

	err := pub.Emit(context.Background(), audit.ComplianceEvent{
		StudentID: "stu-1",
		Action:    string(audit.EventClockInAccepted),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.InDelta(t, 1, testutil.ToFloat64(m.PersistFailures), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.EventsEmitted), 0)
}
