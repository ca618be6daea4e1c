package service

import (
	"context"
	"sync"
	"time"

	dErrors "rotaclock/pkg/domain-errors"
)

// TxStores are the stores a transaction function may mutate.
type TxStores struct {
	Records  RecordStore
	Students StudentCounter
}

// AttendanceStoreTx provides the per-student transactional boundary for
// clock transitions. fn receives the context it must use for store calls;
// for SQL implementations that context carries the transaction.
type AttendanceStoreTx interface {
	RunInTx(ctx context.Context, studentID string, fn func(ctx context.Context, stores TxStores) error) error
}

// shardedAttendanceTx serializes transitions per student with sharded
// mutexes. Operations are distributed across N shards by a hash of the
// student id, so different students rarely contend.
const numAttendanceShards = 128

// defaultAttendanceTxTimeout is the maximum duration for a transaction,
// including time spent waiting for the shard lock.
const defaultAttendanceTxTimeout = 5 * time.Second

type shardedAttendanceTx struct {
	shards  [numAttendanceShards]sync.Mutex
	stores  TxStores
	timeout time.Duration
}

// NewShardedTx builds the in-process transaction boundary over stores.
// A zero timeout uses the default.
func NewShardedTx(records RecordStore, students StudentCounter, timeout time.Duration) AttendanceStoreTx {
	return &shardedAttendanceTx{
		stores:  TxStores{Records: records, Students: students},
		timeout: timeout,
	}
}

func (t *shardedAttendanceTx) RunInTx(ctx context.Context, studentID string, fn func(ctx context.Context, stores TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultAttendanceTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := &t.shards[shardFor(studentID)]
	if !lockWithContext(ctx, shard) {
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transaction aborted: lock wait exceeded deadline")
	}
	defer shard.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx, t.stores)
}

// lockWithContext acquires mu unless ctx ends first.
func lockWithContext(ctx context.Context, mu *sync.Mutex) bool {
	if mu.TryLock() {
		return true
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if mu.TryLock() {
				return true
			}
		}
	}
}

func shardFor(studentID string) int {
	return int(hashStudentID(studentID) % numAttendanceShards)
}

// hashStudentID uses FNV-1a for better hash distribution than simple multiply-add.
func hashStudentID(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
