package main

import (
	"context"
	"database/sql"
	"time"

	"rotaclock/internal/attendance/service"
	dErrors "rotaclock/pkg/domain-errors"
	txcontext "rotaclock/pkg/platform/tx"
)

const defaultAttendanceTxTimeout = 5 * time.Second

// attendancePostgresTx runs clock transitions in a SQL transaction holding a
// per-student advisory lock, so concurrent transitions for one student
// serialize across processes.
type attendancePostgresTx struct {
	db      *sql.DB
	stores  service.TxStores
	timeout time.Duration
}

func newAttendancePostgresTx(db *sql.DB, stores service.TxStores, timeout time.Duration) *attendancePostgresTx {
	return &attendancePostgresTx{db: db, stores: stores, timeout: timeout}
}

func (t *attendancePostgresTx) RunInTx(ctx context.Context, studentID string, fn func(ctx context.Context, stores service.TxStores) error) error {
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

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, studentID); err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "timed out waiting for student lock")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to lock student")
	}

	if err := fn(txcontext.WithTx(ctx, tx), t.stores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to commit transaction")
	}
	return nil
}
