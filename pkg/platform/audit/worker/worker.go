package worker

import (
	"context"

	"go.uber.org/zap"

	audit "rotaclock/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. Append
// failures are logged and counted; the worker keeps draining.
type Worker struct {
	store   audit.Store
	inbox   <-chan audit.Event
	logger  *zap.Logger
	onError func(error)
}

type Option func(*Worker)

func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithErrorHook is called for every failed Append.
func WithErrorHook(fn func(error)) Option {
	return func(w *Worker) { w.onError = fn }
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, opts ...Option) *Worker {
	w := &Worker{store: store, inbox: inbox, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the inbox until it is closed or ctx is cancelled. A closed
// inbox returns nil after every buffered event is persisted.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Warn("audit append failed",
					zap.String("action", event.Action),
					zap.String("student_id", event.StudentID),
					zap.Error(err),
				)
				if w.onError != nil {
					w.onError(err)
				}
			}
		}
	}
}
