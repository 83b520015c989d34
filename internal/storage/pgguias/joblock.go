package pgguias

import (
	"context"

	"github.com/pkg/errors"
)

// Advisory lock key for the reconcile job. Fixed value shared by every
// process that may run a reconcile cycle (worker ticker, API cron trigger).
const reconcileLockKey = int64(7712001)

// TryReconcileLock takes a session-level advisory lock guarding against
// overlapping reconcile runs. The lock lives on a dedicated pooled
// connection, which is held until the returned release func is called.
// ok=false means another run holds the lock.
func (s *Storage) TryReconcileLock(ctx context.Context) (release func(context.Context), ok bool, err error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "acquire conn")
	}

	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, reconcileLockKey).Scan(&got); err != nil {
		conn.Release()
		return nil, false, errors.Wrap(err, "try advisory lock")
	}
	if !got {
		conn.Release()
		return nil, false, nil
	}

	release = func(ctx context.Context) {
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, reconcileLockKey)
		conn.Release()
	}
	return release, true, nil
}
