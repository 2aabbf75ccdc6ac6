package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Releaser interface {
	ReleaseDue(ctx context.Context, after, until time.Time) (int, error)
}

type RunReaper interface {
	AbandonStaleRuns(ctx context.Context, maxAge time.Duration) (int64, error)
}

// NotificationRelease announces scheduled notifications that became visible
// since the previous successful run. A failed run keeps its window so the next
// tick covers it again.
func NotificationRelease(r Releaser, now func() time.Time) Func {
	var mu sync.Mutex
	last := now()
	return func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		until := now()
		n, err := r.ReleaseDue(ctx, last, until)
		if err != nil {
			return err
		}
		last = until
		if n > 0 {
			zerolog.Ctx(ctx).Info().Int("released", n).Msg("scheduled notifications released")
		}
		return nil
	}
}

func DeletionRunReaper(r RunReaper, maxAge time.Duration) Func {
	return func(ctx context.Context) error {
		_, err := r.AbandonStaleRuns(ctx, maxAge)
		return err
	}
}
