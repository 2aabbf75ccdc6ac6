package offboarding

import (
	"context"
	"time"
)

type StoreAPI interface {
	DeleteRows(ctx context.Context, target Target, userID string) (int64, error)
	CountRows(ctx context.Context, target Target, userID string) (int64, error)
	CreateRun(ctx context.Context, userID, requestedBy string) (string, error)
	CompleteRun(ctx context.Context, runID string, outcome RunOutcome) error
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
	GetRun(ctx context.Context, runID string) (Run, error)
	// AbandonRuns closes runs still marked running that started before cutoff.
	AbandonRuns(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdentityProvider owns login credentials. DeleteIdentity must succeed when
// the identity is already gone.
type IdentityProvider interface {
	DeleteIdentity(ctx context.Context, userID string) error
	IdentityExists(ctx context.Context, userID string) (bool, error)
}
