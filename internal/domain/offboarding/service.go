package offboarding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"hrportal/internal/platform/metrics"
)

type Service struct {
	store       StoreAPI
	identity    IdentityProvider
	metrics     *metrics.Collector
	tiers       []Tier
	concurrency int
	now         func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithConcurrency bounds the number of deletes in flight inside one tier.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithTiers(tiers []Tier) Option {
	return func(s *Service) { s.tiers = tiers }
}

func NewService(store StoreAPI, identity IdentityProvider, opts ...Option) *Service {
	s := &Service{
		store:       store,
		identity:    identity,
		tiers:       DefaultTiers(),
		concurrency: 8,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeleteEmployee removes every record that references userID, then the
// profile, then the login identity. There is no cross-tier transaction: a
// failure stops the run where it is and a later call finishes the job, since
// tables that are already clear simply delete nothing.
func (s *Service) DeleteEmployee(ctx context.Context, userID, requestedBy string) (Report, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || uuid.Validate(userID) != nil {
		return Report{}, ErrInvalidUserID
	}

	log := zerolog.Ctx(ctx).With().Str("user_id", userID).Logger()
	report := Report{UserID: userID, Status: StatusRunning, StartedAt: s.now().UTC()}

	runID, err := s.store.CreateRun(ctx, userID, requestedBy)
	if err != nil {
		log.Warn().Err(err).Msg("deletion run record failed")
	}
	report.RunID = runID

	for _, tier := range s.tiers {
		started := time.Now()
		results, failures, err := s.runTier(ctx, tier, userID)
		s.metrics.TierDuration(tier.Number, time.Since(started))
		report.Results = append(report.Results, results...)
		if err != nil {
			report.Failures = failures
			log.Error().Err(err).Int("tier", tier.Number).Strs("failures", failures).Msg("employee deletion aborted")
			s.finish(ctx, &report, StatusFailed, err)
			return report, err
		}
		log.Debug().Int("tier", tier.Number).Str("tier_name", tier.Name).Msg("deletion tier cleared")
	}

	if err := s.identity.DeleteIdentity(ctx, userID); err != nil {
		idErr := &IdentityDeletionError{UserID: userID, Err: err}
		log.Error().Err(err).Str("severity", "critical").Msg("identity deletion failed after data removal; account can still sign in")
		s.finish(ctx, &report, StatusIdentityFailed, idErr)
		return report, idErr
	}
	report.IdentityDeleted = true

	s.finish(ctx, &report, StatusCompleted, nil)
	log.Info().Int64("rows_deleted", report.TotalDeleted).Msg("employee deleted")
	return report, nil
}

// runTier fans the tier's deletes out and waits for every one of them to
// settle. The returned error names the first failing target in declaration
// order; failures lists all of them.
func (s *Service) runTier(ctx context.Context, tier Tier, userID string) ([]Result, []string, error) {
	results := make([]Result, len(tier.Targets))
	failed := make([]*DependentDeletionError, len(tier.Targets))

	var (
		mu       sync.Mutex
		combined error
		g        errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for i, target := range tier.Targets {
		i, target := i, target
		g.Go(func() error {
			deleted, err := s.store.DeleteRows(ctx, target, userID)
			result := Result{Tier: tier.Number, Table: target.Table, Column: target.Column, Deleted: deleted}
			if err != nil {
				depErr := &DependentDeletionError{Tier: tier.Number, Table: target.Table, Column: target.Column, Err: err}
				result.Deleted = 0
				result.Error = err.Error()
				failed[i] = depErr
				mu.Lock()
				combined = multierr.Append(combined, depErr)
				mu.Unlock()
			} else {
				s.metrics.RowsDeleted(target.Table, deleted)
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	if combined == nil {
		return results, nil, nil
	}

	var failures []string
	for _, err := range multierr.Errors(combined) {
		var depErr *DependentDeletionError
		if errors.As(err, &depErr) {
			failures = append(failures, depErr.Table+"."+depErr.Column)
		}
	}
	for _, depErr := range failed {
		if depErr != nil {
			return results, failures, depErr
		}
	}
	return results, failures, combined
}

func (s *Service) finish(ctx context.Context, report *Report, status string, cause error) {
	report.Status = status
	report.CompletedAt = s.now().UTC()
	report.TotalDeleted = 0
	for _, result := range report.Results {
		report.TotalDeleted += result.Deleted
	}

	outcome := RunOutcome{Status: status, Results: report.Results}
	if cause != nil {
		outcome.Error = cause.Error()
		outcome.FailedStep = FailedStep(cause)
	}
	s.metrics.DeletionRun(status)

	if report.RunID == "" {
		return
	}
	// the caller may already be gone; the run record should still land
	if err := s.store.CompleteRun(context.WithoutCancel(ctx), report.RunID, outcome); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("run_id", report.RunID).Msg("deletion run update failed")
	}
}

// Remaining counts rows still referencing userID per target and whether the
// identity record still exists. A fully deleted employee has no entries and
// identity false.
func (s *Service) Remaining(ctx context.Context, userID string) (map[string]int64, bool, error) {
	userID = strings.TrimSpace(userID)
	if uuid.Validate(userID) != nil {
		return nil, false, ErrInvalidUserID
	}
	remaining := map[string]int64{}
	for _, target := range AllTargetsOf(s.tiers) {
		n, err := s.store.CountRows(ctx, target, userID)
		if err != nil {
			return nil, false, err
		}
		if n > 0 {
			remaining[target.Table+"."+target.Column] = n
		}
	}
	exists, err := s.identity.IdentityExists(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return remaining, exists, nil
}

func (s *Service) Runs(ctx context.Context, limit, offset int) ([]Run, error) {
	return s.store.ListRuns(ctx, limit, offset)
}

func (s *Service) Run(ctx context.Context, runID string) (Run, error) {
	if uuid.Validate(runID) != nil {
		return Run{}, ErrRunNotFound
	}
	return s.store.GetRun(ctx, runID)
}

// AbandonStaleRuns closes runs that have been running longer than maxAge.
// Those belong to a process that died mid-run; the deletion itself can be
// repeated safely.
func (s *Service) AbandonStaleRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.store.AbandonRuns(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zerolog.Ctx(ctx).Warn().Int64("runs", n).Dur("max_age", maxAge).Msg("stale deletion runs abandoned")
	}
	return n, nil
}

// FailedStep names the table or step behind a deletion error.
func FailedStep(err error) string {
	var depErr *DependentDeletionError
	if errors.As(err, &depErr) {
		return depErr.Table
	}
	var idErr *IdentityDeletionError
	if errors.As(err, &idErr) {
		return "identity"
	}
	return ""
}

func AllTargetsOf(tiers []Tier) []Target {
	var out []Target
	for _, tier := range tiers {
		out = append(out, tier.Targets...)
	}
	return out
}
