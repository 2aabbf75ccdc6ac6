package offboarding

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrportal/internal/platform/metrics"
)

type call struct {
	seq    int
	target Target
}

type memoryStore struct {
	mu     sync.Mutex
	rows   map[Target]map[string]int64
	failOn map[Target]error
	calls  []call
	runs   map[string]Run
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rows:   map[Target]map[string]int64{},
		failOn: map[Target]error{},
		runs:   map[string]Run{},
	}
}

func (m *memoryStore) seed(userID string, n int64) {
	for _, target := range AllTargets() {
		if m.rows[target] == nil {
			m.rows[target] = map[string]int64{}
		}
		m.rows[target][userID] += n
	}
}

func (m *memoryStore) DeleteRows(_ context.Context, target Target, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{seq: len(m.calls), target: target})
	if err := m.failOn[target]; err != nil {
		return 0, err
	}
	n := m.rows[target][userID]
	delete(m.rows[target], userID)
	return n, nil
}

func (m *memoryStore) CountRows(_ context.Context, target Target, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[target][userID], nil
}

func (m *memoryStore) CreateRun(_ context.Context, userID, requestedBy string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.runs[id] = Run{ID: id, UserID: userID, RequestedBy: requestedBy, Status: StatusRunning, StartedAt: time.Now()}
	return id, nil
}

func (m *memoryStore) CompleteRun(_ context.Context, runID string, outcome RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[runID]
	now := time.Now()
	run.Status = outcome.Status
	run.FailedStep = outcome.FailedStep
	run.Error = outcome.Error
	run.Results = outcome.Results
	run.CompletedAt = &now
	m.runs[runID] = run
	return nil
}

func (m *memoryStore) ListRuns(context.Context, int, int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, run := range m.runs {
		out = append(out, run)
	}
	return out, nil
}

func (m *memoryStore) GetRun(_ context.Context, runID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (m *memoryStore) AbandonRuns(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, run := range m.runs {
		if run.Status == StatusRunning && run.StartedAt.Before(cutoff) {
			run.Status = StatusAbandoned
			m.runs[id] = run
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) calledTiers() []int {
	tierOf := map[Target]int{}
	for _, tier := range DefaultTiers() {
		for _, target := range tier.Targets {
			tierOf[target] = tier.Number
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.calls))
	for i, c := range m.calls {
		out[i] = tierOf[c.target]
	}
	return out
}

type fakeIdentity struct {
	mu         sync.Mutex
	identities map[string]bool
	err        error
}

func (f *fakeIdentity) DeleteIdentity(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.identities, userID)
	return nil
}

func (f *fakeIdentity) IdentityExists(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identities[userID], nil
}

func fixture() (*Service, *memoryStore, *fakeIdentity, string, string) {
	victim, bystander := uuid.NewString(), uuid.NewString()
	store := newMemoryStore()
	store.seed(victim, 2)
	store.seed(bystander, 1)
	identity := &fakeIdentity{identities: map[string]bool{victim: true, bystander: true}}
	return NewService(store, identity, WithConcurrency(4)), store, identity, victim, bystander
}

func TestDeleteEmployeeRemovesEveryReference(t *testing.T) {
	svc, _, _, victim, bystander := fixture()
	ctx := context.Background()

	report, err := svc.DeleteEmployee(ctx, victim, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.True(t, report.IdentityDeleted)
	assert.Equal(t, int64(2*len(AllTargets())), report.TotalDeleted)
	assert.Len(t, report.Results, len(AllTargets()))

	remaining, identityExists, err := svc.Remaining(ctx, victim)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.False(t, identityExists)

	remaining, identityExists, err = svc.Remaining(ctx, bystander)
	require.NoError(t, err)
	assert.Len(t, remaining, len(AllTargets()))
	assert.True(t, identityExists)
}

func TestRemainingTrimsUserID(t *testing.T) {
	svc, _, _, _, bystander := fixture()

	remaining, identityExists, err := svc.Remaining(context.Background(), "  "+bystander+"\n")
	require.NoError(t, err)
	assert.Len(t, remaining, len(AllTargets()))
	assert.True(t, identityExists)
}

func TestDeleteEmployeeIsIdempotent(t *testing.T) {
	svc, _, _, victim, _ := fixture()
	ctx := context.Background()

	_, err := svc.DeleteEmployee(ctx, victim, "")
	require.NoError(t, err)

	second, err := svc.DeleteEmployee(ctx, victim, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Zero(t, second.TotalDeleted)

	remaining, identityExists, err := svc.Remaining(ctx, victim)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.False(t, identityExists)
}

func TestTiersRunStrictlyInOrder(t *testing.T) {
	svc, store, _, victim, _ := fixture()

	_, err := svc.DeleteEmployee(context.Background(), victim, "")
	require.NoError(t, err)

	tiers := store.calledTiers()
	require.Len(t, tiers, len(AllTargets()))
	for i := 1; i < len(tiers); i++ {
		assert.LessOrEqual(t, tiers[i-1], tiers[i], "call %d ran tier %d after tier %d", i, tiers[i], tiers[i-1])
	}
}

func TestDependentFailureStopsLaterTiers(t *testing.T) {
	svc, store, identity, victim, _ := fixture()
	store.failOn[Target{Table: "payslips", Column: "employee_id"}] = errors.New("connection reset")

	report, err := svc.DeleteEmployee(context.Background(), victim, "")
	require.Error(t, err)

	var depErr *DependentDeletionError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, 1, depErr.Tier)
	assert.Equal(t, "payslips", depErr.Table)
	assert.Equal(t, "payslips", FailedStep(err))
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, []string{"payslips.employee_id"}, report.Failures)

	for _, tier := range store.calledTiers() {
		assert.Equal(t, 1, tier, "no tier after the failing one may run")
	}
	exists, _ := identity.IdentityExists(context.Background(), victim)
	assert.True(t, exists)

	run, err := svc.Run(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "payslips", run.FailedStep)
}

func TestFailedRunCanBeResumed(t *testing.T) {
	svc, store, _, victim, _ := fixture()
	target := Target{Table: "documents", Column: "created_by"}
	store.failOn[target] = errors.New("lock timeout")

	_, err := svc.DeleteEmployee(context.Background(), victim, "")
	var depErr *DependentDeletionError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, 2, depErr.Tier)

	delete(store.failOn, target)
	report, err := svc.DeleteEmployee(context.Background(), victim, "")
	require.NoError(t, err)
	assert.True(t, report.IdentityDeleted)

	remaining, identityExists, err := svc.Remaining(context.Background(), victim)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.False(t, identityExists)
}

func TestFirstFailureInDeclarationOrderIsReported(t *testing.T) {
	svc, store, _, victim, _ := fixture()
	store.failOn[Target{Table: "form_assignments", Column: "employee_id"}] = errors.New("boom")
	store.failOn[Target{Table: "dependents", Column: "employee_id"}] = errors.New("boom")

	report, err := svc.DeleteEmployee(context.Background(), victim, "")
	var depErr *DependentDeletionError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "dependents", depErr.Table)
	assert.ElementsMatch(t, []string{"dependents.employee_id", "form_assignments.employee_id"}, report.Failures)
}

func TestIdentityFailureIsDistinct(t *testing.T) {
	svc, _, identity, victim, _ := fixture()
	identity.err = errors.New("provider unavailable")

	report, err := svc.DeleteEmployee(context.Background(), victim, "")
	var idErr *IdentityDeletionError
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, victim, idErr.UserID)
	assert.Equal(t, "identity", FailedStep(err))
	assert.Equal(t, StatusIdentityFailed, report.Status)
	assert.False(t, report.IdentityDeleted)

	remaining, identityExists, err := svc.Remaining(context.Background(), victim)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.True(t, identityExists)
}

func TestInvalidUserIDIsRejectedBeforeAnyDelete(t *testing.T) {
	svc, store, _, _, _ := fixture()
	for _, id := range []string{"", "   ", "not-a-uuid"} {
		_, err := svc.DeleteEmployee(context.Background(), id, "")
		assert.ErrorIs(t, err, ErrInvalidUserID)
	}
	assert.Empty(t, store.calls)
	assert.Empty(t, store.runs)
}

func TestDeleteEmployeeRecordsMetrics(t *testing.T) {
	victim := uuid.NewString()
	store := newMemoryStore()
	store.seed(victim, 1)
	reg := prometheus.NewRegistry()
	svc := NewService(store, &fakeIdentity{identities: map[string]bool{victim: true}}, WithMetrics(metrics.New(reg)))

	_, err := svc.DeleteEmployee(context.Background(), victim, "")
	require.NoError(t, err)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["offboarding_runs_total"])
	assert.True(t, names["offboarding_rows_deleted_total"])
	assert.True(t, names["offboarding_tier_duration_seconds"])
}

func TestCertificateRendersPDF(t *testing.T) {
	completed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	run := Run{
		ID:          uuid.NewString(),
		UserID:      uuid.NewString(),
		Status:      StatusCompleted,
		StartedAt:   completed.Add(-time.Second),
		CompletedAt: &completed,
	}
	for i, target := range AllTargets() {
		run.Results = append(run.Results, Result{Tier: 1, Table: target.Table, Column: target.Column, Deleted: int64(i)})
	}

	out, err := Certificate(run)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")), "expected PDF header, got %q", strconv.Quote(string(out[:8])))
}

func TestRunRejectsMalformedID(t *testing.T) {
	svc, _, _, _, _ := fixture()
	_, err := svc.Run(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestAbandonStaleRuns(t *testing.T) {
	svc, store, _, victim, _ := fixture()
	stale := uuid.NewString()
	fresh := uuid.NewString()
	store.runs[stale] = Run{ID: stale, UserID: victim, Status: StatusRunning, StartedAt: time.Now().Add(-2 * time.Hour)}
	store.runs[fresh] = Run{ID: fresh, UserID: victim, Status: StatusRunning, StartedAt: time.Now()}

	n, err := svc.AbandonStaleRuns(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, StatusAbandoned, store.runs[stale].Status)
	assert.Equal(t, StatusRunning, store.runs[fresh].Status)
}
