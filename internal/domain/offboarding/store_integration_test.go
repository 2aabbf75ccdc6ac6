package offboarding

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrportal/internal/domain/auth"
	"hrportal/internal/platform/db"
)

func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool, "up"))
	return pool
}

func insertEmployee(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	email := id + "@example.test"
	_, err := pool.Exec(ctx, `INSERT INTO auth_users (id, email, password_hash) VALUES ($1, $2, 'x')`, id, email)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO profiles (id, email) VALUES ($1, $2)`, id, email)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, 'employee')`, id)
	require.NoError(t, err)
	return id
}

func TestStoreDeletesEveryReferenceInPostgres(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	victim := insertEmployee(t, pool)
	colleague := insertEmployee(t, pool)

	var victimDoc, colleagueDoc string
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO documents (title, storage_path, created_by) VALUES ('contract', 'a', $1) RETURNING id`, victim).Scan(&victimDoc))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO documents (title, storage_path, created_by) VALUES ('handbook', 'b', $1) RETURNING id`, colleague).Scan(&colleagueDoc))
	for _, stmt := range []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO document_comments (document_id, user_id, body) VALUES ($1, $2, 'mine')`, []any{colleagueDoc, victim}},
		{`INSERT INTO document_comments (document_id, user_id, body) VALUES ($1, $2, 'theirs')`, []any{victimDoc, colleague}},
		{`INSERT INTO payslips (employee_id, period) VALUES ($1, '2026-01')`, []any{victim}},
		{`INSERT INTO support_tickets (user_id, subject) VALUES ($1, 'laptop')`, []any{victim}},
		{`INSERT INTO time_edit_logs (employee_id, authorized_by) VALUES ($1, $2)`, []any{colleague, victim}},
	} {
		_, err := pool.Exec(ctx, stmt.sql, stmt.args...)
		require.NoError(t, err)
	}

	svc := NewService(NewStore(pool), auth.NewStore(pool), WithConcurrency(4))
	report, err := svc.DeleteEmployee(ctx, victim, colleague)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)

	remaining, identityExists, err := svc.Remaining(ctx, victim)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.False(t, identityExists)

	var colleagueDocs int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(1) FROM documents WHERE id = $1`, colleagueDoc).Scan(&colleagueDocs))
	assert.Equal(t, 1, colleagueDocs)

	run, err := svc.Run(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, colleague, run.RequestedBy)
	assert.Len(t, run.Results, len(AllTargets()))

	second, err := svc.DeleteEmployee(ctx, victim, colleague)
	require.NoError(t, err)
	assert.Zero(t, second.TotalDeleted)
}
