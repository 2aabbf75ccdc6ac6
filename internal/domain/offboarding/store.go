package offboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func whereClause(target Target) string {
	return fmt.Sprintf("FROM %s WHERE %s = $1", pgx.Identifier{target.Table}.Sanitize(), pgx.Identifier{target.Column}.Sanitize())
}

func (s *Store) DeleteRows(ctx context.Context, target Target, userID string) (int64, error) {
	tag, err := s.DB.Exec(ctx, "DELETE "+whereClause(target), userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountRows(ctx context.Context, target Target, userID string) (int64, error) {
	var count int64
	err := s.DB.QueryRow(ctx, "SELECT COUNT(1) "+whereClause(target), userID).Scan(&count)
	return count, err
}

func (s *Store) CreateRun(ctx context.Context, userID, requestedBy string) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO deletion_runs (user_id, requested_by, status)
    VALUES ($1, $2, $3)
    RETURNING id
  `, userID, nullIfEmpty(requestedBy), StatusRunning).Scan(&id)
	return id, err
}

func (s *Store) CompleteRun(ctx context.Context, runID string, outcome RunOutcome) error {
	resultsJSON, err := json.Marshal(outcome.Results)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
    UPDATE deletion_runs
    SET status = $1, failed_step = $2, error = $3, results_json = $4, completed_at = now()
    WHERE id = $5
  `, outcome.Status, nullIfEmpty(outcome.FailedStep), nullIfEmpty(outcome.Error), resultsJSON, runID)
	return err
}

func (s *Store) AbandonRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.DB.Exec(ctx, `
    UPDATE deletion_runs
    SET status = $1, error = 'run did not finish', completed_at = now()
    WHERE status = $2 AND started_at < $3
  `, StatusAbandoned, StatusRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const runColumns = `id, user_id, COALESCE(requested_by::text, ''), status, COALESCE(failed_step, ''),
    COALESCE(error, ''), results_json, started_at, completed_at`

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+runColumns+`
    FROM deletion_runs
    ORDER BY started_at DESC
    LIMIT $1 OFFSET $2
  `, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.DB.QueryRow(ctx, "SELECT "+runColumns+" FROM deletion_runs WHERE id = $1", runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	var resultsJSON []byte
	var completedAt *time.Time
	if err := row.Scan(&run.ID, &run.UserID, &run.RequestedBy, &run.Status, &run.FailedStep, &run.Error, &resultsJSON, &run.StartedAt, &completedAt); err != nil {
		return Run{}, err
	}
	run.CompletedAt = completedAt
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
