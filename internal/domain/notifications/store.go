package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// feedLimit caps a single feed read.
const feedLimit = 500

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const notificationColumns = `
  id, title, message, type, priority, target_type,
  COALESCE(target_department_id::text, ''), COALESCE(target_user_id::text, ''),
  COALESCE(created_by::text, ''), created_at, scheduled_for`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.Title, &n.Message, &n.Type, &n.Priority, &n.TargetType,
		&n.TargetDepartmentID, &n.TargetUserID, &n.CreatedBy, &n.CreatedAt, &n.ScheduledFor,
	)
	return n, err
}

func (s *Store) Feed(ctx context.Context, recipient Recipient, now time.Time) ([]Notification, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT`+notificationColumns+`
    FROM notifications
    WHERE (scheduled_for IS NULL OR scheduled_for <= $1)
      AND (
        target_type = 'all'
        OR (target_type = 'department' AND target_department_id::text = $2)
        OR (target_type = 'user' AND target_user_id::text = $3)
      )
    ORDER BY created_at DESC
    LIMIT $4
  `, now, recipient.DepartmentID, recipient.UserID, feedLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) ReadReceipts(ctx context.Context, userID string) ([]Receipt, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT notification_id::text, user_id::text, read_at
    FROM notification_read_receipts
    WHERE user_id = $1
  `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.NotificationID, &r.UserID, &r.ReadAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertReceipts(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.DB.Exec(ctx, `
    INSERT INTO notification_read_receipts (notification_id, user_id)
    SELECT id::uuid, $1 FROM unnest($2::text[]) AS id
    ON CONFLICT (notification_id, user_id) DO NOTHING
  `, userID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	row := s.DB.QueryRow(ctx, `
    INSERT INTO notifications
      (title, message, type, priority, target_type, target_department_id, target_user_id, created_by, scheduled_for)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    RETURNING`+notificationColumns,
		n.Title, n.Message, n.Type, n.Priority, n.TargetType,
		nullIfEmpty(n.TargetDepartmentID), nullIfEmpty(n.TargetUserID), nullIfEmpty(n.CreatedBy), n.ScheduledFor,
	)
	return scanNotification(row)
}

func (s *Store) Recipient(ctx context.Context, userID string) (Recipient, error) {
	r := Recipient{UserID: userID}
	err := s.DB.QueryRow(ctx, `
    SELECT COALESCE(department_id::text, '') FROM profiles WHERE id = $1
  `, userID).Scan(&r.DepartmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipient{}, ErrNoProfile
	}
	return r, err
}

func (s *Store) DueScheduled(ctx context.Context, after, until time.Time) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id::text FROM notifications
    WHERE scheduled_for > $1 AND scheduled_for <= $2
    ORDER BY scheduled_for
  `, after, until)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
