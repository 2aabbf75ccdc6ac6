package notifications

import (
	"context"
	"time"
)

type StoreAPI interface {
	Feed(ctx context.Context, recipient Recipient, now time.Time) ([]Notification, error)
	ReadReceipts(ctx context.Context, userID string) ([]Receipt, error)
	// InsertReceipts is an idempotent upsert; it returns how many receipts
	// were new.
	InsertReceipts(ctx context.Context, userID string, ids []string) (int64, error)
	CreateNotification(ctx context.Context, n Notification) (Notification, error)
	Recipient(ctx context.Context, userID string) (Recipient, error)
	// DueScheduled lists notifications whose scheduled_for falls in (after, until].
	DueScheduled(ctx context.Context, after, until time.Time) ([]string, error)
}
