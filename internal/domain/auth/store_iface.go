package auth

import (
	"context"
	"time"
)

type StoreAPI interface {
	FindActiveUserByEmail(ctx context.Context, email string) (AuthUser, error)
	Roles(ctx context.Context, userID string) ([]string, error)
	CreateSession(ctx context.Context, userID, sessionHash string, expires time.Time) error
	RevokeSession(ctx context.Context, userID, sessionHash string) error
	SessionValid(ctx context.Context, userID, sessionHash string) (bool, error)
	UpdateLastLogin(ctx context.Context, userID string) error
}
