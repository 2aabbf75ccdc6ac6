package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"hrportal/internal/domain/auth"
	"hrportal/internal/platform/config"
)

// Seed makes sure the bootstrap administrator exists with an identity, a
// profile and the admin role. Running it again changes nothing.
func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	email := strings.ToLower(strings.TrimSpace(cfg.SeedAdminEmail))
	if email == "" || strings.TrimSpace(cfg.SeedAdminPassword) == "" {
		zerolog.Ctx(ctx).Info().Msg("seed admin not configured; skipping")
		return nil
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		id, err := ensureAdminIdentity(ctx, tx, email, cfg.SeedAdminPassword)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
      INSERT INTO profiles (id, email, first_name, last_name)
      VALUES ($1, $2, 'System', 'Administrator')
      ON CONFLICT (id) DO NOTHING
    `, id, email); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
      INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
      ON CONFLICT DO NOTHING
    `, id, auth.RoleAdmin)
		return err
	})
}

func ensureAdminIdentity(ctx context.Context, tx pgx.Tx, email, password string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, "SELECT id FROM auth_users WHERE email = $1", email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}
	err = tx.QueryRow(ctx, `
    INSERT INTO auth_users (email, password_hash) VALUES ($1, $2) RETURNING id
  `, email, hash).Scan(&id)
	if err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Info().Str("email", email).Msg("seeded admin account")
	return id, nil
}
