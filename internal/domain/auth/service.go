package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/rs/zerolog"
)

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	Roles     []string  `json:"roles"`
}

type Service struct {
	store  StoreAPI
	secret string
	ttl    time.Duration
}

func NewService(store StoreAPI, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{store: store, secret: secret, ttl: ttl}
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.store.FindActiveUserByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := CheckPassword(user.Password, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	roles, err := s.store.Roles(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	sessionID, err := newSessionID()
	if err != nil {
		return LoginResult{}, err
	}
	expires := time.Now().Add(s.ttl)
	if err := s.store.CreateSession(ctx, user.ID, HashToken(sessionID), expires); err != nil {
		return LoginResult{}, err
	}

	token, err := GenerateToken(s.secret, Claims{UserID: user.ID, SessionID: sessionID, Roles: roles}, s.ttl)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.store.UpdateLastLogin(ctx, user.ID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", user.ID).Msg("update last_login failed")
	}
	return LoginResult{Token: token, ExpiresAt: expires, UserID: user.ID, Roles: roles}, nil
}

func (s *Service) Logout(ctx context.Context, user UserContext) error {
	if user.SessionID == "" {
		return nil
	}
	return s.store.RevokeSession(ctx, user.UserID, HashToken(user.SessionID))
}

// CheckSession confirms the session behind a token still exists. Removing an
// identity cascades its sessions, so tokens for deleted accounts stop here.
func (s *Service) CheckSession(ctx context.Context, userID, sessionID string) error {
	if sessionID == "" {
		return ErrSessionRevoked
	}
	ok, err := s.store.SessionValid(ctx, userID, HashToken(sessionID))
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionRevoked
	}
	return nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
