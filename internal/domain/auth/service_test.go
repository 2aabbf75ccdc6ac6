package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	users    map[string]AuthUser
	roles    map[string][]string
	sessions map[string]bool
	revoked  map[string]bool
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	return &fakeStore{
		users:    map[string]AuthUser{"hr@example.com": {ID: "u-hr", Email: "hr@example.com", Password: hash}},
		roles:    map[string][]string{"u-hr": {RoleHR}},
		sessions: map[string]bool{},
		revoked:  map[string]bool{},
	}
}

func (f *fakeStore) FindActiveUserByEmail(_ context.Context, email string) (AuthUser, error) {
	user, ok := f.users[email]
	if !ok {
		return AuthUser{}, errors.New("no rows")
	}
	return user, nil
}

func (f *fakeStore) Roles(_ context.Context, userID string) ([]string, error) {
	return f.roles[userID], nil
}

func (f *fakeStore) CreateSession(_ context.Context, userID, sessionHash string, _ time.Time) error {
	f.sessions[userID+":"+sessionHash] = true
	return nil
}

func (f *fakeStore) RevokeSession(_ context.Context, userID, sessionHash string) error {
	f.revoked[userID+":"+sessionHash] = true
	return nil
}

func (f *fakeStore) SessionValid(_ context.Context, userID, sessionHash string) (bool, error) {
	key := userID + ":" + sessionHash
	return f.sessions[key] && !f.revoked[key], nil
}

func (f *fakeStore) UpdateLastLogin(context.Context, string) error { return nil }

func TestLoginIssuesTokenWithRoles(t *testing.T) {
	store := newFakeStore(t)
	svc := NewService(store, "test-secret", time.Hour)

	result, err := svc.Login(context.Background(), "hr@example.com", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, "u-hr", result.UserID)

	claims, err := ParseToken("test-secret", result.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleHR}, claims.Roles)
	require.NoError(t, svc.CheckSession(context.Background(), claims.UserID, claims.SessionID))

	require.NoError(t, svc.Logout(context.Background(), UserContext{UserID: claims.UserID, SessionID: claims.SessionID}))
	assert.ErrorIs(t, svc.CheckSession(context.Background(), claims.UserID, claims.SessionID), ErrSessionRevoked)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := NewService(newFakeStore(t), "test-secret", time.Hour)

	_, err := svc.Login(context.Background(), "hr@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody@example.com", "s3cret!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("one", Claims{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("two", token)
	assert.Error(t, err)
}

func TestHasAnyRole(t *testing.T) {
	assert.True(t, HasAnyRole([]string{RoleEmployee, RoleHR}, PrivilegedRoles...))
	assert.False(t, HasAnyRole([]string{RoleEmployee, RoleManager}, PrivilegedRoles...))
	assert.False(t, HasAnyRole(nil, PrivilegedRoles...))
	assert.True(t, ValidRole(RoleAdmin))
	assert.False(t, ValidRole("owner"))
}
