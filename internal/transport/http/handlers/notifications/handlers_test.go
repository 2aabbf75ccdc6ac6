package notificationshandler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrportal/internal/domain/audit"
	"hrportal/internal/domain/auth"
	"hrportal/internal/domain/notifications"
	"hrportal/internal/platform/realtime"
	"hrportal/internal/transport/http/middleware"
)

type memStore struct {
	mu       sync.Mutex
	items    []notifications.Notification
	receipts map[string]map[string]bool
	profiles map[string]notifications.Recipient

	afterInsert func()
	receiptsErr error
}

func newMemStore() *memStore {
	return &memStore{receipts: map[string]map[string]bool{}, profiles: map[string]notifications.Recipient{}}
}

func (m *memStore) Feed(_ context.Context, r notifications.Recipient, now time.Time) ([]notifications.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notifications.Notification
	for _, n := range m.items {
		if n.VisibleAt(now) && (n.TargetType == notifications.TargetAll || n.TargetUserID == r.UserID) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) ReadReceipts(_ context.Context, userID string) ([]notifications.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receiptsErr != nil {
		return nil, m.receiptsErr
	}
	var out []notifications.Receipt
	for id := range m.receipts[userID] {
		out = append(out, notifications.Receipt{NotificationID: id, UserID: userID})
	}
	return out, nil
}

func (m *memStore) InsertReceipts(_ context.Context, userID string, ids []string) (int64, error) {
	if m.afterInsert != nil {
		defer m.afterInsert()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receipts[userID] == nil {
		m.receipts[userID] = map[string]bool{}
	}
	var n int64
	for _, id := range ids {
		if !m.receipts[userID][id] {
			m.receipts[userID][id] = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateNotification(_ context.Context, n notifications.Notification) (notifications.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now()
	m.items = append(m.items, n)
	return n, nil
}

func (m *memStore) DueScheduled(context.Context, time.Time, time.Time) ([]string, error) {
	return nil, nil
}

func (m *memStore) Recipient(_ context.Context, userID string) (notifications.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.profiles[userID]
	if !ok {
		return notifications.Recipient{}, notifications.ErrNoProfile
	}
	return r, nil
}

type roleTable map[string][]string

func (r roleTable) HasAnyRole(_ context.Context, userID string, wanted ...string) (bool, error) {
	return auth.HasAnyRole(r[userID], wanted...), nil
}

type auditSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditSink) Record(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

const (
	hrUser  = "8d6c2f1a-1b7e-4c55-9a44-5f0e2a1b3c4d"
	empUser = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"
)

type fixture struct {
	store   *memStore
	service *notifications.Service
	router  http.Handler
	audit   *auditSink
}

func newFixture() *fixture {
	store := newMemStore()
	store.profiles[hrUser] = notifications.Recipient{UserID: hrUser}
	store.profiles[empUser] = notifications.Recipient{UserID: empUser}
	svc := notifications.NewService(store, realtime.NewMemoryBroker())
	sink := &auditSink{}

	h := NewHandler(svc, roleTable{hrUser: {auth.RoleHR}, empUser: {auth.RoleEmployee}}, sink)
	h.KeepAlive = 0
	r := chi.NewRouter()
	r.Use(asUserFromHeader)
	h.RegisterRoutes(r)
	return &fixture{store: store, service: svc, router: r, audit: sink}
}

// asUserFromHeader stands in for token auth in these tests.
func asUserFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-User"); id != "" {
			r = r.WithContext(middleware.WithUser(r.Context(), auth.UserContext{UserID: id}))
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fixture) do(t *testing.T, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestCreateRequiresPrivilegedRole(t *testing.T) {
	f := newFixture()
	body := `{"title":"Office closed","message":"Friday"}`

	code, _ := f.do(t, http.MethodPost, "/notifications/", "", body)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodPost, "/notifications/", empUser, body)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Empty(t, f.store.items)

	code, out := f.do(t, http.MethodPost, "/notifications/", hrUser, body)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, out["success"])
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, audit.ActionNotificationCreate, f.audit.entries[0].Action)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture()
	code, out := f.do(t, http.MethodPost, "/notifications/", hrUser, `{"title":"","message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", out["error"].(map[string]any)["code"])
}

func TestFeedUnreadAndMarkRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		n, err := f.service.Create(ctx, hrUser, notifications.CreateRequest{Title: title, Message: "m"})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	code, out := f.do(t, http.MethodGet, "/notifications/", empUser, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), out["data"].(map[string]any)["unreadCount"])

	code, out = f.do(t, http.MethodPost, "/notifications/"+ids[0]+"/read", empUser, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), out["data"].(map[string]any)["unreadCount"])

	code, _ = f.do(t, http.MethodPost, "/notifications/"+ids[0]+"/read", empUser, "")
	assert.Equal(t, http.StatusOK, code, "duplicate read is a no-op success")

	code, out = f.do(t, http.MethodGet, "/notifications/unread", empUser, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), out["data"].(map[string]any)["count"])

	code, out = f.do(t, http.MethodPost, "/notifications/read-all", empUser, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), out["data"].(map[string]any)["marked"])

	code, _ = f.do(t, http.MethodPost, "/notifications/"+uuid.NewString()+"/read", empUser, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReadAllReportsNotificationsArrivingMeanwhile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, title := range []string{"a", "b"} {
		_, err := f.service.Create(ctx, hrUser, notifications.CreateRequest{Title: title, Message: "m"})
		require.NoError(t, err)
	}
	f.store.afterInsert = func() {
		f.store.afterInsert = nil
		_, err := f.service.Create(ctx, hrUser, notifications.CreateRequest{Title: "late", Message: "m"})
		require.NoError(t, err)
	}

	code, out := f.do(t, http.MethodPost, "/notifications/read-all", empUser, "")
	require.Equal(t, http.StatusOK, code)
	data := out["data"].(map[string]any)
	assert.Equal(t, float64(2), data["marked"])
	assert.Equal(t, float64(1), data["unreadCount"])
}

func TestMarkReadOmitsUnreadCountWhenRecountFails(t *testing.T) {
	f := newFixture()
	n, err := f.service.Create(context.Background(), hrUser, notifications.CreateRequest{Title: "a", Message: "m"})
	require.NoError(t, err)
	f.store.afterInsert = func() {
		f.store.mu.Lock()
		f.store.receiptsErr = errors.New("connection reset")
		f.store.mu.Unlock()
	}

	code, out := f.do(t, http.MethodPost, "/notifications/"+n.ID+"/read", empUser, "")
	require.Equal(t, http.StatusOK, code)
	data := out["data"].(map[string]any)
	assert.Equal(t, "read", data["status"])
	assert.NotContains(t, data, "unreadCount")
	assert.True(t, f.store.receipts[empUser][n.ID])
}

func TestUnknownProfile(t *testing.T) {
	f := newFixture()
	code, _ := f.do(t, http.MethodGet, "/notifications/", uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStreamPushesSnapshotAndCue(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-Test-User", empUser)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
		return ""
	}

	require.Equal(t, "snapshot", next())

	_, err = f.service.Create(context.Background(), hrUser, notifications.CreateRequest{Title: "Hi", Message: "there"})
	require.NoError(t, err)

	assert.Equal(t, "snapshot", next())
	assert.Equal(t, "cue", next())
}
