package notificationshandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"hrportal/internal/domain/audit"
	"hrportal/internal/domain/auth"
	"hrportal/internal/domain/notifications"
	"hrportal/internal/platform/realtime"
	"hrportal/internal/requestctx"
	"hrportal/internal/transport/http/api"
	"hrportal/internal/transport/http/middleware"
	"hrportal/internal/transport/http/shared"
)

const keepAliveInterval = 25 * time.Second

type Notifier interface {
	Create(ctx context.Context, createdBy string, req notifications.CreateRequest) (notifications.Notification, error)
	Engine(ctx context.Context, userID string, opts ...notifications.EngineOption) (*notifications.Engine, error)
	Subscribe(ctx context.Context) (<-chan realtime.Event, error)
}

type Handler struct {
	Service   Notifier
	Roles     middleware.RoleStore
	Audit     audit.Recorder
	KeepAlive time.Duration
}

func NewHandler(service Notifier, roles middleware.RoleStore, recorder audit.Recorder) *Handler {
	return &Handler{Service: service, Roles: roles, Audit: recorder, KeepAlive: keepAliveInterval}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Get("/", h.handleFeed)
		r.Get("/unread", h.handleUnread)
		r.Get("/stream", h.handleStream)
		r.Post("/read-all", h.handleMarkAllRead)
		r.Post("/{notificationID}/read", h.handleMarkRead)
		r.With(middleware.RequireAnyRole(h.Roles, auth.PrivilegedRoles...)).Post("/", h.handleCreate)
	})
}

// engine resolves the session engine for the caller, writing the error
// response itself when that fails.
func (h *Handler) engine(w http.ResponseWriter, r *http.Request, opts ...notifications.EngineOption) (*notifications.Engine, bool) {
	user, _ := middleware.GetUser(r.Context())
	engine, err := h.Service.Engine(r.Context(), user.UserID, opts...)
	if errors.Is(err, notifications.ErrNoProfile) {
		api.Fail(w, http.StatusNotFound, "profile_not_found", "no employee profile for this account", middleware.GetRequestID(r.Context()))
		return nil, false
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("notification engine setup failed")
		api.Fail(w, http.StatusInternalServerError, "notification_failed", "failed to load notifications", middleware.GetRequestID(r.Context()))
		return nil, false
	}
	return engine, true
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	snap, err := engine.Snapshot(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("notification feed failed")
		api.Fail(w, http.StatusInternalServerError, "notification_list_failed", "failed to list notifications", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("X-Unread-Count", strconv.Itoa(snap.UnreadCount))
	api.Success(w, map[string]any{
		"items":       snap.Items,
		"unreadCount": snap.UnreadCount,
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUnread(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	snap, err := engine.Snapshot(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unread notifications failed")
		api.Fail(w, http.StatusInternalServerError, "notification_list_failed", "failed to list notifications", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{
		"items": snap.Unread,
		"count": snap.UnreadCount,
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	err := engine.MarkRead(r.Context(), chi.URLParam(r, "notificationID"))
	if errors.Is(err, notifications.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "notification not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("mark read failed")
		api.Fail(w, http.StatusInternalServerError, "notification_update_failed", "failed to update notification", middleware.GetRequestID(r.Context()))
		return
	}
	body := map[string]any{"status": "read"}
	h.withUnreadCount(r, engine, body)
	api.Success(w, body, middleware.GetRequestID(r.Context()))
}

// withUnreadCount adds the recipient's unread count, recomputed from the
// store, to body. The write already succeeded, so a failed recount leaves the
// field out rather than failing the request.
func (h *Handler) withUnreadCount(r *http.Request, engine *notifications.Engine, body map[string]any) {
	engine.Invalidate()
	count, err := engine.UnreadCount(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("unread count after update failed")
		return
	}
	body["unreadCount"] = count
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	marked, err := engine.MarkAllRead(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("mark all read failed")
		api.Fail(w, http.StatusInternalServerError, "notification_update_failed", "failed to update notifications", middleware.GetRequestID(r.Context()))
		return
	}
	body := map[string]any{"marked": marked}
	h.withUnreadCount(r, engine, body)
	api.Success(w, body, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload notifications.CreateRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	user, _ := middleware.GetUser(r.Context())

	created, err := h.Service.Create(r.Context(), user.UserID, payload)
	if errors.Is(err, notifications.ErrInvalidRequest) {
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("notification create failed")
		api.Fail(w, http.StatusInternalServerError, "notification_create_failed", "failed to create notification", middleware.GetRequestID(r.Context()))
		return
	}

	if h.Audit != nil {
		if err := h.Audit.Record(r.Context(), audit.Entry{
			ActorID:    user.UserID,
			Action:     audit.ActionNotificationCreate,
			EntityType: "notification",
			EntityID:   created.ID,
			RequestID:  middleware.GetRequestID(r.Context()),
			IP:         requestctx.ClientIP(r),
			After:      created,
		}); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("audit record failed")
		}
	}
	api.Created(w, created, middleware.GetRequestID(r.Context()))
}

// handleStream keeps a session open as Server-Sent Events: a snapshot event
// whenever the feed changes and a cue event once per batch of new
// notifications.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())
	rc := http.NewResponseController(w)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.Service.Subscribe(ctx)
	if err != nil {
		log.Error().Err(err).Msg("notification subscribe failed")
		api.Fail(w, http.StatusServiceUnavailable, "stream_unavailable", "live updates unavailable", middleware.GetRequestID(r.Context()))
		return
	}

	stream := &sseWriter{w: w, rc: rc}
	engine, ok := h.engine(w, r,
		notifications.OnChange(func(s notifications.Snapshot) { stream.send("snapshot", s) }),
		notifications.Cue(func() { stream.send("cue", map[string]string{"sound": "notification"}) }),
	)
	if !ok {
		return
	}
	initial, err := engine.Snapshot(ctx)
	if err != nil {
		log.Error().Err(err).Msg("initial notification snapshot failed")
		api.Fail(w, http.StatusInternalServerError, "notification_list_failed", "failed to list notifications", middleware.GetRequestID(r.Context()))
		return
	}

	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Debug().Err(err).Msg("clear write deadline failed")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	stream.send("snapshot", initial)

	var wg sync.WaitGroup
	if h.KeepAlive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.keepAlive(ctx, h.KeepAlive)
		}()
	}
	err = engine.Run(ctx, events)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("notification stream ended")
	}
}

type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *sseWriter) send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	_ = s.rc.Flush()
}

func (s *sseWriter) keepAlive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			fmt.Fprint(s.w, ": keep-alive\n\n")
			_ = s.rc.Flush()
			s.mu.Unlock()
		}
	}
}
