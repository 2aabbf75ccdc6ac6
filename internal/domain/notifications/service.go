package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"hrportal/internal/platform/metrics"
	"hrportal/internal/platform/realtime"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Service struct {
	store   StoreAPI
	broker  realtime.Broker
	metrics *metrics.Collector
	now     func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

func WithServiceClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store StoreAPI, broker realtime.Broker, opts ...Option) *Service {
	s := &Service{store: store, broker: broker, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a notification and announces the insert to live sessions. A
// notification scheduled for later is announced by ReleaseDue instead. A
// failed announcement is logged; the row is already committed and sessions
// pick it up on their next refresh.
func (s *Service) Create(ctx context.Context, createdBy string, req CreateRequest) (Notification, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)
	if err := validate.StructCtx(ctx, req); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	n := Notification{
		Title:              req.Title,
		Message:            req.Message,
		Type:               defaultString(req.Type, TypeGeneral),
		Priority:           defaultString(req.Priority, PriorityNormal),
		TargetType:         defaultString(req.TargetType, TargetAll),
		TargetDepartmentID: req.TargetDepartmentID,
		TargetUserID:       req.TargetUserID,
		CreatedBy:          createdBy,
		ScheduledFor:       req.ScheduledFor,
	}
	switch n.TargetType {
	case TargetAll:
		n.TargetDepartmentID, n.TargetUserID = "", ""
	case TargetDepartment:
		n.TargetUserID = ""
	case TargetUser:
		n.TargetDepartmentID = ""
	}

	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return Notification{}, err
	}

	if created.ScheduledFor != nil && created.ScheduledFor.After(s.now()) {
		return created, nil
	}
	if err := s.announce(ctx, created.ID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("notification_id", created.ID).Msg("notification publish failed")
	}
	return created, nil
}

// ReleaseDue announces notifications whose scheduled time fell in
// (after, until]. Live sessions only recompute on events, so without this a
// scheduled notification would stay hidden until the next unrelated change.
func (s *Service) ReleaseDue(ctx context.Context, after, until time.Time) (int, error) {
	ids, err := s.store.DueScheduled(ctx, after, until)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, id := range ids {
		if err := s.announce(ctx, id); err != nil {
			return released, fmt.Errorf("announce %s: %w", id, err)
		}
		released++
	}
	return released, nil
}

func (s *Service) announce(ctx context.Context, id string) error {
	if s.broker == nil {
		return nil
	}
	evt := realtime.Event{Table: Table, Op: realtime.OpInsert, RecordID: id, At: s.now().UTC()}
	if err := s.broker.Publish(ctx, evt); err != nil {
		return err
	}
	s.metrics.RealtimeEvent(Table, string(realtime.OpInsert))
	return nil
}

// Engine builds a session engine scoped to userID.
func (s *Service) Engine(ctx context.Context, userID string, opts ...EngineOption) (*Engine, error) {
	recipient, err := s.store.Recipient(ctx, userID)
	if err != nil {
		return nil, err
	}
	opts = append([]EngineOption{WithClock(s.now), WithEngineMetrics(s.metrics)}, opts...)
	return NewEngine(s.store, recipient, opts...), nil
}

// Subscribe streams notification inserts until ctx is done.
func (s *Service) Subscribe(ctx context.Context) (<-chan realtime.Event, error) {
	return s.broker.Subscribe(ctx, realtime.Filter{Table: Table, Ops: []realtime.Op{realtime.OpInsert}})
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
