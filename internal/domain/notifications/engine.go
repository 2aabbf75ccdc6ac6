package notifications

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hrportal/internal/platform/metrics"
	"hrportal/internal/platform/realtime"
)

// Engine derives one recipient's feed and unread set. It belongs to a single
// session; the cache it holds is discarded whenever a change event arrives.
type Engine struct {
	store     StoreAPI
	recipient Recipient
	cache     *queryCache
	now       func() time.Time
	onChange  func(Snapshot)
	cue       func()
	metrics   *metrics.Collector

	// unread ids of the last computed snapshot; nil until one exists
	mu         sync.Mutex
	lastUnread map[string]struct{}
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// OnChange is called with a fresh snapshot after every processed batch.
func OnChange(fn func(Snapshot)) EngineOption {
	return func(e *Engine) { e.onChange = fn }
}

// Cue is called at most once per batch, and only when the batch made a
// notification unread that the previous snapshot did not show.
func Cue(fn func()) EngineOption {
	return func(e *Engine) { e.cue = fn }
}

func WithEngineMetrics(m *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store StoreAPI, recipient Recipient, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		recipient: recipient,
		cache:     newQueryCache(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Recipient() Recipient {
	return e.recipient
}

// Feed returns notifications visible to the recipient now, newest first.
func (e *Engine) Feed(ctx context.Context) ([]Notification, error) {
	all, err := cached(e.cache, feedKey(e.recipient.UserID), func() ([]Notification, error) {
		return e.store.Feed(ctx, e.recipient, e.now())
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	out := make([]Notification, 0, len(all))
	for _, n := range all {
		if n.VisibleAt(now) {
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (e *Engine) readSet(ctx context.Context) (map[string]struct{}, error) {
	receipts, err := cached(e.cache, receiptsKey(e.recipient.UserID), func() ([]Receipt, error) {
		return e.store.ReadReceipts(ctx, e.recipient.UserID)
	})
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(receipts))
	for _, r := range receipts {
		set[r.NotificationID] = struct{}{}
	}
	return set, nil
}

// Unread is the feed minus everything the recipient has a receipt for.
func (e *Engine) Unread(ctx context.Context) ([]Notification, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Unread, nil
}

func (e *Engine) UnreadCount(ctx context.Context) (int, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.UnreadCount, nil
}

func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	feed, err := e.Feed(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	read, err := e.readSet(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Items: make([]Item, 0, len(feed)), Unread: []Notification{}}
	for _, n := range feed {
		_, isRead := read[n.ID]
		snap.Items = append(snap.Items, Item{Notification: n, Read: isRead})
		if !isRead {
			snap.Unread = append(snap.Unread, n)
		}
	}
	snap.UnreadCount = len(snap.Unread)
	e.remember(snap)
	return snap, nil
}

// remember keeps snap's unread ids for the next change batch to compare with.
func (e *Engine) remember(snap Snapshot) {
	unread := make(map[string]struct{}, len(snap.Unread))
	for _, n := range snap.Unread {
		unread[n.ID] = struct{}{}
	}
	e.mu.Lock()
	e.lastUnread = unread
	e.mu.Unlock()
}

func (e *Engine) primed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUnread != nil
}

// MarkRead records a receipt for one visible notification. Marking an
// already read notification succeeds without writing.
func (e *Engine) MarkRead(ctx context.Context, notificationID string) error {
	if uuid.Validate(notificationID) != nil {
		return ErrNotFound
	}
	feed, err := e.Feed(ctx)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(feed, func(n Notification) bool { return n.ID == notificationID }) {
		return ErrNotFound
	}
	read, err := e.readSet(ctx)
	if err != nil {
		return err
	}
	if _, ok := read[notificationID]; ok {
		return nil
	}
	return e.insert(ctx, []string{notificationID})
}

// MarkAllRead writes receipts for the current unread set in one batch and
// returns how many were new.
func (e *Engine) MarkAllRead(ctx context.Context) (int64, error) {
	unread, err := e.Unread(ctx)
	if err != nil {
		return 0, err
	}
	if len(unread) == 0 {
		return 0, nil
	}
	ids := make([]string, len(unread))
	for i, n := range unread {
		ids[i] = n.ID
	}
	inserted, err := e.store.InsertReceipts(ctx, e.recipient.UserID, ids)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	e.cache.drop(receiptsKey(e.recipient.UserID))
	e.metrics.ReceiptsInserted(inserted)
	return inserted, nil
}

func (e *Engine) insert(ctx context.Context, ids []string) error {
	inserted, err := e.store.InsertReceipts(ctx, e.recipient.UserID, ids)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	e.cache.drop(receiptsKey(e.recipient.UserID))
	e.metrics.ReceiptsInserted(inserted)
	return nil
}

func (e *Engine) Invalidate() {
	e.cache.invalidate()
}

// Run consumes change events until ctx is done or events is closed. Events
// already queued when a batch is picked up are folded into it, so a bulk
// insert produces one recompute and one cue.
func (e *Engine) Run(ctx context.Context, events <-chan realtime.Event) error {
	if !e.primed() {
		if _, err := e.Snapshot(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("initial notification snapshot failed")
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			batch := []realtime.Event{evt}
			batch, closed := drain(events, batch)
			e.apply(ctx, batch)
			if closed {
				return nil
			}
		}
	}
}

func drain(events <-chan realtime.Event, batch []realtime.Event) ([]realtime.Event, bool) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return batch, true
			}
			batch = append(batch, evt)
		default:
			return batch, false
		}
	}
}

func (e *Engine) apply(ctx context.Context, batch []realtime.Event) {
	e.mu.Lock()
	previous := e.lastUnread
	e.mu.Unlock()

	e.Invalidate()
	snap, err := e.Snapshot(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int("events", len(batch)).Msg("notification snapshot refresh failed")
		return
	}
	if e.onChange != nil {
		e.onChange(snap)
	}
	if e.cue != nil && hasNew(snap.Unread, previous) {
		e.cue()
	}
}

func hasNew(unread []Notification, previous map[string]struct{}) bool {
	for _, n := range unread {
		if _, ok := previous[n.ID]; !ok {
			return true
		}
	}
	return false
}
