// Package realtime carries row change events between the processes that write
// records and the sessions that derive state from them. Events are
// invalidation signals: subscribers recompute from the store and never patch
// state from the payload.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Event struct {
	Table    string    `json:"table"`
	Op       Op        `json:"op"`
	RecordID string    `json:"id,omitempty"`
	At       time.Time `json:"at"`
}

// Filter selects events by table and operation. Empty fields match anything.
type Filter struct {
	Table string
	Ops   []Op
}

func (f Filter) Match(evt Event) bool {
	if f.Table != "" && f.Table != evt.Table {
		return false
	}
	if len(f.Ops) == 0 {
		return true
	}
	for _, op := range f.Ops {
		if op == evt.Op {
			return true
		}
	}
	return false
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

type Subscriber interface {
	// Subscribe delivers matching events until ctx is done, then closes the
	// returned channel.
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type Broker interface {
	Publisher
	Subscriber
}

const subscriberBuffer = 64

func encode(evt Event) ([]byte, error) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	return json.Marshal(evt)
}

func decode(ctx context.Context, payload []byte) (Event, bool) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("realtime payload decode failed")
		return Event{}, false
	}
	return evt, true
}

// deliver never blocks the producer. A full buffer already holds a pending
// invalidation for the subscriber, so dropping the newer event loses nothing.
func deliver(out chan<- Event, evt Event) bool {
	select {
	case out <- evt:
		return true
	default:
		return false
	}
}
