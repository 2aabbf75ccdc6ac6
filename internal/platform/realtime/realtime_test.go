package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var insertOnly = Filter{Table: "notifications", Ops: []Op{OpInsert}}

func TestFilterMatch(t *testing.T) {
	assert.True(t, insertOnly.Match(Event{Table: "notifications", Op: OpInsert}))
	assert.False(t, insertOnly.Match(Event{Table: "notifications", Op: OpDelete}))
	assert.False(t, insertOnly.Match(Event{Table: "payslips", Op: OpInsert}))
	assert.True(t, Filter{}.Match(Event{Table: "payslips", Op: OpUpdate}))
}

func TestMemoryBrokerDeliversMatchingEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewMemoryBroker()
	events, err := broker.Subscribe(ctx, insertOnly)
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, Event{Table: "notifications", Op: OpUpdate, RecordID: "skip"}))
	require.NoError(t, broker.Publish(ctx, Event{Table: "notifications", Op: OpInsert, RecordID: "n1"}))

	evt := receive(t, events)
	assert.Equal(t, "n1", evt.RecordID)
	assert.False(t, evt.At.IsZero())
}

func TestMemoryBrokerClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	broker := NewMemoryBroker()
	events, err := broker.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	require.NoError(t, broker.Publish(context.Background(), Event{Table: "notifications", Op: OpInsert}))
}

func TestMemoryBrokerDropsWhenSubscriberIsBehind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewMemoryBroker()
	events, err := broker.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, broker.Publish(ctx, Event{Table: "notifications", Op: OpInsert}))
	}
	assert.Len(t, events, subscriberBuffer)
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewRedisBroker(client, "hrportal_test")
	events, err := broker.Subscribe(ctx, insertOnly)
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, Event{Table: "documents", Op: OpInsert, RecordID: "d1"}))
	require.NoError(t, broker.Publish(ctx, Event{Table: "notifications", Op: OpInsert, RecordID: "n9"}))

	evt := receive(t, events)
	assert.Equal(t, "n9", evt.RecordID)
	assert.Equal(t, OpInsert, evt.Op)
}

func pgPool(t *testing.T, maxConns int32) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	cfg, err := pgxpool.ParseConfig(dbURL)
	require.NoError(t, err)
	cfg.MaxConns = maxConns
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPGBrokerRoundTrip(t *testing.T) {
	pool := pgPool(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewPGBroker(pool, "hrportal_test")
	t.Cleanup(func() { _ = broker.Close() })
	events, err := broker.Subscribe(ctx, insertOnly)
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, Event{Table: "notifications", Op: OpInsert, RecordID: "n1"}))
	assert.Equal(t, "n1", receive(t, events).RecordID)
}

func TestPGBrokerSubscriptionsLeavePoolFree(t *testing.T) {
	const maxConns = 2
	pool := pgPool(t, maxConns)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewPGBroker(pool, "hrportal_test_fanout")
	t.Cleanup(func() { _ = broker.Close() })
	subs := make([]<-chan Event, 3*maxConns)
	for i := range subs {
		events, err := broker.Subscribe(ctx, insertOnly)
		require.NoError(t, err)
		subs[i] = events
	}

	queryCtx, queryCancel := context.WithTimeout(ctx, 2*time.Second)
	defer queryCancel()
	var one int
	require.NoError(t, pool.QueryRow(queryCtx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
	assert.Zero(t, pool.Stat().AcquiredConns())

	require.NoError(t, broker.Publish(ctx, Event{Table: "notifications", Op: OpInsert, RecordID: "n2"}))
	for _, events := range subs {
		assert.Equal(t, "n2", receive(t, events).RecordID)
	}
}

func receive(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-events:
		require.True(t, ok, "subscription closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}
