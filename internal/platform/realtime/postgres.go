package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const listenRetryDelay = 2 * time.Second

// PGBroker uses LISTEN/NOTIFY on a single channel. Publishing borrows a pooled
// connection per call; all subscriptions share one listener connection that
// lives outside the pool and is opened by the first Subscribe.
type PGBroker struct {
	pool    *pgxpool.Pool
	channel string
	local   *MemoryBroker

	mu     sync.Mutex
	stop   context.CancelFunc
	closed chan struct{}
}

func NewPGBroker(pool *pgxpool.Pool, channel string) *PGBroker {
	return &PGBroker{pool: pool, channel: channel, local: NewMemoryBroker()}
}

func (b *PGBroker) Publish(ctx context.Context, evt Event) error {
	payload, err := encode(evt)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(payload))
	return err
}

func (b *PGBroker) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	if err := b.listen(ctx); err != nil {
		return nil, err
	}
	return b.local.Subscribe(ctx, filter)
}

// Close stops the listener. Open subscriptions stay registered but receive
// nothing further.
func (b *PGBroker) Close() error {
	b.mu.Lock()
	stop, closed := b.stop, b.closed
	b.stop, b.closed = nil, nil
	b.mu.Unlock()
	if stop != nil {
		stop()
		<-closed
	}
	return nil
}

func (b *PGBroker) listen(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		return nil
	}
	conn, err := b.connect(ctx)
	if err != nil {
		return err
	}
	listenCtx, stop := context.WithCancel(zerolog.Ctx(ctx).WithContext(context.Background()))
	b.stop = stop
	b.closed = make(chan struct{})
	go b.run(listenCtx, conn, b.closed)
	return nil
}

func (b *PGBroker) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, b.pool.Config().ConnConfig.Copy())
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, err
	}
	return conn, nil
}

// run forwards notifications to local subscribers and reopens the listener
// connection when it drops.
func (b *PGBroker) run(ctx context.Context, conn *pgx.Conn, closed chan struct{}) {
	defer close(closed)
	log := zerolog.Ctx(ctx).With().Str("channel", b.channel).Logger()
	for {
		err := b.forward(ctx, conn)
		conn.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("realtime listener lost")

		for conn = nil; conn == nil; {
			select {
			case <-ctx.Done():
				return
			case <-time.After(listenRetryDelay):
			}
			if conn, err = b.connect(ctx); err != nil {
				log.Warn().Err(err).Msg("realtime listener reconnect failed")
			}
		}
	}
}

func (b *PGBroker) forward(ctx context.Context, conn *pgx.Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if evt, ok := decode(ctx, []byte(n.Payload)); ok {
			_ = b.local.Publish(ctx, evt)
		}
	}
}
