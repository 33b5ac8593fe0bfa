package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const debounceWindow = 200 * time.Millisecond

// ListenAndTrigger calls trigger for every NOTIFY on channel, collapsing
// bursts. Lost connections are re-established after a jittered back-off
// until ctx is done.
func ListenAndTrigger(ctx context.Context, pool *pgxpool.Pool, channel string, baseBackoff time.Duration, trigger func()) {
	d := &debouncer{window: debounceWindow, now: time.Now}
	for ctx.Err() == nil {
		err := listen(ctx, pool, channel, d, trigger)
		if ctx.Err() != nil {
			break
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("listener disconnected")
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
	log.Info().Msg("listener stopped")
}

func listen(ctx context.Context, pool *pgxpool.Pool, channel string, d *debouncer, trigger func()) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for run requests")

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if !d.allow() {
			continue
		}
		log.Info().Str("channel", ntf.Channel).Str("payload", ntf.Payload).Msg("run requested")
		trigger()
	}
}

// debouncer lets one event through per window.
type debouncer struct {
	window time.Duration
	now    func() time.Time
	last   time.Time
}

func (d *debouncer) allow() bool {
	now := d.now()
	if !d.last.IsZero() && now.Sub(d.last) < d.window {
		return false
	}
	d.last = now
	return true
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
