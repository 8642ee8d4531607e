package listener

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"campaign-preview-engine/internal/observability"
	"campaign-preview-engine/internal/storage"
)

const debounce = 200 * time.Millisecond

// Notifier blocks until the next notification on a LISTENing connection.
type Notifier interface {
	WaitForNotification(ctx context.Context) (channel string, err error)
	Close()
}

// Dialer opens a LISTENing connection.
type Dialer func(ctx context.Context) (Notifier, error)

// ListenAndRefresh LISTENs on channel and reloads the template cache on
// every change notification until ctx is cancelled. Lost connections are
// re-established.
func ListenAndRefresh(ctx context.Context, st *storage.Store, templates *storage.TemplateCache, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	dial := func(ctx context.Context) (Notifier, error) {
		return listen(ctx, st.PgxPool(), channel)
	}
	Refresh(ctx, dial, func(ctx context.Context) error {
		size, err := templates.Reload(ctx, st)
		if err == nil {
			observability.TemplateCacheSize.Set(float64(size))
		}
		return err
	}, baseBackoff)
}

func listen(ctx context.Context, pool *pgxpool.Pool, channel string) (Notifier, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn for listen: %w", err)
	}
	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		connNotifier{conn}.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	log.Info().Str("channel", channel).Msg("listening for template changes")
	return connNotifier{conn}, nil
}

type connNotifier struct{ conn *pgxpool.Conn }

func (c connNotifier) WaitForNotification(ctx context.Context) (string, error) {
	ntf, err := c.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return ntf.Channel, nil
}

// Close takes the connection out of the pool so a LISTENing or broken
// session is never handed to a query.
func (c connNotifier) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.conn.Hijack().Close(ctx)
}

// Refresh runs the notification loop. Notifications are debounced on the
// trailing edge: the first one of a burst arms a timer and reload runs when
// it fires, so every notification is followed by a reload. On dial or wait
// errors it backs off with jitter, reconnects, and reloads once to pick up
// changes missed while disconnected.
func Refresh(ctx context.Context, dial Dialer, reload func(context.Context) error, baseBackoff time.Duration) {
	missed := false
	for ctx.Err() == nil {
		n, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			missed = true
			backoff := jitter(baseBackoff)
			log.Error().Err(err).Dur("retry_in", backoff).Msg("listen connect error")
			sleep(ctx, backoff)
			continue
		}
		if missed {
			missed = false
			log.Info().Msg("listener reconnected; reloading cache")
			runReload(ctx, reload)
		}

		err = watch(ctx, n, reload)
		n.Close()
		if ctx.Err() != nil {
			break
		}
		missed = true
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("notify wait error")
		sleep(ctx, backoff)
	}
	log.Info().Msg("listener stopped")
}

// watch consumes notifications from n until a wait fails or ctx ends. The
// waiting goroutine has returned by the time watch does.
func watch(ctx context.Context, n Notifier, reload func(context.Context) error) error {
	wctx, cancel := context.WithCancel(ctx)
	events := make(chan string)
	errc := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			ch, err := n.WaitForNotification(wctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case events <- ch:
			case <-wctx.Done():
				errc <- wctx.Err()
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-exited
	}()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		channel string
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stop()
			return ctx.Err()
		case err := <-errc:
			stop()
			return err
		case channel = <-events:
			if fire == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			}
		case <-fire:
			fire = nil
			log.Info().Str("channel", channel).Msg("template change; reloading cache")
			runReload(ctx, reload)
		}
	}
}

func runReload(ctx context.Context, reload func(context.Context) error) {
	if err := reload(ctx); err != nil {
		log.Error().Err(err).Msg("reload template cache")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
