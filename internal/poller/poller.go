package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vantagesearch/client/internal/logging"
	"github.com/vantagesearch/client/internal/models"
)

var (
	// ErrNoSession indicates polling was requested without an active session.
	ErrNoSession = errors.New("no active session")
	// ErrRunning indicates Start was called on a poller that is already running.
	ErrRunning = errors.New("poller already running")
)

// SessionWatcher exposes the active session and a channel closed when it ends.
type SessionWatcher interface {
	Watch() (models.Session, <-chan struct{}, bool)
}

// Config describes one poller.
type Config[T any] struct {
	Name     string
	Interval time.Duration
	// Fetch retrieves the latest value. It is never called concurrently with itself.
	Fetch func(ctx context.Context) (T, error)
	// Apply receives every fetch outcome while the poller is running. It must
	// not call Stop.
	Apply func(value T, err error)
}

// Poller runs Fetch on an interval for the lifetime of one session. Fetches are
// strictly sequential; a tick that comes due during a fetch is skipped.
type Poller[T any] struct {
	cfg     Config[T]
	session SessionWatcher
	logger  *slog.Logger

	refresh chan struct{}

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New constructs a Poller bound to the session owner.
func New[T any](cfg Config[T], session SessionWatcher, logger *slog.Logger) *Poller[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller[T]{
		cfg:     cfg,
		session: session,
		logger:  logger.With(slog.String("poller", cfg.Name)),
		refresh: make(chan struct{}, 1),
	}
}

// Start performs an immediate fetch and keeps polling until ctx is cancelled,
// the session ends or Stop is called.
func (p *Poller[T]) Start(ctx context.Context) error {
	_, sessionDone, ok := p.session.Watch()
	if !ok {
		return ErrNoSession
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrRunning
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()

	select {
	case <-p.refresh:
	default:
	}

	go p.loop(ctx, sessionDone, stop, done)
	return nil
}

// Refresh requests an out-of-band fetch and restarts the interval. A refresh
// requested during a fetch runs once that fetch completes; several such
// requests collapse into one.
func (p *Poller[T]) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Stop halts the loop. Any fetch still in flight has its result discarded.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	<-done
}

// Running reports whether the loop is active.
func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller[T]) loop(ctx context.Context, sessionDone <-chan struct{}, stop, done chan struct{}) {
	defer close(done)

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sessionDone:
		case <-stop:
		case <-fetchCtx.Done():
		}
		cancel()
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		if !live(fetchCtx, sessionDone, stop) {
			p.halt(stop)
			return
		}

		select {
		case <-fetchCtx.Done():
			p.halt(stop)
			return
		case <-timer.C:
		case <-p.refresh:
		}

		p.fetch(fetchCtx, sessionDone, stop)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.cfg.Interval)
	}
}

func (p *Poller[T]) fetch(ctx context.Context, sessionDone <-chan struct{}, stop chan struct{}) {
	ctx, span := logging.StartSpan(ctx, "poll."+p.cfg.Name)
	value, err := p.cfg.Fetch(ctx)
	span.End(err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !live(ctx, sessionDone, stop) {
		return
	}
	if err != nil {
		p.logger.Debug("poll failed", slog.Any("error", err))
	}
	if p.cfg.Apply != nil {
		p.cfg.Apply(value, err)
	}
}

// live reports whether the poller may still fetch and apply results.
func live(ctx context.Context, sessionDone <-chan struct{}, stop chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-sessionDone:
		return false
	default:
	}
	return ctx.Err() == nil
}

// halt marks the poller stopped when the loop ends on its own.
func (p *Poller[T]) halt(stop chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-stop:
	default:
		if p.stop == stop {
			p.running = false
		}
	}
}
