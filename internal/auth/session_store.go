package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vantagesearch/client/internal/models"
)

// ErrBusy indicates a login or registration is already in flight.
var ErrBusy = errors.New("another authentication request is in progress")

const sessionStateKey = "session"

// persistTimeout bounds background writes to the state store.
const persistTimeout = 5 * time.Second

// Authenticator performs the credential exchange with the backend.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (models.Session, error)
	Register(ctx context.Context, email, password, displayName string) error
}

// EventKind describes a session transition.
type EventKind int

const (
	// SessionStarted is emitted when a session is established or replaced.
	SessionStarted EventKind = iota + 1
	// SessionEnded is emitted on logout or when the server rejected the token.
	SessionEnded
)

func (k EventKind) String() string {
	switch k {
	case SessionStarted:
		return "started"
	case SessionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after every session transition.
type Event struct {
	Kind       EventKind
	Session    models.Session
	Generation uint64
}

// SessionStore owns the single active session. It is the only writer of the
// session; everything else observes it through Current, Token, Watch or Subscribe.
type SessionStore struct {
	auth   Authenticator
	state  StateStore
	logger *slog.Logger

	authInFlight atomic.Bool

	mu         sync.RWMutex
	session    *models.Session
	done       chan struct{}
	generation uint64
	subs       map[int]func(Event)
	nextSub    int
}

// NewSessionStore constructs a SessionStore. state may be nil, in which case the
// session lives only for the lifetime of the process.
func NewSessionStore(authenticator Authenticator, state StateStore, logger *slog.Logger) *SessionStore {
	if authenticator == nil {
		panic("auth: authenticator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		auth:   authenticator,
		state:  state,
		logger: logger,
		subs:   make(map[int]func(Event)),
	}
}

// Login authenticates and replaces any existing session. A concurrent login or
// registration is rejected with ErrBusy without issuing a request.
func (s *SessionStore) Login(ctx context.Context, email, password string) (models.Session, error) {
	if !s.authInFlight.CompareAndSwap(false, true) {
		return models.Session{}, ErrBusy
	}
	defer s.authInFlight.Store(false)

	session, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return models.Session{}, err
	}

	s.install(session)
	s.persist(ctx, session)
	s.logger.Info("session established", slog.String("userId", session.UserID))
	return session, nil
}

// Register creates an account without establishing a session.
func (s *SessionStore) Register(ctx context.Context, email, password, displayName string) error {
	if !s.authInFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.authInFlight.Store(false)

	if err := s.auth.Register(ctx, email, password, displayName); err != nil {
		return err
	}
	s.logger.Info("account registered", slog.String("email", email))
	return nil
}

// Logout clears the session synchronously, stops its observers and removes the
// persisted copy.
func (s *SessionStore) Logout(ctx context.Context) {
	if ended := s.end(); ended != nil {
		s.logger.Info("session ended", slog.String("userId", ended.UserID), slog.String("reason", "logout"))
	}
	s.forget(ctx)
}

// Invalidate ends the session only if token is still the current one; a stale
// rejection for a session that was already replaced is ignored.
func (s *SessionStore) Invalidate(token string) {
	s.mu.RLock()
	current := s.session != nil && s.session.Token == token
	s.mu.RUnlock()
	if !current {
		return
	}

	s.mu.Lock()
	if s.session == nil || s.session.Token != token {
		s.mu.Unlock()
		return
	}
	ended, event := s.endLocked()
	s.mu.Unlock()

	s.notify(event)
	s.logger.Warn("session rejected by server", slog.String("userId", ended.UserID))

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	s.forget(ctx)
}

// Restore reloads a persisted session. It reports false when none was stored.
func (s *SessionStore) Restore(ctx context.Context) (models.Session, bool, error) {
	if s.state == nil {
		return models.Session{}, false, nil
	}

	raw, err := s.state.Get(ctx, sessionStateKey)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return models.Session{}, false, nil
		}
		if errors.Is(err, ErrStateCorrupt) {
			s.logger.Warn("discarding persisted session that cannot be opened", slog.Any("error", err))
			s.forget(ctx)
			return models.Session{}, false, nil
		}
		return models.Session{}, false, fmt.Errorf("load session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil || session.Token == "" {
		_ = s.state.Clear(ctx, sessionStateKey)
		return models.Session{}, false, nil
	}

	s.install(session)
	s.logger.Debug("session restored", slog.String("userId", session.UserID))
	return session, true, nil
}

// Current returns a copy of the active session.
func (s *SessionStore) Current() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return models.Session{}, false
	}
	return *s.session, true
}

// Token returns the active bearer token.
func (s *SessionStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return "", false
	}
	return s.session.Token, true
}

// Watch returns the active session with a channel that is closed when it ends.
func (s *SessionStore) Watch() (models.Session, <-chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return models.Session{}, nil, false
	}
	return *s.session, s.done, true
}

// Generation increases on every session transition.
func (s *SessionStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Subscribe registers fn for session transitions and returns a function that
// removes it. fn runs synchronously on the goroutine that changed the session.
func (s *SessionStore) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *SessionStore) install(session models.Session) {
	s.mu.Lock()
	if s.done != nil {
		close(s.done)
	}
	copied := session
	s.session = &copied
	s.done = make(chan struct{})
	s.generation++
	event := Event{Kind: SessionStarted, Session: session, Generation: s.generation}
	s.mu.Unlock()

	s.notify(event)
}

func (s *SessionStore) end() *models.Session {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil
	}
	ended, event := s.endLocked()
	s.mu.Unlock()

	s.notify(event)
	return &ended
}

func (s *SessionStore) endLocked() (models.Session, Event) {
	ended := *s.session
	close(s.done)
	s.session = nil
	s.done = nil
	s.generation++
	return ended, Event{Kind: SessionEnded, Session: ended, Generation: s.generation}
}

func (s *SessionStore) notify(event Event) {
	s.mu.RLock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

func (s *SessionStore) persist(ctx context.Context, session models.Session) {
	if s.state == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		s.logger.Error("encode session", slog.Any("error", err))
		return
	}
	if err := s.state.Set(ctx, sessionStateKey, string(data)); err != nil {
		s.logger.Warn("persist session", slog.Any("error", err))
	}
}

func (s *SessionStore) forget(ctx context.Context) {
	if s.state == nil {
		return
	}
	if err := s.state.Clear(ctx, sessionStateKey); err != nil {
		s.logger.Warn("clear persisted session", slog.Any("error", err))
	}
}
