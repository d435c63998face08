package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned by Storage when nothing is saved.
var ErrNotFound = errors.New("session not found")

// Storage persists the raw credential. Only Store talks to it.
type Storage interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context) error
}

// Store owns the current session. Clear is the single choke point for
// ending a session, whether on logout or on an unauthorized response.
type Store struct {
	storage Storage
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	current *Session
	loaded  bool
	subs    []func(Session, bool)
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func NewStore(storage Storage, opts ...Option) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	st := &Store{storage: storage, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(st)
	}
	return st
}

// Get returns the current valid session. An expired session is cleared.
func (st *Store) Get(ctx context.Context) (Session, bool) {
	st.mu.Lock()
	if !st.loaded {
		st.loaded = true
		s, err := st.storage.Load(ctx)
		switch {
		case err == nil:
			st.current = &s
		case !errors.Is(err, ErrNotFound):
			st.log.Warn("session load failed", "error", err)
		}
	}
	cur := st.current
	st.mu.Unlock()

	if cur == nil {
		return Session{}, false
	}
	if !cur.Valid(st.now()) {
		st.log.Info("session expired", "user", cur.DisplayName)
		st.Clear(ctx)
		return Session{}, false
	}
	return *cur, true
}

func (st *Store) Establish(ctx context.Context, s Session) error {
	if !s.Valid(st.now()) {
		return ErrMalformedToken
	}
	if err := st.storage.Save(ctx, s); err != nil {
		return err
	}
	st.mu.Lock()
	st.current = &s
	st.loaded = true
	subs := append([]func(Session, bool){}, st.subs...)
	st.mu.Unlock()

	st.log.Info("session established", "user", s.DisplayName, "role", s.Role)
	for _, fn := range subs {
		fn(s, true)
	}
	return nil
}

// Clear drops the session. Calling it with no session is a no-op apart
// from the storage delete.
func (st *Store) Clear(ctx context.Context) {
	st.clear(ctx, func(*Session) bool { return true })
}

// ClearIf drops the session only while token is still the current one, so
// a late 401 for an earlier login cannot end a newer session. It reports
// whether the session was cleared.
func (st *Store) ClearIf(ctx context.Context, token string) bool {
	return st.clear(ctx, func(cur *Session) bool { return cur != nil && cur.Token == token })
}

func (st *Store) clear(ctx context.Context, match func(*Session) bool) bool {
	st.mu.Lock()
	if !match(st.current) {
		st.mu.Unlock()
		return false
	}
	had := st.current != nil
	st.current = nil
	st.loaded = true
	subs := append([]func(Session, bool){}, st.subs...)
	st.mu.Unlock()

	if err := st.storage.Delete(ctx); err != nil && !errors.Is(err, ErrNotFound) {
		st.log.Warn("session delete failed", "error", err)
	}
	if !had {
		return false
	}
	st.log.Info("session cleared")
	for _, fn := range subs {
		fn(Session{}, false)
	}
	return true
}

// Subscribe registers fn to run after every Establish and effective Clear.
func (st *Store) Subscribe(fn func(Session, bool)) {
	st.mu.Lock()
	st.subs = append(st.subs, fn)
	st.mu.Unlock()
}

type MemoryStorage struct {
	mu sync.Mutex
	s  *Session
}

func NewMemoryStorage() *MemoryStorage { return &MemoryStorage{} }

func (m *MemoryStorage) Load(context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return Session{}, ErrNotFound
	}
	return *m.s, nil
}

func (m *MemoryStorage) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	m.s = &s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Delete(context.Context) error {
	m.mu.Lock()
	m.s = nil
	m.mu.Unlock()
	return nil
}
