// Package session keeps per-visitor dashboard state. Every session owns its
// own apples and trees boards, so one visitor's inputs never leak into
// another's. Idle sessions are evicted by a janitor.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/statboard/internal/boards"
	"github.com/talgya/statboard/internal/engine"
	"github.com/talgya/statboard/internal/entropy"
)

// ErrSessionNotFound is returned for unknown, malformed or evicted IDs.
var ErrSessionNotFound = errors.New("session not found")

// DefaultTTL is how long an untouched session survives.
const DefaultTTL = 30 * time.Minute

// Eviction reasons reported to Metrics.
const (
	ReasonDeleted = "deleted"
	ReasonExpired = "expired"
)

// Metrics receives session lifecycle events.
type Metrics interface {
	SessionOpened()
	SessionClosed(reason string)
}

// Options configures a Store.
type Options struct {
	TTL      time.Duration
	Journal  boards.Journal
	Entropy  *entropy.Client
	Recorder engine.Recorder
	Metrics  Metrics
	Now      func() time.Time
}

// Session is one visitor's set of boards.
type Session struct {
	ID      uuid.UUID
	Created time.Time

	boards map[string]boards.Board
	done   chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
}

// Board returns the named board.
func (s *Session) Board(name string) (boards.Board, bool) {
	b, ok := s.boards[name]
	return b, ok
}

// Done is closed when the session is deleted or expires.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Info describes a session for the admin listing.
type Info struct {
	ID       string         `json:"id"`
	Created  time.Time      `json:"created"`
	Age      string         `json:"age"`
	LastSeen string         `json:"last_seen"`
	Samples  map[string]int `json:"samples"`
}

// Store holds the live sessions.
type Store struct {
	opts Options

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{opts: opts, sessions: make(map[uuid.UUID]*Session)}
}

// Create builds a session with both boards and renders them once.
func (st *Store) Create(ctx context.Context) (*Session, error) {
	id := uuid.New()
	now := st.opts.Now()
	s := &Session{
		ID:       id,
		Created:  now,
		lastSeen: now,
		boards:   make(map[string]boards.Board, 2),
		done:     make(chan struct{}),
	}

	for _, name := range []string{boards.ApplesBoard, boards.TreesBoard} {
		b, err := boards.New(name, boards.Options{
			Session:  id.String(),
			Journal:  st.opts.Journal,
			Source:   entropy.Source(st.opts.Entropy),
			Recorder: st.opts.Recorder,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s board: %w", name, err)
		}
		if _, err := b.Graph().Evaluate(ctx); err != nil {
			return nil, fmt.Errorf("render %s board: %w", name, err)
		}
		s.boards[name] = b
	}

	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()

	if st.opts.Metrics != nil {
		st.opts.Metrics.SessionOpened()
	}
	slog.Info("session created", "session", id)
	return s, nil
}

// Get looks up a session and marks it as active.
func (st *Store) Get(id string) (*Session, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	st.mu.Lock()
	s, ok := st.sessions[uid]
	st.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	s.touch(st.opts.Now())
	return s, nil
}

// Delete removes a session.
func (st *Store) Delete(id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	st.mu.Lock()
	s, ok := st.sessions[uid]
	if ok {
		delete(st.sessions, uid)
	}
	st.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	st.closed(s, ReasonDeleted)
	return nil
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// List describes every live session, oldest first.
func (st *Store) List() []Info {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Created.Before(all[j].Created) })

	now := st.opts.Now()
	infos := make([]Info, 0, len(all))
	for _, s := range all {
		info := Info{
			ID:       s.ID.String(),
			Created:  s.Created,
			Age:      humanize.RelTime(s.Created, now, "old", "from now"),
			LastSeen: humanize.RelTime(s.idleSince(), now, "ago", "from now"),
			Samples:  make(map[string]int, len(s.boards)),
		}
		for name, b := range s.boards {
			info.Samples[name] = len(b.Samples())
		}
		infos = append(infos, info)
	}
	return infos
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were removed.
func (st *Store) Sweep() int {
	cutoff := st.opts.Now().Add(-st.opts.TTL)

	st.mu.Lock()
	var expired []*Session
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		st.closed(s, ReasonExpired)
	}
	return len(expired)
}

// Run sweeps expired sessions until ctx is cancelled.
func (st *Store) Run(ctx context.Context) error {
	interval := max(st.opts.TTL/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := st.Sweep(); n > 0 {
				slog.Info("expired idle sessions", "count", n, "remaining", st.Len())
			}
		}
	}
}

func (st *Store) closed(s *Session, reason string) {
	close(s.done)
	if st.opts.Metrics != nil {
		st.opts.Metrics.SessionClosed(reason)
	}
	slog.Info("session closed", "session", s.ID, "reason", reason)
}
