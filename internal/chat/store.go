// Package chat holds the in-memory set of named chat transcripts and keeps a
// [memory.Persistence] backend in sync with it.
//
// A [Store] tracks which chat is current, orders chats by recency and
// remembers which inference job streams into which chat. Every mutation
// updates memory under an exclusive lock and then hands the matching
// persistence work to a background goroutine. Methods that return a
// [*Pending] let the caller decide whether to wait for durability; ignoring
// the handle makes the write fire-and-forget. The lifecycle operations
// [Store.CreateChat], [Store.RenameChat] and [Store.DeleteChat] always wait.
//
// A failed write never rolls back the in-memory change. It is logged,
// counted and reported through the returned error or [Pending.Wait].
//
// All methods are safe for concurrent use.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/btree"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/toolchat/internal/mcp/tools/chatsearch"
	"github.com/MrWong99/toolchat/internal/observe"
	"github.com/MrWong99/toolchat/pkg/memory"
	"github.com/MrWong99/toolchat/pkg/types"
)

const (
	// DefaultChatName names the chat synthesized for an empty store.
	DefaultChatName = "New Chat"

	// DefaultChatID is the id of the synthesized default chat.
	DefaultChatID = 1

	// NoJob marks a chat without a running inference job.
	NoJob = -1

	// DefaultMaxConcurrentWrites bounds concurrent background writes when
	// [WithMaxConcurrentWrites] is not given.
	DefaultMaxConcurrentWrites = 4
)

var (
	// ErrChatNotFound is returned when no chat has the requested name or
	// position.
	ErrChatNotFound = errors.New("chat: chat not found")

	// ErrNoCurrentChat is returned by operations on the current chat when
	// none is selected.
	ErrNoCurrentChat = errors.New("chat: no current chat selected")

	// ErrInvalidIndex is returned for a message index outside the chat.
	ErrInvalidIndex = errors.New("chat: invalid message index")

	// ErrMessageNotFound is returned when no message has the requested id.
	ErrMessageNotFound = errors.New("chat: message not found")

	// ErrJobRunning is returned by [Store.ClaimJob] when the chat already
	// holds a job or a claim.
	ErrJobRunning = errors.New("chat: chat already has a job")
)

// Compile-time interface check.
var _ chatsearch.Reader = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithMaxConcurrentWrites bounds how many background persistence tasks run
// at once. Values below 1 are ignored.
func WithMaxConcurrentWrites(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxWrites = n
		}
	}
}

// WithClock overrides the time source used for modification timestamps and
// chat ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the chat session store. Create one with [New] and fill it with
// [Store.Load].
type Store struct {
	logger    *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time
	maxWrites int
	writes    *semaphore.Weighted
	inflight  sync.WaitGroup

	mu      sync.RWMutex
	persist memory.Persistence
	chats   []types.ChatHistory
	byName  map[string]int
	recency *btree.BTreeG[recencyKey]
	current int
	jobs    map[int]int
	claims  int // last placeholder id handed out by ClaimJob
	counter int64
}

// New returns a store backed by p. Until [Store.Load] runs the store holds
// only the unsaved default chat.
func New(p memory.Persistence, opts ...Option) *Store {
	s := &Store{
		logger:    slog.Default(),
		metrics:   observe.DefaultMetrics(),
		now:       time.Now,
		maxWrites: DefaultMaxConcurrentWrites,
		persist:   p,
	}
	for _, o := range opts {
		o(s)
	}
	s.writes = semaphore.NewWeighted(int64(s.maxWrites))
	s.resetLocked(nil)
	return s
}

// Load replaces the in-memory state with every chat the backend holds and
// selects the most recently modified one. An empty backend gets the default
// chat, which is saved in the background. On error the previous state is
// kept.
func (s *Store) Load(ctx context.Context) error {
	s.mu.RLock()
	p := s.persist
	s.mu.RUnlock()

	start := time.Now()
	chats, err := p.LoadAllChats(ctx)
	s.metrics.RecordPersistence(ctx, "load", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("chat: load: %w", err)
	}

	s.mu.Lock()
	if s.persist != p {
		// Reinitialize swapped the backend while we were reading.
		s.mu.Unlock()
		return nil
	}
	synthesized := s.resetLocked(chats)
	var def types.ChatHistory
	if synthesized {
		def = s.chats[0].Clone()
	}
	n := len(s.chats)
	s.mu.Unlock()

	s.metrics.Chats.Record(ctx, int64(n))
	s.logger.Info("chat store loaded", "chats", n)
	if synthesized {
		s.submit("save", func(ctx context.Context) error { return p.SaveChat(ctx, def) })
	}
	return nil
}

// Reinitialize switches to a different backend and reloads from it.
// Outstanding writes to the old backend are allowed to finish first.
func (s *Store) Reinitialize(ctx context.Context, p memory.Persistence) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.persist = p
	s.resetLocked(nil)
	s.mu.Unlock()
	return s.Load(ctx)
}

// Persistence returns the current backend.
func (s *Store) Persistence() memory.Persistence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persist
}

// resetLocked installs chats as the full store contents. Chats sharing a
// name with an earlier entry are dropped. It reports whether the default
// chat had to be synthesized.
func (s *Store) resetLocked(chats []types.ChatHistory) bool {
	s.chats = make([]types.ChatHistory, 0, len(chats))
	seen := make(map[string]bool, len(chats))
	for _, c := range chats {
		if seen[c.Name] {
			s.logger.Warn("chat store: duplicate chat name ignored", "name", c.Name)
			continue
		}
		seen[c.Name] = true
		s.chats = append(s.chats, c.Clone())
	}
	s.jobs = make(map[int]int)
	s.counter = int64(len(s.chats))

	synthesized := false
	if len(s.chats) == 0 {
		s.chats = append(s.chats, s.defaultChat())
		synthesized = true
	}
	s.rebuildLocked()
	s.current = s.mostRecentLocked()
	return synthesized
}

func (s *Store) defaultChat() types.ChatHistory {
	return types.ChatHistory{
		ID:           DefaultChatID,
		LastModified: s.now().Unix(),
		Name:         DefaultChatName,
		Messages:     []types.Message{},
	}
}

// Flush blocks until every background write submitted so far has finished
// or ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat: flush: %w", ctx.Err())
	}
}
