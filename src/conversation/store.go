// Package conversation owns the per-conversation state the relay mutates:
// one chat session and one latest-document slot per conversation key.
//
// Callers Acquire a conversation before touching it. Acquire gives exclusive
// access until the returned release func is called, so events of the same
// conversation are handled one at a time while different conversations
// proceed in parallel.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Protocol-Lattice/fingpt-relay/src/cache"
	"github.com/Protocol-Lattice/fingpt-relay/src/journal"
	"github.com/Protocol-Lattice/fingpt-relay/src/models"
)

// DefaultKey is used when a payload carries no conversation ID.
const DefaultKey = ""

// Conversation is the state of one chat. Its methods require the caller to
// hold the conversation via Store.Acquire.
type Conversation struct {
	Key string

	lock     chan struct{}
	refs     int
	session  models.Session
	document string
	restored bool
}

// LatestDocument returns the path of the most recently rendered reply, or "".
func (c *Conversation) LatestDocument() string { return c.document }

// SetLatestDocument overwrites the document slot.
func (c *Conversation) SetLatestDocument(path string) { c.document = path }

// Store hands out conversations keyed by chat identifier.
type Store struct {
	backend      models.Backend
	journal      journal.Journal
	historyTurns int
	logger       *slog.Logger

	mu      sync.Mutex
	active  map[string]*Conversation
	entries *cache.LRUCache[string, *Conversation]
}

type Option func(*Store)

// WithJournal restores the latest document slot from j, and seeds new
// sessions with up to turns past exchanges.
func WithJournal(j journal.Journal, turns int) Option {
	return func(s *Store) {
		s.journal = j
		s.historyTurns = turns
	}
}

// WithLimits bounds the number of idle conversations kept and how long an
// idle conversation survives. Zero values disable the bound.
func WithLimits(max int, idleTTL time.Duration) Option {
	return func(s *Store) {
		s.entries = cache.NewLRUCache[string, *Conversation](max, idleTTL)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store opening sessions on backend.
func NewStore(backend models.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		active:  make(map[string]*Conversation),
		entries: cache.NewLRUCache[string, *Conversation](0, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entries.OnEvict(func(key string, _ *Conversation) {
		s.logger.Debug("conversation_evicted", "conversation", key)
	})
	return s
}

// Acquire returns the conversation for key, waiting until no other caller
// holds it. release must be called exactly once.
func (s *Store) Acquire(ctx context.Context, key string) (*Conversation, func(), error) {
	s.mu.Lock()
	conv, ok := s.active[key]
	if !ok {
		// Conversations in use live in active only, out of reach of eviction.
		if conv, ok = s.entries.Get(key); ok {
			s.entries.Delete(key)
		} else {
			conv = &Conversation{Key: key, lock: make(chan struct{}, 1)}
		}
		s.active[key] = conv
	}
	conv.refs++
	s.mu.Unlock()

	select {
	case conv.lock <- struct{}{}:
	case <-ctx.Done():
		s.unref(conv)
		return nil, nil, ctx.Err()
	}

	s.restoreDocument(ctx, conv)

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-conv.lock
			s.unref(conv)
		})
	}
	return conv, release, nil
}

// unref drops a reference. The last holder moves the conversation back into
// the idle cache.
func (s *Store) unref(conv *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv.refs--
	if conv.refs > 0 {
		return
	}
	delete(s.active, conv.Key)
	s.entries.Set(conv.Key, conv)
}

// Session returns the conversation's backend session, opening it on first
// use. A new session is seeded with journaled history when configured.
func (s *Store) Session(ctx context.Context, conv *Conversation) (models.Session, error) {
	if conv.session != nil {
		return conv.session, nil
	}
	var history []models.Turn
	if s.journal != nil && s.historyTurns > 0 {
		past, err := s.journal.Recent(ctx, conv.Key, s.historyTurns)
		if err != nil {
			s.logger.Warn("conversation_history_error", "conversation", conv.Key, "error", err.Error())
		} else {
			history = journal.Turns(past)
		}
	}
	sess, err := s.backend.NewSession(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	conv.session = sess
	s.logger.Debug("conversation_session_opened", "conversation", conv.Key, "restored_turns", len(history))
	return sess, nil
}

// restoreDocument fills an empty slot from the newest journaled exchange the
// first time a conversation is acquired, so the latest document outlives
// eviction and restarts. Lookup failures are retried on the next Acquire.
func (s *Store) restoreDocument(ctx context.Context, conv *Conversation) {
	if conv.restored {
		return
	}
	if s.journal == nil || conv.document != "" {
		conv.restored = true
		return
	}
	past, err := s.journal.Recent(ctx, conv.Key, 1)
	if err != nil {
		s.logger.Warn("conversation_document_restore_error", "conversation", conv.Key, "error", err.Error())
		return
	}
	conv.restored = true
	if len(past) > 0 {
		conv.document = past[len(past)-1].Document
		s.logger.Debug("conversation_document_restored", "conversation", conv.Key, "document", conv.document)
	}
}

// Backend returns the backend sessions are opened on.
func (s *Store) Backend() models.Backend { return s.backend }

// Journal returns the configured journal, or nil.
func (s *Store) Journal() journal.Journal { return s.journal }

// Len returns the number of known conversations, idle or in use.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len() + len(s.active)
}

// Purge drops idle conversations whose TTL has passed and returns how many
// were removed.
func (s *Store) Purge() int {
	return s.entries.Purge()
}

// Close drops every idle conversation and its session, returning how many
// were released. Conversations still in use are left to their holders.
func (s *Store) Close() int {
	n := s.entries.Len()
	s.entries.Clear()
	s.logger.Debug("conversation_store_closed", "released", n)
	return n
}

// Janitor purges expired conversations every interval until ctx ends.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Purge(); n > 0 {
				s.logger.Debug("conversation_purged", "count", n)
			}
		}
	}
}
