package conversation

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// Options configures an InMemoryStore.
type Options struct {
	// TTL expires conversations idle for longer than this duration. Zero
	// disables time-based expiry.
	TTL time.Duration

	// MaxConversations caps how many conversations the store keeps. When the
	// cap is exceeded the least recently updated conversations are evicted.
	// Zero means no cap.
	MaxConversations int

	// Logger receives expiry and eviction events. Defaults to a no-op logger.
	Logger logging.Logger
}

// InMemoryStore is a volatile ConversationStore keeping conversations in a
// process local map. It is safe for concurrent access and suited for single
// process deployments, tests and demos.
//
// Contract:
//   - Message IDs come from one store-wide sequence assigned under the store
//     lock: strictly increasing across the store and within every log.
//   - Appends stamp UTC timestamps and refresh the conversation's recency.
//   - Expiry and eviction run synchronously during writes; reads never
//     mutate the store but treat expired conversations as absent.
//   - Returned conversations are clones; mutating them never affects the
//     stored state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
	seq           int64
	ttl           time.Duration
	maxConvs      int
	logger        logging.Logger
}

var _ core.ConversationStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &InMemoryStore{
		conversations: make(map[string]*core.Conversation),
		ttl:           opts.TTL,
		maxConvs:      opts.MaxConversations,
		logger:        opts.Logger,
	}
}

// Create adds a new empty conversation, replacing any existing one with the
// same ID.
func (s *InMemoryStore) Create(id string) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(time.Now().UTC())

	conv := core.NewConversation(id)
	s.conversations[id] = conv
	s.enforceCapLocked()

	return conv.Clone(), nil
}

// Get returns a clone of the conversation, or nil when it is absent or has
// expired.
func (s *InMemoryStore) Get(id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok || s.expired(conv, time.Now().UTC()) {
		return nil, nil
	}

	return conv.Clone(), nil
}

// GetOrCreate returns a clone of the existing conversation, creating it first
// when absent or expired. The bool reports whether a new conversation was
// created.
func (s *InMemoryStore) GetOrCreate(id string) (*core.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(time.Now().UTC())

	if conv, ok := s.conversations[id]; ok {
		return conv.Clone(), false, nil
	}

	conv := core.NewConversation(id)
	s.conversations[id] = conv
	s.enforceCapLocked()

	return conv.Clone(), true, nil
}

// List returns clones of the stored conversations ordered by most recent
// activity, capped at limit (uncapped when limit <= 0).
func (s *InMemoryStore) List(limit int) []*core.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()

	all := make([]*core.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if s.expired(conv, now) {
			continue
		}

		all = append(all, conv.Clone())
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Updated.Equal(all[j].Updated) {
			return all[i].ID < all[j].ID
		}
		return all[i].Updated.After(all[j].Updated)
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	return all
}

// Delete removes the conversation, reporting whether it existed.
func (s *InMemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.conversations[id]
	delete(s.conversations, id)

	return ok
}

// AppendMessage assigns the next sequence ID and a UTC timestamp to msg and
// appends it to the conversation's message log, creating the conversation
// when absent. The stored message is returned.
func (s *InMemoryStore) AppendMessage(conversationID string, msg core.Message) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.expireLocked(now)

	conv := s.getOrCreateLocked(conversationID)

	s.seq++
	msg.ID = s.seq
	msg.Timestamp = now
	conv.AddMessage(msg)

	s.enforceCapLocked()

	return msg, nil
}

// AppendToolCall appends a record to the conversation's tool-call log,
// creating the conversation when absent. Missing ID and timestamp fields are
// filled in.
func (s *InMemoryStore) AppendToolCall(conversationID string, rec core.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.expireLocked(now)

	conv := s.getOrCreateLocked(conversationID)

	if rec.ID == "" {
		rec.ID = core.NewID()
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}

	conv.AddToolCall(rec)
	s.enforceCapLocked()

	return nil
}

// SetMetadata sets a metadata key on the conversation, creating it when
// absent.
func (s *InMemoryStore) SetMetadata(conversationID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(time.Now().UTC())

	conv := s.getOrCreateLocked(conversationID)
	conv.SetMetadata(key, value)
	s.enforceCapLocked()

	return nil
}

// Search performs a case-insensitive substring match over message logs,
// walking the most recently updated conversations first. An empty query
// matches every message. Results are capped at limit (uncapped when
// limit <= 0).
func (s *InMemoryStore) Search(query string, limit int) []core.SearchMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	needle := strings.ToLower(query)

	type aged struct {
		conv    *core.Conversation
		updated time.Time
	}

	ordered := make([]aged, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if s.expired(conv, now) {
			continue
		}

		ordered = append(ordered, aged{conv: conv, updated: conv.LastUpdated()})
	}

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].updated.Equal(ordered[j].updated) {
			return ordered[i].conv.ID < ordered[j].conv.ID
		}
		return ordered[i].updated.After(ordered[j].updated)
	})

	var matches []core.SearchMatch
	for _, a := range ordered {
		for _, msg := range a.conv.GetMessages() {
			if needle != "" && !strings.Contains(strings.ToLower(msg.Content), needle) {
				continue
			}

			matches = append(matches, core.SearchMatch{
				ConversationID: a.conv.ID,
				MessageID:      msg.ID,
				Role:           msg.Role,
				Content:        msg.Content,
			})

			if limit > 0 && len(matches) >= limit {
				return matches
			}
		}
	}

	return matches
}

// Len returns the number of stored conversations, including any not yet
// swept expired entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conversations)
}

// getOrCreateLocked returns the stored conversation, allocating it when
// absent. Caller must hold the write lock.
func (s *InMemoryStore) getOrCreateLocked(id string) *core.Conversation {
	conv, ok := s.conversations[id]
	if !ok {
		conv = core.NewConversation(id)
		s.conversations[id] = conv
	}

	return conv
}

// expired reports whether the conversation has been idle past the TTL.
func (s *InMemoryStore) expired(conv *core.Conversation, now time.Time) bool {
	return s.ttl > 0 && now.Sub(conv.LastUpdated()) > s.ttl
}

// expireLocked removes conversations idle past the TTL. Caller must hold the
// write lock.
func (s *InMemoryStore) expireLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}

	expired := 0
	for id, conv := range s.conversations {
		if s.expired(conv, now) {
			delete(s.conversations, id)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug("conversation.expired", "count", expired, "remaining", len(s.conversations))
	}
}

// enforceCapLocked evicts the least recently updated conversations until the
// count fits the cap. Caller must hold the write lock.
func (s *InMemoryStore) enforceCapLocked() {
	if s.maxConvs <= 0 || len(s.conversations) <= s.maxConvs {
		return
	}

	type aged struct {
		id      string
		updated time.Time
	}

	all := make([]aged, 0, len(s.conversations))
	for id, conv := range s.conversations {
		all = append(all, aged{id: id, updated: conv.LastUpdated()})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].updated.Equal(all[j].updated) {
			return all[i].id < all[j].id
		}
		return all[i].updated.Before(all[j].updated)
	})

	over := len(all) - s.maxConvs
	for _, a := range all[:over] {
		delete(s.conversations, a.id)
	}

	s.logger.Debug("conversation.evicted", "count", over, "remaining", len(s.conversations))
}
