// Package reconcile merges push-delivered chat events with the authoritative
// poll-based message lists, producing one deduplicated, insertion-ordered
// view per conversation, plus the ephemeral typing state.
package reconcile

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/looplabs/chatcore/types"
)

const (
	// typingTTL is the silence window after which a typing indicator
	// clears itself.
	typingTTL = 3 * time.Second

	// Polling cadence. Push delivery relaxes it; without push it is the
	// sole source of truth.
	connectedPollInterval    = 30 * time.Second
	openConversationInterval = 3 * time.Second
	conversationListInterval = 10 * time.Second
)

// PollInterval returns how often the given surface should refetch, based on
// whether push delivery is currently available.
func PollInterval(status types.ChannelStatus, openConversation bool) time.Duration {
	if status == types.StatusConnected {
		return connectedPollInterval
	}
	if openConversation {
		return openConversationInterval
	}
	return conversationListInterval
}

// TypingState is the renderable typing indicator for one conversation.
type TypingState struct {
	Username string
	IsTyping bool
}

type typingRecord struct {
	username string
	timer    *time.Timer
	gen      uint64
}

// Store holds the reconciled message and typing state the UI layer reads.
// Construct one per session; Reset on logout.
type Store struct {
	logger *zap.Logger

	mu        sync.Mutex
	messages  map[string][]types.Message
	seen      map[string]map[string]struct{}
	typing    map[string]*typingRecord
	typingGen uint64

	conversationsStale bool
	messagesStale      map[string]struct{}

	onChange func(conversationID string)
}

func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:        logger,
		messages:      make(map[string][]types.Message),
		seen:          make(map[string]map[string]struct{}),
		typing:        make(map[string]*typingRecord),
		messagesStale: make(map[string]struct{}),
	}
}

// OnChange installs a callback fired (outside the lock) whenever a
// conversation's visible state changes. conversationID is "" for
// conversation-list-level changes.
func (s *Store) OnChange(fn func(conversationID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// HandleEvent subscribes the store to the realtime channel's dispatch.
func (s *Store) HandleEvent(f *types.Frame) error {
	switch f.Type {
	case types.EventNewMessage, types.EventMessageSent:
		// message_sent is the echo of our own send; dedup by id makes
		// treating both alike safe.
		if f.Message == nil {
			s.logger.Warn("message event without message", zap.String("type", f.Type))
			return nil
		}
		s.Merge(*f.Message)
		s.MarkConversationsStale()
	case types.EventTyping:
		s.SetTyping(f.ConversationID, f.Username, f.IsTyping)
	case types.EventMessagesRead:
		s.MarkMessagesStale(f.ConversationID)
	case types.EventConnectionEstablished, types.EventPong:
		// No state change.
	case types.EventError:
		s.logger.Warn("server reported error", zap.String("error", f.Error))
	default:
		s.logger.Debug("ignoring unknown event", zap.String("type", f.Type))
	}
	return nil
}

// Merge appends a pushed message to its conversation unless a message with
// the same id is already present. Reports whether the message was added.
func (s *Store) Merge(msg types.Message) bool {
	s.mu.Lock()
	if s.isSeen(msg.ConversationID, msg.ID) {
		s.mu.Unlock()
		return false
	}
	s.markSeen(msg.ConversationID, msg.ID)
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(msg.ConversationID)
	}
	return true
}

// Replace reconciles the authoritative fetched list with messages that
// arrived over push meanwhile: the fetched order wins, pushed messages the
// server does not yet return are kept at the tail in arrival order.
func (s *Store) Replace(conversationID string, msgs []types.Message) {
	s.mu.Lock()
	prior := s.messages[conversationID]

	ordered := make([]types.Message, 0, len(msgs)+len(prior))
	ids := make(map[string]struct{}, len(msgs)+len(prior))
	for _, m := range msgs {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		ordered = append(ordered, m)
	}
	for _, m := range prior {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		ordered = append(ordered, m)
	}

	s.messages[conversationID] = ordered
	s.seen[conversationID] = ids
	delete(s.messagesStale, conversationID)
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(conversationID)
	}
}

// Messages returns a copy of the reconciled list for a conversation.
func (s *Store) Messages(conversationID string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out
}

// SetTyping upserts the typing indicator for a conversation. isTyping=true
// arms a fresh expiry timer, replacing any prior one for the conversation;
// isTyping=false clears immediately. Replacement is atomic under the store
// lock, so a stale timer can never clear a fresher indicator.
func (s *Store) SetTyping(conversationID, username string, isTyping bool) {
	s.mu.Lock()
	if rec, ok := s.typing[conversationID]; ok {
		rec.timer.Stop()
		delete(s.typing, conversationID)
	}

	if isTyping {
		s.typingGen++
		gen := s.typingGen
		rec := &typingRecord{
			username: username,
			gen:      gen,
			timer: time.AfterFunc(typingTTL, func() {
				s.expireTyping(conversationID, gen)
			}),
		}
		s.typing[conversationID] = rec
	}
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(conversationID)
	}
}

func (s *Store) expireTyping(conversationID string, gen uint64) {
	s.mu.Lock()
	rec, ok := s.typing[conversationID]
	if !ok || rec.gen != gen {
		// A newer typing event replaced us between firing and locking.
		s.mu.Unlock()
		return
	}
	delete(s.typing, conversationID)
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(conversationID)
	}
}

// Typing returns the current typing state for a conversation.
func (s *Store) Typing(conversationID string) TypingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.typing[conversationID]; ok {
		return TypingState{Username: rec.username, IsTyping: true}
	}
	return TypingState{}
}

// MarkConversationsStale flags the conversation list for refetch.
func (s *Store) MarkConversationsStale() {
	s.mu.Lock()
	s.conversationsStale = true
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify("")
	}
}

// ConsumeConversationsStale reports and clears the conversation-list flag.
func (s *Store) ConsumeConversationsStale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := s.conversationsStale
	s.conversationsStale = false
	return stale
}

// MarkMessagesStale flags one conversation's messages for refetch (read
// markers changed server-side).
func (s *Store) MarkMessagesStale(conversationID string) {
	s.mu.Lock()
	s.messagesStale[conversationID] = struct{}{}
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(conversationID)
	}
}

// ConsumeMessagesStale reports and clears the per-conversation flag.
func (s *Store) ConsumeMessagesStale(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messagesStale[conversationID]; !ok {
		return false
	}
	delete(s.messagesStale, conversationID)
	return true
}

// Reset clears all state and cancels pending typing timers. Used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.typing {
		rec.timer.Stop()
	}
	s.messages = make(map[string][]types.Message)
	s.seen = make(map[string]map[string]struct{})
	s.typing = make(map[string]*typingRecord)
	s.conversationsStale = false
	s.messagesStale = make(map[string]struct{})
}

func (s *Store) isSeen(conversationID, id string) bool {
	ids, ok := s.seen[conversationID]
	if !ok {
		return false
	}
	_, seen := ids[id]
	return seen
}

func (s *Store) markSeen(conversationID, id string) {
	ids, ok := s.seen[conversationID]
	if !ok {
		ids = make(map[string]struct{})
		s.seen[conversationID] = ids
	}
	ids[id] = struct{}{}
}
