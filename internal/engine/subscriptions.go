package engine

import "sync"

// Subscriptions owns the session's live channels and enforces the at-most-one
// rule: one conversation subscription scoped to the selected peer, one inbox
// subscription and one presence subscription per session. Installing a new
// unsubscribe func tears the previous one down first, so two subscriptions to
// the same concern never coexist.
type Subscriptions struct {
	mu           sync.Mutex
	conversation func()
	inbox        func()
	presence     func()
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{}
}

// SetConversation replaces the active conversation subscription.
func (s *Subscriptions) SetConversation(unsub func()) {
	s.mu.Lock()
	prev := s.conversation
	s.conversation = unsub
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (s *Subscriptions) SetInbox(unsub func()) {
	s.mu.Lock()
	prev := s.inbox
	s.inbox = unsub
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (s *Subscriptions) SetPresence(unsub func()) {
	s.mu.Lock()
	prev := s.presence
	s.presence = unsub
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Close tears everything down. Safe to call more than once, and must run on
// logout even when an earlier operation failed: a leaked presence channel
// keeps the user visibly online to everyone else.
func (s *Subscriptions) Close() {
	s.mu.Lock()
	conversation, inbox, presence := s.conversation, s.inbox, s.presence
	s.conversation, s.inbox, s.presence = nil, nil, nil
	s.mu.Unlock()

	if conversation != nil {
		conversation()
	}
	if inbox != nil {
		inbox()
	}
	if presence != nil {
		presence()
	}
}
