// Package signaling keeps the per-chat bookkeeping for call negotiation:
// the pending offer, the caller's reverse index, queued ICE candidates and
// the abandonment timer.
package signaling

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/haasonsaas/parley/pkg/models"
)

// DefaultOfferTimeout is how long an offer may stay unanswered.
const DefaultOfferTimeout = 30 * time.Second

// Session is a pending call offer for one chat.
type Session struct {
	ChatID    string
	Offer     json.RawMessage
	Sender    models.Contact
	Receiver  models.Contact
	Video     bool
	MessageID string

	token uint64
	timer *time.Timer
}

// Ref is the reverse index entry kept per caller.
type Ref struct {
	ChatID     string
	ReceiverID string
	MessageID  string
}

// ExpireFunc is invoked when an offer times out. It receives the session
// already removed from the registry.
type ExpireFunc func(Session)

// Registry holds call sessions keyed by chat id.
type Registry struct {
	sessions   *xsync.MapOf[string, *Session]
	bySender   *xsync.MapOf[string, Ref]
	candidates *xsync.MapOf[string, []json.RawMessage]

	timeout  time.Duration
	onExpire ExpireFunc
	tokens   atomic.Uint64
}

// NewRegistry creates a registry whose offers expire after timeout.
func NewRegistry(timeout time.Duration, onExpire ExpireFunc) *Registry {
	if timeout <= 0 {
		timeout = DefaultOfferTimeout
	}
	return &Registry{
		sessions:   xsync.NewMapOf[string, *Session](),
		bySender:   xsync.NewMapOf[string, Ref](),
		candidates: xsync.NewMapOf[string, []json.RawMessage](),
		timeout:    timeout,
		onExpire:   onExpire,
	}
}

// Open records s as the chat's pending offer and arms its timer. It returns
// the session it replaced, if any; the replaced session's timer is stopped.
// The chat's candidate queue always starts empty.
func (r *Registry) Open(s Session) (replaced *Session) {
	token := r.tokens.Add(1)
	entry := s
	entry.token = token

	r.sessions.Compute(s.ChatID, func(old *Session, loaded bool) (*Session, bool) {
		if loaded {
			old.timer.Stop()
			if ref, ok := r.bySender.Load(old.Sender.ID); ok && ref.ChatID == old.ChatID {
				r.bySender.Delete(old.Sender.ID)
			}
			prev := *old
			replaced = &prev
		}
		r.candidates.Delete(s.ChatID)
		entry.timer = time.AfterFunc(r.timeout, func() { r.expire(s.ChatID, token) })
		return &entry, false
	})
	r.bySender.Store(s.Sender.ID, Ref{ChatID: s.ChatID, ReceiverID: s.Receiver.ID, MessageID: s.MessageID})
	return replaced
}

// Get returns a copy of the chat's pending session.
func (r *Registry) Get(chatID string) (Session, bool) {
	s, ok := r.sessions.Load(chatID)
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Pending reports the number of open sessions.
func (r *Registry) Pending() int {
	return r.sessions.Size()
}

// Resolve removes the chat's session and stops its timer. The candidate
// queue is dropped whether or not a session was pending, so candidates
// trickling in after an answer die with the call. The boolean is false when
// no session was pending.
func (r *Registry) Resolve(chatID string) (Session, bool) {
	s, ok := r.take(chatID, 0)
	r.candidates.Delete(chatID)
	return s, ok
}

// ResolveBySender resolves the session opened by the given caller.
func (r *Registry) ResolveBySender(senderID string) (Session, bool) {
	ref, ok := r.bySender.Load(senderID)
	if !ok {
		return Session{}, false
	}
	s, ok := r.Resolve(ref.ChatID)
	if !ok {
		r.bySender.Compute(senderID, func(cur Ref, loaded bool) (Ref, bool) {
			return cur, !loaded || cur == ref
		})
	}
	return s, ok
}

// senderRef returns the reverse index entry for a caller.
func (r *Registry) senderRef(senderID string) (Ref, bool) {
	return r.bySender.Load(senderID)
}

// AddCandidate queues an ICE candidate for the chat.
func (r *Registry) AddCandidate(chatID string, candidate json.RawMessage) {
	if chatID == "" || len(candidate) == 0 {
		return
	}
	r.candidates.Compute(chatID, func(old []json.RawMessage, _ bool) ([]json.RawMessage, bool) {
		return append(old, candidate), false
	})
}

// Candidates returns a copy of the chat's queued candidates in arrival order.
func (r *Registry) Candidates(chatID string) []json.RawMessage {
	list, ok := r.candidates.Load(chatID)
	if !ok {
		return nil
	}
	return append([]json.RawMessage(nil), list...)
}

// take removes the session when token is zero or matches the session's
// generation.
func (r *Registry) take(chatID string, token uint64) (Session, bool) {
	var taken *Session
	r.sessions.Compute(chatID, func(old *Session, loaded bool) (*Session, bool) {
		if !loaded {
			return nil, true
		}
		if token != 0 && old.token != token {
			return old, false
		}
		old.timer.Stop()
		taken = old
		return nil, true
	})
	if taken == nil {
		return Session{}, false
	}

	r.candidates.Delete(chatID)
	r.bySender.Compute(taken.Sender.ID, func(cur Ref, loaded bool) (Ref, bool) {
		return cur, !loaded || cur.ChatID == chatID
	})
	return *taken, true
}

func (r *Registry) expire(chatID string, token uint64) {
	s, ok := r.take(chatID, token)
	if !ok {
		return
	}
	if r.onExpire != nil {
		r.onExpire(s)
	}
}
