package signaling

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/parley/pkg/models"
)

func contact(id string) models.Contact {
	return models.Contact{UserProfile: models.UserProfile{ID: id}}
}

func session(chatID, from, to, msgID string) Session {
	return Session{
		ChatID:    chatID,
		Offer:     json.RawMessage(`{"sdp":"v=0"}`),
		Sender:    contact(from),
		Receiver:  contact(to),
		MessageID: msgID,
	}
}

type expiries struct {
	mu  sync.Mutex
	got []Session
	ch  chan Session
}

func newExpiries() *expiries {
	return &expiries{ch: make(chan Session, 8)}
}

func (e *expiries) record(s Session) {
	e.mu.Lock()
	e.got = append(e.got, s)
	e.mu.Unlock()
	e.ch <- s
}

func (e *expiries) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.got)
}

func TestOfferExpiresAfterTimeout(t *testing.T) {
	exp := newExpiries()
	reg := NewRegistry(20*time.Millisecond, exp.record)

	reg.Open(session("chat-1", "alice", "bob", "m1"))
	reg.AddCandidate("chat-1", json.RawMessage(`{"candidate":"a"}`))

	select {
	case s := <-exp.ch:
		if s.ChatID != "chat-1" || s.MessageID != "m1" || s.Sender.ID != "alice" {
			t.Fatalf("expired session = %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("offer did not expire")
	}

	if _, ok := reg.Get("chat-1"); ok {
		t.Fatalf("session still pending after expiry")
	}
	if _, ok := reg.senderRef("alice"); ok {
		t.Fatalf("reverse index still set after expiry")
	}
	if c := reg.Candidates("chat-1"); len(c) != 0 {
		t.Fatalf("candidates survived expiry: %d", len(c))
	}
}

func TestResolveBeforeTimeoutPreventsExpiry(t *testing.T) {
	exp := newExpiries()
	reg := NewRegistry(30*time.Millisecond, exp.record)

	reg.Open(session("chat-1", "alice", "bob", "m1"))
	s, ok := reg.Resolve("chat-1")
	if !ok || s.MessageID != "m1" {
		t.Fatalf("Resolve() = %+v, %v", s, ok)
	}
	if _, ok := reg.Resolve("chat-1"); ok {
		t.Fatalf("second Resolve() found a session")
	}

	time.Sleep(80 * time.Millisecond)
	if n := exp.count(); n != 0 {
		t.Fatalf("expiry fired %d times after resolve", n)
	}
	if reg.Pending() != 0 {
		t.Fatalf("Pending() = %d", reg.Pending())
	}
}

func TestSecondOfferStopsFirstTimer(t *testing.T) {
	exp := newExpiries()
	reg := NewRegistry(60*time.Millisecond, exp.record)

	reg.Open(session("chat-1", "alice", "bob", "m1"))
	reg.AddCandidate("chat-1", json.RawMessage(`{"candidate":"old"}`))
	time.Sleep(30 * time.Millisecond)

	replaced := reg.Open(session("chat-1", "alice", "bob", "m2"))
	if replaced == nil || replaced.MessageID != "m1" {
		t.Fatalf("Open() replaced = %+v, want m1", replaced)
	}
	if c := reg.Candidates("chat-1"); len(c) != 0 {
		t.Fatalf("stale candidates kept across offers: %d", len(c))
	}

	// The first timer would have fired at ~60ms; the second fires at ~90ms.
	time.Sleep(45 * time.Millisecond)
	if s, ok := reg.Get("chat-1"); !ok || s.MessageID != "m2" {
		t.Fatalf("second session disturbed: %+v, %v", s, ok)
	}

	select {
	case s := <-exp.ch:
		if s.MessageID != "m2" {
			t.Fatalf("expired %s, want m2", s.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatalf("second offer did not expire")
	}
	time.Sleep(20 * time.Millisecond)
	if n := exp.count(); n != 1 {
		t.Fatalf("expiry fired %d times, want 1", n)
	}
}

func TestStaleTokenDoesNotClearNewSession(t *testing.T) {
	reg := NewRegistry(time.Hour, nil)
	reg.Open(session("chat-1", "alice", "bob", "m1"))
	first, _ := reg.sessions.Load("chat-1")
	staleToken := first.token

	reg.Open(session("chat-1", "bob", "alice", "m2"))
	reg.expire("chat-1", staleToken)

	s, ok := reg.Get("chat-1")
	if !ok || s.MessageID != "m2" {
		t.Fatalf("stale expiry cleared the new session: %+v, %v", s, ok)
	}
	if _, ok := reg.senderRef("alice"); ok {
		t.Fatalf("replaced caller still indexed")
	}
	if ref, ok := reg.senderRef("bob"); !ok || ref.ChatID != "chat-1" || ref.ReceiverID != "alice" {
		t.Fatalf("senderRef(bob) = %+v, %v", ref, ok)
	}
	reg.Resolve("chat-1")
}

func TestResolveBySender(t *testing.T) {
	reg := NewRegistry(time.Hour, nil)
	reg.Open(session("chat-1", "alice", "bob", "m1"))
	reg.Open(session("chat-2", "carol", "dave", "m2"))

	s, ok := reg.ResolveBySender("alice")
	if !ok || s.ChatID != "chat-1" || s.Receiver.ID != "bob" {
		t.Fatalf("ResolveBySender() = %+v, %v", s, ok)
	}
	if _, ok := reg.ResolveBySender("alice"); ok {
		t.Fatalf("ResolveBySender() twice found a session")
	}
	if _, ok := reg.ResolveBySender("bob"); ok {
		t.Fatalf("receiver resolved as sender")
	}
	if _, ok := reg.Get("chat-2"); !ok {
		t.Fatalf("unrelated session removed")
	}
	reg.Resolve("chat-2")
}

func TestCandidatesKeepArrivalOrder(t *testing.T) {
	reg := NewRegistry(time.Hour, nil)
	for _, c := range []string{`"a"`, `"b"`, `"c"`} {
		reg.AddCandidate("chat-1", json.RawMessage(c))
	}
	reg.AddCandidate("", json.RawMessage(`"ignored"`))
	reg.AddCandidate("chat-1", nil)

	got := reg.Candidates("chat-1")
	if len(got) != 3 || string(got[0]) != `"a"` || string(got[2]) != `"c"` {
		t.Fatalf("Candidates() = %s", got)
	}

	// Open starts a fresh queue and Resolve drops it.
	reg.Open(session("chat-1", "alice", "bob", "m1"))
	reg.Resolve("chat-1")
	if len(reg.Candidates("chat-1")) != 0 {
		t.Fatalf("candidates survived resolve")
	}
}

func TestResolveWithoutSessionDropsCandidates(t *testing.T) {
	reg := NewRegistry(time.Hour, nil)
	reg.AddCandidate("chat-1", json.RawMessage(`"late"`))

	if _, ok := reg.Resolve("chat-1"); ok {
		t.Fatal("Resolve() found a session")
	}
	if c := reg.Candidates("chat-1"); len(c) != 0 {
		t.Fatalf("Candidates() after Resolve = %s", c)
	}
}

func TestOpenStartsWithEmptyQueue(t *testing.T) {
	reg := NewRegistry(time.Hour, nil)
	t.Cleanup(func() { reg.Resolve("chat-1") })
	reg.AddCandidate("chat-1", json.RawMessage(`"stale"`))

	reg.Open(session("chat-1", "alice", "bob", "m1"))
	if c := reg.Candidates("chat-1"); len(c) != 0 {
		t.Fatalf("Candidates() after Open = %s", c)
	}
}
