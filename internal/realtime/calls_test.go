package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/parley/pkg/models"
)

func offerReq(chatID string) OfferRequest {
	return OfferRequest{
		From:  contact("alice", ""),
		To:    contact("bob", chatID),
		Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		Video: true,
	}
}

// callMessage returns the call message alice's client was echoed.
func callMessage(t *testing.T, h *harness, connID string) *models.Message {
	t.Helper()
	for _, f := range h.emitter.framesFor(connID) {
		if f.event != EventReceiveMessage {
			continue
		}
		if msg := f.payload.(ReceiveMessage).Info[0]; msg.Type == models.MessageCall {
			return msg
		}
	}
	t.Fatalf("%s got no call message, frames = %v", connID, h.emitter.events(connID))
	return nil
}

func TestOfferTimesOutAsMissedCall(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, nil)
	ctx := context.Background()
	chatID := h.addContact(t, "alice", "bob")
	alice := h.connect(t, "alice", "a1")
	h.connect(t, "bob", "b1")

	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	f, ok := h.emitter.find("b1", EventOffer)
	if !ok {
		t.Fatalf("bob frames = %v", h.emitter.events("b1"))
	}
	if notice := f.payload.(OfferNotice); notice.ChatID != chatID || notice.From.ID != "alice" || !notice.Video {
		t.Fatalf("offer = %+v", notice)
	}
	msg := callMessage(t, h, "a1")
	if msg.Text != models.CallTextCalling {
		t.Fatalf("call message text = %q", msg.Text)
	}

	waitFor(t, "offer timeout", func() bool { return h.emitter.count("a1", EventUpdateMessage) == 1 })

	for _, conn := range []string{"a1", "b1"} {
		if n := h.emitter.count(conn, EventEndCall); n != 1 {
			t.Fatalf("%s end-call frames = %d, want 1", conn, n)
		}
	}
	if n := h.emitter.count("b1", EventUpdateMessage); n != 1 {
		t.Fatalf("bob update-message frames = %d, want 1", n)
	}
	got, err := h.messages.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if got.Text != models.CallTextMissed || got.Status != models.StatusUnread {
		t.Fatalf("call message = %+v, want missed/unread", got)
	}
	if n := h.svc.Calls().Pending(); n != 0 {
		t.Fatalf("Pending() = %d, want 0", n)
	}
}

func TestAnswerPreventsTimeout(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, nil)
	ctx := context.Background()
	chatID := h.addContact(t, "alice", "bob")
	alice := h.connect(t, "alice", "a1")
	bob := h.connect(t, "bob", "b1")

	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	msg := callMessage(t, h, "a1")

	err := h.svc.Answer(ctx, bob, AnswerRequest{
		ChatID: chatID,
		From:   contact("bob", chatID),
		To:     contact("alice", chatID),
		Answer: json.RawMessage(`{"type":"answer"}`),
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if _, ok := h.emitter.find("a1", EventAnswer); !ok {
		t.Fatalf("alice frames = %v", h.emitter.events("a1"))
	}
	got, _ := h.messages.GetMessage(ctx, msg.ID)
	if got.Text != models.CallTextAnswered || got.Status != models.StatusRead {
		t.Fatalf("call message = %+v, want answered/read", got)
	}
	for _, conn := range []string{"a1", "b1"} {
		if n := h.emitter.count(conn, EventUpdateMessage); n != 1 {
			t.Fatalf("%s update-message frames = %d, want 1", conn, n)
		}
	}

	time.Sleep(100 * time.Millisecond)
	for _, conn := range []string{"a1", "b1"} {
		if n := h.emitter.count(conn, EventEndCall); n != 0 {
			t.Fatalf("%s got end-call after answer", conn)
		}
	}

	// Hanging up an answered call only tells the peer.
	if err := h.svc.EndCall(ctx, bob, EndCallRequest{ChatID: chatID, To: contact("alice", chatID)}); err != nil {
		t.Fatalf("EndCall() error = %v", err)
	}
	if n := h.emitter.count("a1", EventEndCall); n != 1 {
		t.Fatalf("alice end-call frames = %d, want 1", n)
	}
	got, _ = h.messages.GetMessage(ctx, msg.ID)
	if got.Text != models.CallTextAnswered {
		t.Fatalf("hangup rewrote the call message to %q", got.Text)
	}
}

func TestEndCallBeforeAnswer(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, nil)
	ctx := context.Background()
	chatID := h.addContact(t, "alice", "bob")
	alice := h.connect(t, "alice", "a1")
	h.connect(t, "bob", "b1")

	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	msg := callMessage(t, h, "a1")
	if err := h.svc.EndCall(ctx, alice, EndCallRequest{ChatID: chatID, To: contact("bob", chatID)}); err != nil {
		t.Fatalf("EndCall() error = %v", err)
	}

	got, _ := h.messages.GetMessage(ctx, msg.ID)
	if got.Text != models.CallTextMissed || got.Status != models.StatusUnread {
		t.Fatalf("call message = %+v, want missed/unread", got)
	}
	if _, ok := h.emitter.find("b1", EventEndCall); !ok {
		t.Fatalf("bob frames = %v", h.emitter.events("b1"))
	}

	time.Sleep(80 * time.Millisecond)
	if n := h.emitter.count("b1", EventEndCall); n != 1 {
		t.Fatalf("bob end-call frames = %d, want 1", n)
	}
	if n := h.emitter.count("a1", EventEndCall); n != 0 {
		t.Fatalf("timer fired after end-call")
	}
}

func TestConnectReplaysCandidatesBeforeOffer(t *testing.T) {
	h := newHarness(t, time.Minute, nil)
	ctx := context.Background()
	chatID := h.addContact(t, "alice", "bob")
	alice := h.connect(t, "alice", "a1")
	t.Cleanup(func() { h.svc.Calls().Resolve(chatID) })

	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	for _, c := range []string{`{"c":1}`, `{"c":2}`} {
		err := h.svc.Candidate(ctx, alice, CandidateRequest{
			From:      contact("alice", ""),
			To:        contact("bob", chatID),
			Candidate: json.RawMessage(c),
		})
		if err != nil {
			t.Fatalf("Candidate() error = %v", err)
		}
	}

	h.connect(t, "bob", "b1")
	frames := h.emitter.framesFor("b1")
	if len(frames) < 3 {
		t.Fatalf("bob frames = %v", h.emitter.events("b1"))
	}
	wantEvents := []string{EventICECandidate, EventICECandidate, EventOffer}
	wantCandidates := []string{`{"c":1}`, `{"c":2}`}
	for i, want := range wantEvents {
		if frames[i].event != want {
			t.Fatalf("frame %d = %s, want %s (all: %v)", i, frames[i].event, want, h.emitter.events("b1"))
		}
		if i < 2 {
			if got := string(frames[i].payload.(CandidateNotice).Candidate); got != wantCandidates[i] {
				t.Fatalf("candidate %d = %s, want %s", i, got, wantCandidates[i])
			}
		}
	}
	if _, ok := h.emitter.find("a1", EventContactStatus); !ok {
		t.Fatal("alice got no contact-status")
	}
}

func TestDisconnectAbandonsOutgoingCall(t *testing.T) {
	h := newHarness(t, time.Minute, nil)
	ctx := context.Background()
	chatID := h.addContact(t, "alice", "bob")
	alice := h.connect(t, "alice", "a1")
	h.connect(t, "bob", "b1")

	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	msg := callMessage(t, h, "a1")
	h.disconnect(alice)

	if n := h.svc.Calls().Pending(); n != 0 {
		t.Fatalf("Pending() = %d, want 0", n)
	}
	got, _ := h.messages.GetMessage(ctx, msg.ID)
	if got.Text != models.CallTextMissed {
		t.Fatalf("call message text = %q, want missed", got.Text)
	}
	for _, event := range []string{EventUpdateMessage, EventEndCall, EventContactStatus} {
		if _, ok := h.emitter.find("b1", event); !ok {
			t.Fatalf("bob missing %s, frames = %v", event, h.emitter.events("b1"))
		}
	}
}

func TestSecondOfferReplacesFirst(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond, nil)
	ctx := context.Background()
	chatID := h.addContact(t, "alice", "bob")
	alice := h.connect(t, "alice", "a1")

	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("second Offer() error = %v", err)
	}

	// The first timer would have fired by now.
	time.Sleep(120 * time.Millisecond)
	if n := h.svc.Calls().Pending(); n != 1 {
		t.Fatalf("Pending() = %d, want the second session", n)
	}
	if n := h.emitter.count("a1", EventEndCall); n != 0 {
		t.Fatalf("end-call frames = %d before the second timeout", n)
	}
	waitFor(t, "second timeout", func() bool { return h.emitter.count("a1", EventEndCall) == 1 })
}

func TestCallValidation(t *testing.T) {
	h := newHarness(t, time.Minute, nil)
	ctx := context.Background()
	alice := h.connect(t, "alice", "a1")

	req := offerReq("chat")
	req.Offer = nil
	if err := h.svc.Offer(ctx, alice, req); KindOf(err) != KindValidation {
		t.Fatalf("Offer() without sdp error = %v", err)
	}
	if err := h.svc.Answer(ctx, alice, AnswerRequest{}); KindOf(err) != KindValidation {
		t.Fatalf("Answer() error = %v", err)
	}
	if err := h.svc.EndCall(ctx, alice, EndCallRequest{ChatID: "chat"}); KindOf(err) != KindValidation {
		t.Fatalf("EndCall() error = %v", err)
	}
}

func TestEndCallClearsCandidatesOfAnsweredCall(t *testing.T) {
	h := newHarness(t, time.Minute, nil)
	ctx := context.Background()
	chatID := h.addContact(t, "alice", "bob")
	alice := h.connect(t, "alice", "a1")
	bob := h.connect(t, "bob", "b1")
	t.Cleanup(func() { h.svc.Calls().Resolve(chatID) })

	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	err := h.svc.Answer(ctx, bob, AnswerRequest{
		ChatID: chatID,
		From:   contact("bob", chatID),
		To:     contact("alice", chatID),
		Answer: json.RawMessage(`{"type":"answer"}`),
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	for _, c := range []string{`{"c":1}`, `{"c":2}`, `{"c":3}`} {
		err := h.svc.Candidate(ctx, bob, CandidateRequest{
			From:      contact("bob", ""),
			To:        contact("alice", chatID),
			Candidate: json.RawMessage(c),
		})
		if err != nil {
			t.Fatalf("Candidate() error = %v", err)
		}
	}
	if n := len(h.svc.Calls().Candidates(chatID)); n != 3 {
		t.Fatalf("queued candidates during call = %d, want 3", n)
	}

	if err := h.svc.EndCall(ctx, alice, EndCallRequest{ChatID: chatID, To: contact("bob", chatID)}); err != nil {
		t.Fatalf("EndCall() error = %v", err)
	}
	if n := len(h.svc.Calls().Candidates(chatID)); n != 0 {
		t.Fatalf("queued candidates after end-call = %d, want 0", n)
	}

	h.disconnect(bob)
	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("second Offer() error = %v", err)
	}
	h.connect(t, "bob", "b2")
	if n := h.emitter.count("b2", EventICECandidate); n != 0 {
		t.Fatalf("bob replayed %d candidates from the previous call", n)
	}
	if n := h.emitter.count("b2", EventOffer); n != 1 {
		t.Fatalf("bob offer frames = %d, want 1 (all: %v)", n, h.emitter.events("b2"))
	}
}

func TestAnswerClearsQueuedCandidates(t *testing.T) {
	h := newHarness(t, time.Minute, nil)
	ctx := context.Background()
	chatID := h.addContact(t, "alice", "bob")
	alice := h.connect(t, "alice", "a1")
	bob := h.connect(t, "bob", "b1")

	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	err := h.svc.Candidate(ctx, alice, CandidateRequest{
		From:      contact("alice", ""),
		To:        contact("bob", chatID),
		Candidate: json.RawMessage(`{"c":1}`),
	})
	if err != nil {
		t.Fatalf("Candidate() error = %v", err)
	}
	err = h.svc.Answer(ctx, bob, AnswerRequest{
		ChatID: chatID,
		From:   contact("bob", chatID),
		To:     contact("alice", chatID),
		Answer: json.RawMessage(`{"type":"answer"}`),
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if n := len(h.svc.Calls().Candidates(chatID)); n != 0 {
		t.Fatalf("queued candidates after answer = %d, want 0", n)
	}
}

func TestReadCallMessageStaysReadAfterEndCall(t *testing.T) {
	h := newHarness(t, time.Minute, nil)
	ctx := context.Background()
	chatID := h.addContact(t, "alice", "bob")
	alice := h.connect(t, "alice", "a1")
	bob := h.connect(t, "bob", "b1")

	if err := h.svc.Offer(ctx, alice, offerReq(chatID)); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	msg := callMessage(t, h, "a1")
	if err := h.svc.ReadMessages(ctx, bob, ReadMessagesRequest{ChatID: chatID, ContactID: "alice"}); err != nil {
		t.Fatalf("ReadMessages() error = %v", err)
	}
	if err := h.svc.EndCall(ctx, alice, EndCallRequest{ChatID: chatID, To: contact("bob", chatID)}); err != nil {
		t.Fatalf("EndCall() error = %v", err)
	}

	got, _ := h.messages.GetMessage(ctx, msg.ID)
	if got.Status != models.StatusRead || got.Text != models.CallTextMissed {
		t.Fatalf("call message = %s/%q, want read/%q", got.Status, got.Text, models.CallTextMissed)
	}
	f, ok := h.emitter.find("b1", EventUpdateMessage)
	if !ok || f.payload.(UpdateMessage).Status != models.StatusRead {
		t.Fatalf("bob update-message = %+v, %v", f.payload, ok)
	}
}
