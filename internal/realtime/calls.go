package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/signaling"
	"github.com/haasonsaas/parley/internal/storage"
	"github.com/haasonsaas/parley/pkg/models"
)

// Offer starts a call: it records a call message and the pending session,
// then delivers the offer to the callee if present.
func (s *Service) Offer(ctx context.Context, c Client, req OfferRequest) error {
	if req.From.ID == "" || req.To.ID == "" || req.To.ChatID == "" || isEmptyJSON(req.Offer) {
		return invalid(errTypeCall, "data not provided properly")
	}
	chatID := req.To.ChatID
	ctx = observability.WithChatID(ctx, chatID)
	req.From.ChatID = chatID

	msg := &models.Message{
		ID:     s.newID(),
		ChatID: chatID,
		Sender: req.From.ID,
		Type:   models.MessageCall,
		Text:   models.CallTextCalling,
		Time:   s.now(),
		Status: models.StatusSent,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		s.storeFailed(ctx, "create_call_message", err)
		msg = nil
	}

	session := signaling.Session{
		ChatID:   chatID,
		Offer:    req.Offer,
		Sender:   req.From,
		Receiver: req.To,
		Video:    req.Video,
	}
	if msg != nil {
		session.MessageID = msg.ID
	}
	replaced := s.calls.Open(session)
	s.metrics.CallOpened(replaced != nil)
	if replaced != nil {
		s.logger.WarnContext(ctx, "pending call offer overwritten",
			"previous_sender", replaced.Sender.ID, "previous_message_id", replaced.MessageID)
	}

	if calleeConn, ok := s.reach(ctx, req.To.ID); ok {
		s.send(calleeConn, EventOffer, OfferNotice{ChatID: chatID, From: req.From, To: req.To, Offer: req.Offer, Video: req.Video})
		if msg != nil {
			s.send(calleeConn, EventReceiveMessage, ReceiveMessage{ChatID: chatID, Sender: req.From.ID, Info: []*models.Message{msg}})
		}
	}
	if msg != nil {
		s.send(c.ConnID, EventReceiveMessage, ReceiveMessage{ChatID: chatID, Sender: req.From.ID, Info: []*models.Message{msg}})
	}
	return nil
}

// Answer accepts the pending offer and relays the answer to the caller. The
// answer is relayed even when the session is already gone.
func (s *Service) Answer(ctx context.Context, c Client, req AnswerRequest) error {
	if req.From.ID == "" || req.To.ID == "" || req.To.ChatID == "" || isEmptyJSON(req.Answer) {
		return invalid(errTypeCall, "data not provided properly")
	}
	chatID := req.ChatID
	if chatID == "" {
		chatID = req.To.ChatID
	}
	ctx = observability.WithChatID(ctx, chatID)

	if session, ok := s.calls.Resolve(chatID); ok {
		s.metrics.CallResolved("answered")
		s.settleCallMessage(ctx, session, models.StatusRead, models.CallTextAnswered, c.ConnID, req.To.ID)
	}

	req.From.ChatID = chatID
	s.notify(ctx, req.To.ID, EventAnswer, AnswerNotice{ChatID: chatID, From: req.From, To: req.To, Answer: req.Answer})
	return nil
}

// Candidate relays an ICE candidate and queues it for replay.
func (s *Service) Candidate(ctx context.Context, c Client, req CandidateRequest) error {
	if req.From.ID == "" || req.To.ID == "" || req.To.ChatID == "" || isEmptyJSON(req.Candidate) {
		return invalid(errTypeCall, "data not provided properly")
	}
	from, to := req.From, req.To
	s.notify(ctx, req.To.ID, EventICECandidate, CandidateNotice{From: &from, To: &to, Candidate: req.Candidate})
	s.calls.AddCandidate(req.To.ChatID, req.Candidate)
	return nil
}

// EndCall abandons the pending offer, if any, and tells the peer. A peer of
// an answered call learns of the hangup this way too.
func (s *Service) EndCall(ctx context.Context, c Client, req EndCallRequest) error {
	if req.ChatID == "" || req.To.ID == "" {
		return invalid(errTypeCall, "data not provided properly")
	}
	ctx = observability.WithChatID(ctx, req.ChatID)

	if session, ok := s.calls.Resolve(req.ChatID); ok {
		s.metrics.CallResolved("ended")
		s.settleCallMessage(ctx, session, models.StatusUnread, models.CallTextMissed, c.ConnID, req.To.ID)
	}
	s.notify(ctx, req.To.ID, EventEndCall, EndCall{ChatID: req.ChatID})
	return nil
}

// offerExpired runs when an offer was neither answered nor ended in time.
func (s *Service) offerExpired(session signaling.Session) {
	ctx := observability.WithChatID(context.Background(), session.ChatID)
	s.metrics.CallResolved("timeout")
	s.logger.InfoContext(ctx, "call offer timed out", "sender", session.Sender.ID, "receiver", session.Receiver.ID)

	end := EndCall{ChatID: session.ChatID}
	senderConn, senderOK := s.reach(ctx, session.Sender.ID)
	receiverConn, receiverOK := s.reach(ctx, session.Receiver.ID)
	if senderOK {
		s.send(senderConn, EventEndCall, end)
	}
	if receiverOK {
		s.send(receiverConn, EventEndCall, end)
	}
	s.settleCallMessage(ctx, session, models.StatusUnread, models.CallTextMissed, senderConn, session.Receiver.ID)
}

// settleCallMessage records the final state of the session's call message and
// sends update-message to connID (when set) and to peerID (when present).
func (s *Service) settleCallMessage(ctx context.Context, session signaling.Session, status models.MessageStatus, text, connID, peerID string) {
	if session.MessageID == "" {
		return
	}
	if err := s.messages.UpdateStatusText(ctx, session.MessageID, status, text); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		s.storeFailed(ctx, "update_call_message", err, "message_id", session.MessageID)
	}
	update := UpdateMessage{ChatID: session.ChatID, MessageID: session.MessageID, Status: status, Text: text}
	if stored, err := s.messages.GetMessage(ctx, session.MessageID); err == nil {
		// A message the callee already read keeps its status.
		update.Status = stored.Status
	}
	s.notify(ctx, peerID, EventUpdateMessage, update)
	if connID != "" {
		s.send(connID, EventUpdateMessage, update)
	}
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) ||
		bytes.Equal(trimmed, []byte(`""`)) || bytes.Equal(trimmed, []byte("{}"))
}
