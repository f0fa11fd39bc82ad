package realtime

import (
	"context"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

// Connect registers the connection as the user's current one, replays call
// offers still waiting for the user and tells present contacts the user came
// online. Messages the user missed while away become unread.
func (s *Service) Connect(ctx context.Context, c Client) error {
	if c.UserID == "" || c.ConnID == "" {
		return invalid(errTypeEvent, "user id is required")
	}
	ctx = observability.WithUserID(observability.WithConnID(ctx, c.ConnID), c.UserID)

	if err := s.presence.SetOnline(ctx, c.UserID, c.ConnID); err != nil {
		s.logger.WarnContext(ctx, "presence store unavailable on connect", "error", err)
	}

	rows, err := s.ChatList(ctx, c.UserID, false)
	if err != nil {
		s.storeFailed(ctx, "chat_list", err)
		return err
	}

	for _, row := range rows {
		if row.IsOnline {
			s.replayOffer(ctx, c, row)
			s.notify(ctx, row.ID, EventContactStatus, ContactStatus{ChatID: row.ChatID, IsOnline: true})
		}
		if _, err := s.messages.MarkUnread(ctx, row.ChatID, row.ID); err != nil {
			s.storeFailed(ctx, "mark_unread", err, "chat_id", row.ChatID)
		}
	}
	s.logger.DebugContext(ctx, "client connected", "contacts", len(rows))
	return nil
}

// replayOffer delivers the queued candidates and then the offer of a pending
// call placed by the contact.
func (s *Service) replayOffer(ctx context.Context, c Client, contact models.Contact) {
	session, ok := s.calls.Get(contact.ChatID)
	if !ok || session.Sender.ID != contact.ID {
		return
	}
	for _, candidate := range s.calls.Candidates(contact.ChatID) {
		s.send(c.ConnID, EventICECandidate, CandidateNotice{Candidate: candidate})
	}
	s.send(c.ConnID, EventOffer, OfferNotice{
		ChatID: session.ChatID,
		From:   session.Sender,
		To:     session.Receiver,
		Offer:  session.Offer,
		Video:  session.Video,
	})
}

// Disconnect abandons any call the user was placing, announces the user as
// offline when c is still the user's current connection and releases the
// connection's presence.
func (s *Service) Disconnect(ctx context.Context, c Client) {
	ctx = observability.WithConnID(ctx, c.ConnID)
	userID, ok := s.presence.UserForConn(ctx, c.ConnID)
	if !ok {
		userID = c.UserID
	}
	if userID == "" {
		s.presence.Clear(ctx, c.ConnID, "")
		return
	}
	ctx = observability.WithUserID(ctx, userID)

	if session, ok := s.calls.ResolveBySender(userID); ok {
		s.metrics.CallResolved("disconnect")
		cctx := observability.WithChatID(ctx, session.ChatID)
		s.settleCallMessage(cctx, session, models.StatusUnread, models.CallTextMissed, "", session.Receiver.ID)
		s.notify(cctx, session.Receiver.ID, EventEndCall, EndCall{ChatID: session.ChatID})
	}

	if s.presence.IsCurrent(ctx, userID, c.ConnID) {
		rows, err := s.ChatList(ctx, userID, false)
		if err != nil {
			s.storeFailed(ctx, "chat_list", err)
		}
		for _, row := range rows {
			if row.IsOnline {
				s.notify(ctx, row.ID, EventContactStatus, ContactStatus{ChatID: row.ChatID, IsOnline: false})
			}
		}
	}

	if !s.presence.Clear(ctx, c.ConnID, userID) {
		s.logger.DebugContext(ctx, "user presence kept for newer connection")
	}
	s.logger.DebugContext(ctx, "client disconnected")
}
