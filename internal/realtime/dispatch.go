package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/haasonsaas/parley/internal/observability"
)

// Dispatch decodes and handles one inbound event from c. Failures meant for
// the client are sent to c as an error event; the returned error is for
// logging only.
func (s *Service) Dispatch(ctx context.Context, c Client, event string, data json.RawMessage) error {
	start := time.Now()
	ctx = observability.WithEvent(observability.WithUserID(observability.WithConnID(ctx, c.ConnID), c.UserID), event)
	ctx, span := s.tracer.TraceEvent(ctx, event, c.ConnID)
	defer span.End()

	err := s.route(ctx, c, event, data)

	label := event
	if !knownEvent(event) {
		label = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
		s.tracer.RecordError(span, err)
		s.report(ctx, c, err)
	}
	s.metrics.EventHandled(label, outcome, time.Since(start).Seconds())
	return err
}

func (s *Service) route(ctx context.Context, c Client, event string, data json.RawMessage) error {
	switch event {
	case EventSendMessage:
		var req SendMessageRequest
		if err := decode(event, data, &req); err != nil {
			return err
		}
		return s.SendMessage(ctx, c, req)
	case EventForwardMessage:
		var req SendMessageRequest
		if err := decode(event, data, &req); err != nil {
			return err
		}
		return s.ForwardMessage(ctx, c, req)
	case EventDeleteMessage:
		var req DeleteMessageRequest
		if err := decode(event, data, &req); err != nil {
			return err
		}
		return s.DeleteMessages(ctx, c, req)
	case EventReadMessages:
		var req ReadMessagesRequest
		if err := decode(errTypeRead, data, &req); err != nil {
			return err
		}
		return s.ReadMessages(ctx, c, req)
	case EventTyping:
		var req TypingRequest
		if err := decode(event, data, &req); err != nil {
			return err
		}
		return s.Typing(ctx, c, req)
	case EventOffer:
		var req OfferRequest
		if err := decode(errTypeCall, data, &req); err != nil {
			return err
		}
		return s.Offer(ctx, c, req)
	case EventAnswer:
		var req AnswerRequest
		if err := decode(errTypeCall, data, &req); err != nil {
			return err
		}
		return s.Answer(ctx, c, req)
	case EventICECandidate:
		var req CandidateRequest
		if err := decode(errTypeCall, data, &req); err != nil {
			return err
		}
		return s.Candidate(ctx, c, req)
	case EventEndCall:
		var req EndCallRequest
		if err := decode(errTypeCall, data, &req); err != nil {
			return err
		}
		return s.EndCall(ctx, c, req)
	default:
		return invalid(errTypeEvent, "unknown event "+event)
	}
}

// report sends err to the client unless it is a not-found, which is silent on
// the realtime path.
func (s *Service) report(ctx context.Context, c Client, err error) {
	var rerr *Error
	if !errors.As(err, &rerr) {
		s.logger.ErrorContext(ctx, "event handler failed", "error", err)
		s.sendError(c.ConnID, &Error{Type: errTypeEvent, Message: "internal error"})
		return
	}
	if rerr.Kind == KindStore {
		s.logger.ErrorContext(ctx, "event handler failed", "error", err)
	}
	if rerr.Kind == KindNotFound {
		return
	}
	s.sendError(c.ConnID, rerr)
}

func decode(typ string, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return invalid(typ, "data not provided")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Kind: KindValidation, Type: typ, Message: "malformed payload", Err: err}
	}
	return nil
}

func knownEvent(event string) bool {
	switch event {
	case EventSendMessage, EventForwardMessage, EventDeleteMessage, EventReadMessages, EventTyping,
		EventOffer, EventAnswer, EventICECandidate, EventEndCall:
		return true
	}
	return false
}
