package realtime

import (
	"context"
	"errors"

	"github.com/haasonsaas/parley/internal/assets"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/storage"
	"github.com/haasonsaas/parley/pkg/models"
)

// SendMessage persists each item of req and delivers it to both sides.
// Items fail individually; a failed item is reported to the sender and the
// remaining items are still sent.
func (s *Service) SendMessage(ctx context.Context, c Client, req SendMessageRequest) error {
	if err := s.checkOutgoing(ctx, c, EventSendMessage, req.ID, req.ParticipantID, req.ChatID, len(req.Info)); err != nil {
		return err
	}
	ctx = observability.WithChatID(ctx, req.ChatID)

	recipientConn, online := s.reach(ctx, req.ParticipantID)
	status := models.StatusSent
	if online {
		status = models.StatusUnread
	}

	for _, item := range req.Info {
		if item.Type == "" {
			item.Type = models.MessageText
		}
		switch {
		case item.Type == models.MessageText && item.Text == "":
			continue
		case !sendable(item.Type):
			s.sendError(c.ConnID, invalid(EventSendMessage, "unsupported message type "+string(item.Type)))
			continue
		}

		msg := &models.Message{
			ID:     s.newID(),
			ChatID: req.ChatID,
			Sender: req.ID,
			Type:   item.Type,
			Text:   item.Text,
			Attach: item.Attach,
			FileID: item.FileID,
			Time:   s.now(),
			Status: status,
		}

		var staged string
		if item.Type.IsMedia() && len(item.Data) > 0 {
			if s.spool == nil {
				s.sendError(c.ConnID, invalid(errTypeUpload, "attachments are not accepted"))
				continue
			}
			name, err := s.spool.Stage(item.Name, item.Data)
			if err != nil {
				s.logger.ErrorContext(ctx, "failed to stage attachment", "error", err)
				s.sendError(c.ConnID, &Error{Kind: KindStore, Type: errTypeUpload, Message: "error in sending file"})
				continue
			}
			staged = name
			msg.Attach = name
			msg.FileID = ""
		}

		if err := s.messages.CreateMessage(ctx, msg); err != nil {
			s.storeFailed(ctx, "create_message", err)
			s.sendError(c.ConnID, storeFailure(EventSendMessage, "error in sending message", err))
			if staged != "" {
				s.spool.Discard(staged)
			}
			continue
		}

		out := ReceiveMessage{ChatID: req.ChatID, Sender: req.ID, Info: []*models.Message{msg}}
		if online {
			s.send(recipientConn, EventReceiveMessage, out)
		}
		s.send(c.ConnID, EventReceiveMessage, out)

		if staged != "" {
			job := assets.Job{ChatID: req.ChatID, MessageID: msg.ID, Name: staged}
			if err := s.spool.Enqueue(job); err != nil {
				s.logger.ErrorContext(ctx, "failed to queue attachment upload", "message_id", msg.ID, "error", err)
				s.spool.Discard(staged)
				s.sendError(c.ConnID, &Error{Kind: KindStore, Type: errTypeUpload, Message: "error in sending file"})
			}
		}
	}
	return nil
}

// ForwardMessage copies each item into the target chat as a new forwarded
// message from the caller.
func (s *Service) ForwardMessage(ctx context.Context, c Client, req SendMessageRequest) error {
	if err := s.checkOutgoing(ctx, c, EventForwardMessage, req.ID, req.ParticipantID, req.ChatID, len(req.Info)); err != nil {
		return err
	}
	ctx = observability.WithChatID(ctx, req.ChatID)

	recipientConn, online := s.reach(ctx, req.ParticipantID)
	status := models.StatusSent
	if online {
		status = models.StatusUnread
	}

	for _, item := range req.Info {
		if item.Type == "" {
			item.Type = models.MessageText
		}
		msg := &models.Message{
			ID:        s.newID(),
			ChatID:    req.ChatID,
			Sender:    req.ID,
			Type:      item.Type,
			Text:      item.Text,
			Attach:    item.Attach,
			FileID:    item.FileID,
			Time:      s.now(),
			Status:    status,
			Forwarded: true,
		}
		if err := s.messages.CreateMessage(ctx, msg); err != nil {
			s.storeFailed(ctx, "create_message", err)
			s.sendError(c.ConnID, storeFailure(EventForwardMessage, "error in forwarding message", err))
			continue
		}

		out := ReceiveMessage{ChatID: req.ChatID, Sender: req.ID, Info: []*models.Message{msg}}
		if online {
			s.send(recipientConn, EventReceiveMessage, out)
		}
		s.send(c.ConnID, EventReceiveMessage, out)
	}
	return nil
}

// checkOutgoing validates a send or forward request and the chat it targets.
func (s *Service) checkOutgoing(ctx context.Context, c Client, typ, senderID, participantID, chatID string, items int) error {
	if senderID == "" || participantID == "" || chatID == "" || items == 0 {
		return invalid(typ, "fields are not provided")
	}
	if participantID == senderID {
		return invalid(typ, "cannot send a message to yourself")
	}
	if senderID != c.UserID {
		return invalid(typ, "sender does not match the connection")
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return invalid(typ, "chat not found")
		}
		return storeFailure(typ, "error loading chat", err)
	}
	if !chat.HasParticipant(senderID) || !chat.HasParticipant(participantID) {
		return invalid(typ, "chat not found")
	}
	return nil
}

func sendable(t models.MessageType) bool {
	switch t {
	case models.MessageText, models.MessageEmoji:
		return true
	}
	return t.IsMedia()
}

// ReadMessages marks the contact's messages in the chat as read and tells
// the contact.
func (s *Service) ReadMessages(ctx context.Context, c Client, req ReadMessagesRequest) error {
	if req.ChatID == "" || req.ContactID == "" {
		return nil
	}
	ctx = observability.WithChatID(ctx, req.ChatID)
	if _, err := s.messages.MarkRead(ctx, req.ChatID, req.ContactID); err != nil {
		s.storeFailed(ctx, "mark_read", err)
		return storeFailure(errTypeRead, "error marking messages read", err)
	}
	s.notify(ctx, req.ContactID, EventReadMessages, req.ChatID)
	return nil
}

// DeleteMessages deletes the caller's own messages. A message that is already
// a deleted placeholder is purged; any other becomes a placeholder. Assets
// are released in both cases.
func (s *Service) DeleteMessages(ctx context.Context, c Client, req DeleteMessageRequest) error {
	if req.ID == "" || req.ContactID == "" || len(req.MessageIDList) == 0 {
		return invalid(EventDeleteMessage, "data not provided properly")
	}
	if req.ID != c.UserID {
		return invalid(EventDeleteMessage, "sender does not match the connection")
	}
	ctx = observability.WithChatID(ctx, req.ChatID)

	msgs, err := s.messages.ListBySender(ctx, req.ChatID, req.ID, req.MessageIDList)
	if err != nil {
		s.storeFailed(ctx, "list_messages", err)
		return storeFailure(EventDeleteMessage, "error while deleting", err)
	}

	contactConn, online := s.reach(ctx, req.ContactID)
	for _, msg := range msgs {
		if msg.Deleted {
			err = s.messages.DeleteMessage(ctx, msg.ID)
		} else {
			err = s.messages.MarkDeleted(ctx, msg.ID)
		}
		if err != nil {
			s.storeFailed(ctx, "delete_message", err, "message_id", msg.ID)
			continue
		}
		s.releaseAsset(ctx, msg)

		out := DeletedMessage{ChatID: req.ChatID, MessageID: msg.ID}
		s.send(c.ConnID, EventDeletedMessage, out)
		if online {
			s.send(contactConn, EventDeletedMessage, out)
		}
	}
	return nil
}

func (s *Service) releaseAsset(ctx context.Context, msg *models.Message) {
	if msg.FileID == "" || s.spool == nil {
		return
	}
	if err := s.spool.Uploader().Delete(ctx, msg.FileID); err != nil {
		s.logger.WarnContext(ctx, "failed to release asset", "message_id", msg.ID, "file_id", msg.FileID, "error", err)
	}
}

// Typing relays a typing indicator to the participant.
func (s *Service) Typing(ctx context.Context, c Client, req TypingRequest) error {
	if req.ParticipantID == "" {
		return nil
	}
	s.notify(ctx, req.ParticipantID, EventTyping, c.UserID)
	return nil
}

// uploadFinished patches the message with its uploaded asset and tells both
// participants.
func (s *Service) uploadFinished(ctx context.Context, r assets.Result) {
	if r.Err != nil {
		return
	}
	ctx = observability.WithChatID(ctx, r.ChatID)

	if err := s.messages.SetAttachment(ctx, r.MessageID, r.Asset.URL, r.Asset.FileID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The message was purged while uploading.
			if derr := s.spool.Uploader().Delete(ctx, r.Asset.FileID); derr != nil {
				s.logger.WarnContext(ctx, "failed to release orphaned asset", "file_id", r.Asset.FileID, "error", derr)
			}
			return
		}
		s.storeFailed(ctx, "set_attachment", err, "message_id", r.MessageID)
		return
	}

	chat, err := s.chats.GetChat(ctx, r.ChatID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.storeFailed(ctx, "get_chat", err)
		}
		return
	}
	out := MessageFiles{ChatID: r.ChatID, MessageID: r.MessageID, Attach: r.Asset.URL, FileID: r.Asset.FileID}
	for _, participant := range chat.Participants {
		s.notify(ctx, participant, EventReceiveMessageFiles, out)
	}
}
