package realtime

import (
	"context"
	"errors"
	"sort"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/storage"
	"github.com/haasonsaas/parley/pkg/models"
)

// Info message texts appended on chat lifecycle changes.
const (
	infoChatCreated = "enjoy the chat"
	infoBlocked     = "Blocked"
	infoUnblocked   = "unblocked"
)

// ChatList derives the user's contact rows, newest activity first. Chats the
// user deleted and chats whose counterpart no longer exists are omitted.
// Unread counts are filled only when withUnread is set.
func (s *Service) ChatList(ctx context.Context, userID string, withUnread bool) ([]models.Contact, error) {
	chats, err := s.chats.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, storeFailure(errTypeChat, "error loading chats", err)
	}

	rows := make([]models.Contact, 0, len(chats))
	for _, chat := range chats {
		if chat.DeletedByUser(userID) {
			continue
		}
		row, ok, err := s.contactRow(ctx, userID, chat, withUnread)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].UpdatedAt > rows[j].UpdatedAt })
	return rows, nil
}

// contactRow builds the row describing chat's counterpart as seen by userID.
// The boolean is false when the counterpart's profile no longer exists.
func (s *Service) contactRow(ctx context.Context, userID string, chat *models.Chat, withUnread bool) (models.Contact, bool, error) {
	counterpart := chat.Counterpart(userID)
	profile, err := s.users.GetUser(ctx, counterpart)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Contact{}, false, nil
		}
		return models.Contact{}, false, storeFailure(errTypeChat, "error loading contact", err)
	}

	deletedByContact := chat.DeletedByUser(counterpart)
	row := models.Contact{
		UserProfile: *profile,
		ChatID:      chat.ID,
		IsBlocked:   chat.IsBlocked,
		BlockedBy:   chat.BlockedBy,
		IsDeleted:   deletedByContact,
	}
	if !chat.IsBlocked && !deletedByContact {
		_, row.IsOnline = s.reach(ctx, counterpart)
	}
	if chat.IsBlocked {
		blank := ""
		row.Profile = &blank
	}
	if deletedByContact {
		row.UserProfile = models.DefaultUserProfile()
	}

	summary, err := s.messages.Summarize(ctx, chat.ID, userID)
	if err != nil {
		return models.Contact{}, false, storeFailure(errTypeChat, "error loading messages", err)
	}
	if !summary.LastMessageAt.IsZero() {
		row.UpdatedAt = summary.LastMessageAt.UnixMilli()
	}
	if withUnread {
		row.UnreadCount = summary.UnreadCount
	}
	return row, true, nil
}

// AddContact creates a chat between userID and contactID.
func (s *Service) AddContact(ctx context.Context, userID, contactID string) (models.Contact, error) {
	if userID == "" || contactID == "" {
		return models.Contact{}, invalid(errTypeChat, "required fields not provided")
	}
	if userID == contactID {
		return models.Contact{}, invalid(errTypeChat, "cannot add yourself")
	}

	contact, err := s.lookupUser(ctx, contactID, "contact not found")
	if err != nil {
		return models.Contact{}, err
	}
	creator, err := s.lookupUser(ctx, userID, "user not found")
	if err != nil {
		return models.Contact{}, err
	}

	if _, err := s.chats.FindChatBetween(ctx, userID, contactID); err == nil {
		return models.Contact{}, conflict(errTypeChat, "chat already exists with this user")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.Contact{}, storeFailure(errTypeChat, "error checking existing chat", err)
	}

	chat := &models.Chat{
		ID:           s.newID(),
		Participants: []string{userID, contactID},
		Type:         models.ChatOneToOne,
		Status:       models.ChatActive,
		DeletedBy:    []string{},
	}
	if err := s.chats.CreateChat(ctx, chat); err != nil {
		return models.Contact{}, storeFailure(errTypeChat, "error creating chat", err)
	}
	ctx = observability.WithChatID(ctx, chat.ID)
	s.appendInfo(ctx, chat.ID, userID, infoChatCreated)

	row := models.Contact{UserProfile: *contact, ChatID: chat.ID}
	if contactConn, ok := s.reach(ctx, contactID); ok {
		row.IsOnline = true
		_, creatorOnline := s.reach(ctx, userID)
		s.send(contactConn, EventAddedContact, models.Contact{
			UserProfile: *creator,
			ChatID:      chat.ID,
			IsOnline:    creatorOnline,
		})
	}
	return row, nil
}

// BlockChat blocks the chat on behalf of userID.
func (s *Service) BlockChat(ctx context.Context, userID, chatID string) (models.Contact, error) {
	chat, err := s.participantChat(ctx, userID, chatID)
	if err != nil {
		return models.Contact{}, err
	}
	if chat.IsBlocked {
		return models.Contact{}, conflict(errTypeChat, "already blocked")
	}
	ctx = observability.WithChatID(ctx, chatID)

	if err := s.chats.SetBlocked(ctx, chatID, true, userID); err != nil {
		return models.Contact{}, storeFailure(errTypeChat, "error blocking chat", err)
	}
	s.appendInfo(ctx, chatID, userID, infoBlocked)
	chat.IsBlocked, chat.BlockedBy = true, userID

	offline := false
	s.notify(ctx, chat.Counterpart(userID), EventBlockUpdate, BlockUpdate{
		ChatID:    chatID,
		IsBlocked: true,
		IsOnline:  &offline,
		BlockedBy: userID,
	})
	return s.resultRow(ctx, userID, chat)
}

// UnblockChat lifts a block. Only the user who blocked may unblock.
func (s *Service) UnblockChat(ctx context.Context, userID, chatID string) (models.Contact, error) {
	chat, err := s.participantChat(ctx, userID, chatID)
	if err != nil {
		return models.Contact{}, err
	}
	if !chat.IsBlocked {
		return models.Contact{}, conflict(errTypeChat, "chat is not blocked")
	}
	if chat.BlockedBy != userID {
		return models.Contact{}, forbidden(errTypeChat, "you haven't blocked this chat")
	}
	ctx = observability.WithChatID(ctx, chatID)

	if err := s.chats.SetBlocked(ctx, chatID, false, ""); err != nil {
		return models.Contact{}, storeFailure(errTypeChat, "error unblocking chat", err)
	}
	s.appendInfo(ctx, chatID, userID, infoUnblocked)
	chat.IsBlocked, chat.BlockedBy = false, ""

	s.notify(ctx, chat.Counterpart(userID), EventBlockUpdate, BlockUpdate{ChatID: chatID})
	return s.resultRow(ctx, userID, chat)
}

// DeleteChat soft-deletes the chat for userID, or purges it with all of its
// messages when the counterpart already deleted it.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) (models.Contact, error) {
	chat, err := s.participantChat(ctx, userID, chatID)
	if err != nil {
		return models.Contact{}, err
	}
	if chat.DeletedByUser(userID) {
		return models.Contact{}, conflict(errTypeChat, "chat already deleted")
	}
	ctx = observability.WithChatID(ctx, chatID)

	actor, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return models.Contact{}, storeFailure(errTypeChat, "error loading user", err)
		}
		actor = &models.UserProfile{ID: userID, Username: "user"}
	}

	counterpart := chat.Counterpart(userID)
	event := EventDeletedByContact
	notice := ProfileNotice{UserProfile: *actor, ChatID: chatID}
	if chat.DeletedByUser(counterpart) {
		if err := s.chats.DeleteChat(ctx, chatID); err != nil {
			return models.Contact{}, storeFailure(errTypeChat, "error deleting chat", err)
		}
		event = EventDeletedContact
		notice.UserProfile = models.DefaultUserProfile()
		s.logger.InfoContext(ctx, "chat purged", "deleted_by", []string{counterpart, userID})
	} else {
		if err := s.chats.AddDeletedBy(ctx, chatID, userID); err != nil {
			return models.Contact{}, storeFailure(errTypeChat, "error deleting chat", err)
		}
		username := actor.Username
		if username == "" {
			username = "user"
		}
		s.appendInfo(ctx, chatID, userID, "deleted by "+username)
	}
	s.notify(ctx, counterpart, event, notice)

	row := models.Contact{ChatID: chatID, IsDeleted: true}
	if profile, err := s.users.GetUser(ctx, counterpart); err == nil {
		row.UserProfile = *profile
	} else {
		row.UserProfile = models.UserProfile{ID: counterpart}
	}
	return row, nil
}

func (s *Service) participantChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	if userID == "" || chatID == "" {
		return nil, invalid(errTypeChat, "required fields not provided")
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound(errTypeChat, "chat doesn't exist")
		}
		return nil, storeFailure(errTypeChat, "error loading chat", err)
	}
	if !chat.HasParticipant(userID) {
		return nil, notFound(errTypeChat, "chat doesn't exist")
	}
	return chat, nil
}

func (s *Service) lookupUser(ctx context.Context, id, missing string) (*models.UserProfile, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound(errTypeChat, missing)
		}
		return nil, storeFailure(errTypeChat, "error loading user", err)
	}
	return user, nil
}

func (s *Service) resultRow(ctx context.Context, userID string, chat *models.Chat) (models.Contact, error) {
	row, ok, err := s.contactRow(ctx, userID, chat, false)
	if err != nil {
		return models.Contact{}, err
	}
	if !ok {
		row = models.Contact{
			UserProfile: models.UserProfile{ID: chat.Counterpart(userID)},
			ChatID:      chat.ID,
			IsBlocked:   chat.IsBlocked,
			BlockedBy:   chat.BlockedBy,
		}
	}
	return row, nil
}

// appendInfo records an informational message in the chat. Failures are
// logged and counted only.
func (s *Service) appendInfo(ctx context.Context, chatID, senderID, text string) {
	msg := &models.Message{
		ID:     s.newID(),
		ChatID: chatID,
		Sender: senderID,
		Type:   models.MessageInfo,
		Text:   text,
		Time:   s.now(),
		Status: models.StatusSent,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		s.storeFailed(ctx, "create_info_message", err)
	}
}
