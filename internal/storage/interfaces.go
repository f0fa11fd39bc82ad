package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/haasonsaas/parley/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ChatStore persists chat visibility records.
type ChatStore interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]*models.Chat, error)
	// FindChatBetween returns the chat shared by two users, or ErrNotFound.
	FindChatBetween(ctx context.Context, userA, userB string) (*models.Chat, error)
	SetBlocked(ctx context.Context, id string, blocked bool, blockedBy string) error
	AddDeletedBy(ctx context.Context, id, userID string) error
	// DeleteChat removes the chat together with all of its messages.
	DeleteChat(ctx context.Context, id string) error
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// UpdateStatusText sets the text and, unless the message is already
	// read, the status.
	UpdateStatusText(ctx context.Context, id string, status models.MessageStatus, text string) error
	SetAttachment(ctx context.Context, id, attach, fileID string) error
	// MarkRead moves every message from sender in the chat to read.
	MarkRead(ctx context.Context, chatID, sender string) (int64, error)
	// MarkUnread moves sender's sent messages in the chat to unread.
	MarkUnread(ctx context.Context, chatID, sender string) (int64, error)
	ListBySender(ctx context.Context, chatID, sender string, ids []string) ([]*models.Message, error)
	// MarkDeleted turns a message into a deleted placeholder.
	MarkDeleted(ctx context.Context, id string) error
	DeleteMessage(ctx context.Context, id string) error
	// Summarize reports the last message time and the number of messages
	// not sent by userID that are not yet read.
	Summarize(ctx context.Context, chatID, userID string) (models.MessageSummary, error)
}

// UserStore reads user profiles owned by the account service.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.UserProfile, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Chats    ChatStore
	Messages MessageStore
	Users    UserStore

	db      *sql.DB
	dialect dialect
	closer  func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
