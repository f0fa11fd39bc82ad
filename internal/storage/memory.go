package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/haasonsaas/parley/pkg/models"
)

// NewMemoryStores creates a StoreSet backed by process memory.
func NewMemoryStores() StoreSet {
	messages := NewMemoryMessageStore()
	return StoreSet{
		Chats:    NewMemoryChatStore(messages),
		Messages: messages,
		Users:    NewMemoryUserStore(),
	}
}

// MemoryChatStore provides an in-memory ChatStore.
type MemoryChatStore struct {
	mu       sync.RWMutex
	chats    map[string]*models.Chat
	messages *MemoryMessageStore
}

// NewMemoryChatStore creates an in-memory chat store. Purging a chat also
// purges its messages from messages when it is non-nil.
func NewMemoryChatStore(messages *MemoryMessageStore) *MemoryChatStore {
	return &MemoryChatStore{chats: make(map[string]*models.Chat), messages: messages}
}

func (s *MemoryChatStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("chat is required")
	}
	if len(chat.Participants) != 2 {
		return fmt.Errorf("chat requires two participants, got %d", len(chat.Participants))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chats[chat.ID]; exists {
		return ErrAlreadyExists
	}
	s.chats[chat.ID] = chat.Clone()
	return nil
}

func (s *MemoryChatStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return chat.Clone(), nil
}

func (s *MemoryChatStore) ListChatsForUser(ctx context.Context, userID string) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]*models.Chat, 0)
	for _, chat := range s.chats {
		if chat.HasParticipant(userID) {
			chats = append(chats, chat.Clone())
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return chats, nil
}

func (s *MemoryChatStore) FindChatBetween(ctx context.Context, userA, userB string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, chat := range s.chats {
		if chat.HasParticipant(userA) && chat.HasParticipant(userB) {
			return chat.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryChatStore) SetBlocked(ctx context.Context, id string, blocked bool, blockedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	chat.IsBlocked = blocked
	chat.BlockedBy = blockedBy
	return nil
}

func (s *MemoryChatStore) AddDeletedBy(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(chat.DeletedBy, userID) {
		chat.DeletedBy = append(chat.DeletedBy, userID)
	}
	return nil
}

func (s *MemoryChatStore) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.chats[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.chats, id)
	s.mu.Unlock()

	if s.messages != nil {
		s.messages.deleteChat(id)
	}
	return nil
}

// MemoryMessageStore provides an in-memory MessageStore.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
}

// NewMemoryMessageStore creates an in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string]*models.Message)}
}

func (s *MemoryMessageStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return ErrAlreadyExists
	}
	s.messages[msg.ID] = msg.Clone()
	return nil
}

func (s *MemoryMessageStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

func (s *MemoryMessageStore) update(id string, fn func(*models.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	fn(msg)
	return nil
}

func (s *MemoryMessageStore) UpdateStatusText(ctx context.Context, id string, status models.MessageStatus, text string) error {
	return s.update(id, func(m *models.Message) {
		if m.Status != models.StatusRead {
			m.Status = status
		}
		m.Text = text
	})
}

func (s *MemoryMessageStore) SetAttachment(ctx context.Context, id, attach, fileID string) error {
	return s.update(id, func(m *models.Message) {
		m.Attach = attach
		m.FileID = fileID
	})
}

func (s *MemoryMessageStore) MarkRead(ctx context.Context, chatID, sender string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ChatID == chatID && m.Sender == sender && m.Status != models.StatusRead {
			m.Status = models.StatusRead
			n++
		}
	}
	return n, nil
}

func (s *MemoryMessageStore) MarkUnread(ctx context.Context, chatID, sender string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ChatID == chatID && m.Sender == sender && m.Status == models.StatusSent {
			m.Status = models.StatusUnread
			n++
		}
	}
	return n, nil
}

func (s *MemoryMessageStore) ListBySender(ctx context.Context, chatID, sender string, ids []string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.ChatID != chatID || m.Sender != sender {
			continue
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryMessageStore) MarkDeleted(ctx context.Context, id string) error {
	return s.update(id, func(m *models.Message) { m.Placeholder() })
}

func (s *MemoryMessageStore) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryMessageStore) Summarize(ctx context.Context, chatID, userID string) (models.MessageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var summary models.MessageSummary
	for _, m := range s.messages {
		if m.ChatID != chatID {
			continue
		}
		if m.Time.After(summary.LastMessageAt) {
			summary.LastMessageAt = m.Time
		}
		if m.Sender != userID && m.Status != models.StatusRead {
			summary.UnreadCount++
		}
	}
	return summary, nil
}

// ListChat returns the chat's messages in send order.
func (s *MemoryMessageStore) ListChat(chatID string) []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Message, 0)
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func (s *MemoryMessageStore) deleteChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.messages {
		if m.ChatID == chatID {
			delete(s.messages, id)
		}
	}
}

// MemoryUserStore provides an in-memory UserStore.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]models.UserProfile
}

// NewMemoryUserStore creates an empty user directory.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]models.UserProfile)}
}

// PutUser adds or replaces a profile.
func (s *MemoryUserStore) PutUser(user models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *MemoryUserStore) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}
