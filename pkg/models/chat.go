package models

import "slices"

// ChatType is the kind of conversation.
type ChatType string

const (
	ChatOneToOne ChatType = "one-to-one"
	ChatGroup    ChatType = "group"
)

// ChatStatus is the archival state of a chat.
type ChatStatus string

const (
	ChatActive   ChatStatus = "active"
	ChatArchived ChatStatus = "archived"
)

// Chat is the persisted visibility record of a one-to-one conversation.
type Chat struct {
	ID           string     `json:"_id"`
	Participants []string   `json:"participants"`
	Type         ChatType   `json:"type"`
	Status       ChatStatus `json:"status"`
	IsBlocked    bool       `json:"isBlocked"`
	BlockedBy    string     `json:"blockedBy,omitempty"`
	DeletedBy    []string   `json:"deletedBy"`
}

// HasParticipant reports whether userID takes part in the chat.
func (c *Chat) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// Counterpart returns the other participant of a one-to-one chat.
func (c *Chat) Counterpart(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// DeletedByUser reports whether userID soft-deleted the chat.
func (c *Chat) DeletedByUser(userID string) bool {
	return slices.Contains(c.DeletedBy, userID)
}

// Clone returns a deep copy of the chat.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Participants = slices.Clone(c.Participants)
	clone.DeletedBy = slices.Clone(c.DeletedBy)
	return &clone
}
