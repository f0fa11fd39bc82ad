package models

// UserProfile is the public part of a user account. Accounts are owned by an
// external service; parley only reads them.
type UserProfile struct {
	ID       string  `json:"_id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Profile  *string `json:"profile"`
}

// DefaultUserProfile is the anonymized profile shown in place of a contact
// that removed the conversation.
func DefaultUserProfile() UserProfile {
	return UserProfile{
		ID:       "123456",
		Username: "hii hello user",
		Email:    "abc.example.com",
	}
}

// Contact is a chat list row: the counterpart's profile plus the state of the
// shared chat as seen by the requesting user.
type Contact struct {
	UserProfile
	ChatID      string `json:"chatId"`
	IsBlocked   bool   `json:"isBlocked"`
	BlockedBy   string `json:"blockedBy"`
	IsDeleted   bool   `json:"isDeleted"`
	IsOnline    bool   `json:"isOnline"`
	UnreadCount int    `json:"unreadCount"`
	UpdatedAt   int64  `json:"updatedAt"`
}
