package models

import (
	"encoding/json"
	"time"
)

// MessageType classifies a chat message.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageEmoji       MessageType = "emoji"
	MessageImage       MessageType = "image"
	MessageVideo       MessageType = "video"
	MessageAudio       MessageType = "audio"
	MessageApplication MessageType = "application"
	MessageInfo        MessageType = "info"
	MessageDeleted     MessageType = "deleted"
	MessageCall        MessageType = "call"
)

// IsMedia reports whether messages of this type carry a binary attachment.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageApplication:
		return true
	}
	return false
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageEmoji, MessageImage, MessageVideo, MessageAudio,
		MessageApplication, MessageInfo, MessageDeleted, MessageCall:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a message. It only moves forward
// along sent -> unread -> read.
type MessageStatus string

const (
	StatusSent   MessageStatus = "sent"
	StatusUnread MessageStatus = "unread"
	StatusRead   MessageStatus = "read"
)

// Rank orders statuses along the delivery path.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusUnread:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Call message texts.
const (
	CallTextCalling  = "calling"
	CallTextAnswered = "answered"
	CallTextMissed   = "missed call"
)

// DeletedText replaces the body of a message turned into a deletion placeholder.
const DeletedText = "deleted"

// Message is a persisted chat message.
type Message struct {
	ID        string        `json:"_id"`
	ChatID    string        `json:"chatId"`
	Sender    string        `json:"sender"`
	Type      MessageType   `json:"type"`
	Text      string        `json:"text,omitempty"`
	Attach    string        `json:"attach,omitempty"`
	FileID    string        `json:"fileId,omitempty"`
	Time      time.Time     `json:"-"`
	Status    MessageStatus `json:"status"`
	Forwarded bool          `json:"forwarded"`
	Deleted   bool          `json:"deleted"`
}

// Clone returns a copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// MarshalJSON encodes Time as unix milliseconds, the form clients send.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	return json.Marshal(struct {
		plain
		Time int64 `json:"time"`
	}{plain: plain(m), Time: m.Time.UnixMilli()})
}

// Placeholder turns the message into its deleted form.
func (m *Message) Placeholder() {
	m.Type = MessageDeleted
	m.Text = DeletedText
	m.Attach = ""
	m.FileID = ""
	m.Deleted = true
}

// MessageSummary aggregates what a chat list row needs from a chat's messages.
type MessageSummary struct {
	LastMessageAt time.Time
	UnreadCount   int
}
