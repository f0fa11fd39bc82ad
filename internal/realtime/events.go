package realtime

import (
	"encoding/json"

	"github.com/haasonsaas/parley/pkg/models"
)

// Inbound events.
const (
	EventSendMessage    = "send-message"
	EventForwardMessage = "forward-message"
	EventDeleteMessage  = "delete-message"
	EventReadMessages   = "read-messages"
	EventTyping         = "typing"
	EventOffer          = "offer"
	EventAnswer         = "answer"
	EventICECandidate   = "ice-candidate"
	EventEndCall        = "end-call"
)

// Outbound events. read-messages, typing, offer, answer, ice-candidate and
// end-call are relayed under their inbound names.
const (
	EventReceiveMessage      = "receive-message"
	EventReceiveMessageFiles = "receive-message-files"
	EventDeletedMessage      = "deleted-message"
	EventContactStatus       = "contact-status"
	EventBlockUpdate         = "block-update"
	EventAddedContact        = "added-contact"
	EventDeletedContact      = "deleted-contact"
	EventDeletedByContact    = "deleted-by-contact"
	EventUpdateMessage       = "update-message"
	EventError               = "error"
)

// Error types reported to clients that are not event names.
const (
	errTypeCall   = "call"
	errTypeEvent  = "event"
	errTypeRead   = "read-message"
	errTypeChat   = "chat"
	errTypeUpload = "send-file-message"
)

// MessageInput is one item of a send or forward request. Data carries the
// base64 encoded bytes of a new attachment.
type MessageInput struct {
	Type   models.MessageType `json:"type"`
	Text   string             `json:"text,omitempty"`
	Attach string             `json:"attach,omitempty"`
	FileID string             `json:"fileId,omitempty"`
	Name   string             `json:"name,omitempty"`
	Data   []byte             `json:"data,omitempty"`
}

type SendMessageRequest struct {
	ID            string         `json:"_id"`
	ParticipantID string         `json:"participantId"`
	ChatID        string         `json:"chatId"`
	Info          []MessageInput `json:"info"`
}

type DeleteMessageRequest struct {
	ID            string   `json:"_id"`
	ContactID     string   `json:"contactId"`
	MessageIDList []string `json:"messageIdList"`
	ChatID        string   `json:"chatId"`
}

type ReadMessagesRequest struct {
	ChatID    string `json:"chatId"`
	ContactID string `json:"contactId"`
}

type TypingRequest struct {
	ID            string `json:"_id"`
	ParticipantID string `json:"participantId"`
}

type OfferRequest struct {
	ChatID string          `json:"chatId"`
	From   models.Contact  `json:"from"`
	To     models.Contact  `json:"to"`
	Offer  json.RawMessage `json:"offer"`
	Video  bool            `json:"video"`
}

type AnswerRequest struct {
	ChatID string          `json:"chatId"`
	From   models.Contact  `json:"from"`
	To     models.Contact  `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

type CandidateRequest struct {
	From      models.Contact  `json:"from"`
	To        models.Contact  `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type EndCallRequest struct {
	ChatID string         `json:"chatId"`
	To     models.Contact `json:"to"`
}

type ReceiveMessage struct {
	ChatID string            `json:"chatId"`
	Sender string            `json:"sender"`
	Info   []*models.Message `json:"info"`
}

type MessageFiles struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Attach    string `json:"attach"`
	FileID    string `json:"fileId"`
}

type DeletedMessage struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type ContactStatus struct {
	ChatID   string `json:"chatId"`
	IsOnline bool   `json:"isOnline"`
}

type BlockUpdate struct {
	ChatID    string `json:"chatId"`
	IsBlocked bool   `json:"isBlocked"`
	IsOnline  *bool  `json:"isOnline,omitempty"`
	BlockedBy string `json:"blockedBy"`
}

// ProfileNotice carries a profile and the chat it concerns.
type ProfileNotice struct {
	models.UserProfile
	ChatID string `json:"chatId"`
}

type OfferNotice struct {
	ChatID string          `json:"chatId"`
	From   models.Contact  `json:"from"`
	To     models.Contact  `json:"to"`
	Offer  json.RawMessage `json:"offer"`
	Video  bool            `json:"video"`
}

type AnswerNotice struct {
	ChatID string          `json:"chatId"`
	From   models.Contact  `json:"from"`
	To     models.Contact  `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

type CandidateNotice struct {
	From      *models.Contact `json:"from,omitempty"`
	To        *models.Contact `json:"to,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

type UpdateMessage struct {
	ChatID    string               `json:"chatId"`
	MessageID string               `json:"messageId"`
	Status    models.MessageStatus `json:"status"`
	Text      string               `json:"text"`
}

type EndCall struct {
	ChatID string `json:"chatId"`
}

type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
