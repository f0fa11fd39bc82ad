package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMessageTypeIsMedia(t *testing.T) {
	tests := []struct {
		typ  MessageType
		want bool
	}{
		{MessageImage, true},
		{MessageVideo, true},
		{MessageAudio, true},
		{MessageApplication, true},
		{MessageText, false},
		{MessageCall, false},
		{MessageInfo, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsMedia(); got != tt.want {
				t.Errorf("IsMedia() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageStatusRankIsMonotonic(t *testing.T) {
	if !(StatusSent.Rank() < StatusUnread.Rank() && StatusUnread.Rank() < StatusRead.Rank()) {
		t.Fatalf("status ranks out of order: sent=%d unread=%d read=%d",
			StatusSent.Rank(), StatusUnread.Rank(), StatusRead.Rank())
	}
	if MessageStatus("bogus").Rank() != 0 {
		t.Fatalf("unknown status should rank 0")
	}
}

func TestMessagePlaceholder(t *testing.T) {
	msg := &Message{Type: MessageImage, Text: "look", Attach: "https://cdn/x.png", FileID: "f1"}
	msg.Placeholder()
	if msg.Type != MessageDeleted || msg.Text != DeletedText || msg.Attach != "" || msg.FileID != "" || !msg.Deleted {
		t.Fatalf("Placeholder() = %+v", msg)
	}
}

func TestChatHelpers(t *testing.T) {
	chat := &Chat{ID: "c1", Participants: []string{"a", "b"}, DeletedBy: []string{"b"}}
	if got := chat.Counterpart("a"); got != "b" {
		t.Fatalf("Counterpart(a) = %q", got)
	}
	if !chat.HasParticipant("b") || chat.HasParticipant("z") {
		t.Fatalf("HasParticipant mismatch")
	}
	if !chat.DeletedByUser("b") || chat.DeletedByUser("a") {
		t.Fatalf("DeletedByUser mismatch")
	}

	clone := chat.Clone()
	clone.DeletedBy[0] = "a"
	if chat.DeletedBy[0] != "b" {
		t.Fatalf("Clone() shares DeletedBy backing array")
	}
}

func TestContactJSONFlattensProfile(t *testing.T) {
	contact := Contact{UserProfile: DefaultUserProfile(), ChatID: "c1", IsDeleted: true}
	data, err := json.Marshal(contact)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got := string(data)
	for _, want := range []string{`"_id":"123456"`, `"username":"hii hello user"`, `"chatId":"c1"`, `"isDeleted":true`, `"profile":null`} {
		if !strings.Contains(got, want) {
			t.Errorf("contact JSON %s missing %s", got, want)
		}
	}
}

func TestMessageJSONUsesUnixMillis(t *testing.T) {
	msg := Message{ID: "m1", ChatID: "c1", Type: MessageText, Status: StatusSent, Time: time.UnixMilli(1700000000123)}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"time":1700000000123`) {
		t.Fatalf("message JSON = %s", data)
	}
	if !strings.Contains(string(data), `"_id":"m1"`) {
		t.Fatalf("message JSON = %s", data)
	}
}
