package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewMessageIDIsTimeOrdered(t *testing.T) {
	prev := NewMessageID()
	for i := 0; i < 100; i++ {
		time.Sleep(time.Millisecond)
		next := NewMessageID()
		if CompareIDs(prev, next) >= 0 {
			t.Fatalf("ids not increasing: %s >= %s", prev, next)
		}
		prev = next
	}
}

func TestMaskedHidesDeletedContent(t *testing.T) {
	sender := uuid.New()
	msg := &Message{
		ID:          NewMessageID(),
		SenderID:    &sender,
		Content:     "secret",
		IsDeleted:   true,
		Attachments: []*Attachment{{Filename: "a.pdf"}},
	}
	masked := msg.Masked()
	if masked.Content != "" || len(masked.Attachments) != 0 {
		t.Fatalf("deleted message leaked content: %+v", masked)
	}
	if msg.Content != "secret" {
		t.Fatalf("original message must stay untouched")
	}

	live := &Message{Content: "hello"}
	if live.Masked() != live {
		t.Fatalf("live message should be returned as is")
	}
}

func TestAttachmentLimits(t *testing.T) {
	if !IsAllowedAttachmentType("") {
		t.Fatalf("empty content type must be allowed")
	}
	if !IsAllowedAttachmentType("application/pdf") {
		t.Fatalf("pdf must be allowed")
	}
	if IsAllowedAttachmentType("application/x-msdownload") {
		t.Fatalf("executables must be rejected")
	}
	if IsValidAttachmentSize(0) || IsValidAttachmentSize(MaxAttachmentSize+1) {
		t.Fatalf("size bounds not enforced")
	}
	if !IsValidAttachmentSize(MaxAttachmentSize) {
		t.Fatalf("max size must be accepted")
	}
}

func TestSystemMessageContent(t *testing.T) {
	company := "Acme"
	var decoded map[string]interface{}

	if err := json.Unmarshal([]byte(ParticipantJoinedContent("Alex", &company)), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["event"] != SystemEventParticipantJoined || decoded["name"] != "Alex" || decoded["company"] != "Acme" {
		t.Fatalf("unexpected joined content: %v", decoded)
	}

	decoded = nil
	if err := json.Unmarshal([]byte(ParticipantJoinedContent("Alex", nil)), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["company"]; ok {
		t.Fatalf("company should be omitted: %v", decoded)
	}

	decoded = nil
	if err := json.Unmarshal([]byte(ChatCreatedContent(nil)), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parts, ok := decoded["participants"].([]interface{}); !ok || len(parts) != 0 {
		t.Fatalf("participants should be an empty list: %v", decoded)
	}
}
