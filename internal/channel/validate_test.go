package channel

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validInbound() InboundMessage {
	return InboundMessage{
		Channel:     ChannelTypeInstagram,
		OwnerID:     "42",
		Message:     Message{ID: "mid.1", Text: "hi"},
		ReplyTarget: "7",
		Sender:      Identity{SubjectID: "7"},
		ReceivedAt:  time.Unix(1700000000, 0),
	}
}

func TestValidateInboundAccepts(t *testing.T) {
	t.Parallel()

	if err := ValidateInbound(validInbound()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateInboundRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*InboundMessage)
		field  string
	}{
		{name: "unknown platform", mutate: func(m *InboundMessage) { m.Channel = "sms" }, field: "Channel"},
		{name: "missing owner", mutate: func(m *InboundMessage) { m.OwnerID = "  " }, field: "OwnerID"},
		{name: "missing sender", mutate: func(m *InboundMessage) { m.Sender.SubjectID = "" }, field: "SubjectID"},
		{name: "missing target", mutate: func(m *InboundMessage) { m.ReplyTarget = "" }, field: "ReplyTarget"},
		{name: "blank text", mutate: func(m *InboundMessage) { m.Message.Text = " \n" }, field: "Text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := validInbound()
			tt.mutate(&msg)
			err := ValidateInbound(msg)
			if !errors.Is(err, ErrInvalidConversationEvent) {
				t.Fatalf("expected ErrInvalidConversationEvent, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Fatalf("expected error to name %s, got %v", tt.field, err)
			}
		})
	}
}
