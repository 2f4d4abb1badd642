package models_test

import (
	"testing"
	"time"

	"github.com/assistio/intervene/internal/models"
)

func TestDecodeChatFrame(t *testing.T) {
	tests := []struct {
		name string
		data string
		want any
	}{
		{
			name: "chat message",
			data: `{"type":"chat","message":"hello","user":"alice","user_id":7,"timestamp":"2026-01-02T10:00:00Z"}`,
			want: models.ChatMessageFrame{Kind: models.KindChat, Content: "hello", Author: "alice", AuthorID: 7, Timestamp: "2026-01-02T10:00:00Z"},
		},
		{
			name: "system message",
			data: `{"type":"system","message":"employee joined"}`,
			want: models.ChatMessageFrame{Kind: models.KindSystem, Content: "employee joined"},
		},
		{
			name: "error",
			data: `{"type":"error","message":"not allowed"}`,
			want: models.ChatErrorFrame{Message: "not allowed"},
		},
		{
			name: "close with rating",
			data: `{"type":"close_chat_channel","rating":4}`,
			want: models.ChatCloseFrame{Rating: ptr(4)},
		},
		{
			name: "close without rating",
			data: `{"type":"close_chat_channel"}`,
			want: models.ChatCloseFrame{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.DecodeChatFrame([]byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeChatFrame() error: %v", err)
			}

			switch want := tt.want.(type) {
			case models.ChatMessageFrame:
				if got != want {
					t.Errorf("got %#v, want %#v", got, want)
				}
			case models.ChatErrorFrame:
				if got != want {
					t.Errorf("got %#v, want %#v", got, want)
				}
			case models.ChatCloseFrame:
				f, ok := got.(models.ChatCloseFrame)
				if !ok {
					t.Fatalf("got %T, want ChatCloseFrame", got)
				}
				if (f.Rating == nil) != (want.Rating == nil) {
					t.Fatalf("rating presence mismatch: %#v", f)
				}
				if f.Rating != nil && *f.Rating != *want.Rating {
					t.Errorf("got rating %d, want %d", *f.Rating, *want.Rating)
				}
			}
		})
	}
}

func TestDecodeChatFrame_Unknown(t *testing.T) {
	got, err := models.DecodeChatFrame([]byte(`{"type":"typing_indicator","user":"bob"}`))
	if err != nil {
		t.Fatalf("DecodeChatFrame() error: %v", err)
	}

	if _, ok := got.(models.UnknownFrame); !ok {
		t.Errorf("got %T, want UnknownFrame", got)
	}
}

func TestDecodeChatFrame_Malformed(t *testing.T) {
	if _, err := models.DecodeChatFrame([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestDecodeNotificationFrame(t *testing.T) {
	data := `{"event":"new_message","intervention_id":42,"from_user_id":3,"from_user":"bob","title":"printer on fire","message":"help","timestamp":"2026-01-02T10:00:00Z"}`

	got, err := models.DecodeNotificationFrame([]byte(data))
	if err != nil {
		t.Fatalf("DecodeNotificationFrame() error: %v", err)
	}

	evt, ok := got.(models.NewMessageEvent)
	if !ok {
		t.Fatalf("got %T, want NewMessageEvent", got)
	}
	if evt.TicketID != 42 || evt.FromUserID != 3 || evt.FromUser != "bob" {
		t.Errorf("unexpected event: %#v", evt)
	}

	n := evt.Notification()
	if n.TicketID != 42 || n.Source != models.SourcePush {
		t.Errorf("unexpected notification: %#v", n)
	}
}

func TestDecodeNotificationFrame_UnknownEvent(t *testing.T) {
	got, err := models.DecodeNotificationFrame([]byte(`{"event":"ticket_assigned","intervention_id":1}`))
	if err != nil {
		t.Fatalf("DecodeNotificationFrame() error: %v", err)
	}

	if _, ok := got.(models.UnknownEvent); !ok {
		t.Errorf("got %T, want UnknownEvent", got)
	}
}

func TestMessageFromOther(t *testing.T) {
	msg := models.Message{Kind: models.KindChat, AuthorID: 3}
	if !msg.FromOther(7) {
		t.Error("chat message from user 3 should be from-other for user 7")
	}
	if msg.FromOther(3) {
		t.Error("own message must not be from-other")
	}

	sys := models.Message{Kind: models.KindSystem, AuthorID: 3}
	if sys.FromOther(7) {
		t.Error("system messages never count as from-other")
	}
}

func TestParseInstant(t *testing.T) {
	ts := models.ParseInstant("2026-01-02T10:00:00.123Z")
	if ts.IsZero() {
		t.Fatal("expected parse of RFC3339Nano instant")
	}
	if ts.UTC().Hour() != 10 {
		t.Errorf("got hour %d, want 10", ts.UTC().Hour())
	}

	if !models.ParseInstant("yesterday-ish").IsZero() {
		t.Error("malformed instant should collapse to zero time")
	}
	if !(time.Time{}).Equal(models.ParseInstant("")) {
		t.Error("empty instant should collapse to zero time")
	}
}

func ptr[T any](v T) *T { return &v }
