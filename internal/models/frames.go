package models

import (
	"encoding/json"
	"fmt"
)

// ChatFrame is the closed set of inbound frames on a chat channel. Decoding
// never fails on unknown types; they surface as UnknownFrame so a misbehaving
// backend cannot crash a session.
type ChatFrame interface {
	isChatFrame()
}

// ChatMessageFrame is a chat or system line appended to the session log.
type ChatMessageFrame struct {
	Kind      MessageKind `json:"type"`
	Content   string      `json:"message"`
	Author    string      `json:"user"`
	AuthorID  int64       `json:"user_id"`
	Timestamp string      `json:"timestamp"`
}

// ChatErrorFrame is an explicit server rejection. It is surfaced to the user
// and never appended to the log.
type ChatErrorFrame struct {
	Message string `json:"message"`
}

// ChatCloseFrame ends the chat. Rating is present when the backend already
// knows the client's rating for the closed chat.
type ChatCloseFrame struct {
	Rating *int `json:"rating,omitempty"`
}

// UnknownFrame wraps a frame whose type is not recognized. Logged and ignored.
type UnknownFrame struct {
	Raw json.RawMessage
}

func (ChatMessageFrame) isChatFrame() {}
func (ChatErrorFrame) isChatFrame()   {}
func (ChatCloseFrame) isChatFrame()   {}
func (UnknownFrame) isChatFrame()     {}

// Chat frame type discriminators.
const (
	frameTypeChat   = "chat"
	frameTypeSystem = "system"
	frameTypeError  = "error"
	frameTypeClose  = "close_chat_channel"
)

// DecodeChatFrame decodes one inbound chat-channel payload into its tagged
// variant. Only malformed JSON is an error.
func DecodeChatFrame(data []byte) (ChatFrame, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode chat frame: %w", err)
	}

	switch probe.Type {
	case frameTypeChat, frameTypeSystem:
		var f ChatMessageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode message frame: %w", err)
		}

		return f, nil
	case frameTypeError:
		var f ChatErrorFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}

		return f, nil
	case frameTypeClose:
		var f ChatCloseFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode close frame: %w", err)
		}

		return f, nil
	default:
		return UnknownFrame{Raw: json.RawMessage(data)}, nil
	}
}

// Message converts a message frame into the log entry shape for a ticket.
func (f ChatMessageFrame) Message(ticketID int64) Message {
	return Message{
		TicketID:  ticketID,
		Kind:      f.Kind,
		AuthorID:  f.AuthorID,
		Author:    f.Author,
		Content:   f.Content,
		Timestamp: f.Timestamp,
	}
}

// NotificationFrame is the closed set of inbound frames on the notifications
// channel.
type NotificationFrame interface {
	isNotificationFrame()
}

// NewMessageEvent announces a message posted to a ticket the user can see.
type NewMessageEvent struct {
	TicketID   int64  `json:"intervention_id"`
	FromUserID int64  `json:"from_user_id"`
	FromUser   string `json:"from_user"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// UnknownEvent wraps an unrecognized notifications-channel payload.
type UnknownEvent struct {
	Raw json.RawMessage
}

func (NewMessageEvent) isNotificationFrame() {}
func (UnknownEvent) isNotificationFrame()    {}

const eventNewMessage = "new_message"

// DecodeNotificationFrame decodes one inbound notifications-channel payload.
func DecodeNotificationFrame(data []byte) (NotificationFrame, error) {
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode notification frame: %w", err)
	}

	if probe.Event != eventNewMessage {
		return UnknownEvent{Raw: json.RawMessage(data)}, nil
	}

	var f NewMessageEvent
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode new_message event: %w", err)
	}

	return f, nil
}

// Notification converts the event into the engine's per-ticket entry.
func (f NewMessageEvent) Notification() Notification {
	return Notification{
		TicketID:  f.TicketID,
		Title:     f.Title,
		FromUser:  f.FromUser,
		Message:   f.Message,
		Timestamp: f.Timestamp,
		Source:    SourcePush,
	}
}

// Outbound chat-channel frames.

// SendMessageFrame transmits one chat line.
type SendMessageFrame struct {
	Message string `json:"message"`
}

// ActionFrame transmits a control action (end_chat, rate_chat).
type ActionFrame struct {
	Action string `json:"action"`
	Rating int    `json:"rating,omitempty"`
}

// Chat control actions.
const (
	ActionEndChat  = "end_chat"
	ActionRateChat = "rate_chat"
)
