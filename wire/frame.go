package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame is the envelope of one event on the persistent connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a frame for the named event.
func NewFrame(event string, payload interface{}) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %v", event, err)
	}
	return &Frame{Event: event, Data: data}, nil
}

// Client payloads.

type SendReq struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"messageType"`
	Metadata       *Metadata   `json:"metadata,omitempty"`
	ReplyTo        string      `json:"replyTo,omitempty"`
	ClientRef      string      `json:"clientRef,omitempty"`
}

type MarkReadReq struct {
	MessageID string `json:"messageId"`
}

type TypingReq struct {
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
}

type StopTypingReq struct {
	ConversationID string `json:"conversationId"`
}

// Server payloads.

type DeliveredEvent struct {
	MessageID   string    `json:"messageId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type ReadEvent struct {
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

type TypingEvent struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

type PresenceEvent struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ServerEvent is the decoded form of one server frame. Exactly one field is
// non nil.
type ServerEvent struct {
	NewMessage *Message
	Delivered  *DeliveredEvent
	Read       *ReadEvent
	Typing     *TypingEvent
	StopTyping *TypingEvent
	Online     *PresenceEvent
	Offline    *PresenceEvent
}

// DecodeServerFrame decodes a server frame into a ServerEvent.
// Unknown event names are an error so the caller can log and skip them.
func DecodeServerFrame(f *Frame) (*ServerEvent, error) {
	ev := &ServerEvent{}
	var dst interface{}

	switch f.Event {
	case EventMessageNew:
		ev.NewMessage = &Message{}
		dst = ev.NewMessage
	case EventMessageDelivered:
		ev.Delivered = &DeliveredEvent{}
		dst = ev.Delivered
	case EventMessageRead:
		ev.Read = &ReadEvent{}
		dst = ev.Read
	case EventTyping:
		ev.Typing = &TypingEvent{}
		dst = ev.Typing
	case EventStopTyping:
		ev.StopTyping = &TypingEvent{}
		dst = ev.StopTyping
	case EventUserOnline:
		ev.Online = &PresenceEvent{}
		dst = ev.Online
	case EventUserOffline:
		ev.Offline = &PresenceEvent{}
		dst = ev.Offline
	default:
		return nil, fmt.Errorf("unknown server event: %q", f.Event)
	}

	if err := json.Unmarshal(f.Data, dst); err != nil {
		return nil, fmt.Errorf("decode %s: %v", f.Event, err)
	}
	return ev, nil
}
