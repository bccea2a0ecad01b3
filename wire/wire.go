// Package wire defines the messaging protocol shared by the persistent
// connection and the REST collaborators: named events, their payloads and
// the conversation/message data model.
package wire

import (
	"time"
)

// Event names, client to server.
const (
	EventMessageSend = "message:send"
	EventMarkRead    = "message:mark-read"
	EventTyping      = "user:typing"
	EventStopTyping  = "user:stop-typing"
)

// Event names, server to client.
const (
	EventMessageNew       = "message:new"
	EventMessageDelivered = "message:delivered"
	EventMessageRead      = "message:read"
	EventUserOnline       = "user:online"
	EventUserOffline      = "user:offline"
)

type MessageType string

const (
	TypeText   MessageType = "text"
	TypeImage  MessageType = "image"
	TypeFile   MessageType = "file"
	TypeVoice  MessageType = "voice"
	TypeSystem MessageType = "system"
)

// DeliveryState is a message's position in sent -> delivered -> read.
type DeliveryState string

const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
)

var stateRank = map[DeliveryState]int{
	StateSent:      1,
	StateDelivered: 2,
	StateRead:      3,
}

// Before reports whether s is strictly earlier than o in the delivery order.
// Unknown states rank below StateSent.
func (s DeliveryState) Before(o DeliveryState) bool {
	return stateRank[s] < stateRank[o]
}

// Metadata carries the type specific attributes of a non-text message.
// content spec: image(name,size,mime,url), file(name,size,mime),
// voice(size,mime,duration).
type Metadata struct {
	FileName      string  `json:"fileName,omitempty"`
	FileSize      int64   `json:"fileSize,omitempty"`
	MimeType      string  `json:"mimeType,omitempty"`
	ImageURL      string  `json:"imageUrl,omitempty"`
	VoiceDuration float64 `json:"voiceDuration,omitempty"` // seconds
}

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	RecipientID    string        `json:"recipientId,omitempty"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"messageType"`
	Metadata       *Metadata     `json:"metadata,omitempty"`
	State          DeliveryState `json:"deliveryState"`
	ReplyTo        string        `json:"replyTo,omitempty"`
	// ClientRef is the client generated reconciliation key attached on send
	// and echoed back on message:new.
	ClientRef   string     `json:"clientRef,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	EditedAt    *time.Time `json:"editedAt,omitempty"`
}

// User is the participant view of an account: identity plus presence.
type User struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Avatar      string     `json:"avatar,omitempty"`
	Role        string     `json:"role,omitempty"`
	IsOnline    bool       `json:"isOnline"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Participants []*User   `json:"participants"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	UnreadCount  int       `json:"unreadCount"`
	IsStarred    bool      `json:"isStarred"`
	IsArchived   bool      `json:"isArchived"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Participant returns the participant with the given id, or nil.
func (c *Conversation) Participant(userID string) *User {
	for _, u := range c.Participants {
		if u.ID == userID {
			return u
		}
	}
	return nil
}

// Peer returns the first participant other than selfID. Conversations in
// this marketplace are two-party (planner and creative).
func (c *Conversation) Peer(selfID string) *User {
	for _, u := range c.Participants {
		if u.ID != selfID {
			return u
		}
	}
	return nil
}
