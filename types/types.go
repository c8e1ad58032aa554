package types

import (
	"encoding/json"
	"errors"
	"time"
)

// Message is a single chat message as exchanged with the server. Content holds
// either displayable plaintext or ciphertext awaiting decryption; IsEncrypted
// disambiguates the two.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Sender         string     `json:"sender"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	Type           string     `json:"message_type"`
	IsEncrypted    bool       `json:"is_encrypted"`
	IsUnsent       bool       `json:"is_unsent"`
}

type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	LastMessage  *Message `json:"last_message,omitempty"`
	UnreadCount  int      `json:"unread_count"`
}

// PublicKeyRecord is a directory entry for one user's published key.
type PublicKeyRecord struct {
	Owner     string `json:"owner"`
	PublicKey string `json:"public_key"`
}

// ChannelStatus is the single source of truth for push availability.
type ChannelStatus int

const (
	StatusDisconnected ChannelStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Inbound event types carried in the mandatory "type" field of every frame.
const (
	EventConnectionEstablished = "connection_established"
	EventNewMessage            = "new_message"
	EventMessageSent           = "message_sent"
	EventTyping                = "typing"
	EventMessagesRead          = "messages_read"
	EventError                 = "error"
	EventPong                  = "pong"
)

// Frame is an inbound protocol frame. Type selects which of the remaining
// fields are meaningful.
type Frame struct {
	Type           string   `json:"type"`
	Message        *Message `json:"message,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	IsTyping       bool     `json:"is_typing,omitempty"`
	Username       string   `json:"username,omitempty"`
	ReaderID       string   `json:"reader_id,omitempty"`
	Count          int      `json:"count,omitempty"`
	Error          string   `json:"error,omitempty"`
}

var ErrMissingType = errors.New("frame has no type field")

func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, ErrMissingType
	}
	return &f, nil
}

func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// Outbound frame shapes.

type ChatMessageFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type"`
}

type TypingFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MarkReadFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type PingFrame struct {
	Type string `json:"type"`
}

func NewChatMessageFrame(conversationID, content string) ChatMessageFrame {
	return ChatMessageFrame{
		Type:           "chat_message",
		ConversationID: conversationID,
		Content:        content,
		MessageType:    "text",
	}
}

func NewTypingFrame(conversationID string, isTyping bool) TypingFrame {
	return TypingFrame{Type: "typing", ConversationID: conversationID, IsTyping: isTyping}
}

func NewMarkReadFrame(conversationID string) MarkReadFrame {
	return MarkReadFrame{Type: "mark_read", ConversationID: conversationID}
}

func NewPingFrame() PingFrame {
	return PingFrame{Type: "ping"}
}

// EventHandler consumes dispatched inbound frames.
type EventHandler interface {
	HandleEvent(f *Frame) error
}

type EventHandlerFunc func(f *Frame) error

func (fn EventHandlerFunc) HandleEvent(f *Frame) error {
	return fn(f)
}
