// ABOUTME: Event names and JSON payload shapes for the chat socket protocol
// ABOUTME: Every frame on the wire is an Envelope carrying one of these payloads

package wire

import (
	"encoding/json"
	"time"
)

// Role identifies what kind of party a connected user is.
type Role string

const (
	RoleClient Role = "client"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

// Status is the delivery state of a message. Transitions are monotonic:
// sending -> sent -> delivered -> read. StatusFailed exists only on the
// client side for optimistic entries that never got acknowledged.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Rank orders statuses for monotonic comparison. Higher never yields to lower.
func (s Status) Rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// Event names, client to server.
const (
	EventUserLogin           = "user:login"
	EventMessageSend         = "message:send"
	EventMessagesGet         = "messages:get"
	EventMessagesRead        = "messages:read"
	EventConversationCreate  = "conversation:create"
	EventAgentsList          = "agents:list"
	EventClientsList         = "clients:list"
	EventAgentSearch         = "agent:search"
	EventAdminJoinMonitoring = "admin:join-monitoring"
	EventAdminConversations  = "admin:get-all-conversations"
	EventAdminRoomMessages   = "admin:get-room-messages"
)

// Event names, server to client. agents:list, clients:list and
// messages:read are bidirectional and reuse the constants above.
const (
	EventMessageReceive          = "message:receive"
	EventMessageStatus           = "message:status"
	EventMessagesList            = "messages:list"
	EventMessagesReadAck         = "messages:read:ack"
	EventConversationCreated     = "conversation:created"
	EventAgentFound              = "agent:found"
	EventAdminMessage            = "admin:message"
	EventAdminConversationsList  = "admin:conversations"
	EventAdminRoomMessagesResult = "admin:messages"
	EventError                   = "error"
	EventAck                     = "ack"
)

// Envelope is one frame on the socket. Data holds the event payload.
// Ack, when set on an inbound frame, asks the server to answer with an
// "ack" event carrying the same id once the operation resolves.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. Marshal errors are
// impossible for the payload types in this package and are swallowed.
func NewEnvelope(event string, payload any) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Event: event, Data: data}
}

// User is the login payload (CurrentUser in the web client).
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	IsOnline bool   `json:"isOnline"`
}

// Agent is a directory entry for a customer-service agent.
type Agent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

// Client is a directory entry for a chat client.
type Client struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsOnline bool   `json:"isOnline"`
}

// Conversation is the wire shape of a conversation record.
type Conversation struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	Title             string     `json:"title,omitempty"`
	AgentID           string     `json:"agentId"`
	ClientID          string     `json:"clientId"`
	IsActive          bool       `json:"isActive"`
	LastMessage       string     `json:"lastMessage,omitempty"`
	LastMessageTime   *time.Time `json:"lastMessageTime,omitempty"`
	UnreadCount       int        `json:"unreadCount"`
	ClientDisplayName string     `json:"clientDisplayName,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Message is the wire shape of a chat message. TempID echoes the sender's
// correlation id on every fan-out copy so any of the sender's sessions can
// collapse its optimistic entry.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Status         Status    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	TempID         string    `json:"tempId,omitempty"`
}

// SendMessage is the message:send payload.
type SendMessage struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	TempID         string `json:"tempId,omitempty"`
}

// CreateConversation is the conversation:create payload.
type CreateConversation struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	AgentID  string `json:"agentId"`
	ClientID string `json:"clientId"`
}

// MessageStatus is the message:status payload.
type MessageStatus struct {
	MessageID string `json:"messageId"`
	Status    Status `json:"status"`
}

// ConversationRef addresses a conversation (messages:get, messages:read,
// admin:get-room-messages).
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// ReadReceipt is the server->client messages:read broadcast. It updates the
// *other* party's copies: the reader's own messages never change state here.
type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	Timestamp      time.Time `json:"timestamp"`
}

// AgentSearch is the agent:search payload.
type AgentSearch struct {
	Query string `json:"query"`
}

// AgentFound is the agent:found result.
type AgentFound struct {
	Success bool   `json:"success"`
	Agent   *Agent `json:"agent,omitempty"`
	Message string `json:"message,omitempty"`
}

// AdminMessage is a monitored copy of a message annotated with its
// conversation's participants.
type AdminMessage struct {
	Message
	Conversation AdminConversationRef `json:"conversation"`
}

// AdminConversationRef names the parties of a monitored conversation.
type AdminConversationRef struct {
	ID       string `json:"id"`
	AgentID  string `json:"agentId"`
	ClientID string `json:"clientId"`
}

// MessageHistory is the messages:list payload. It always names the
// conversation so receivers can key an empty snapshot.
type MessageHistory struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// RoomMessages is the admin:messages result.
type RoomMessages struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// Ack resolves a request envelope that carried an ack id.
type Ack struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Error is the typed error event sent back to the originating connection.
type Error struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	Details        string `json:"details,omitempty"`
}

// Error codes for the Error event.
const (
	ErrCodeConversationNotFound = "conversation_not_found"
	ErrCodeValidation           = "validation_error"
	ErrCodePersistence          = "persistence_failure"
	ErrCodeRateLimited          = "rate_limited"
)
