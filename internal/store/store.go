// ABOUTME: Store interface and data types for online-chat persistence
// ABOUTME: Defines Agent, Client, Conversation, Message and the Store interface

package store

import (
	"context"
	"errors"
	"time"

	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConversationNotFound is returned when a message targets a conversation
// id that does not resolve. This is the one referential check in the system,
// enforced at send-time rather than create-time.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrDuplicateConversation is returned when a conversation for the same
// (agent, client) pair already exists.
var ErrDuplicateConversation = errors.New("conversation already exists")

// ConversationType constants.
const (
	ConversationTypeAgent = "agent"
	ConversationTypeGroup = "group"
)

// MessageType constants. Form types come from the client intake flow.
const (
	MessageTypeText          = "text"
	MessageTypeFormRequest   = "form_request"
	MessageTypeFormSubmitted = "form_submitted"
)

// Agent is a customer-service agent account. PasswordHash is only consulted
// by the login endpoint and never leaves the store layer.
type Agent struct {
	ID           string
	Name         string
	Avatar       string
	PasswordHash string
	IsOnline     bool
	CreatedAt    time.Time
}

// Client is an anonymous chat client, identified by a locally chosen
// nickname. Records are upserted on login and flipped offline on disconnect.
type Client struct {
	ID        string
	Name      string
	IsOnline  bool
	CreatedAt time.Time
}

// Conversation pairs one agent with one client. At most one conversation
// exists per (AgentID, ClientID) pair; creation is idempotent by lookup.
type Conversation struct {
	ID                string
	Type              string
	Title             string
	AgentID           string
	ClientID          string
	IsActive          bool
	LastMessage       string
	LastMessageTime   *time.Time
	UnreadCount       int
	ClientDisplayName string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Message is one durable chat message. Status moves along
// sent -> delivered -> read and never backwards.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Type           string
	Status         wire.Status
	CreatedAt      time.Time
}

// Store is the durable record store behind the delivery engine. Every
// mutation is scoped to a single record; racing updates are made safe by
// conditional, idempotent statements rather than transactions.
type Store interface {
	// Agents
	UpsertAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	SetAgentOnline(ctx context.Context, id string, online bool) error
	SearchAgent(ctx context.Context, query string) (*Agent, error)
	ListOnlineAgents(ctx context.Context) ([]*Agent, error)

	// Clients
	UpsertClient(ctx context.Context, client *Client) error
	SetClientOnline(ctx context.Context, id string, online bool) error
	ListOnlineClients(ctx context.Context) ([]*Client, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByPair(ctx context.Context, agentID, clientID string) (*Conversation, error)
	ListConversationsForAgent(ctx context.Context, agentID string) ([]*Conversation, error)
	ListActiveConversations(ctx context.Context) ([]*Conversation, error)
	SetConversationActivity(ctx context.Context, id, lastMessage string, at time.Time) error
	SetClientDisplayName(ctx context.Context, id, displayName string) error
	IncrementUnread(ctx context.Context, id string) error

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error)
	MarkMessageDelivered(ctx context.Context, messageID string) (bool, error)

	// Close releases any resources held by the store
	Close() error
}
