// ABOUTME: Socket client for the chat protocol: login, acked sends with timeout,
// ABOUTME: per-conversation message state, and debounced auto-read.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// ackTimeout is how long a send waits for the server ack before the
// optimistic entry is marked failed and becomes retryable.
const ackTimeout = 8 * time.Second

// readDebounce delays the auto-read receipt so a burst of incoming
// messages produces one messages:read instead of one per message.
const readDebounce = 300 * time.Millisecond

// ErrSendInFlight indicates the conversation already has an
// unacknowledged send. One send per conversation keeps ordering simple.
var ErrSendInFlight = errors.New("send already in flight for conversation")

// ErrNotConnected indicates the client has no live socket.
var ErrNotConnected = errors.New("not connected")

// Options configures a Client.
type Options struct {
	URL    string
	UserID string
	Name   string
	Role   wire.Role

	// OnConversationUpdate fires whenever a conversation's message list
	// changes. The slice is the reconciler's output and must not be
	// mutated by the callback.
	OnConversationUpdate func(conversationID string, messages []wire.Message)

	// OnDirectory fires on agents:list / clients:list snapshots.
	OnDirectory func(agents []wire.Agent, clients []wire.Client)

	// OnNotify fires for messages arriving outside the active
	// conversation, for badge counts and notifications.
	OnNotify func(msg wire.Message)

	Logger *slog.Logger
}

type pendingSend struct {
	conversationID string
	tempID         string
	timer          *time.Timer
}

// Client maintains one socket connection and the reconciled message
// state for every conversation it has seen.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	conversations map[string][]wire.Message
	pending       map[string]*pendingSend // ack id -> send
	inFlight      map[string]bool         // conversation id -> send pending
	active        string                  // conversation currently on screen
	readTimers    map[string]*time.Timer
	agents        []wire.Agent
	clients       []wire.Client
}

// New creates a client. Call Run to connect and start the event loop.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:          opts,
		logger:        logger.With("component", "chat-client"),
		conversations: make(map[string][]wire.Message),
		pending:       make(map[string]*pendingSend),
		inFlight:      make(map[string]bool),
		readTimers:    make(map[string]*time.Timer),
	}
}

// Run dials the server, logs in, and processes events until the context
// is canceled or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.opts.URL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "client stopped")

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		pending := make([]string, 0, len(c.pending))
		for ackID := range c.pending {
			pending = append(pending, ackID)
		}
		c.mu.Unlock()
		// A dropped transport fails in-flight sends immediately; no ack
		// is coming for them
		for _, ackID := range pending {
			c.expireSend(ackID)
		}
	}()

	login := wire.NewEnvelope(wire.EventUserLogin, wire.User{
		ID:   c.opts.UserID,
		Name: c.opts.Name,
		Role: c.opts.Role,
	})
	if err := wsjson.Write(ctx, conn, login); err != nil {
		return fmt.Errorf("sending login: %w", err)
	}

	for {
		var env wire.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading event: %w", err)
		}
		c.handle(ctx, env)
	}
}

// Send sends a message with an optimistic local entry. Only one send per
// conversation may be in flight; callers retry after the previous one
// resolves.
func (c *Client) Send(ctx context.Context, conversationID, content string) (string, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	if c.inFlight[conversationID] {
		c.mu.Unlock()
		return "", ErrSendInFlight
	}

	tempID := uuid.New().String()
	ackID := uuid.New().String()
	c.inFlight[conversationID] = true
	c.conversations[conversationID] = Apply(c.conversations[conversationID], Change{
		Kind: ChangeOptimistic,
		Message: wire.Message{
			ConversationID: conversationID,
			SenderID:       c.opts.UserID,
			Content:        content,
			TempID:         tempID,
			Timestamp:      time.Now(),
		},
	})
	c.pending[ackID] = &pendingSend{
		conversationID: conversationID,
		tempID:         tempID,
		timer:          time.AfterFunc(ackTimeout, func() { c.expireSend(ackID) }),
	}
	messages := c.conversations[conversationID]
	c.mu.Unlock()

	c.notifyUpdate(conversationID, messages)

	env := wire.NewEnvelope(wire.EventMessageSend, wire.SendMessage{
		ConversationID: conversationID,
		SenderID:       c.opts.UserID,
		Content:        content,
		TempID:         tempID,
	})
	env.Ack = ackID
	if err := wsjson.Write(ctx, conn, env); err != nil {
		c.expireSend(ackID)
		return tempID, fmt.Errorf("sending message: %w", err)
	}
	return tempID, nil
}

// Retry resends a failed optimistic entry, reusing its tempId.
func (c *Client) Retry(ctx context.Context, conversationID, tempID string) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	list := c.conversations[conversationID]
	i := indexByTempID(list, tempID)
	if i < 0 || list[i].Status != wire.StatusFailed {
		c.mu.Unlock()
		return fmt.Errorf("no failed message %s in conversation", tempID)
	}
	msg := list[i]

	ackID := uuid.New().String()
	c.inFlight[conversationID] = true
	c.conversations[conversationID] = Apply(list, Change{Kind: ChangeOptimistic, Message: msg})
	c.pending[ackID] = &pendingSend{
		conversationID: conversationID,
		tempID:         tempID,
		timer:          time.AfterFunc(ackTimeout, func() { c.expireSend(ackID) }),
	}
	messages := c.conversations[conversationID]
	c.mu.Unlock()

	c.notifyUpdate(conversationID, messages)

	env := wire.NewEnvelope(wire.EventMessageSend, wire.SendMessage{
		ConversationID: conversationID,
		SenderID:       c.opts.UserID,
		Content:        msg.Content,
		TempID:         tempID,
	})
	env.Ack = ackID
	if err := wsjson.Write(ctx, conn, env); err != nil {
		c.expireSend(ackID)
		return fmt.Errorf("resending message: %w", err)
	}
	return nil
}

// SetActive marks the conversation currently on screen. Incoming messages
// there trigger a debounced auto-read instead of a badge.
func (c *Client) SetActive(ctx context.Context, conversationID string) {
	c.mu.Lock()
	c.active = conversationID
	c.mu.Unlock()
	if conversationID != "" {
		c.scheduleRead(ctx, conversationID)
	}
}

// Messages returns the reconciled list for a conversation.
func (c *Client) Messages(conversationID string) []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversations[conversationID]
}

// Unread returns the unread count for a conversation.
func (c *Client) Unread(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return UnreadCount(c.conversations[conversationID], c.opts.UserID)
}

// FetchHistory asks the server for the conversation's recent messages.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) error {
	return c.write(ctx, wire.NewEnvelope(wire.EventMessagesGet, wire.ConversationRef{
		ConversationID: conversationID,
	}))
}

// CreateConversation asks the server for the conversation with an agent.
func (c *Client) CreateConversation(ctx context.Context, agentID string) error {
	return c.write(ctx, wire.NewEnvelope(wire.EventConversationCreate, wire.CreateConversation{
		AgentID:  agentID,
		ClientID: c.opts.UserID,
	}))
}

func (c *Client) write(ctx context.Context, env wire.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, conn, env)
}

// expireSend marks a pending send failed, either on ack timeout or on a
// failed write.
func (c *Client) expireSend(ackID string) {
	c.mu.Lock()
	p, ok := c.pending[ackID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, ackID)
	delete(c.inFlight, p.conversationID)
	p.timer.Stop()
	c.conversations[p.conversationID] = Apply(c.conversations[p.conversationID], Change{
		Kind:   ChangeFailed,
		TempID: p.tempID,
	})
	messages := c.conversations[p.conversationID]
	c.mu.Unlock()

	c.logger.Warn("send not acknowledged", "conversation_id", p.conversationID, "temp_id", p.tempID)
	c.notifyUpdate(p.conversationID, messages)
}

// scheduleRead debounces the read receipt for the active conversation.
func (c *Client) scheduleRead(ctx context.Context, conversationID string) {
	c.mu.Lock()
	if timer, ok := c.readTimers[conversationID]; ok {
		timer.Stop()
	}
	c.readTimers[conversationID] = time.AfterFunc(readDebounce, func() {
		c.mu.Lock()
		delete(c.readTimers, conversationID)
		stillActive := c.active == conversationID
		c.mu.Unlock()
		if !stillActive {
			return
		}
		err := c.write(ctx, wire.NewEnvelope(wire.EventMessagesRead, wire.ConversationRef{
			ConversationID: conversationID,
		}))
		if err != nil {
			c.logger.Debug("auto-read failed", "conversation_id", conversationID, "error", err)
		}
	})
	c.mu.Unlock()
}

func (c *Client) handle(ctx context.Context, env wire.Envelope) {
	switch env.Event {
	case wire.EventMessageReceive:
		var msg wire.Message
		if !c.decode(env, &msg) {
			return
		}
		c.mu.Lock()
		c.conversations[msg.ConversationID] = Apply(c.conversations[msg.ConversationID], Change{
			Kind:    ChangeServerMessage,
			Message: msg,
		})
		messages := c.conversations[msg.ConversationID]
		active := c.active == msg.ConversationID
		c.mu.Unlock()

		c.notifyUpdate(msg.ConversationID, messages)
		if msg.SenderID != c.opts.UserID {
			if active {
				c.scheduleRead(ctx, msg.ConversationID)
			} else if c.opts.OnNotify != nil {
				c.opts.OnNotify(msg)
			}
		}

	case wire.EventMessageStatus:
		var status wire.MessageStatus
		if !c.decode(env, &status) {
			return
		}
		c.applyEverywhere(Change{Kind: ChangeStatus, Status: status})

	case wire.EventMessagesRead:
		var receipt wire.ReadReceipt
		if !c.decode(env, &receipt) {
			return
		}
		c.mu.Lock()
		c.conversations[receipt.ConversationID] = Apply(c.conversations[receipt.ConversationID], Change{
			Kind:    ChangeReadReceipt,
			Receipt: receipt,
		})
		messages := c.conversations[receipt.ConversationID]
		c.mu.Unlock()
		c.notifyUpdate(receipt.ConversationID, messages)

	case wire.EventMessagesList:
		var history wire.MessageHistory
		if !c.decode(env, &history) {
			return
		}
		if history.ConversationID == "" {
			return
		}
		// Empty snapshots still apply: the server's history is
		// authoritative even when it has nothing in it.
		c.mu.Lock()
		c.conversations[history.ConversationID] = Apply(c.conversations[history.ConversationID], Change{
			Kind:    ChangeHistory,
			History: history.Messages,
		})
		messages := c.conversations[history.ConversationID]
		c.mu.Unlock()
		c.notifyUpdate(history.ConversationID, messages)

	case wire.EventAck:
		var ack wire.Ack
		if !c.decode(env, &ack) {
			return
		}
		c.resolveAck(ack)

	case wire.EventAgentsList:
		var agents []wire.Agent
		if !c.decode(env, &agents) {
			return
		}
		c.mu.Lock()
		c.agents = agents
		clients := c.clients
		c.mu.Unlock()
		if c.opts.OnDirectory != nil {
			c.opts.OnDirectory(agents, clients)
		}

	case wire.EventClientsList:
		var clients []wire.Client
		if !c.decode(env, &clients) {
			return
		}
		c.mu.Lock()
		c.clients = clients
		agents := c.agents
		c.mu.Unlock()
		if c.opts.OnDirectory != nil {
			c.opts.OnDirectory(agents, clients)
		}

	case wire.EventError:
		var wireErr wire.Error
		if !c.decode(env, &wireErr) {
			return
		}
		c.logger.Warn("server error", "code", wireErr.Code, "message", wireErr.Message)

	default:
		// conversation:created, agent:found and the admin feed are
		// surfaced to the app layer elsewhere; nothing to reconcile.
	}
}

func (c *Client) resolveAck(ack wire.Ack) {
	c.mu.Lock()
	p, ok := c.pending[ack.ID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, ack.ID)
	delete(c.inFlight, p.conversationID)
	p.timer.Stop()

	var messages []wire.Message
	if ack.Success && ack.Message != nil {
		c.conversations[p.conversationID] = Apply(c.conversations[p.conversationID], Change{
			Kind:    ChangeServerMessage,
			Message: *ack.Message,
		})
		messages = c.conversations[p.conversationID]
	} else {
		c.conversations[p.conversationID] = Apply(c.conversations[p.conversationID], Change{
			Kind:   ChangeFailed,
			TempID: p.tempID,
		})
		messages = c.conversations[p.conversationID]
	}
	c.mu.Unlock()

	if !ack.Success {
		c.logger.Warn("send rejected", "conversation_id", p.conversationID, "error", ack.Error)
	}
	c.notifyUpdate(p.conversationID, messages)
}

// applyEverywhere folds a change into every conversation that reacts to it.
func (c *Client) applyEverywhere(ch Change) {
	type update struct {
		id       string
		messages []wire.Message
	}
	var updates []update

	c.mu.Lock()
	for id, list := range c.conversations {
		if len(list) == 0 {
			continue
		}
		next := Apply(list, ch)
		changed := len(next) != len(list)
		for i := 0; !changed && i < len(next); i++ {
			changed = next[i] != list[i]
		}
		if changed {
			c.conversations[id] = next
			updates = append(updates, update{id: id, messages: next})
		}
	}
	c.mu.Unlock()

	for _, u := range updates {
		c.notifyUpdate(u.id, u.messages)
	}
}

func (c *Client) notifyUpdate(conversationID string, messages []wire.Message) {
	if c.opts.OnConversationUpdate != nil {
		c.opts.OnConversationUpdate(conversationID, messages)
	}
}

func (c *Client) decode(env wire.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.logger.Warn("decoding event failed", "event", env.Event, "error", err)
		return false
	}
	return true
}
