// ABOUTME: Delivery engine: login/logout lifecycle, the message send pipeline,
// ABOUTME: read receipts, history fetches, and the admin monitoring feed.

package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shenzhiyongzhe/online-chat/internal/conversation"
	"github.com/shenzhiyongzhe/online-chat/internal/presence"
	"github.com/shenzhiyongzhe/online-chat/internal/store"
	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// ErrRateLimited indicates the sender exceeded the per-sender send rate.
var ErrRateLimited = errors.New("rate limited")

// ErrNotParticipant indicates the sender is not a party to the conversation.
var ErrNotParticipant = errors.New("sender is not a participant")

// ClientIDPrefix marks auto-registered client identities. The web client
// derives the id from the visitor's chosen nickname.
const ClientIDPrefix = "CLIENT_"

// Config tunes the delivery engine.
type Config struct {
	// DeliveredDelay is how long after a successful send the message is
	// transitioned to delivered, unless a read receipt got there first.
	DeliveredDelay time.Duration

	// HistoryLimit caps the number of messages returned by history fetches.
	// Zero means unlimited.
	HistoryLimit int

	// RateRPS and RateBurst shape the per-sender send limiter.
	// A zero RateRPS disables limiting.
	RateRPS   float64
	RateBurst int
}

// Engine wires the store, the conversation directory, and the presence
// registry into the socket protocol's semantics.
type Engine struct {
	store     store.Store
	directory *conversation.Directory
	registry  *presence.Registry
	limiters  *limiterPool
	metrics   *Metrics
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	closed  bool
	nextID  int
	pending map[int]*time.Timer
	timers  sync.WaitGroup
}

// NewEngine creates a delivery engine. Metrics may be nil to disable
// instrumentation.
func NewEngine(st store.Store, dir *conversation.Directory, reg *presence.Registry, metrics *Metrics, cfg Config, logger *slog.Logger) *Engine {
	if cfg.DeliveredDelay <= 0 {
		cfg.DeliveredDelay = time.Second
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &Engine{
		store:     st,
		directory: dir,
		registry:  reg,
		limiters:  newLimiterPool(cfg.RateRPS, cfg.RateBurst),
		metrics:   metrics,
		cfg:       cfg,
		pending:   make(map[int]*time.Timer),
		logger:    logger.With("component", "delivery"),
	}
}

// Close cancels delivered timers that haven't fired yet and waits for
// in-flight transitions to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for id, timer := range e.pending {
		if timer.Stop() {
			e.timers.Done()
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()
	e.timers.Wait()
}

// Login authenticates a connection's identity, flips the persisted online
// flag, and broadcasts fresh directory snapshots to everyone. Clients are
// auto-registered on first login; an unknown agent id is logged and the
// connection still gets presence, matching how pre-seeded agent accounts
// behave during development.
func (e *Engine) Login(ctx context.Context, conn presence.Conn, user wire.User) error {
	switch user.Role {
	case wire.RoleClient:
		if !strings.HasPrefix(user.ID, ClientIDPrefix) {
			return fmt.Errorf("client id must start with %q", ClientIDPrefix)
		}
		name := user.Name
		if name == "" {
			name = strings.TrimPrefix(user.ID, ClientIDPrefix)
		}
		if err := e.store.UpsertClient(ctx, &store.Client{ID: user.ID, Name: name, IsOnline: true}); err != nil {
			return fmt.Errorf("registering client: %w", err)
		}

	case wire.RoleAgent:
		if err := e.store.SetAgentOnline(ctx, user.ID, true); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				e.logger.Warn("login from unknown agent", "agent_id", user.ID)
			} else {
				return fmt.Errorf("updating agent presence: %w", err)
			}
		}

	case wire.RoleAdmin:
		// Admins have no directory record; presence only.

	default:
		return fmt.Errorf("unknown role %q", user.Role)
	}

	e.registry.Login(conn, presence.Identity{UserID: user.ID, Name: user.Name, Role: user.Role})
	if e.metrics != nil {
		e.metrics.ActiveConnections.Inc()
	}

	return e.broadcastDirectories(ctx)
}

// Logout tears down a connection. When the user's last connection drops,
// the persisted online flag is cleared and directories are rebroadcast.
func (e *Engine) Logout(ctx context.Context, connID string) {
	id, last, known := e.registry.Logout(connID)
	if !known {
		return
	}
	if e.metrics != nil {
		e.metrics.ActiveConnections.Dec()
	}
	if !last {
		return
	}

	var err error
	switch id.Role {
	case wire.RoleClient:
		err = e.store.SetClientOnline(ctx, id.UserID, false)
	case wire.RoleAgent:
		err = e.store.SetAgentOnline(ctx, id.UserID, false)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Error("clearing online flag", "user_id", id.UserID, "error", err)
	}

	if err := e.broadcastDirectories(ctx); err != nil {
		e.logger.Error("broadcasting directories on logout", "error", err)
	}
}

// broadcastDirectories pushes fresh agents:list and clients:list snapshots
// to every connection. Both lists carry only currently-online members.
func (e *Engine) broadcastDirectories(ctx context.Context) error {
	agentsEnv, err := e.AgentsList(ctx)
	if err != nil {
		return err
	}
	clientsEnv, err := e.ClientsList(ctx)
	if err != nil {
		return err
	}
	e.registry.Broadcast(agentsEnv)
	e.registry.Broadcast(clientsEnv)
	return nil
}

// Send runs the message pipeline: rate limit, validate, persist, fan out,
// bookkeeping, and the deferred delivered transition. The returned message
// is the canonical persisted record echoed back in the sender's ack.
func (e *Engine) Send(ctx context.Context, sender presence.Identity, req wire.SendMessage) (*wire.Message, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("content is required")
	}
	if req.ConversationID == "" {
		return nil, fmt.Errorf("conversationId is required")
	}

	if !e.limiters.Allow(sender.UserID) {
		if e.metrics != nil {
			e.metrics.RateLimited.Inc()
		}
		return nil, ErrRateLimited
	}

	conv, err := e.directory.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if sender.UserID != conv.AgentID && sender.UserID != conv.ClientID {
		return nil, ErrNotParticipant
	}

	now := time.Now().UTC()
	record := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       sender.UserID,
		Content:        req.Content,
		Type:           req.Type,
		Status:         wire.StatusSent,
		CreatedAt:      now,
	}
	if err := e.store.AppendMessage(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	msg := toWireMessage(record)
	msg.TempID = req.TempID

	// Fan out to both participants. The sender's own sessions receive the
	// copy too; the tempId lets them collapse their optimistic entry.
	env := wire.NewEnvelope(wire.EventMessageReceive, msg)
	e.registry.SendToUser(conv.AgentID, env)
	e.registry.SendToUser(conv.ClientID, env)

	adminEnv := wire.NewEnvelope(wire.EventAdminMessage, wire.AdminMessage{
		Message: msg,
		Conversation: wire.AdminConversationRef{
			ID:       conv.ID,
			AgentID:  conv.AgentID,
			ClientID: conv.ClientID,
		},
	})
	e.registry.SendToRoom(presence.RoomAdminMonitor, adminEnv)

	if err := e.store.SetConversationActivity(ctx, conv.ID, req.Content, now); err != nil {
		e.logger.Error("updating conversation activity", "conversation_id", conv.ID, "error", err)
	}
	// Unread counts track the agent's queue: only client messages bump it
	if sender.UserID == conv.ClientID {
		if err := e.store.IncrementUnread(ctx, conv.ID); err != nil {
			e.logger.Error("incrementing unread count", "conversation_id", conv.ID, "error", err)
		}
	}

	if e.metrics != nil {
		e.metrics.MessagesSent.Inc()
	}
	e.scheduleDelivered(record.ID, conv.AgentID, conv.ClientID)

	e.logger.Debug("message sent",
		"message_id", record.ID,
		"conversation_id", conv.ID,
		"sender_id", sender.UserID,
	)
	return &msg, nil
}

// scheduleDelivered transitions the message to delivered after the
// configured delay. The transition is conditional: a read receipt that
// lands first wins and the delivered push is suppressed.
func (e *Engine) scheduleDelivered(messageID, agentID, clientID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.timers.Add(1)
	id := e.nextID
	e.nextID++

	timer := time.AfterFunc(e.cfg.DeliveredDelay, func() {
		defer e.timers.Done()

		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		applied, err := e.store.MarkMessageDelivered(ctx, messageID)
		if err != nil {
			e.logger.Error("marking message delivered", "message_id", messageID, "error", err)
			return
		}
		if !applied {
			if e.metrics != nil {
				e.metrics.DeliveredSkipped.Inc()
			}
			return
		}
		if e.metrics != nil {
			e.metrics.DeliveredApplied.Inc()
		}

		env := wire.NewEnvelope(wire.EventMessageStatus, wire.MessageStatus{
			MessageID: messageID,
			Status:    wire.StatusDelivered,
		})
		e.registry.SendToUser(agentID, env)
		e.registry.SendToUser(clientID, env)
	})
	e.pending[id] = timer
	e.mu.Unlock()
}

// Read applies a read receipt: every message in the conversation not sent
// by the reader transitions to read and the unread counter resets. Both
// participants get the messages:read broadcast; the returned ack envelope
// goes back to the requesting connection only.
func (e *Engine) Read(ctx context.Context, reader presence.Identity, ref wire.ConversationRef) (wire.Envelope, error) {
	conv, err := e.directory.Get(ctx, ref.ConversationID)
	if err != nil {
		return wire.Envelope{}, err
	}

	updated, err := e.store.MarkConversationRead(ctx, conv.ID, reader.UserID)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("marking conversation read: %w", err)
	}
	if e.metrics != nil {
		e.metrics.MessagesRead.Add(float64(updated))
	}

	receipt := wire.ReadReceipt{
		ConversationID: conv.ID,
		ReaderID:       reader.UserID,
		Timestamp:      time.Now().UTC(),
	}
	env := wire.NewEnvelope(wire.EventMessagesRead, receipt)
	e.registry.SendToUser(conv.AgentID, env)
	e.registry.SendToUser(conv.ClientID, env)

	e.logger.Debug("conversation read",
		"conversation_id", conv.ID,
		"reader_id", reader.UserID,
		"updated", updated,
	)
	return wire.NewEnvelope(wire.EventMessagesReadAck, receipt), nil
}

// History returns the conversation's recent messages, oldest first.
func (e *Engine) History(ctx context.Context, ref wire.ConversationRef) (wire.Envelope, error) {
	messages, err := e.listMessages(ctx, ref.ConversationID)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.NewEnvelope(wire.EventMessagesList, wire.MessageHistory{
		ConversationID: ref.ConversationID,
		Messages:       messages,
	}), nil
}

// AgentsList returns the online-agents directory snapshot.
func (e *Engine) AgentsList(ctx context.Context) (wire.Envelope, error) {
	agents, err := e.store.ListOnlineAgents(ctx)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("listing online agents: %w", err)
	}
	out := make([]wire.Agent, len(agents))
	for i, a := range agents {
		out[i] = wire.Agent{ID: a.ID, Name: a.Name, Avatar: a.Avatar, IsOnline: a.IsOnline}
	}
	return wire.NewEnvelope(wire.EventAgentsList, out), nil
}

// ClientsList returns the online-clients directory snapshot.
func (e *Engine) ClientsList(ctx context.Context) (wire.Envelope, error) {
	clients, err := e.store.ListOnlineClients(ctx)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("listing online clients: %w", err)
	}
	out := make([]wire.Client, len(clients))
	for i, c := range clients {
		out[i] = wire.Client{ID: c.ID, Name: c.Name, IsOnline: c.IsOnline}
	}
	return wire.NewEnvelope(wire.EventClientsList, out), nil
}

// SearchAgent resolves an agent by id or name fragment.
func (e *Engine) SearchAgent(ctx context.Context, req wire.AgentSearch) wire.Envelope {
	agent, err := e.store.SearchAgent(ctx, req.Query)
	if errors.Is(err, store.ErrNotFound) {
		return wire.NewEnvelope(wire.EventAgentFound, wire.AgentFound{
			Success: false,
			Message: "no agent matched",
		})
	}
	if err != nil {
		e.logger.Error("searching agents", "query", req.Query, "error", err)
		return wire.NewEnvelope(wire.EventAgentFound, wire.AgentFound{
			Success: false,
			Message: "search failed",
		})
	}
	return wire.NewEnvelope(wire.EventAgentFound, wire.AgentFound{
		Success: true,
		Agent:   &wire.Agent{ID: agent.ID, Name: agent.Name, Avatar: agent.Avatar, IsOnline: agent.IsOnline},
	})
}

// CreateConversation idempotently resolves the conversation for the pair.
// The requester always gets the conversation:created envelope back; on a
// genuinely new conversation the counterpart is notified too.
func (e *Engine) CreateConversation(ctx context.Context, requester presence.Identity, req wire.CreateConversation) (wire.Envelope, error) {
	conv, created, err := e.directory.GetOrCreate(ctx, req)
	if err != nil {
		return wire.Envelope{}, err
	}

	env := wire.NewEnvelope(wire.EventConversationCreated, conversation.ToWire(conv))
	if created {
		counterpart := conv.AgentID
		if requester.UserID == conv.AgentID {
			counterpart = conv.ClientID
		}
		e.registry.SendToUser(counterpart, env)
	}
	return env, nil
}

// AdminConversations returns all active conversations for monitoring.
func (e *Engine) AdminConversations(ctx context.Context) (wire.Envelope, error) {
	convs, err := e.directory.ListActive(ctx)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.NewEnvelope(wire.EventAdminConversationsList, conversation.ToWireList(convs)), nil
}

// AdminRoomMessages returns one conversation's message history for the
// monitoring view.
func (e *Engine) AdminRoomMessages(ctx context.Context, ref wire.ConversationRef) (wire.Envelope, error) {
	messages, err := e.listMessages(ctx, ref.ConversationID)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.NewEnvelope(wire.EventAdminRoomMessagesResult, wire.RoomMessages{
		ConversationID: ref.ConversationID,
		Messages:       messages,
	}), nil
}

// JoinMonitoring adds a connection to the admin monitoring room.
func (e *Engine) JoinMonitoring(connID string) {
	e.registry.JoinRoom(connID, presence.RoomAdminMonitor)
}

func (e *Engine) listMessages(ctx context.Context, conversationID string) ([]wire.Message, error) {
	if _, err := e.directory.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	records, err := e.store.ListRecentMessages(ctx, conversationID, e.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	messages := make([]wire.Message, len(records))
	for i, r := range records {
		messages[i] = toWireMessage(r)
	}
	return messages, nil
}

func toWireMessage(m *store.Message) wire.Message {
	return wire.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           m.Type,
		Status:         m.Status,
		Timestamp:      m.CreatedAt,
	}
}
