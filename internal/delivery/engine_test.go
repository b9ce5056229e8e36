// ABOUTME: Tests for the delivery engine
// ABOUTME: Covers the send pipeline, delivered/read racing, receipts, and directories

package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenzhiyongzhe/online-chat/internal/conversation"
	"github.com/shenzhiyongzhe/online-chat/internal/presence"
	"github.com/shenzhiyongzhe/online-chat/internal/store"
	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

type fakeConn struct {
	id   string
	mu   sync.Mutex
	sent []wire.Envelope
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env wire.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return true
}

// byEvent returns the envelopes received for one event name.
func (c *fakeConn) byEvent(event string) []wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []wire.Envelope
	for _, env := range c.sent {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

type fixture struct {
	engine *Engine
	store  *store.MemoryStore
	reg    *presence.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.DeliveredDelay == 0 {
		cfg.DeliveredDelay = 10 * time.Millisecond
	}
	st := store.NewMemoryStore()
	logger := slog.Default()
	reg := presence.NewRegistry(logger)
	dir := conversation.NewDirectory(st, logger)
	engine := NewEngine(st, dir, reg, nil, cfg, logger)
	t.Cleanup(engine.Close)
	return &fixture{engine: engine, store: st, reg: reg}
}

func (f *fixture) login(t *testing.T, id string, role wire.Role) *fakeConn {
	t.Helper()
	conn := &fakeConn{id: "conn-" + id}
	err := f.engine.Login(context.Background(), conn, wire.User{ID: id, Name: id, Role: role})
	require.NoError(t, err)
	return conn
}

func (f *fixture) seedAgent(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.UpsertAgent(context.Background(), &store.Agent{ID: id, Name: id}))
}

func (f *fixture) seedConversation(t *testing.T, id, agentID, clientID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateConversation(context.Background(), &store.Conversation{
		ID:        id,
		Type:      store.ConversationTypeAgent,
		AgentID:   agentID,
		ClientID:  clientID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func decode[T any](t *testing.T, env wire.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestLoginClientAutoRegisters(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.login(t, "CLIENT_alice", wire.RoleClient)

	clients, err := f.store.ListOnlineClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "CLIENT_alice", clients[0].ID)

	// Login triggers a directory broadcast back to the new connection
	assert.NotEmpty(t, conn.byEvent(wire.EventClientsList))
	assert.NotEmpty(t, conn.byEvent(wire.EventAgentsList))
}

func TestLoginClientRejectsBadID(t *testing.T) {
	f := newFixture(t, Config{})
	conn := &fakeConn{id: "conn-bad"}
	err := f.engine.Login(context.Background(), conn, wire.User{ID: "alice", Role: wire.RoleClient})
	assert.Error(t, err)
}

func TestLoginUnknownAgentContinues(t *testing.T) {
	f := newFixture(t, Config{})
	// No seeded agent record; login still succeeds with presence only
	conn := f.login(t, "agent-ghost", wire.RoleAgent)
	assert.True(t, f.reg.IsOnline("agent-ghost"))
	assert.NotEmpty(t, conn.byEvent(wire.EventAgentsList))
}

func TestLogoutClearsOnlineFlag(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedAgent(t, "agent-001")
	conn := f.login(t, "agent-001", wire.RoleAgent)

	ctx := context.Background()
	agents, err := f.store.ListOnlineAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	f.engine.Logout(ctx, conn.ID())
	agents, err = f.store.ListOnlineAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)
	assert.False(t, f.reg.IsOnline("agent-001"))
}

func TestSendFanOut(t *testing.T) {
	f := newFixture(t, Config{DeliveredDelay: time.Hour})
	f.seedAgent(t, "agent-001")
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")
	agentConn := f.login(t, "agent-001", wire.RoleAgent)
	clientConn := f.login(t, "CLIENT_alice", wire.RoleClient)
	adminConn := f.login(t, "admin-1", wire.RoleAdmin)

	sender := presence.Identity{UserID: "CLIENT_alice", Role: wire.RoleClient}
	msg, err := f.engine.Send(context.Background(), sender, wire.SendMessage{
		ConversationID: "conv-1",
		Content:        "hello",
		TempID:         "tmp-1",
	})
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSent, msg.Status)
	assert.Equal(t, "tmp-1", msg.TempID)

	// Both participants get message:receive with the tempId echoed
	agentMsgs := agentConn.byEvent(wire.EventMessageReceive)
	require.Len(t, agentMsgs, 1)
	got := decode[wire.Message](t, agentMsgs[0])
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "tmp-1", got.TempID)

	clientMsgs := clientConn.byEvent(wire.EventMessageReceive)
	require.Len(t, clientMsgs, 1)

	// Admin monitor gets the annotated copy
	adminMsgs := adminConn.byEvent(wire.EventAdminMessage)
	require.Len(t, adminMsgs, 1)
	annotated := decode[wire.AdminMessage](t, adminMsgs[0])
	assert.Equal(t, "conv-1", annotated.Conversation.ID)
	assert.Equal(t, "agent-001", annotated.Conversation.AgentID)

	// Client message bumps the agent's unread counter and activity
	conv, err := f.store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, "hello", conv.LastMessage)
	require.NotNil(t, conv.LastMessageTime)
}

func TestSendAgentMessageDoesNotBumpUnread(t *testing.T) {
	f := newFixture(t, Config{DeliveredDelay: time.Hour})
	f.seedAgent(t, "agent-001")
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")

	sender := presence.Identity{UserID: "agent-001", Role: wire.RoleAgent}
	_, err := f.engine.Send(context.Background(), sender, wire.SendMessage{
		ConversationID: "conv-1",
		Content:        "how can I help?",
	})
	require.NoError(t, err)

	conv, err := f.store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestSendUnknownConversation(t *testing.T) {
	f := newFixture(t, Config{})

	sender := presence.Identity{UserID: "CLIENT_alice", Role: wire.RoleClient}
	_, err := f.engine.Send(context.Background(), sender, wire.SendMessage{
		ConversationID: "nonexistent",
		Content:        "hello",
	})
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)

	// Nothing was persisted
	msgs, listErr := f.store.ListRecentMessages(context.Background(), "nonexistent", 0)
	require.NoError(t, listErr)
	assert.Empty(t, msgs)
}

func TestSendNonParticipantRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")

	sender := presence.Identity{UserID: "CLIENT_mallory", Role: wire.RoleClient}
	_, err := f.engine.Send(context.Background(), sender, wire.SendMessage{
		ConversationID: "conv-1",
		Content:        "hello",
	})
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestDeliveredTransition(t *testing.T) {
	f := newFixture(t, Config{DeliveredDelay: 10 * time.Millisecond})
	f.seedAgent(t, "agent-001")
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")
	clientConn := f.login(t, "CLIENT_alice", wire.RoleClient)

	sender := presence.Identity{UserID: "CLIENT_alice", Role: wire.RoleClient}
	msg, err := f.engine.Send(context.Background(), sender, wire.SendMessage{
		ConversationID: "conv-1",
		Content:        "hello",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.store.GetMessage(context.Background(), msg.ID)
		return err == nil && got.Status == wire.StatusDelivered
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(clientConn.byEvent(wire.EventMessageStatus)) == 1
	}, time.Second, 5*time.Millisecond)

	statuses := clientConn.byEvent(wire.EventMessageStatus)
	require.Len(t, statuses, 1)
	status := decode[wire.MessageStatus](t, statuses[0])
	assert.Equal(t, msg.ID, status.MessageID)
	assert.Equal(t, wire.StatusDelivered, status.Status)
}

func TestReadBeatsDeliveredTimer(t *testing.T) {
	f := newFixture(t, Config{DeliveredDelay: 50 * time.Millisecond})
	f.seedAgent(t, "agent-001")
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")
	clientConn := f.login(t, "CLIENT_alice", wire.RoleClient)

	ctx := context.Background()
	sender := presence.Identity{UserID: "CLIENT_alice", Role: wire.RoleClient}
	msg, err := f.engine.Send(ctx, sender, wire.SendMessage{
		ConversationID: "conv-1",
		Content:        "hello",
	})
	require.NoError(t, err)

	// Agent reads before the timer fires
	reader := presence.Identity{UserID: "agent-001", Role: wire.RoleAgent}
	_, err = f.engine.Read(ctx, reader, wire.ConversationRef{ConversationID: "conv-1"})
	require.NoError(t, err)

	// Let the delivered timer fire and find the message already read
	time.Sleep(120 * time.Millisecond)

	got, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusRead, got.Status)

	// No delivered push reached the client
	assert.Empty(t, clientConn.byEvent(wire.EventMessageStatus))
}

func TestReadReceiptBroadcast(t *testing.T) {
	f := newFixture(t, Config{DeliveredDelay: time.Hour})
	f.seedAgent(t, "agent-001")
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")
	agentConn := f.login(t, "agent-001", wire.RoleAgent)
	clientConn := f.login(t, "CLIENT_alice", wire.RoleClient)

	ctx := context.Background()
	sender := presence.Identity{UserID: "CLIENT_alice", Role: wire.RoleClient}
	_, err := f.engine.Send(ctx, sender, wire.SendMessage{ConversationID: "conv-1", Content: "hi"})
	require.NoError(t, err)

	reader := presence.Identity{UserID: "agent-001", Role: wire.RoleAgent}
	ack, err := f.engine.Read(ctx, reader, wire.ConversationRef{ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, wire.EventMessagesReadAck, ack.Event)

	receipt := decode[wire.ReadReceipt](t, ack)
	assert.Equal(t, "conv-1", receipt.ConversationID)
	assert.Equal(t, "agent-001", receipt.ReaderID)

	// Both parties got the broadcast
	assert.Len(t, agentConn.byEvent(wire.EventMessagesRead), 1)
	assert.Len(t, clientConn.byEvent(wire.EventMessagesRead), 1)

	// Unread counter reset
	conv, err := f.store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestRateLimiting(t *testing.T) {
	f := newFixture(t, Config{DeliveredDelay: time.Hour, RateRPS: 0.001, RateBurst: 2})
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")

	ctx := context.Background()
	sender := presence.Identity{UserID: "CLIENT_alice", Role: wire.RoleClient}
	for i := 0; i < 2; i++ {
		_, err := f.engine.Send(ctx, sender, wire.SendMessage{ConversationID: "conv-1", Content: "x"})
		require.NoError(t, err)
	}

	_, err := f.engine.Send(ctx, sender, wire.SendMessage{ConversationID: "conv-1", Content: "x"})
	assert.ErrorIs(t, err, ErrRateLimited)

	// Other senders are unaffected
	other := presence.Identity{UserID: "agent-001", Role: wire.RoleAgent}
	_, err = f.engine.Send(ctx, other, wire.SendMessage{ConversationID: "conv-1", Content: "y"})
	assert.NoError(t, err)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, Config{DeliveredDelay: time.Hour, HistoryLimit: 2})
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")

	ctx := context.Background()
	sender := presence.Identity{UserID: "CLIENT_alice", Role: wire.RoleClient}
	for _, content := range []string{"one", "two", "three"} {
		_, err := f.engine.Send(ctx, sender, wire.SendMessage{ConversationID: "conv-1", Content: content})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	env, err := f.engine.History(ctx, wire.ConversationRef{ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, wire.EventMessagesList, env.Event)

	history := decode[wire.MessageHistory](t, env)
	assert.Equal(t, "conv-1", history.ConversationID)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "two", history.Messages[0].Content)
	assert.Equal(t, "three", history.Messages[1].Content)
}

func TestHistoryEmptyConversation(t *testing.T) {
	f := newFixture(t, Config{HistoryLimit: 10})
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")

	env, err := f.engine.History(context.Background(), wire.ConversationRef{ConversationID: "conv-1"})
	require.NoError(t, err)

	// An empty history still names the conversation so receivers can
	// replace their local copy.
	history := decode[wire.MessageHistory](t, env)
	assert.Equal(t, "conv-1", history.ConversationID)
	assert.Empty(t, history.Messages)
}

func TestHistoryUnknownConversation(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.engine.History(context.Background(), wire.ConversationRef{ConversationID: "nope"})
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
}

func TestCreateConversationNotifiesCounterpart(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedAgent(t, "agent-001")
	agentConn := f.login(t, "agent-001", wire.RoleAgent)
	f.login(t, "CLIENT_alice", wire.RoleClient)

	ctx := context.Background()
	requester := presence.Identity{UserID: "CLIENT_alice", Role: wire.RoleClient}
	env, err := f.engine.CreateConversation(ctx, requester, wire.CreateConversation{
		AgentID:  "agent-001",
		ClientID: "CLIENT_alice",
	})
	require.NoError(t, err)
	assert.Equal(t, wire.EventConversationCreated, env.Event)

	// The agent, as counterpart, was notified of the new conversation
	require.Len(t, agentConn.byEvent(wire.EventConversationCreated), 1)

	// Repeat create returns the same conversation and notifies no one again
	env2, err := f.engine.CreateConversation(ctx, requester, wire.CreateConversation{
		AgentID:  "agent-001",
		ClientID: "CLIENT_alice",
	})
	require.NoError(t, err)
	first := decode[wire.Conversation](t, env)
	second := decode[wire.Conversation](t, env2)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, agentConn.byEvent(wire.EventConversationCreated), 1)
}

func TestSearchAgent(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedAgent(t, "agent-001")

	env := f.engine.SearchAgent(context.Background(), wire.AgentSearch{Query: "agent-001"})
	assert.Equal(t, wire.EventAgentFound, env.Event)
	found := decode[wire.AgentFound](t, env)
	require.True(t, found.Success)
	assert.Equal(t, "agent-001", found.Agent.ID)

	env = f.engine.SearchAgent(context.Background(), wire.AgentSearch{Query: "nobody"})
	found = decode[wire.AgentFound](t, env)
	assert.False(t, found.Success)
}

func TestAdminConversations(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedConversation(t, "conv-1", "agent-001", "CLIENT_alice")

	env, err := f.engine.AdminConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wire.EventAdminConversationsList, env.Event)
	convs := decode[[]wire.Conversation](t, env)
	require.Len(t, convs, 1)
	assert.Equal(t, "conv-1", convs[0].ID)
}
