// ABOUTME: Tests for the HTTP server, REST boundary, and websocket protocol
// ABOUTME: Drives a real socket client through login, create, send, and read flows

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenzhiyongzhe/online-chat/internal/config"
	"github.com/shenzhiyongzhe/online-chat/internal/store"
	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTL = time.Hour
	cfg.Delivery.DeliveredDelay = 10 * time.Millisecond
	cfg.Metrics.Enabled = false

	srv, err := New(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.engine.Close()
		_ = srv.store.Close()
	})
	return srv
}

func seedAgent(t *testing.T, srv *Server, id, password string) {
	t.Helper()
	hash := ""
	if password != "" {
		var err error
		hash, err = HashPassword(password)
		require.NoError(t, err)
	}
	require.NoError(t, srv.store.UpsertAgent(context.Background(), &store.Agent{
		ID:           id,
		Name:         "Agent " + id,
		PasswordHash: hash,
	}))
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthLogin(t *testing.T) {
	srv := newTestServer(t)
	seedAgent(t, srv, "agent-001", "hunter2")
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	login := func(agentID, password string) *http.Response {
		body, _ := json.Marshal(map[string]string{"agentId": agentID, "password": password})
		resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	resp := login("agent-001", "hunter2")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "agent-001", result.Agent.ID)

	// Issued token verifies back to the agent
	subject, err := srv.auth.Verify(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "agent-001", subject)

	resp = login("agent-001", "wrong")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = login("nobody", "hunter2")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// loginAgent authenticates against the REST API and returns the token.
func loginAgent(t *testing.T, ts *httptest.Server, agentID, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"agentId": agentID, "password": password})
	resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result.Token
}

func TestListConversationsRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	seedAgent(t, srv, "agent-001", "hunter2")
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	// No token at all
	resp, err := http.Get(ts.URL + "/api/conversations")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Garbage token
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := loginAgent(t, ts, "agent-001", "hunter2")

	// Valid token, agentId defaults to the token's subject
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Another agent's list is off limits
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/conversations?agentId=agent-002", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSetDisplayName(t *testing.T) {
	srv := newTestServer(t)
	seedAgent(t, srv, "agent-001", "hunter2")
	now := time.Now().UTC()
	require.NoError(t, srv.store.CreateConversation(context.Background(), &store.Conversation{
		ID:        "conv-1",
		Type:      store.ConversationTypeAgent,
		AgentID:   "agent-001",
		ClientID:  "CLIENT_alice",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()
	token := loginAgent(t, ts, "agent-001", "hunter2")

	post := func(path, body string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	// Unauthenticated writes are rejected
	resp, err := http.Post(ts.URL+"/api/conversations/conv-1/display-name", "application/json",
		strings.NewReader(`{"displayName":"VIP customer"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post("/api/conversations/conv-1/display-name", `{"displayName":"VIP customer"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conv, err := srv.store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "VIP customer", conv.ClientDisplayName)

	resp = post("/api/conversations/nope/display-name", `{"displayName":"x"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAgents(t *testing.T) {
	srv := newTestServer(t)
	seedAgent(t, srv, "agent-001", "")
	require.NoError(t, srv.store.SetAgentOnline(context.Background(), "agent-001", true))
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agents []wire.Agent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-001", agents[0].ID)
}

// wsClient drives the socket protocol in tests.
type wsClient struct {
	conn *websocket.Conn
	ctx  context.Context
}

func dialWS(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	return &wsClient{conn: conn, ctx: ctx}
}

func (c *wsClient) send(t *testing.T, env wire.Envelope) {
	t.Helper()
	require.NoError(t, wsjson.Write(c.ctx, c.conn, env))
}

// readUntil discards envelopes until one matches the event name.
func (c *wsClient) readUntil(t *testing.T, event string) wire.Envelope {
	t.Helper()
	for {
		var env wire.Envelope
		require.NoError(t, wsjson.Read(c.ctx, c.conn, &env), "waiting for %s", event)
		if env.Event == event {
			return env
		}
	}
}

func TestWebSocketSendFlow(t *testing.T) {
	srv := newTestServer(t)
	seedAgent(t, srv, "agent-001", "")
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	client := dialWS(t, ts)
	client.send(t, wire.NewEnvelope(wire.EventUserLogin, wire.User{
		ID:   "CLIENT_alice",
		Name: "alice",
		Role: wire.RoleClient,
	}))

	// Login triggers directory snapshots
	env := client.readUntil(t, wire.EventClientsList)
	var clients []wire.Client
	require.NoError(t, json.Unmarshal(env.Data, &clients))
	require.Len(t, clients, 1)
	assert.Equal(t, "CLIENT_alice", clients[0].ID)

	// Create the conversation with the agent
	client.send(t, wire.NewEnvelope(wire.EventConversationCreate, wire.CreateConversation{
		AgentID:  "agent-001",
		ClientID: "CLIENT_alice",
	}))
	env = client.readUntil(t, wire.EventConversationCreated)
	var conv wire.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	require.NotEmpty(t, conv.ID)

	// Send with an ack id; the sender also gets the fan-out copy
	sendEnv := wire.NewEnvelope(wire.EventMessageSend, wire.SendMessage{
		ConversationID: conv.ID,
		Content:        "hello there",
		TempID:         "tmp-1",
	})
	sendEnv.Ack = "req-1"
	client.send(t, sendEnv)

	ackEnv := client.readUntil(t, wire.EventAck)
	var ack wire.Ack
	require.NoError(t, json.Unmarshal(ackEnv.Data, &ack))
	assert.Equal(t, "req-1", ack.ID)
	assert.True(t, ack.Success)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "hello there", ack.Message.Content)
	assert.Equal(t, "tmp-1", ack.Message.TempID)

	recvEnv := client.readUntil(t, wire.EventMessageReceive)
	var msg wire.Message
	require.NoError(t, json.Unmarshal(recvEnv.Data, &msg))
	assert.Equal(t, ack.Message.ID, msg.ID)
	assert.Equal(t, "tmp-1", msg.TempID)

	// The delivered transition arrives shortly after
	statusEnv := client.readUntil(t, wire.EventMessageStatus)
	var status wire.MessageStatus
	require.NoError(t, json.Unmarshal(statusEnv.Data, &status))
	assert.Equal(t, msg.ID, status.MessageID)
	assert.Equal(t, wire.StatusDelivered, status.Status)

	// History returns the persisted message
	client.send(t, wire.NewEnvelope(wire.EventMessagesGet, wire.ConversationRef{ConversationID: conv.ID}))
	listEnv := client.readUntil(t, wire.EventMessagesList)
	var history wire.MessageHistory
	require.NoError(t, json.Unmarshal(listEnv.Data, &history))
	assert.Equal(t, conv.ID, history.ConversationID)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hello there", history.Messages[0].Content)
}

func TestWebSocketSendToUnknownConversation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	client := dialWS(t, ts)
	client.send(t, wire.NewEnvelope(wire.EventUserLogin, wire.User{
		ID:   "CLIENT_bob",
		Role: wire.RoleClient,
	}))
	client.readUntil(t, wire.EventClientsList)

	client.send(t, wire.NewEnvelope(wire.EventMessageSend, wire.SendMessage{
		ConversationID: "nonexistent",
		Content:        "hi",
	}))

	errEnv := client.readUntil(t, wire.EventError)
	var wireErr wire.Error
	require.NoError(t, json.Unmarshal(errEnv.Data, &wireErr))
	assert.Equal(t, wire.ErrCodeConversationNotFound, wireErr.Code)
	assert.Equal(t, "nonexistent", wireErr.ConversationID)
}

func TestWebSocketAdminRequiresRole(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	client := dialWS(t, ts)
	client.send(t, wire.NewEnvelope(wire.EventUserLogin, wire.User{
		ID:   "CLIENT_eve",
		Role: wire.RoleClient,
	}))
	client.readUntil(t, wire.EventClientsList)

	client.send(t, wire.NewEnvelope(wire.EventAdminConversations, nil))
	errEnv := client.readUntil(t, wire.EventError)
	var wireErr wire.Error
	require.NoError(t, json.Unmarshal(errEnv.Data, &wireErr))
	assert.Contains(t, wireErr.Message, "admin")
}
