// ABOUTME: One websocket session: envelope read loop, single-writer outbox, and
// ABOUTME: dispatch from socket events into the delivery engine.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/shenzhiyongzhe/online-chat/internal/conversation"
	"github.com/shenzhiyongzhe/online-chat/internal/delivery"
	"github.com/shenzhiyongzhe/online-chat/internal/presence"
	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// outboxSize bounds the per-session write queue. A session that falls this
// far behind starts losing events; the client reconciles on reconnect.
const outboxSize = 64

// session is one live websocket connection.
type session struct {
	id       string
	conn     *websocket.Conn
	outbox   chan wire.Envelope
	engine   *delivery.Engine
	registry *presence.Registry
	logger   *slog.Logger
}

// ID implements presence.Conn.
func (s *session) ID() string { return s.id }

// Send implements presence.Conn. It never blocks: when the outbox is full
// the envelope is dropped and false is returned.
func (s *session) Send(env wire.Envelope) bool {
	select {
	case s.outbox <- env:
		return true
	default:
		return false
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.CORS.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	sess := &session{
		id:       uuid.New().String(),
		conn:     conn,
		outbox:   make(chan wire.Envelope, outboxSize),
		engine:   s.engine,
		registry: s.registry,
	}
	sess.logger = s.logger.With("conn_id", sess.id[:8])

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go sess.writeLoop(ctx)
	sess.readLoop(ctx)

	// Read loop ended: tear down presence and the socket
	s.engine.Logout(context.Background(), sess.id)
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
}

// writeLoop is the single writer for the connection.
func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.outbox:
			if err := wsjson.Write(ctx, s.conn, env); err != nil {
				s.logger.Debug("write failed", "error", err)
				return
			}
		}
	}
}

// readLoop decodes inbound envelopes until the connection drops.
func (s *session) readLoop(ctx context.Context) {
	for {
		var env wire.Envelope
		if err := wsjson.Read(ctx, s.conn, &env); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.logger.Debug("read loop ended", "error", err)
			}
			return
		}
		s.dispatch(ctx, env)
	}
}

// dispatch routes one inbound envelope to the engine. Request events get
// their result pushed back on this session; fan-out happens inside the
// engine via the registry. A panicking handler answers this connection
// with an error event instead of tearing down the read loop.
func (s *session) dispatch(ctx context.Context, env wire.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "event", env.Event, "panic", r)
			s.sendError(env, fmt.Errorf("internal error handling %s", env.Event))
		}
	}()

	switch env.Event {
	case wire.EventUserLogin:
		var user wire.User
		if !s.decode(env, &user) {
			return
		}
		if err := s.engine.Login(ctx, s, user); err != nil {
			s.sendError(env, err)
		}

	case wire.EventMessageSend:
		var req wire.SendMessage
		if !s.decode(env, &req) {
			return
		}
		id, ok := s.identity()
		if !ok {
			s.sendError(env, fmt.Errorf("login required"))
			return
		}
		msg, err := s.engine.Send(ctx, id, req)
		if err != nil {
			s.sendError(env, err)
			return
		}
		if env.Ack != "" {
			s.Send(wire.NewEnvelope(wire.EventAck, wire.Ack{
				ID:      env.Ack,
				Success: true,
				Message: msg,
			}))
		}

	case wire.EventMessagesGet:
		var ref wire.ConversationRef
		if !s.decode(env, &ref) {
			return
		}
		s.reply(env, func() (wire.Envelope, error) { return s.engine.History(ctx, ref) })

	case wire.EventMessagesRead:
		var ref wire.ConversationRef
		if !s.decode(env, &ref) {
			return
		}
		id, ok := s.identity()
		if !ok {
			s.sendError(env, fmt.Errorf("login required"))
			return
		}
		s.reply(env, func() (wire.Envelope, error) { return s.engine.Read(ctx, id, ref) })

	case wire.EventConversationCreate:
		var req wire.CreateConversation
		if !s.decode(env, &req) {
			return
		}
		id, ok := s.identity()
		if !ok {
			s.sendError(env, fmt.Errorf("login required"))
			return
		}
		s.reply(env, func() (wire.Envelope, error) { return s.engine.CreateConversation(ctx, id, req) })

	case wire.EventAgentsList:
		s.reply(env, func() (wire.Envelope, error) { return s.engine.AgentsList(ctx) })

	case wire.EventClientsList:
		s.reply(env, func() (wire.Envelope, error) { return s.engine.ClientsList(ctx) })

	case wire.EventAgentSearch:
		var req wire.AgentSearch
		if !s.decode(env, &req) {
			return
		}
		s.Send(s.engine.SearchAgent(ctx, req))

	case wire.EventAdminJoinMonitoring:
		if !s.requireRole(env, wire.RoleAdmin) {
			return
		}
		s.engine.JoinMonitoring(s.id)
		s.reply(env, func() (wire.Envelope, error) { return s.engine.AdminConversations(ctx) })

	case wire.EventAdminConversations:
		if !s.requireRole(env, wire.RoleAdmin) {
			return
		}
		s.reply(env, func() (wire.Envelope, error) { return s.engine.AdminConversations(ctx) })

	case wire.EventAdminRoomMessages:
		if !s.requireRole(env, wire.RoleAdmin) {
			return
		}
		var ref wire.ConversationRef
		if !s.decode(env, &ref) {
			return
		}
		s.reply(env, func() (wire.Envelope, error) { return s.engine.AdminRoomMessages(ctx, ref) })

	default:
		s.logger.Warn("unknown event", "event", env.Event)
		s.sendError(env, fmt.Errorf("unknown event %q", env.Event))
	}
}

// reply runs a request handler and pushes either its result or an error.
func (s *session) reply(req wire.Envelope, fn func() (wire.Envelope, error)) {
	env, err := fn()
	if err != nil {
		s.sendError(req, err)
		return
	}
	s.Send(env)
}

func (s *session) identity() (presence.Identity, bool) {
	return s.registry.Identity(s.id)
}

func (s *session) requireRole(env wire.Envelope, role wire.Role) bool {
	id, ok := s.identity()
	if !ok || id.Role != role {
		s.sendError(env, fmt.Errorf("%s role required", role))
		return false
	}
	return true
}

func (s *session) decode(env wire.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		s.sendError(env, fmt.Errorf("decoding %s payload: %w", env.Event, err))
		return false
	}
	return true
}

// sendError maps an error to the typed error event. When the request
// carried an ack id, the error resolves the ack instead.
func (s *session) sendError(req wire.Envelope, err error) {
	if req.Ack != "" {
		s.Send(wire.NewEnvelope(wire.EventAck, wire.Ack{
			ID:    req.Ack,
			Error: err.Error(),
		}))
		return
	}

	e := wire.Error{Code: errorCode(err), Message: err.Error()}
	if errors.Is(err, conversation.ErrConversationNotFound) {
		var ref wire.ConversationRef
		if json.Unmarshal(req.Data, &ref) == nil {
			e.ConversationID = ref.ConversationID
		}
	}
	s.Send(wire.NewEnvelope(wire.EventError, e))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound):
		return wire.ErrCodeConversationNotFound
	case errors.Is(err, delivery.ErrRateLimited):
		return wire.ErrCodeRateLimited
	case errors.Is(err, delivery.ErrNotParticipant):
		return wire.ErrCodeValidation
	default:
		return wire.ErrCodePersistence
	}
}
