// ABOUTME: Tracks which users are connected and which rooms each connection has joined.
// ABOUTME: Central routing point for direct and room-scoped event delivery.

package presence

import (
	"log/slog"
	"sync"

	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// RoomAdminMonitor receives an annotated copy of every message plus
// conversation lifecycle events. Admin identities join it on login.
const RoomAdminMonitor = "room:admin-monitor"

// UserRoom returns the personal room name for a user identity. Every
// connection a user holds joins this room, so direct sends reach all of
// a user's tabs.
func UserRoom(userID string) string {
	return "user:" + userID
}

// Conn is one live connection. Send must not block: implementations
// enqueue onto a bounded outbox and report false when the envelope was
// dropped or the connection is closed.
type Conn interface {
	ID() string
	Send(env wire.Envelope) bool
}

// Identity is what a connection authenticated as.
type Identity struct {
	UserID string
	Name   string
	Role   wire.Role
}

// Registry coordinates all live connections and their room memberships.
// All methods are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	conns       map[string]Conn            // connID -> connection
	identities  map[string]Identity        // connID -> who it is
	userConns   map[string]map[string]bool // userID -> set of connIDs
	roomMembers map[string]map[string]bool // room -> set of connIDs
	logger      *slog.Logger
}

// NewRegistry creates an empty presence registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:       make(map[string]Conn),
		identities:  make(map[string]Identity),
		userConns:   make(map[string]map[string]bool),
		roomMembers: make(map[string]map[string]bool),
		logger:      logger.With("component", "presence"),
	}
}

// Login binds a connection to an identity and joins its personal room.
// Admin identities additionally join the monitoring room. A user may hold
// several simultaneous connections; each one logs in independently.
// Logging in again on an already-bound connection replaces the previous
// binding, tearing down its room memberships first.
// Returns true if this is the user's first live connection.
func (r *Registry) Login(conn Conn, id Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := conn.ID()
	if prev, bound := r.identities[connID]; bound {
		r.unbindLocked(connID, prev)
	}
	r.conns[connID] = conn
	r.identities[connID] = id

	first := len(r.userConns[id.UserID]) == 0
	if r.userConns[id.UserID] == nil {
		r.userConns[id.UserID] = make(map[string]bool)
	}
	r.userConns[id.UserID][connID] = true

	r.joinRoomLocked(connID, UserRoom(id.UserID))
	if id.Role == wire.RoleAdmin {
		r.joinRoomLocked(connID, RoomAdminMonitor)
	}

	r.logger.Info("user logged in",
		"user_id", id.UserID,
		"role", id.Role,
		"conn_id", connID,
		"first_connection", first,
	)
	return first
}

// Logout removes a connection. Returns the identity it held and whether
// this was the user's last live connection. Unknown connections are a
// no-op; a second logout of the same connection is tolerated.
func (r *Registry) Logout(connID string) (Identity, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, known := r.identities[connID]
	if !known {
		delete(r.conns, connID)
		return Identity{}, false, false
	}

	r.unbindLocked(connID, id)

	last := len(r.userConns[id.UserID]) == 0
	r.logger.Info("user logged out",
		"user_id", id.UserID,
		"conn_id", connID,
		"last_connection", last,
	)
	return id, last, true
}

// unbindLocked removes every trace of a connection's binding: the
// connection itself, its identity, its entry in the user's connection
// set, and all room memberships. Caller must hold the write lock.
func (r *Registry) unbindLocked(connID string, id Identity) {
	delete(r.conns, connID)
	delete(r.identities, connID)

	if set := r.userConns[id.UserID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.userConns, id.UserID)
		}
	}

	for room, members := range r.roomMembers {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.roomMembers, room)
		}
	}
}

// JoinRoom adds a connection to an arbitrary room. Joining twice is a no-op.
func (r *Registry) JoinRoom(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinRoomLocked(connID, room)
}

func (r *Registry) joinRoomLocked(connID, room string) {
	if r.roomMembers[room] == nil {
		r.roomMembers[room] = make(map[string]bool)
	}
	r.roomMembers[room][connID] = true
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID]) > 0
}

// Identity returns the identity bound to a connection, if any.
func (r *Registry) Identity(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[connID]
	return id, ok
}

// SendToUser delivers an envelope to every connection of a user.
// Offline users are a silent no-op. Returns the number of connections
// the envelope was enqueued on.
func (r *Registry) SendToUser(userID string, env wire.Envelope) int {
	return r.SendToRoom(UserRoom(userID), env)
}

// SendToRoom delivers an envelope to every member of a room. Empty or
// unknown rooms are a no-op. Returns the number of connections reached.
func (r *Registry) SendToRoom(room string, env wire.Envelope) int {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.roomMembers[room]))
	for connID := range r.roomMembers[room] {
		if conn, ok := r.conns[connID]; ok {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if conn.Send(env) {
			sent++
		} else {
			r.logger.Warn("dropped event for slow connection",
				"conn_id", conn.ID(),
				"room", room,
				"event", env.Event,
			)
		}
	}
	return sent
}

// Broadcast delivers an envelope to every live connection.
func (r *Registry) Broadcast(env wire.Envelope) int {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if conn.Send(env) {
			sent++
		}
	}
	return sent
}

// OnlineUsers returns the ids of all users with at least one live
// connection filtered to the given role.
func (r *Registry) OnlineUsers(role wire.Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var users []string
	for _, id := range r.identities {
		if id.Role == role && !seen[id.UserID] {
			seen[id.UserID] = true
			users = append(users, id.UserID)
		}
	}
	return users
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
