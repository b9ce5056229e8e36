// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/client/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			avatar        TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			is_online     INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_online ON agents(is_online);

		CREATE TABLE IF NOT EXISTS clients (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			is_online  INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_clients_online ON clients(is_online);

		CREATE TABLE IF NOT EXISTS conversations (
			id                  TEXT PRIMARY KEY,
			type                TEXT NOT NULL DEFAULT 'agent',
			title               TEXT NOT NULL DEFAULT '',
			agent_id            TEXT NOT NULL,
			client_id           TEXT NOT NULL,
			is_active           INTEGER NOT NULL DEFAULT 1,
			last_message        TEXT NOT NULL DEFAULT '',
			last_message_time   TEXT,
			unread_count        INTEGER NOT NULL DEFAULT 0,
			client_display_name TEXT NOT NULL DEFAULT '',
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,

			CHECK (type IN ('agent', 'group'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(agent_id, client_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_agent
			ON conversations(agent_id, unread_count DESC, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'text',
			status          TEXT NOT NULL DEFAULT 'sent',
			created_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (status IN ('sent', 'delivered', 'read'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY violation.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Message timestamps use fixed-width nanosecond precision so the text
// column sorts lexicographically in chronological order. RFC3339Nano would
// trim trailing zeros and break that: "…:00.5Z" sorts after "…:00.51Z".
const messageTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// UpsertAgent inserts an agent or updates its name, avatar and online flag.
// An empty PasswordHash on update preserves the stored hash.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	query := `
		INSERT INTO agents (id, name, avatar, password_hash, is_online, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar = excluded.avatar,
			is_online = excluded.is_online,
			password_hash = CASE WHEN excluded.password_hash = ''
				THEN agents.password_hash ELSE excluded.password_hash END
	`

	createdAt := agent.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Name,
		agent.Avatar,
		agent.PasswordHash,
		boolToInt(agent.IsOnline),
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}

	s.logger.Debug("upserted agent", "id", agent.ID, "online", agent.IsOnline)
	return nil
}

// GetAgent retrieves an agent by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, avatar, password_hash, is_online, created_at
		FROM agents WHERE id = ?
	`, id)
	return scanAgent(row)
}

// SearchAgent finds the first agent whose id or name contains query.
// Returns ErrNotFound if nothing matches.
func (s *SQLiteStore) SearchAgent(ctx context.Context, query string) (*Agent, error) {
	pattern := "%" + query + "%"
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, avatar, password_hash, is_online, created_at
		FROM agents
		WHERE id LIKE ? OR name LIKE ?
		ORDER BY id
		LIMIT 1
	`, pattern, pattern)
	return scanAgent(row)
}

func scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	var online int
	var createdAt string

	err := row.Scan(&a.ID, &a.Name, &a.Avatar, &a.PasswordHash, &online, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	a.IsOnline = online != 0
	a.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}

// SetAgentOnline flips the persisted online flag for an existing agent.
// Returns ErrNotFound for unknown agent ids so callers can warn and continue.
func (s *SQLiteStore) SetAgentOnline(ctx context.Context, id string, online bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET is_online = ? WHERE id = ?`,
		boolToInt(online), id,
	)
	if err != nil {
		return fmt.Errorf("updating agent online flag: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOnlineAgents returns all agents currently flagged online, ordered by id.
func (s *SQLiteStore) ListOnlineAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, avatar, password_hash, is_online, created_at
		FROM agents
		WHERE is_online = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying online agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		var online int
		var createdAt string

		if err := rows.Scan(&a.ID, &a.Name, &a.Avatar, &a.PasswordHash, &online, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		a.IsOnline = online != 0
		a.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// UpsertClient inserts a client or updates its name and online flag.
func (s *SQLiteStore) UpsertClient(ctx context.Context, client *Client) error {
	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, is_online, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_online = excluded.is_online
	`, client.ID, client.Name, boolToInt(client.IsOnline), createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting client: %w", err)
	}

	s.logger.Debug("upserted client", "id", client.ID, "online", client.IsOnline)
	return nil
}

// SetClientOnline flips the persisted online flag for an existing client.
func (s *SQLiteStore) SetClientOnline(ctx context.Context, id string, online bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE clients SET is_online = ? WHERE id = ?`,
		boolToInt(online), id,
	)
	if err != nil {
		return fmt.Errorf("updating client online flag: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOnlineClients returns all clients currently flagged online, ordered by id.
func (s *SQLiteStore) ListOnlineClients(ctx context.Context) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, is_online, created_at
		FROM clients
		WHERE is_online = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying online clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		var c Client
		var online int
		var createdAt string

		if err := rows.Scan(&c.ID, &c.Name, &online, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning client row: %w", err)
		}
		c.IsOnline = online != 0
		c.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		clients = append(clients, &c)
	}
	return clients, rows.Err()
}

// CreateConversation creates a new conversation. If one already exists for
// the same (agent, client) pair, it returns ErrDuplicateConversation.
// Agent and client ids are not validated here; referential checks are
// deferred to message append.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, type, title, agent_id, client_id, is_active,
			last_message, last_message_time, unread_count, client_display_name,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var lastMessageTime any
	if conv.LastMessageTime != nil {
		lastMessageTime = conv.LastMessageTime.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Type,
		conv.Title,
		conv.AgentID,
		conv.ClientID,
		boolToInt(conv.IsActive),
		conv.LastMessage,
		lastMessageTime,
		conv.UnreadCount,
		conv.ClientDisplayName,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "agent", conv.AgentID, "client", conv.ClientID)
	return nil
}

const conversationColumns = `id, type, title, agent_id, client_id, is_active,
	last_message, last_message_time, unread_count, client_display_name,
	created_at, updated_at`

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row.Scan)
}

// GetConversationByPair retrieves the conversation for an exact
// (agentID, clientID) match. Returns ErrNotFound if none exists.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, agentID, clientID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE agent_id = ? AND client_id = ?`,
		agentID, clientID)
	return scanConversation(row.Scan)
}

func scanConversation(scan func(dest ...any) error) (*Conversation, error) {
	var c Conversation
	var active int
	var lastMessageTime sql.NullString
	var createdAt, updatedAt string

	err := scan(&c.ID, &c.Type, &c.Title, &c.AgentID, &c.ClientID, &active,
		&c.LastMessage, &lastMessageTime, &c.UnreadCount, &c.ClientDisplayName,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.IsActive = active != 0
	if lastMessageTime.Valid {
		t, err := time.Parse(time.RFC3339, lastMessageTime.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_time: %w", err)
		}
		c.LastMessageTime = &t
	}
	c.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

// ListConversationsForAgent returns an agent's conversations ordered for
// triage: unread count descending, then most recent activity first.
func (s *SQLiteStore) ListConversationsForAgent(ctx context.Context, agentID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		WHERE agent_id = ?
		ORDER BY unread_count DESC, updated_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations for agent: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// ListActiveConversations returns all active conversations, most recently
// updated first. Used by the admin monitoring view.
func (s *SQLiteStore) ListActiveConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		WHERE is_active = 1
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying active conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func collectConversations(rows *sql.Rows) ([]*Conversation, error) {
	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// SetConversationActivity updates the denormalized lastMessage fields and
// bumps updated_at. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SetConversationActivity(ctx context.Context, id, lastMessage string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_message_time = ?, updated_at = ?
		WHERE id = ?
	`, lastMessage, at.UTC().Format(time.RFC3339), at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating conversation activity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetClientDisplayName sets the agent-assigned label for the conversation's
// anonymous client. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SetClientDisplayName(ctx context.Context, id, displayName string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET client_display_name = ? WHERE id = ?`,
		displayName, id)
	if err != nil {
		return fmt.Errorf("updating client display name: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUnread bumps the conversation's unread counter by one.
func (s *SQLiteStore) IncrementUnread(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = unread_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("incrementing unread count: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage persists a message. Returns ErrConversationNotFound if the
// conversation id does not resolve; nothing is persisted in that case.
// The foreign key constraint makes the check and insert a single atomic
// statement, so a conversation vanishing mid-send cannot leak a raw
// constraint error.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	msgType := msg.Type
	if msgType == "" {
		msgType = MessageTypeText
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		msgType,
		string(msg.Status),
		msg.CreatedAt.UTC().Format(messageTimeFormat),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// GetMessage retrieves a message by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	var status, createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, content, type, status, created_at
		FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	m.Status = wire.Status(status)
	m.CreatedAt, err = time.Parse(messageTimeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	return &m, nil
}

// ListRecentMessages retrieves the most recent `limit` messages of a
// conversation in chronological order (oldest first). Internally it fetches
// newest-first and reverses, so callers never depend on any DB ordering
// guarantee beyond ascending output. limit <= 0 returns all messages.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		query = `
			SELECT id, conversation_id, sender_id, content, type, status, created_at
			FROM (
				SELECT id, conversation_id, sender_id, content, type, status, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC
				LIMIT ?
			)
			ORDER BY created_at ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, sender_id, content, type, status, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var status, createdAt string

		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m.Status = wire.Status(status)
		m.CreatedAt, err = time.Parse(messageTimeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// MarkConversationRead transitions every message in the conversation that
// was not sent by the reader and is not already read into read, and zeroes
// the conversation's unread counter. Both statements are idempotent, so a
// race between two simultaneous read calls cannot corrupt the count.
// Returns the number of messages transitioned.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'read'
		WHERE conversation_id = ? AND sender_id != ? AND status != 'read'
	`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = ?`, conversationID); err != nil {
		return updated, fmt.Errorf("resetting unread count: %w", err)
	}

	s.logger.Debug("marked conversation read",
		"conversation_id", conversationID,
		"reader_id", readerID,
		"updated", updated)
	return updated, nil
}

// MarkMessageDelivered conditionally transitions a message to delivered.
// The update only applies if the current status is not read: the delivered
// timer races a possible near-simultaneous read, and read must win.
// Returns whether the transition was applied.
func (s *SQLiteStore) MarkMessageDelivered(ctx context.Context, messageID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'delivered'
		WHERE id = ? AND status != 'read'
	`, messageID)
	if err != nil {
		return false, fmt.Errorf("marking message delivered: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rows > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
