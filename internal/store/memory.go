// ABOUTME: In-memory implementation of the Store interface for tests
// ABOUTME: Mirrors the SQLite store's semantics without touching disk

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// MemoryStore is an in-memory Store used by tests. It mirrors the SQLite
// store's behavior, including the duplicate-pair constraint and the
// conditional delivered transition.
type MemoryStore struct {
	mu            sync.RWMutex
	agents        map[string]*Agent
	clients       map[string]*Client
	conversations map[string]*Conversation
	messages      map[string]*Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:        make(map[string]*Agent),
		clients:       make(map[string]*Client),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
	}
}

func (s *MemoryStore) UpsertAgent(_ context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *agent
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	if existing, ok := s.agents[agent.ID]; ok {
		copied.CreatedAt = existing.CreatedAt
		if copied.PasswordHash == "" {
			copied.PasswordHash = existing.PasswordHash
		}
	}
	s.agents[agent.ID] = &copied
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *agent
	return &copied, nil
}

func (s *MemoryStore) SetAgentOnline(_ context.Context, id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return ErrNotFound
	}
	agent.IsOnline = online
	return nil
}

func (s *MemoryStore) SearchAgent(_ context.Context, query string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		agent := s.agents[id]
		if containsFold(agent.ID, query) || containsFold(agent.Name, query) {
			copied := *agent
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListOnlineAgents(_ context.Context) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agents []*Agent
	for _, agent := range s.agents {
		if agent.IsOnline {
			copied := *agent
			agents = append(agents, &copied)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (s *MemoryStore) UpsertClient(_ context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *client
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	if existing, ok := s.clients[client.ID]; ok {
		copied.CreatedAt = existing.CreatedAt
	}
	s.clients[client.ID] = &copied
	return nil
}

func (s *MemoryStore) SetClientOnline(_ context.Context, id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[id]
	if !ok {
		return ErrNotFound
	}
	client.IsOnline = online
	return nil
}

func (s *MemoryStore) ListOnlineClients(_ context.Context) ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clients []*Client
	for _, client := range s.clients {
		if client.IsOnline {
			copied := *client
			clients = append(clients, &copied)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.conversations {
		if existing.AgentID == conv.AgentID && existing.ClientID == conv.ClientID {
			return ErrDuplicateConversation
		}
	}

	copied := *conv
	s.conversations[conv.ID] = &copied
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) GetConversationByPair(_ context.Context, agentID, clientID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conv := range s.conversations {
		if conv.AgentID == agentID && conv.ClientID == clientID {
			copied := *conv
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListConversationsForAgent(_ context.Context, agentID string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []*Conversation
	for _, conv := range s.conversations {
		if conv.AgentID == agentID {
			copied := *conv
			convs = append(convs, &copied)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UnreadCount != convs[j].UnreadCount {
			return convs[i].UnreadCount > convs[j].UnreadCount
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

func (s *MemoryStore) ListActiveConversations(_ context.Context) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []*Conversation
	for _, conv := range s.conversations {
		if conv.IsActive {
			copied := *conv
			convs = append(convs, &copied)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	return convs, nil
}

func (s *MemoryStore) SetConversationActivity(_ context.Context, id, lastMessage string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.LastMessage = lastMessage
	t := at
	conv.LastMessageTime = &t
	conv.UpdatedAt = at
	return nil
}

func (s *MemoryStore) SetClientDisplayName(_ context.Context, id, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.ClientDisplayName = displayName
	return nil
}

func (s *MemoryStore) IncrementUnread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.UnreadCount++
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrConversationNotFound
	}

	copied := *msg
	if copied.Type == "" {
		copied.Type = MessageTypeText
	}
	s.messages[msg.ID] = &copied
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (s *MemoryStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var messages []*Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			copied := *msg
			messages = append(messages, &copied)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (s *MemoryStore) MarkConversationRead(_ context.Context, conversationID, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID && msg.SenderID != readerID && msg.Status != wire.StatusRead {
			msg.Status = wire.StatusRead
			updated++
		}
	}
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UnreadCount = 0
	}
	return updated, nil
}

func (s *MemoryStore) MarkMessageDelivered(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return false, nil
	}
	if msg.Status == wire.StatusRead {
		return false, nil
	}
	msg.Status = wire.StatusDelivered
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)
