// ABOUTME: Conversation directory: idempotent create-by-pair, lookup, and agent/admin listings.
// ABOUTME: Owns the unread-desc-then-recency ordering contract for conversation lists.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shenzhiyongzhe/online-chat/internal/store"
	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// ErrConversationNotFound indicates the conversation does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// Directory manages conversation records on top of the store.
type Directory struct {
	store  store.Store
	logger *slog.Logger
}

// NewDirectory creates a conversation directory.
func NewDirectory(st store.Store, logger *slog.Logger) *Directory {
	return &Directory{
		store:  st,
		logger: logger.With("component", "conversation"),
	}
}

// GetOrCreate returns the conversation for the (agent, client) pair,
// creating it if none exists. Two concurrent creates for the same pair
// both succeed and return the same conversation: the loser of the insert
// race recovers by re-looking up the winner's row. The boolean reports
// whether a new conversation was created.
func (d *Directory) GetOrCreate(ctx context.Context, req wire.CreateConversation) (*store.Conversation, bool, error) {
	if req.AgentID == "" || req.ClientID == "" {
		return nil, false, fmt.Errorf("agentId and clientId are required")
	}

	existing, err := d.store.GetConversationByPair(ctx, req.AgentID, req.ClientID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up conversation: %w", err)
	}

	convType := req.Type
	if convType == "" {
		convType = store.ConversationTypeAgent
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		Type:      convType,
		Title:     req.Title,
		AgentID:   req.AgentID,
		ClientID:  req.ClientID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = d.store.CreateConversation(ctx, conv)
	if errors.Is(err, store.ErrDuplicateConversation) {
		// Lost the insert race; the pair now exists
		winner, lookupErr := d.store.GetConversationByPair(ctx, req.AgentID, req.ClientID)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("recovering duplicate conversation: %w", lookupErr)
		}
		d.logger.Debug("conversation create raced, reusing existing",
			"conversation_id", winner.ID,
			"agent_id", req.AgentID,
			"client_id", req.ClientID,
		)
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}

	d.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"agent_id", conv.AgentID,
		"client_id", conv.ClientID,
	)
	return conv, true, nil
}

// Get retrieves a conversation by id.
func (d *Directory) Get(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := d.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return conv, nil
}

// ListForAgent returns the agent's conversations ordered by unread count
// descending, then most recent activity first.
func (d *Directory) ListForAgent(ctx context.Context, agentID string) ([]*store.Conversation, error) {
	convs, err := d.store.ListConversationsForAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for agent: %w", err)
	}
	return convs, nil
}

// ListActive returns all active conversations for the admin monitoring view.
func (d *Directory) ListActive(ctx context.Context) ([]*store.Conversation, error) {
	convs, err := d.store.ListActiveConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active conversations: %w", err)
	}
	return convs, nil
}

// SetClientDisplayName records the agent-assigned label for the
// conversation's anonymous client.
func (d *Directory) SetClientDisplayName(ctx context.Context, id, displayName string) error {
	err := d.store.SetClientDisplayName(ctx, id, displayName)
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// ToWire converts a store conversation into its wire shape.
func ToWire(c *store.Conversation) wire.Conversation {
	return wire.Conversation{
		ID:                c.ID,
		Type:              c.Type,
		Title:             c.Title,
		AgentID:           c.AgentID,
		ClientID:          c.ClientID,
		IsActive:          c.IsActive,
		LastMessage:       c.LastMessage,
		LastMessageTime:   c.LastMessageTime,
		UnreadCount:       c.UnreadCount,
		ClientDisplayName: c.ClientDisplayName,
		UpdatedAt:         c.UpdatedAt,
	}
}

// ToWireList converts a slice of store conversations, preserving order.
func ToWireList(convs []*store.Conversation) []wire.Conversation {
	out := make([]wire.Conversation, len(convs))
	for i, c := range convs {
		out[i] = ToWire(c)
	}
	return out
}
