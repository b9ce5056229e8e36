// ABOUTME: REST boundary used by page loads: agent directory and conversation lists.

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shenzhiyongzhe/online-chat/internal/conversation"
	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// handleListAgents returns the online agents as JSON. The socket
// agents:list event carries the same snapshot; this endpoint exists so
// pages can render before the socket is up.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListOnlineAgents(r.Context())
	if err != nil {
		s.logger.Error("listing agents", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing agents failed"})
		return
	}

	out := make([]wire.Agent, len(agents))
	for i, a := range agents {
		out[i] = wire.Agent{ID: a.ID, Name: a.Name, Avatar: a.Avatar, IsOnline: a.IsOnline}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListConversations returns an agent's conversations ordered by
// unread count, then recency. Agents may only read their own list; the
// agentId query parameter defaults to the token's subject.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	caller, ok := agentFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}

	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		agentID = caller
	}
	if agentID != caller {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot read another agent's conversations"})
		return
	}

	convs, err := s.directory.ListForAgent(r.Context(), agentID)
	if err != nil {
		s.logger.Error("listing conversations", "agent_id", agentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing conversations failed"})
		return
	}
	writeJSON(w, http.StatusOK, conversation.ToWireList(convs))
}

// handleSetDisplayName lets an agent label the conversation's anonymous
// client with a friendlier name. The label lives on the conversation, not
// the client record.
func (s *Server) handleSetDisplayName(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	err := s.directory.SetClientDisplayName(r.Context(), conversationID, req.DisplayName)
	if errors.Is(err, conversation.ErrConversationNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		s.logger.Error("setting display name", "conversation_id", conversationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
