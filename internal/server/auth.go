// ABOUTME: Agent account authentication: bcrypt password checks and JWT issuance.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/shenzhiyongzhe/online-chat/internal/store"
)

// ErrInvalidCredentials indicates a failed login attempt. The handler
// reports it identically for unknown agents and wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator verifies agent credentials and issues session tokens.
type Authenticator struct {
	store    store.Store
	secret   []byte
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewAuthenticator creates an authenticator. An empty secret disables
// token issuance; login attempts then fail closed.
func NewAuthenticator(st store.Store, secret string, tokenTTL time.Duration, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		store:    st,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		logger:   logger.With("component", "auth"),
	}
}

// HashPassword produces the bcrypt hash stored on agent records.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Login verifies an agent's password and returns a signed JWT plus the
// agent record.
func (a *Authenticator) Login(r *http.Request, agentID, password string) (string, *store.Agent, error) {
	if len(a.secret) == 0 {
		return "", nil, fmt.Errorf("auth is not configured")
	}

	agent, err := a.store.GetAgent(r.Context(), agentID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("looking up agent: %w", err)
	}
	if agent.PasswordHash == "" {
		return "", nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   agent.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}

	a.logger.Info("agent authenticated", "agent_id", agent.ID)
	return token, agent, nil
}

// Verify parses a token and returns the agent id it was issued to.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("missing subject claim")
	}
	return claims.Subject, nil
}

type contextKey string

const agentIDKey contextKey = "agentID"

func withAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// agentFromContext returns the agent id the request authenticated as.
func agentFromContext(ctx context.Context) (string, bool) {
	agentID, ok := ctx.Value(agentIDKey).(string)
	return agentID, ok
}

// requireAgent rejects requests without a valid Bearer token and puts
// the token's agent id on the request context.
func (s *Server) requireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		agentID, err := s.auth.Verify(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withAgentID(r.Context(), agentID)))
	})
}

type loginRequest struct {
	AgentID  string `json:"agentId"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Agent struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Avatar string `json:"avatar,omitempty"`
	} `json:"agent"`
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.AgentID == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agentId and password are required"})
		return
	}

	token, agent, err := s.auth.Login(r, req.AgentID, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	if err != nil {
		s.logger.Error("login failed", "agent_id", req.AgentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	var resp loginResponse
	resp.Token = token
	resp.Agent.ID = agent.ID
	resp.Agent.Name = agent.Name
	resp.Agent.Avatar = agent.Avatar
	writeJSON(w, http.StatusOK, resp)
}
