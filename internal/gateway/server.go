// Package gateway assembles the HTTP surface: REST handlers, webhooks, the
// WebSocket subscription endpoint, and the internal broadcast endpoint.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/auth"
	"github.com/nimbusworks/aviary/internal/chat"
	"github.com/nimbusworks/aviary/internal/config"
	"github.com/nimbusworks/aviary/internal/httpapi"
	"github.com/nimbusworks/aviary/internal/lifecycle"
	"github.com/nimbusworks/aviary/internal/store"
	"github.com/nimbusworks/aviary/internal/ws"
)

// Server is the platform HTTP server.
type Server struct {
	cfg     *config.Config
	manager *lifecycle.Manager
	stores  store.Stores
	chat    *chat.Service
	hub     *ws.Hub
	issuer  *auth.WSTokenIssuer
	tokens  *auth.TokenSet

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the gateway server.
func NewServer(cfg *config.Config, manager *lifecycle.Manager, stores store.Stores, chatSvc *chat.Service, hub *ws.Hub) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		stores:  stores,
		chat:    chatSvc,
		hub:     hub,
		issuer:  auth.NewWSTokenIssuer(cfg.Auth.WSTokenSecret, cfg.Auth.WSTokenTTL()),
		tokens:  auth.NewTokenSet(cfg.Auth.Tokens),
	}
}

// ReplaceTokens swaps the API token map. Used by config hot reload; other
// settings take effect on restart.
func (s *Server) ReplaceTokens(tokens map[string]string) {
	s.tokens.Replace(tokens)
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mw := httpapi.NewMiddleware(s.tokens, s.cfg.Server.RateLimitRPM)

	httpapi.NewAgentsHandler(s.manager, s.stores.Agents, s.chat, mw).RegisterRoutes(mux)
	httpapi.NewSessionsHandler(s.manager, s.chat, mw).RegisterRoutes(mux)
	httpapi.NewWebhooksHandler(s.manager).RegisterRoutes(mux)
	httpapi.NewWSTokenHandler(s.issuer, mw).RegisterRoutes(mux)

	ws.NewHandler(s.hub, s.issuer, s.sessionCheck).RegisterRoutes(mux)
	ws.NewBroadcastHandler(s.hub).RegisterRoutes(mux)

	mux.HandleFunc("GET /health", s.handleHealth)

	s.mux = mux
	return mux
}

// sessionCheck gates WebSocket subscriptions: the session must exist and
// belong to the token's user.
func (s *Server) sessionCheck(ctx context.Context, sessionID uuid.UUID, userID string) error {
	session, err := s.chat.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return fmt.Errorf("session %s does not belong to user", sessionID)
	}
	return nil
}

// Start begins listening and blocks until ctx is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := s.cfg.Addr()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","agents":%d}`, s.manager.Count())
}
