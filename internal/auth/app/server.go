// Package app hosts the auth HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wglabs/lifeos/internal/auth/service"
	"github.com/wglabs/lifeos/internal/auth/session"
	authsqlite "github.com/wglabs/lifeos/internal/auth/storage/sqlite"
)

const challengeCleanupInterval = 5 * time.Minute

// Server hosts the auth service over HTTP.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
}

// New creates a configured auth server listening on the provided address.
func New(addr string) (*Server, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openAuthStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	sessions := session.NewIssuer(session.LoadConfigFromEnv(), nil)
	auth := service.NewAuthService(store, sessions)

	mux := http.NewServeMux()
	RegisterRoutes(mux, auth)

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store: store,
	}, nil
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, addr string) error {
	server, err := New(addr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startChallengeCleanup(serverCtx)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

// startChallengeCleanup sweeps expired WebAuthn challenges until the context
// ends. Consume operations already skip expired rows; the sweep just keeps
// abandoned ceremonies from accumulating.
func (s *Server) startChallengeCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(challengeCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.store.DeleteExpiredChallenges(ctx, time.Now().UTC()); err != nil {
					log.Printf("delete expired challenges: %v", err)
				}
			}
		}
	}()
}

func openAuthStore() (*authsqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("LIFEOS_AUTH_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}
