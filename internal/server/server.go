// Package server wires together the HTTP listener, TLS cert loading, and
// graceful shutdown. TLS is enabled when both server.key and server.crt
// are present in the configured cert directory; otherwise the listener
// is plaintext.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/termaway/termawayd/internal/auth"
	"github.com/termaway/termawayd/internal/conn"
	"github.com/termaway/termawayd/internal/session"
	"github.com/termaway/termawayd/internal/wsconn"
)

// Config carries the resolved configuration surface (see internal/config)
// needed to start the server.
type Config struct {
	Address     string
	Port        int
	Password    string
	CertDir     string
	ServiceName string
}

// Server owns the session manager, connection registry, auth gate, and
// the underlying *http.Server.
type Server struct {
	cfg Config
	log zerolog.Logger

	Manager  *session.Manager
	Registry *conn.Registry
	Handler  http.Handler
	gate     *auth.Gate

	httpSrv *http.Server
}

// New constructs a Server: a Manager whose event sink is the connection
// Registry, and an auth Gate built from cfg.Password.
func New(cfg Config, log zerolog.Logger) *Server {
	reg := conn.NewRegistry()
	mgr := session.NewManager(log, reg)
	gate := auth.NewGate(cfg.Password)

	s := &Server{
		cfg:      cfg,
		log:      log,
		Manager:  mgr,
		Registry: reg,
		gate:     gate,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.Handler = mux
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := wsconn.Upgrade(w, r)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := conn.New(ws, s.Manager, s.gate, s.Registry, s.log)
	go c.Run()
}

// certPaths returns the fixed per-user cert file locations.
func (s *Server) certPaths() (key, cert string) {
	return filepath.Join(s.cfg.CertDir, "server.key"), filepath.Join(s.cfg.CertDir, "server.crt")
}

// hasCerts reports whether both a key and certificate file are present.
func (s *Server) hasCerts() bool {
	key, cert := s.certPaths()
	if _, err := os.Stat(key); err != nil {
		return false
	}
	if _, err := os.Stat(cert); err != nil {
		return false
	}
	return true
}

// ListenAndServe blocks serving the daemon until ctx is cancelled, at
// which point it kills every live Session and shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.Registry.RunHeartbeat(heartbeatCtx)

	go func() {
		var err error
		if s.hasCerts() {
			key, cert := s.certPaths()
			s.log.Info().Str("addr", s.httpSrv.Addr).Msg("listening (TLS)")
			err = s.httpSrv.ListenAndServeTLS(cert, key)
		} else {
			s.log.Info().Str("addr", s.httpSrv.Addr).Msg("listening (plaintext)")
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopHeartbeat()
	s.log.Info().Msg("shutting down: killing all sessions")
	s.Manager.KillAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
