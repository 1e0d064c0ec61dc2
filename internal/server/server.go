package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vdavid/threadview/internal/api"
	"github.com/vdavid/threadview/internal/auth"
	"github.com/vdavid/threadview/internal/background"
	"github.com/vdavid/threadview/internal/config"
	"github.com/vdavid/threadview/internal/imap"
	"github.com/vdavid/threadview/internal/models"
	"github.com/vdavid/threadview/internal/threadview"
	ws "github.com/vdavid/threadview/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP handler of the thread view API plus the state it owns.
type Server struct {
	handler   http.Handler
	registry  *threadview.Registry
	hub       *ws.Hub
	views     *api.ViewsHandler
	collector *background.Collector
	source    *imap.Source
}

// New wires the registry, hub, background collector and, when an IMAP
// server is configured, the IMAP thread source. A nil store disables persistence.
func New(cfg *config.Config, store threadview.ViewStateStore, palette map[string]models.TagColor) *Server {
	registry := threadview.NewRegistry(store, palette)
	hub := ws.NewHub(cfg.MaxSubscribers)
	collector := background.NewCollector(context.Background())

	s := &Server{
		registry:  registry,
		hub:       hub,
		collector: collector,
	}

	// A nil *imap.Source must not end up in the loader interface.
	var loader api.ThreadLoader
	if cfg.IMAPEnabled() {
		s.source = imap.NewSource(cfg.IMAPServer, cfg.IMAPUsername, cfg.IMAPPassword, cfg.IMAPUseTLS, imap.ParseOptions{
			PreferPlain: cfg.PreferPlain,
		})
		loader = s.source
		log.Printf("Loading threads from IMAP server %s", cfg.IMAPServer)
	}

	s.views = api.NewViewsHandler(registry, hub, collector, loader)
	wsHandler := api.NewWebSocketHandler(registry, hub, cfg.APIToken)
	requireToken := auth.RequireToken(cfg.APIToken)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handleRoot)

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, requireToken(h))
	}
	handle("POST /api/v1/views", s.views.CreateView)
	handle("GET /api/v1/views", s.views.ListViews)
	handle("GET /api/v1/views/{id}", s.views.GetView)
	handle("DELETE /api/v1/views/{id}", s.views.DeleteView)
	handle("POST /api/v1/views/{id}/focus/next", s.views.FocusNext)
	handle("POST /api/v1/views/{id}/focus/previous", s.views.FocusPrevious)
	handle("POST /api/v1/views/{id}/focus/{index}", s.views.FocusIndex)
	handle("POST /api/v1/views/{id}/messages", s.views.AddMessage)
	handle("DELETE /api/v1/views/{id}/messages", s.views.ClearMessages)
	handle("POST /api/v1/views/{id}/messages/{mid}/expand", s.views.ExpandMessage)
	handle("POST /api/v1/views/{id}/messages/{mid}/collapse", s.views.CollapseMessage)
	handle("POST /api/v1/views/{id}/messages/{mid}/toggle", s.views.ToggleMessage)

	// WebSocket handlers handle their own authentication via query parameter
	// (since browsers can't set headers on WebSocket connections).
	mux.HandleFunc("GET /api/v1/views/{id}/ws", wsHandler.Subscribe)
	mux.HandleFunc("GET /api/v1/views/{id}/bridge", wsHandler.Bridge)

	s.handler = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Shutdown disconnects every subscriber and bridge, saves every open view,
// stops background work and logs the failures the collector recorded.
func (s *Server) Shutdown(ctx context.Context) {
	s.views.Close()
	s.hub.CloseAll()

	if err := s.registry.CloseAll(ctx); err != nil {
		log.Printf("Failed to save view state on shutdown: %v", err)
	}

	s.collector.Stop()
	for _, taskErr := range s.collector.Drain() {
		log.Printf("Background task %s failed at %s: %v", taskErr.Task, taskErr.At.Format(time.RFC3339), taskErr.Err)
	}

	if s.source != nil {
		s.source.Close()
	}
}

// Run serves until SIGINT or SIGTERM, then shuts the server down.
func Run(address string, server *Server) error {
	httpServer := &http.Server{
		Addr:              address,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown failed: %v", err)
	}
	server.Shutdown(ctx)
	return nil
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "threadview API is running")
}
