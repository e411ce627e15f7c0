package telemetry

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sdrgrid/radioctl/internal/logging"
)

//go:embed static/*
var staticFiles embed.FS

// WebServer exposes tune-event history, a live SSE stream, and process
// health over HTTP.
type WebServer struct {
	srv *http.Server
	hub *Hub
	log logging.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewWebServer wires the hub's endpoints into an HTTP server on addr. A
// non-nil metrics handler is mounted at /metrics.
func NewWebServer(addr string, hub *Hub, metrics http.Handler, log logging.Logger) *WebServer {
	mux := http.NewServeMux()
	mux.Handle("/static/", http.FileServer(http.FS(staticFiles)))
	mux.HandleFunc("/events", hub.handleHistory)
	mux.HandleFunc("/events/live", hub.handleLive)
	mux.HandleFunc("/healthz", handleHealthz)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFileFS(w, r, staticFiles, "static/index.html")
	})

	return &WebServer{
		hub: hub,
		log: logging.Component(log, "web"),
		srv: &http.Server{Addr: addr, Handler: mux},
	}
}

// Start listens and serves until ctx is canceled. Live SSE streams hold
// their connections open, so shutdown falls back to a hard close after a
// short drain window.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", ws.srv.Addr, err)
	}
	ws.mu.Lock()
	ws.ln = ln
	ws.mu.Unlock()
	ws.log.Info("event server listening", logging.Field{Key: "addr", Value: ln.Addr().String()})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := ws.srv.Shutdown(shutdownCtx); err != nil {
			ws.srv.Close()
		}
	}()

	if err := ws.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("event server: %w", err)
	}
	return nil
}

// Addr returns the bound address once Start has begun listening, nil
// before.
func (ws *WebServer) Addr() net.Addr {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.ln == nil {
		return nil
	}
	return ws.ln.Addr()
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
