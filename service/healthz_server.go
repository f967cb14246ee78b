package service

import (
	"context"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

type HealthzServer struct {
	mu     sync.Mutex
	ctx    context.Context
	server *http.Server
}

// Init creates the server so a later Shutdown always has something to stop
func (h *HealthzServer) Init(ctx context.Context, addr string) {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	h.server = &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	h.ctx = ctx
}

// Serve blocks until the server is shut down. After Shutdown it returns
// http.ErrServerClosed without listening.
func (h *HealthzServer) Serve() error {
	h.mu.Lock()
	server := h.server
	h.mu.Unlock()
	if server == nil {
		return http.ErrServerClosed
	}
	return server.ListenAndServe()
}

// Shutdown is a no-op if the server was never initialised
func (h *HealthzServer) Shutdown() error {
	h.mu.Lock()
	server, ctx := h.server, h.ctx
	h.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}
