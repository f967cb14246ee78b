package service

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default prometheus registry on /metrics
type MetricsServer struct {
	mu     sync.Mutex
	ctx    context.Context
	server *http.Server
}

func (m *MetricsServer) Init(ctx context.Context, addr string) {
	hdlr := http.NewServeMux()
	hdlr.Handle("/metrics", promhttp.Handler())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.server = &http.Server{
		Handler: hdlr,
		Addr:    addr,
	}
	m.ctx = ctx
}

func (m *MetricsServer) Serve() error {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server == nil {
		return http.ErrServerClosed
	}
	return server.ListenAndServe()
}

// Shutdown is a no-op if the server was never initialised
func (m *MetricsServer) Shutdown() error {
	m.mu.Lock()
	server, ctx := m.server, m.ctx
	m.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
