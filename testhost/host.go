// Package testhost serves the harness page and the spec bundle to the browser.
package testhost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"

	"github.com/ethereum-optimism/infra/browser-acceptor/metrics"
)

const (
	DefaultAddr = "localhost:8000"

	shutdownTimeout = 5 * time.Second
)

// PortInUseError reports that the host could not bind its address.
// There is no fallback port; the browser is pointed at a fixed URL.
type PortInUseError struct {
	Addr string
	Err  error
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("cannot bind test host on %s: %v", e.Addr, e.Err)
}

func (e *PortInUseError) Unwrap() error {
	return e.Err
}

// IsPortInUseError checks if the error is or wraps a PortInUseError
func IsPortInUseError(err error) bool {
	var target *PortInUseError
	return err != nil && errors.As(err, &target)
}

// Config holds configuration for creating a new Host
type Config struct {
	Log  log.Logger
	Addr string
}

// Host is the HTTP listener the browser loads the harness from
type Host struct {
	log  log.Logger
	addr string

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	served   chan struct{}
	closed   bool
}

func New(cfg Config) *Host {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Host{log: cfg.Log, addr: cfg.Addr}
}

// Serve binds the listener and starts serving harness for every path except
// SpecPath, which returns the current contents of bundlePath
func (h *Host) Serve(ctx context.Context, harness HarnessDocument, bundlePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("test host already closed")
	}
	if h.listener != nil {
		return fmt.Errorf("test host already serving on %s", h.listener.Addr())
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.addr)
	if err != nil {
		metrics.RecordErrorDetails("testhost_bind", err)
		return &PortInUseError{Addr: h.addr, Err: err}
	}

	h.listener = ln
	h.server = &http.Server{
		Handler:           h.router(harness, bundlePath),
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.served = make(chan struct{})

	server, served := h.server, h.served
	go func() {
		defer close(served)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("Test host stopped serving", "err", err)
		}
	}()

	h.log.Info("Serving harness", "url", h.urlLocked())
	return nil
}

func (h *Host) router(harness HarnessDocument, bundlePath string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(SpecPath, func(w http.ResponseWriter, req *http.Request) {
		// Read on every request so the browser always gets the latest bundle
		body, err := os.ReadFile(bundlePath)
		if err != nil {
			h.log.Error("Failed to read bundle", "path", bundlePath, "err", err)
			http.Error(w, "bundle unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if req.Method != http.MethodHead {
			_, _ = w.Write(body)
		}
	}).Methods(http.MethodGet, http.MethodHead)

	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if req.Method != http.MethodHead {
			_, _ = w.Write(harness)
		}
	})
	return r
}

// URL returns the base URL the browser should navigate to. It is empty until
// Serve succeeds.
func (h *Host) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.urlLocked()
}

func (h *Host) urlLocked() string {
	if h.listener == nil {
		return ""
	}
	host, port, err := net.SplitHostPort(h.addr)
	if err != nil || port == "0" {
		return "http://" + h.listener.Addr().String() + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}

// Close releases the listener. It is a no-op if Serve never bound and safe to
// call more than once.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	server, served := h.server, h.served
	h.mu.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(ctx)
	if err != nil {
		_ = server.Close()
	}
	<-served
	h.log.Info("Test host closed")
	return err
}
