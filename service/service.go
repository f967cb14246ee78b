package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/browser-acceptor/metrics"
)

// Config selects which auxiliary servers run. An empty address disables a server.
type Config struct {
	HealthzAddr string
	MetricsAddr string
}

type Service struct {
	Config  Config
	Healthz *HealthzServer
	Metrics *MetricsServer
}

func New(cfg Config) *Service {
	s := &Service{
		Config:  cfg,
		Healthz: &HealthzServer{},
		Metrics: &MetricsServer{},
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	log.Info("service starting")

	if s.Config.HealthzAddr != "" {
		s.Healthz.Init(ctx, s.Config.HealthzAddr)
		go func() {
			log.Info("starting healthz server", "addr", s.Config.HealthzAddr)
			if err := s.Healthz.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("error starting healthz server", err)
			}
		}()
	}

	if s.Config.MetricsAddr != "" {
		s.Metrics.Init(ctx, s.Config.MetricsAddr)
		go func() {
			log.Info("starting metrics server", "addr", s.Config.MetricsAddr)
			if err := s.Metrics.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	log.Info("service started")
}

func (s *Service) Shutdown() {
	log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	log.Info("metrics stopped")

	log.Info("service stopped")
}
