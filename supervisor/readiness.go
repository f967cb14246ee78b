package supervisor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

const (
	probeDialTimeout     = time.Second
	probeInitialInterval = 100 * time.Millisecond
	probeMaxInterval     = 2 * time.Second
)

// prober performs a single readiness check
type prober func(ctx context.Context) error

func newProber(cfg *types.ProbeConfig) prober {
	if cfg.IsZero() {
		return nil
	}
	if cfg.URL != "" {
		client := &http.Client{
			Timeout:   probeDialTimeout,
			Transport: &http.Transport{DisableKeepAlives: true},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
		return httpProbe(client, cfg.URL)
	}
	return tcpProbe(cfg.Addr)
}

func tcpProbe(addr string) prober {
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: probeDialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// httpProbe treats any 2xx as ready; redirects count as failures.
func httpProbe(client *http.Client, url string) prober {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("invalid probe url: %w", err))
		}
		res, err := client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		_, _ = io.Copy(io.Discard, res.Body)
		if res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices {
			return nil
		}
		return fmt.Errorf("probe %s returned %s", url, res.Status)
	}
}

// waitReady blocks until the role passes its probe, the process exits, the
// ready timeout elapses or ctx is cancelled. Roles without a probe get the
// fixed settle delay instead.
func (s *Supervisor) waitReady(ctx context.Context, proc *ManagedProcess, cfg *types.ProbeConfig) error {
	check := newProber(cfg)
	if check == nil {
		s.log.Debug("No readiness probe, waiting settle delay", "role", proc.Role, "delay", s.settleDelay)
		select {
		case <-time.After(s.settleDelay):
			if !proc.Alive() {
				return exitedEarly(proc)
			}
			return nil
		case <-proc.Done():
			return exitedEarly(proc)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = probeInitialInterval
	b.MaxInterval = probeMaxInterval
	b.MaxElapsedTime = s.readyTimeout

	attempts := 0
	op := func() error {
		if !proc.Alive() {
			return backoff.Permanent(exitedEarly(proc))
		}
		attempts++
		return check(ctx)
	}
	notify := func(err error, next time.Duration) {
		s.log.Debug("Role not ready yet", "role", proc.Role, "attempt", attempts, "retry_in", next, "err", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return err
	}
	s.log.Info("Role ready", "role", proc.Role, "attempts", attempts, "after", proc.Uptime())
	return nil
}

func exitedEarly(proc *ManagedProcess) error {
	return fmt.Errorf("process exited before becoming ready: %v", proc.ExitErr())
}
