package runner

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// ProgressIndicator receives phase transitions of a run
type ProgressIndicator interface {
	StartPhase(phase string)
	CompletePhase(phase string, err error)
	Stop()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartPhase(phase string)               {}
func (n *noOpProgressIndicator) CompletePhase(phase string, err error) {}
func (n *noOpProgressIndicator) Stop()                                 {}

// consoleProgressIndicator logs phase transitions and, while a phase is
// running, a periodic heartbeat so long browser runs are visibly alive.
type consoleProgressIndicator struct {
	logger   log.Logger
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	currentPhase   string
	phaseStartTime time.Time
	runStartTime   time.Time
	completed      []string
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second // Default to 30 seconds
	}

	indicator := &consoleProgressIndicator{
		logger:       logger,
		ticker:       time.NewTicker(updateInterval),
		stopCh:       make(chan struct{}),
		runStartTime: time.Now(),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *consoleProgressIndicator) StartPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentPhase = phase
	c.phaseStartTime = time.Now()
	c.logger.Debug("Phase started", "phase", phase)
}

func (c *consoleProgressIndicator) CompletePhase(phase string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(c.phaseStartTime).Truncate(time.Millisecond)
	if err != nil {
		c.logger.Debug("Phase failed", "phase", phase, "duration", duration, "err", err)
	} else {
		c.logger.Debug("Phase completed", "phase", phase, "duration", duration)
	}
	c.completed = append(c.completed, phase)
	if c.currentPhase == phase {
		c.currentPhase = ""
	}
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.currentPhase == "" {
		return
	}
	c.logger.Info("Progress update",
		"phase", c.currentPhase,
		"phaseElapsed", time.Since(c.phaseStartTime).Truncate(time.Second),
		"runElapsed", time.Since(c.runStartTime).Truncate(time.Second),
		"completedPhases", len(c.completed),
	)
}

// Stop stops the progress indicator. It is safe to call more than once.
func (c *consoleProgressIndicator) Stop() {
	c.stopOnce.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}
