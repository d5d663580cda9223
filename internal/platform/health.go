package platform

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/echonet"
)

// Platform status values.
const (
	StatusStarting    = "starting"
	StatusDiscovering = "discovering"
	StatusRunning     = "running"
	StatusInert       = "inert"
	StatusStopping    = "stopping"
	StatusStopped     = "stopped"
)

// Health is a point-in-time view of the platform.
type Health struct {
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Appliances  int    `json:"appliances"`
	Discovering bool   `json:"discovering"`

	// Gateway is present when the gateway reports statistics.
	Gateway *echonet.Stats `json:"gateway,omitempty"`
}

// statsSource is implemented by *echonet.Client.
type statsSource interface {
	Stats() echonet.Stats
}

// Health reports the platform state.
func (p *Platform) Health() Health {
	if p.Inert() {
		return Health{Status: StatusInert, Reason: p.configErr.Error()}
	}

	p.mu.RLock()
	h := Health{
		Appliances:  len(p.members),
		Discovering: p.discovering,
	}
	switch {
	case p.stopped:
		h.Status = StatusStopped
	case !p.started:
		h.Status = StatusStarting
	case p.discovering:
		h.Status = StatusDiscovering
	default:
		h.Status = StatusRunning
	}
	p.mu.RUnlock()

	if s, ok := p.gateway.(statsSource); ok {
		stats := s.Stats()
		h.Gateway = &stats
	}
	return h
}

// HealthPublisher publishes the retained health message.
// accessory.MQTTAdapter satisfies it.
type HealthPublisher interface {
	PublishHealth(v any) error
}

// HealthMessage is the payload published on the health topic.
type HealthMessage struct {
	Health
	Version   string    `json:"version"`
	Uptime    int64     `json:"uptime_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthReporter publishes the platform health at a fixed interval.
type HealthReporter struct {
	platform  *Platform
	publisher HealthPublisher
	version   string
	interval  time.Duration
	startTime time.Time
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. A zero interval selects 30 seconds.
func NewHealthReporter(p *Platform, publisher HealthPublisher, version string, interval time.Duration, logger Logger) *HealthReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthReporter{
		platform:  p,
		publisher: publisher,
		version:   version,
		interval:  interval,
		startTime: time.Now(),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start publishes now and then on every interval until ctx is cancelled
// or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		health := h.platform.Health()
		health.Status = StatusStopping
		//nolint:errcheck // Best-effort during shutdown
		h.publish(health)
	})
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.platform.Health())
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) publish(health Health) error {
	if h.publisher == nil {
		return nil
	}
	now := time.Now()
	return h.publisher.PublishHealth(HealthMessage{
		Health:    health,
		Version:   h.version,
		Uptime:    int64(now.Sub(h.startTime).Seconds()),
		Timestamp: now.UTC(),
	})
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
