// Package health probes the services the treasury depends on (its store, a
// remote threshold aggregator) and reports when one degrades or recovers.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status values reported per probe.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe is one named dependency check. Check returns nil when healthy.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// TransitionFunc is called when a probe crosses between healthy and degraded.
type TransitionFunc func(ctx context.Context, probe string, healthy bool, lastErr error)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(probe string, success bool)

// Checker runs the probes periodically. A probe is degraded after
// FailThreshold consecutive failures and healthy again after one success.
type Checker struct {
	probes       []Probe
	mu           sync.Mutex
	failCounts   map[string]int
	degraded     map[string]bool
	cfg          Config
	onTransition TransitionFunc
	onMetrics    MetricsRecordFunc
	logger       *zap.Logger
}

// New creates a Checker over probes.
func New(cfg Config, logger *zap.Logger, probes ...Probe) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		probes:     probes,
		failCounts: make(map[string]int),
		degraded:   make(map[string]bool),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetTransitionHook configures the degraded/recovered callback.
func (h *Checker) SetTransitionHook(fn TransitionFunc) {
	h.onTransition = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start checks once immediately, then every CheckInterval until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and waits for them.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.Check(probeCtx)
			cancel()
			success := err == nil

			if h.onMetrics != nil {
				h.onMetrics(p.Name, success)
			}

			h.mu.Lock()
			wasDegraded := h.degraded[p.Name]
			if success {
				h.failCounts[p.Name] = 0
				h.degraded[p.Name] = false
			} else {
				h.failCounts[p.Name]++
				if h.failCounts[p.Name] >= h.cfg.FailThreshold {
					h.degraded[p.Name] = true
				}
			}
			count := h.failCounts[p.Name]
			nowDegraded := h.degraded[p.Name]
			h.mu.Unlock()

			switch {
			case wasDegraded && !nowDegraded:
				h.logger.Info("health: recovered", zap.String("probe", p.Name))
				h.transition(ctx, p.Name, true, nil)
			case !wasDegraded && nowDegraded:
				h.logger.Warn("health: degraded",
					zap.String("probe", p.Name),
					zap.Int("fail_count", count),
					zap.Error(err),
				)
				h.transition(ctx, p.Name, false, err)
			case !success:
				h.logger.Debug("health: probe failed", zap.String("probe", p.Name), zap.Error(err))
			}
		}(p)
	}
	wg.Wait()
}

func (h *Checker) transition(ctx context.Context, probe string, healthy bool, err error) {
	if h.onTransition != nil {
		h.onTransition(ctx, probe, healthy, err)
	}
}

// Healthy reports whether no probe is degraded.
func (h *Checker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.degraded {
		if d {
			return false
		}
	}
	return true
}

// Status returns the state of every probe, keyed by name.
func (h *Checker) Status() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.probes))
	for _, p := range h.probes {
		if h.degraded[p.Name] {
			out[p.Name] = StatusDegraded
		} else {
			out[p.Name] = StatusHealthy
		}
	}
	return out
}

// HTTPProbe checks that url answers 2xx to HEAD, falling back to GET for
// servers that do not route HEAD.
func HTTPProbe(name, url string, client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return Probe{
		Name: name,
		Check: func(ctx context.Context) error {
			status, err := probeStatus(ctx, client, http.MethodHead, url)
			if err == nil && status >= 200 && status < 300 {
				return nil
			}
			status, err = probeStatus(ctx, client, http.MethodGet, url)
			if err != nil {
				return err
			}
			if status < 200 || status >= 300 {
				return fmt.Errorf("%s answered HTTP %d", url, status)
			}
			return nil
		},
	}
}

func probeStatus(ctx context.Context, client *http.Client, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
