package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RemoteConfig configures a Remote source.
type RemoteConfig struct {
	BaseURL     string        // e.g. "http://aggregator:8080"
	CacheTTL    time.Duration // 0 disables caching
	HTTPTimeout time.Duration // default 5s
}

// Remote queries an external threshold aggregator over HTTP:
//
//	GET {BaseURL}/api/v1/requests/{id}/approval  →  {"approved": true}
//
// Only positive answers are cached: an approval never goes away, while a
// pending request may be approved at any moment.
type Remote struct {
	cfg        RemoteConfig
	httpClient *http.Client
	cache      *approvalCache
	logger     *zap.Logger
}

// NewRemote creates a Remote source.
func NewRemote(cfg RemoteConfig, logger *zap.Logger) *Remote {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	r := &Remote{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	if cfg.CacheTTL > 0 {
		r.cache = newApprovalCache(cfg.CacheTTL)
	}
	return r
}

type approvalResponse struct {
	Approved bool `json:"approved"`
}

// IsApproved implements Source.
func (r *Remote) IsApproved(ctx context.Context, requestID uint64) (bool, error) {
	if r.cache != nil {
		if approved, ok := r.cache.get(requestID); ok {
			r.logger.Debug("approval cache hit", zap.Uint64("request_id", requestID))
			return approved, nil
		}
	}

	url := fmt.Sprintf("%s/api/v1/requests/%d/approval", r.cfg.BaseURL, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build approval request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("query aggregator: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("aggregator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out approvalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode aggregator response: %w", err)
	}

	if out.Approved && r.cache != nil {
		r.cache.set(requestID, true)
	}
	return out.Approved, nil
}

// StartCacheEviction runs a background goroutine that drops expired cache
// entries every interval until ctx is cancelled.
func (r *Remote) StartCacheEviction(ctx context.Context, interval time.Duration) {
	if r.cache == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := r.cache.evict(); n > 0 {
					r.logger.Debug("evicted approval cache entries", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// CacheStats returns the number of cached approvals.
func (r *Remote) CacheStats() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.len()
}
