package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Headers set on every webhook delivery.
const (
	SignatureHeader = "X-Treasury-Signature"
	DeliveryHeader  = "X-Treasury-Delivery"
	EventHeader     = "X-Treasury-Event"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Notifier POSTs every event to a fixed set of URLs, signed with HMAC-SHA256.
type Notifier struct {
	urls       []string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewNotifier creates a Notifier. Failed deliveries are retried after 1s, 5s
// and 25s before being given up.
func NewNotifier(urls []string, secret string, logger *zap.Logger) *Notifier {
	return &Notifier{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, 1 * time.Second, 5 * time.Second, 25 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// SetRetryDelays overrides the delay before each attempt; the first entry
// applies to the initial attempt.
func (n *Notifier) SetRetryDelays(delays []time.Duration) {
	if len(delays) > 0 {
		n.delays = delays
	}
}

// Publish implements Publisher. Deliveries run in the background.
func (n *Notifier) Publish(ctx context.Context, e Event) {
	if len(n.urls) == 0 {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}
	signature := SignPayload(body, n.secret)
	ctx = context.WithoutCancel(ctx)

	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.deliver(ctx, url, e, body, signature)
		}(url)
	}
}

// Wait blocks until all in-flight deliveries have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, url string, e Event, body []byte, signature string) {
	deliveryID := uuid.New().String()
	for attempt := 1; attempt <= len(n.delays); attempt++ {
		if d := n.delays[attempt-1]; d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}

		success, statusCode, errMsg := n.doDelivery(ctx, url, e.Type, deliveryID, body, signature)
		if n.onMetrics != nil {
			n.onMetrics(success)
		}
		if success {
			return
		}

		n.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.String("event", e.Type),
			zap.Int("attempt", attempt),
			zap.Int("status", statusCode),
			zap.String("error", errMsg),
		)
	}
	n.logger.Error("webhook: giving up", zap.String("url", url), zap.String("delivery_id", deliveryID))
}

func (n *Notifier) doDelivery(ctx context.Context, url, eventType, deliveryID string, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(DeliveryHeader, deliveryID)
	req.Header.Set(EventHeader, eventType)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// SignPayload computes the "sha256=<hex>" HMAC signature receivers verify.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
