package approval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStatic(t *testing.T) {
	s := NewStatic()
	ctx := context.Background()

	if ok, _ := s.IsApproved(ctx, 1); ok {
		t.Error("unknown request should not be approved")
	}
	s.Set(1, true)
	if ok, _ := s.IsApproved(ctx, 1); !ok {
		t.Error("request 1 should be approved")
	}
	s.Set(1, false)
	if ok, _ := s.IsApproved(ctx, 1); ok {
		t.Error("request 1 approval should be revoked")
	}
}

func newAggregator(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/api/v1/requests/1/approval":
			w.Write([]byte(`{"approved":true}`)) //nolint:errcheck
		case "/api/v1/requests/2/approval":
			w.Write([]byte(`{"approved":false}`)) //nolint:errcheck
		case "/api/v1/requests/3/approval":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemote_lookups(t *testing.T) {
	var hits int32
	srv := newAggregator(t, &hits)
	r := NewRemote(RemoteConfig{BaseURL: srv.URL + "/"}, zap.NewNop())
	ctx := context.Background()

	if ok, err := r.IsApproved(ctx, 1); err != nil || !ok {
		t.Errorf("request 1: got %v, %v; want true, nil", ok, err)
	}
	if ok, err := r.IsApproved(ctx, 2); err != nil || ok {
		t.Errorf("request 2: got %v, %v; want false, nil", ok, err)
	}
	if ok, err := r.IsApproved(ctx, 99); err != nil || ok {
		t.Errorf("unknown request: got %v, %v; want false, nil", ok, err)
	}
	if _, err := r.IsApproved(ctx, 3); err == nil {
		t.Error("expected error on aggregator 500")
	}
}

func TestRemote_cachesApprovalsOnly(t *testing.T) {
	var hits int32
	srv := newAggregator(t, &hits)
	r := NewRemote(RemoteConfig{BaseURL: srv.URL, CacheTTL: time.Minute}, zap.NewNop())
	ctx := context.Background()

	r.IsApproved(ctx, 1) //nolint:errcheck
	r.IsApproved(ctx, 1) //nolint:errcheck
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("approved lookup should be cached: %d hits", got)
	}

	r.IsApproved(ctx, 2) //nolint:errcheck
	r.IsApproved(ctx, 2) //nolint:errcheck
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("pending lookups must not be cached: %d hits", got)
	}
	if r.CacheStats() != 1 {
		t.Errorf("CacheStats: got %d, want 1", r.CacheStats())
	}
}

func TestApprovalCache_expiryAndEvict(t *testing.T) {
	c := newApprovalCache(10 * time.Millisecond)
	c.set(7, true)
	if _, ok := c.get(7); !ok {
		t.Fatal("expected hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get(7); ok {
		t.Error("expected miss after expiry")
	}
	if n := c.evict(); n != 1 {
		t.Errorf("evict: got %d, want 1", n)
	}
	if c.len() != 0 {
		t.Errorf("len after evict: got %d", c.len())
	}
}
