package rate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGuardBudget(t *testing.T) {
	g := NewGuard(Provider("test").MaxRequestsPer(Minute, 2))
	now := time.Now().Add(time.Second)

	for i := 0; i < 2; i++ {
		if d := g.ShouldCall(now); !d.Allowed {
			t.Fatalf("call %d blocked: %+v", i, d)
		}
	}
	d := g.ShouldCall(now)
	if d.Allowed || d.Reason != "budget" {
		t.Fatalf("expected budget block, got %+v", d)
	}
	if !d.RetryAt.After(now) {
		t.Fatalf("expected retry in the future, got %s", d.RetryAt)
	}

	// one token refills every 30s
	if d := g.ShouldCall(now.Add(31 * time.Second)); !d.Allowed {
		t.Fatalf("expected refill, got %+v", d)
	}
}

func TestGuardSpendsOnlyWhenAllWindowsAllow(t *testing.T) {
	g := NewGuard(Provider("test").MaxRequestsPer(Minute, 10).MaxRequestsPer(Hour, 1))
	now := time.Now().Add(time.Second)

	if d := g.ShouldCall(now); !d.Allowed {
		t.Fatalf("first call blocked: %+v", d)
	}
	if d := g.ShouldCall(now); d.Allowed {
		t.Fatalf("expected hour budget to block")
	}
	if tokens := g.buckets[0].tokens; tokens < 8.99 {
		t.Fatalf("minute bucket spent on a blocked call: %v", tokens)
	}
}

func TestGuardRetryAfterCooldown(t *testing.T) {
	g := NewGuard(Provider("test").MaxRequestsPer(Minute, 100).MaxCooldown(time.Minute))
	now := time.Now()

	h := http.Header{}
	h.Set("Retry-After", "600")
	g.RecordResponse(now, http.StatusServiceUnavailable, h)

	if want := now.Add(time.Minute); !g.Cooldown().Equal(want) {
		t.Fatalf("cooldown = %s, want capped %s", g.Cooldown(), want)
	}
	if d := g.ShouldCall(now.Add(30 * time.Second)); d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("expected cooldown block, got %+v", d)
	}
	if d := g.ShouldCall(now.Add(61 * time.Second)); !d.Allowed {
		t.Fatalf("expected call after cooldown, got %+v", d)
	}
}

func TestGuardTooManyRequestsWithoutHeader(t *testing.T) {
	g := NewGuard(Provider("test"))
	now := time.Now()
	g.RecordResponse(now, http.StatusTooManyRequests, http.Header{})
	if !g.Cooldown().After(now) {
		t.Fatalf("expected default cooldown after 429")
	}
}

func TestWrapHTTP(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := WrapHTTP(Provider("test").MaxRequestsPer(Minute, 10), &http.Client{Timeout: time.Second})

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()

	_, err = client.Get(server.URL)
	var rlErr RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.Reason != "cooldown" || rlErr.Provider != "test" {
		t.Fatalf("unexpected error: %+v", rlErr)
	}
	if hits != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", hits)
	}
}
