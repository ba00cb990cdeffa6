package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// RateLimitError is returned when calls are blocked before reaching the network.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Decision is the outcome of ShouldCall.
type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	window   Window
	capacity int
	tokens   float64
	last     time.Time
}

func (b *bucket) refill(now time.Time) {
	if !now.After(b.last) {
		return
	}
	rate := float64(b.capacity) / b.window.duration().Seconds()
	b.tokens += now.Sub(b.last).Seconds() * rate
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
	b.last = now
}

func (b *bucket) nextToken() time.Time {
	return b.last.Add(b.window.duration() / time.Duration(b.capacity))
}

// Guard enforces a Declaration. It is safe for concurrent use.
type Guard struct {
	decl Declaration

	mu       sync.Mutex
	buckets  []*bucket
	cooldown time.Time
}

// NewGuard builds a guard with full buckets.
func NewGuard(decl Declaration) *Guard {
	g := &Guard{decl: decl}
	now := time.Now()
	for _, window := range []Window{Minute, Hour, Day} {
		limit, ok := decl.limits[window]
		if !ok {
			continue
		}
		g.buckets = append(g.buckets, &bucket{window: window, capacity: limit, tokens: float64(limit), last: now})
		remainingGauge.WithLabelValues(decl.provider, window.String()).Set(float64(limit))
	}
	return g
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: NewGuard(decl)}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall(time.Now())
	if !decision.Allowed {
		blockedCounter.WithLabelValues(rt.guard.decl.provider, decision.Reason).Inc()
		log.WithFields(log.Fields{
			"provider": rt.guard.decl.provider,
			"reason":   decision.Reason,
			"path":     req.URL.Path,
		}).Warn("request blocked by rate guard")
		return nil, RateLimitError{
			Provider: rt.guard.decl.provider,
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(time.Now(), resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall reports whether a request may be sent at now and, if so,
// consumes budget for it.
func (g *Guard) ShouldCall(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Before(g.cooldown) {
		return Decision{Reason: "cooldown", RetryAt: g.cooldown}
	}

	// all windows must have a token before any is spent
	for _, b := range g.buckets {
		b.refill(now)
		if b.tokens < 1 {
			return Decision{Reason: "budget", RetryAt: b.nextToken()}
		}
	}
	for _, b := range g.buckets {
		b.tokens--
		remainingGauge.WithLabelValues(g.decl.provider, b.window.String()).Set(b.tokens)
	}

	return Decision{Allowed: true}
}

// RecordResponse updates the cooldown from the response status and headers.
func (g *Guard) RecordResponse(now time.Time, status int, headers http.Header) {
	lastStatusGauge.WithLabelValues(g.decl.provider).Set(float64(status))

	wait := retryAfter(headers, g.decl.retryAfterHeader, now)
	if wait <= 0 && status == http.StatusTooManyRequests {
		wait = time.Minute
	}
	if wait <= 0 {
		return
	}
	if g.decl.maxCooldown > 0 && wait > g.decl.maxCooldown {
		wait = g.decl.maxCooldown
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	until := now.Add(wait)
	if until.After(g.cooldown) {
		g.cooldown = until
	}
	retryAfterGauge.WithLabelValues(g.decl.provider).Set(wait.Seconds())
}

// Cooldown returns the time until which calls are blocked, if any.
func (g *Guard) Cooldown() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

// retryAfter parses delta-seconds or an HTTP date.
func retryAfter(h http.Header, key string, now time.Time) time.Duration {
	if key == "" {
		return 0
	}
	value := strings.TrimSpace(h.Get(key))
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return at.Sub(now)
	}
	return 0
}
