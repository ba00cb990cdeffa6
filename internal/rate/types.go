package rate

import "time"

// Window represents a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) duration() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Declaration defines a provider's client-side request budget.
type Declaration struct {
	provider         string
	limits           map[Window]int
	retryAfterHeader string
	maxCooldown      time.Duration
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name, retryAfterHeader: "Retry-After", maxCooldown: 15 * time.Minute}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPer caps requests in a window. Non-positive limits are ignored.
func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	if limit <= 0 {
		return d
	}
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// RetryAfterHeader names the header carrying a server-imposed cooldown in
// seconds. An empty name disables cooldown tracking.
func (d Declaration) RetryAfterHeader(name string) Declaration {
	d.retryAfterHeader = name
	return d
}

// MaxCooldown bounds how long a single Retry-After can block calls.
func (d Declaration) MaxCooldown(max time.Duration) Declaration {
	d.maxCooldown = max
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}

// RateLimited is the compile-time contract for plugins that declare limits.
type RateLimited interface {
	RateLimits() Declaration
}
