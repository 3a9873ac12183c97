package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter decides whether a caller may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, id *Identity) error
}

// LimitError is returned when a caller is over its limit.
type LimitError struct {
	Tier       string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s for tier %q, retry after %s", ErrTooManyRequests, e.Tier, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return ErrTooManyRequests }

// WindowLimiter counts requests per subject in fixed one-minute windows.
type WindowLimiter struct {
	defaultRPM int
	tiers      map[string]int
	now        func() time.Time

	mu      sync.Mutex
	windows map[string]*window
	swept   time.Time
}

type window struct {
	start time.Time
	count int
}

// NewWindowLimiter creates a limiter. tiers maps a service tier to its
// requests per minute; other tiers get defaultRPM. A limit of zero or less
// means unlimited.
func NewWindowLimiter(defaultRPM int, tiers map[string]int) *WindowLimiter {
	return &WindowLimiter{
		defaultRPM: defaultRPM,
		tiers:      tiers,
		now:        time.Now,
		windows:    make(map[string]*window),
	}
}

func (l *WindowLimiter) limit(tier string) int {
	if rpm, ok := l.tiers[tier]; ok {
		return rpm
	}
	return l.defaultRPM
}

// Allow counts the request against the identity's window.
func (l *WindowLimiter) Allow(_ context.Context, id *Identity) error {
	tier := id.Tier
	if tier == "" {
		tier = "default"
	}
	rpm := l.limit(tier)
	if rpm <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	key := id.Tenant + "/" + id.Subject
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= time.Minute {
		l.windows[key] = &window{start: now, count: 1}
		return nil
	}
	if w.count >= rpm {
		return &LimitError{Tier: tier, RetryAfter: w.start.Add(time.Minute).Sub(now)}
	}
	w.count++
	return nil
}

// sweep drops expired windows at most once a minute.
func (l *WindowLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) < time.Minute {
		return
	}
	l.swept = now
	for k, w := range l.windows {
		if now.Sub(w.start) >= time.Minute {
			delete(l.windows, k)
		}
	}
}
