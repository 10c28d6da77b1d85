// Package ratelimit implements fixed-window request counting per principal
// and traffic class, with subscription-tier ceilings.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openloom/llmgate/pkg/types"
)

// Class identifies an independent rate-limit bucket.
type Class string

// Traffic classes with their own ceilings per tier.
const (
	ClassGeneral Class = "general"
	ClassLLM     Class = "llm"
	ClassAuth    Class = "auth"
)

// Decision is the outcome of a rate-limit check, including the observability
// fields surfaced as response headers.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Config holds window lengths per class and ceilings per (tier, class).
// A ceiling of zero or a missing entry means the class is unlimited for
// that tier.
type Config struct {
	Windows  map[Class]time.Duration
	Ceilings map[types.Tier]map[Class]int64
	FailOpen bool
	Logger   *slog.Logger
}

// DefaultConfig returns the stock window lengths and tier ceilings.
func DefaultConfig() Config {
	return Config{
		Windows: map[Class]time.Duration{
			ClassGeneral: time.Minute,
			ClassLLM:     time.Hour,
			ClassAuth:    5 * time.Minute,
		},
		Ceilings: map[types.Tier]map[Class]int64{
			types.TierFree:       {ClassGeneral: 120, ClassLLM: 50, ClassAuth: 10},
			types.TierPro:        {ClassGeneral: 600, ClassLLM: 500, ClassAuth: 20},
			types.TierEnterprise: {ClassGeneral: 3000, ClassLLM: 5000, ClassAuth: 60},
			types.TierAPIKey:     {ClassGeneral: 1200, ClassLLM: 1000, ClassAuth: 20},
		},
	}
}

func (c Config) window(class Class) time.Duration {
	if w, ok := c.Windows[class]; ok && w > 0 {
		return w
	}
	return time.Hour
}

func (c Config) ceiling(tier types.Tier, class Class) int64 {
	if byClass, ok := c.Ceilings[tier]; ok {
		return byClass[class]
	}
	return 0
}

// Limiter checks whether a request is admitted for a (principal, class) pair.
type Limiter interface {
	Check(ctx context.Context, principal *types.Principal, class Class) (Decision, error)
}

// NoopLimiter admits every request. Installed when rate limiting is disabled
// in configuration.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that never rejects.
func NewNoopLimiter() NoopLimiter { return NoopLimiter{} }

// Check admits the request. The zero Limit keeps rate-limit headers off
// responses.
func (NoopLimiter) Check(context.Context, *types.Principal, Class) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// window is one fixed counting window. Mutated only under mu so two
// concurrent checks for the same key cannot both pass a ceiling that only
// admits one of them.
type window struct {
	mu    sync.Mutex
	start time.Time
	count int64
}

// WindowLimiter is the local in-process fixed-window limiter. Windows are
// created lazily on first request per (principal, class) and reset in place
// when they elapse; stale entries are swept opportunistically on access
// rather than by a background goroutine.
type WindowLimiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	cfg     Config
	checks  int64

	// now is swappable for tests.
	now func() time.Time
}

const sweepInterval = 256

// NewWindowLimiter creates a local fixed-window limiter.
func NewWindowLimiter(cfg Config) *WindowLimiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Windows == nil {
		cfg.Windows = DefaultConfig().Windows
	}
	return &WindowLimiter{
		windows: make(map[string]*window),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetCeilings swaps the ceiling table, used by config hot reload. Windows in
// flight keep their counts; only the admission threshold changes.
func (l *WindowLimiter) SetCeilings(ceilings map[types.Tier]map[Class]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Ceilings = ceilings
}

// Check increments the window counter for (principal, class) and admits the
// request if the count stays within the tier's ceiling. The increment is
// rolled back on rejection so a rejected request does not consume budget.
func (l *WindowLimiter) Check(_ context.Context, principal *types.Principal, class Class) (Decision, error) {
	l.mu.RLock()
	ceiling := l.cfg.ceiling(principal.Tier, class)
	length := l.cfg.window(class)
	l.mu.RUnlock()

	if ceiling <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	w := l.getWindow(principal.ID + ":" + string(class))

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || now.Sub(w.start) >= length {
		w.start = now
		w.count = 0
	}

	resetAt := w.start.Add(length)

	w.count++
	if w.count > ceiling {
		w.count--
		return Decision{
			Allowed:    false,
			Limit:      ceiling,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     ceiling,
		Remaining: ceiling - w.count,
		ResetAt:   resetAt,
	}, nil
}

func (l *WindowLimiter) getWindow(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock.
	if w, ok = l.windows[key]; ok {
		return w
	}

	l.checks++
	if l.checks%sweepInterval == 0 {
		l.sweepLocked()
	}

	w = &window{}
	l.windows[key] = w
	return w
}

// sweepLocked drops windows that elapsed more than one full window ago.
// Caller holds the write lock.
func (l *WindowLimiter) sweepLocked() {
	now := l.now()
	for key, w := range l.windows {
		w.mu.Lock()
		stale := !w.start.IsZero() && now.Sub(w.start) >= 2*l.maxWindowLocked()
		w.mu.Unlock()
		if stale {
			delete(l.windows, key)
		}
	}
}

func (l *WindowLimiter) maxWindowLocked() time.Duration {
	max := time.Hour
	for _, w := range l.cfg.Windows {
		if w > max {
			max = w
		}
	}
	return max
}
