// Package ratelimit implements a per-action sliding window call throttle.
//
// Each action key keeps a bounded ring of the timestamps at which calls were
// admitted. A call is admitted while fewer than MaxRequests timestamps fall
// inside the trailing Window. State lives in process memory only: the limiter
// smooths the common case of repeated taps and retries, it is not a security
// boundary. Authoritative throttling belongs to the backend.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Well-known action keys.
const (
	ActionLogin   = "login_attempt"
	ActionPayment = "payment_attempt"
	ActionOrder   = "place_order"
)

// Rule bounds the number of admitted calls for one action key.
type Rule struct {
	// MaxRequests is the number of calls admitted per Window.
	MaxRequests int
	// Window is the trailing time span the calls are counted over.
	Window time.Duration
}

func (r Rule) valid() bool {
	return r.MaxRequests > 0 && r.Window > 0
}

// DefaultRule applies to action keys without an explicit rule.
var DefaultRule = Rule{MaxRequests: 10, Window: time.Minute}

// DefaultRules returns the limits used when no configuration is supplied.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionLogin:   {MaxRequests: 5, Window: 15 * time.Minute},
		ActionPayment: {MaxRequests: 5, Window: time.Minute},
		ActionOrder:   {MaxRequests: 3, Window: time.Minute},
	}
}

// window is a fixed-capacity ring of admission timestamps, oldest first.
type window struct {
	stamps []time.Time
	head   int
	size   int
}

func newWindow(capacity int) *window {
	return &window{stamps: make([]time.Time, capacity)}
}

func (w *window) oldest() time.Time {
	return w.stamps[w.head]
}

func (w *window) push(t time.Time) {
	idx := (w.head + w.size) % len(w.stamps)
	w.stamps[idx] = t
	w.size++
}

func (w *window) pop() {
	w.stamps[w.head] = time.Time{}
	w.head = (w.head + 1) % len(w.stamps)
	w.size--
}

// evict drops every timestamp that is no longer inside the window ending at now.
func (w *window) evict(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	for w.size > 0 && !w.oldest().After(cutoff) {
		w.pop()
	}
}

// Limiter holds the shared state for all action keys. Callers using the same
// key share one window, so throttling is global per action class.
type Limiter struct {
	rules map[string]Rule
	def   Rule
	now   func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the given per-key rules. Keys without a rule use
// def. Invalid rules are ignored; an invalid def falls back to DefaultRule.
func New(rules map[string]Rule, def Rule, opts ...Option) *Limiter {
	if !def.valid() {
		def = DefaultRule
	}
	l := &Limiter{
		rules:   make(map[string]Rule, len(rules)),
		def:     def,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for key, r := range rules {
		if r.valid() {
			l.rules[key] = r
		}
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Rule returns the rule applied to key.
func (l *Limiter) Rule(key string) Rule {
	if r, ok := l.rules[key]; ok {
		return r
	}
	return l.def
}

// windowFor returns the window for key, creating it on first use.
// The caller must hold l.mu.
func (l *Limiter) windowFor(key string, r Rule) *window {
	w, ok := l.windows[key]
	if !ok {
		w = newWindow(r.MaxRequests)
		l.windows[key] = w
	}
	return w
}

// Allow reports whether a call for key is admitted. An admitted call is
// recorded; a refused call leaves the window untouched.
func (l *Limiter) Allow(key string) bool {
	return l.allow(key, l.Rule(key))
}

func (l *Limiter) allow(windowKey string, r Rule) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windowFor(windowKey, r)
	w.evict(now, r.Window)
	if w.size >= r.MaxRequests {
		return false
	}
	w.push(now)
	return true
}

// Reset forgets every recorded call for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.windows, key)
}

// TimeUntilReset returns how long until the oldest recorded call for key
// leaves the window. It is zero when key has no recorded calls.
func (l *Limiter) TimeUntilReset(key string) time.Duration {
	return l.timeUntilReset(key, l.Rule(key))
}

func (l *Limiter) timeUntilReset(windowKey string, r Rule) time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[windowKey]
	if !ok {
		return 0
	}
	w.evict(now, r.Window)
	if w.size == 0 {
		return 0
	}
	d := w.oldest().Add(r.Window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Sweep removes keys whose windows hold no live timestamps.
func (l *Limiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		_, action := splitScope(key)
		w.evict(now, l.Rule(action).Window)
		if w.size == 0 {
			delete(l.windows, key)
		}
	}
}

// StartSweeper periodically calls Sweep until ctx is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// scopeSep separates a scope from the action key in window keys.
const scopeSep = "\x00"

func splitScope(windowKey string) (scope, action string) {
	if i := strings.LastIndex(windowKey, scopeSep); i >= 0 {
		return windowKey[:i], windowKey[i+len(scopeSep):]
	}
	return "", windowKey
}

// Scoped is a view of a Limiter whose windows are private to one scope,
// such as a customer identity, while sharing the parent's rules.
type Scoped struct {
	l     *Limiter
	scope string
}

// Scope returns a view of l keyed by scope.
func (l *Limiter) Scope(scope string) *Scoped {
	return &Scoped{l: l, scope: scope}
}

func (s *Scoped) key(action string) string {
	return s.scope + scopeSep + action
}

// Allow is Limiter.Allow within the scope.
func (s *Scoped) Allow(key string) bool {
	return s.l.allow(s.key(key), s.l.Rule(key))
}

// Reset is Limiter.Reset within the scope.
func (s *Scoped) Reset(key string) {
	s.l.Reset(s.key(key))
}

// TimeUntilReset is Limiter.TimeUntilReset within the scope.
func (s *Scoped) TimeUntilReset(key string) time.Duration {
	return s.l.timeUntilReset(s.key(key), s.l.Rule(key))
}
