// Package promptguard coordinates platform credential prompts. The OS
// shows at most one credential sheet at a time, so every passkey or
// biometric call site must claim the guard before invoking it. The guard
// also keeps automatic (non-user-initiated) prompts from re-firing
// endlessly: once per scope per process, plus cooldowns after failures,
// cancellations, and recent successes.
package promptguard

import (
	"sync"
	"time"

	"github.com/lumenfi/authcore/internal/clock"
)

// Default cooldowns applied when a caller passes zero.
const (
	DefaultAutoSuppressCooldown  = 45 * time.Second
	DefaultRecentSuccessCooldown = 12 * time.Second
	DefaultPostSuccessSuppress   = 60 * time.Second
)

// Scope identifies the (flow, principal) pair a prompt belongs to.
// Using a value type instead of a formatted string keeps unrelated flows
// from colliding on an identical concatenation.
type Scope struct {
	Flow      string
	Principal string
}

func (s Scope) String() string {
	return s.Flow + ":" + s.Principal
}

// Mode distinguishes prompts fired automatically on screen mount from
// prompts fired by an explicit user tap.
type Mode int

const (
	ModeAuto Mode = iota
	ModeManual
)

// Guard is the process-wide prompt coordinator. All operations are
// non-blocking in-memory bookkeeping and never fail; a denied result
// means the caller should fall back to manual credential entry.
type Guard struct {
	mu    sync.Mutex
	clock clock.Clock

	inFlight           bool
	suppressedUntil    map[Scope]time.Time
	recentSuccessUntil map[Scope]time.Time
	autoFired          map[Scope]struct{}

	autoSuppressCooldown  time.Duration
	recentSuccessCooldown time.Duration
	postSuccessSuppress   time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithCooldowns overrides the default cooldown durations. Zero values
// keep the defaults.
func WithCooldowns(autoSuppress, recentSuccess, postSuccess time.Duration) Option {
	return func(g *Guard) {
		if autoSuppress > 0 {
			g.autoSuppressCooldown = autoSuppress
		}
		if recentSuccess > 0 {
			g.recentSuccessCooldown = recentSuccess
		}
		if postSuccess > 0 {
			g.postSuccessSuppress = postSuccess
		}
	}
}

// NewGuard creates a prompt guard.
func NewGuard(clk clock.Clock, opts ...Option) *Guard {
	g := &Guard{
		clock:                 clk,
		suppressedUntil:       make(map[Scope]time.Time),
		recentSuccessUntil:    make(map[Scope]time.Time),
		autoFired:             make(map[Scope]struct{}),
		autoSuppressCooldown:  DefaultAutoSuppressCooldown,
		recentSuccessCooldown: DefaultRecentSuccessCooldown,
		postSuccessSuppress:   DefaultPostSuccessSuppress,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanStart reports whether a prompt for the scope may be triggered.
// Manual prompts are denied only while another prompt is in flight.
// Automatic prompts are additionally denied if the scope already
// auto-fired this process, recently succeeded, or is inside a cooldown.
func (g *Guard) CanStart(scope Scope, mode Mode) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight {
		return false
	}
	if mode == ModeManual {
		return true
	}

	if _, fired := g.autoFired[scope]; fired {
		return false
	}

	now := g.clock.Now()
	if until, ok := g.recentSuccessUntil[scope]; ok && now.Before(until) {
		return false
	}
	if until, ok := g.suppressedUntil[scope]; ok && now.Before(until) {
		return false
	}
	return true
}

// Begin claims the global in-flight flag. It returns false if another
// prompt is already in flight; the caller must then abort. End must be
// released from a deferred path regardless of prompt outcome.
func (g *Guard) Begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight {
		return false
	}
	g.inFlight = true
	return true
}

// End releases the global in-flight flag.
func (g *Guard) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
}

// InFlight reports whether any credential prompt is currently displayed.
func (g *Guard) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// SuppressAuto blocks automatic prompts for the scope for the given
// cooldown (default 45s when zero). Call after a cancelled or failed
// attempt to prevent re-trigger storms.
func (g *Guard) SuppressAuto(scope Scope, cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = g.autoSuppressCooldown
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppressedUntil[scope] = g.clock.Now().Add(cooldown)
}

// MarkSuccess records a successful prompt for the scope. It sets the
// short just-succeeded cooldown (default 12s when zero) plus the longer
// auto-suppression window, so a second screen mounting right after
// success does not immediately re-prompt.
func (g *Guard) MarkSuccess(scope Scope, recentSuccessCooldown time.Duration) {
	if recentSuccessCooldown <= 0 {
		recentSuccessCooldown = g.recentSuccessCooldown
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.recentSuccessUntil[scope] = now.Add(recentSuccessCooldown)
	g.suppressedUntil[scope] = now.Add(g.postSuccessSuppress)
}

// RecordAutoFired marks that an automatic prompt was attempted for the
// scope. Automatic prompts fire at most once per scope per process
// lifetime unless explicitly cleared.
func (g *Guard) RecordAutoFired(scope Scope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autoFired[scope] = struct{}{}
}

// ClearAutoFired allows the scope to auto-fire again.
func (g *Guard) ClearAutoFired(scope Scope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.autoFired, scope)
}

// Reset clears all bookkeeping (logout or account switch). The in-flight
// flag is left alone; an active prompt still owns it until End.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.suppressedUntil = make(map[Scope]time.Time)
	g.recentSuccessUntil = make(map[Scope]time.Time)
	g.autoFired = make(map[Scope]struct{})
}
