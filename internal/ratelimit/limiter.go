// Package ratelimit enforces the passcode failed-attempt lockout policy.
// Attempt records are kept in a write-through in-memory cache mirrored to
// a durable store so lockouts survive process restarts. Store I/O is
// best-effort: a failed read or write is logged and the in-memory state
// stays authoritative for the rest of the process lifetime.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lumenfi/authcore/internal/clock"
	"github.com/lumenfi/authcore/internal/logging"
	"github.com/lumenfi/authcore/internal/storage"
)

// keyPrefix namespaces attempt records in the shared store.
const keyPrefix = "authcore:attempts:"

// backoffUnit is the base for the advisory client-side retry delay.
const backoffUnit = 500 * time.Millisecond

// Policy holds the lockout thresholds for a limiter.
type Policy struct {
	// MaxAttempts is the number of failed attempts that triggers a lockout.
	MaxAttempts int

	// LockoutDuration is how long attempts are rejected once locked.
	LockoutDuration time.Duration

	// ResetWindow bounds how long spaced-out failures can accumulate.
	// A record older than this is discarded as if it never existed.
	ResetWindow time.Duration
}

// DefaultPolicy returns the standard lockout policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		LockoutDuration: 5 * time.Minute,
		ResetWindow:     15 * time.Minute,
	}
}

// AttemptRecord tracks failed attempts for one principal.
type AttemptRecord struct {
	Attempts    int        `json:"attempts"`
	LastAttempt time.Time  `json:"last_attempt"`
	WindowStart time.Time  `json:"window_start"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// windowExpired reports whether the tracking window has elapsed.
func (r *AttemptRecord) windowExpired(now time.Time, window time.Duration) bool {
	return now.Sub(r.WindowStart) > window
}

// lockActive reports whether a lockout is set and still in the future.
func (r *AttemptRecord) lockActive(now time.Time) bool {
	return r.LockedUntil != nil && now.Before(*r.LockedUntil)
}

// Allowance is the result of a pre-attempt check.
type Allowance struct {
	// CanAttempt is false while a lockout is active.
	CanAttempt bool

	// Remaining is the time until the lockout lifts (zero when unlocked).
	Remaining time.Duration

	// AttemptsRemaining is how many failures are left before lockout.
	AttemptsRemaining int
}

// Info is a read-only attempt status for UI display.
type Info struct {
	Attempts          int
	AttemptsRemaining int
	IsLocked          bool
	LockoutRemaining  time.Duration
}

// Limiter tracks failed passcode attempts per principal.
type Limiter struct {
	mu     sync.Mutex
	store  storage.Store
	clock  clock.Clock
	log    *logging.Logger
	policy Policy

	// cache mirrors the persisted records; loaded marks principals whose
	// persisted state has already been consulted (present or absent).
	cache  map[string]*AttemptRecord
	loaded map[string]bool
}

// NewLimiter creates a limiter over the given store. A nil logger
// discards log output.
func NewLimiter(store storage.Store, clk clock.Clock, log *logging.Logger, policy Policy) *Limiter {
	if log == nil {
		log = logging.Nop()
	}
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy()
	}
	return &Limiter{
		store:  store,
		clock:  clk,
		log:    log,
		policy: policy,
		cache:  make(map[string]*AttemptRecord),
		loaded: make(map[string]bool),
	}
}

// CheckAllowance reports whether the principal may attempt passcode
// entry. Expired windows and lapsed lockouts are lazily evicted. An
// active lockout is honored in full even when the tracking window
// lapses mid-lockout: a lock set late in the window still denies until
// its own deadline. If the persisted record already shows max attempts
// without a lock timestamp (crash between increment and lock write),
// the lock is re-derived here.
func (l *Limiter) CheckAllowance(ctx context.Context, principal string) Allowance {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.loadLocked(ctx, principal)
	if rec == nil {
		return l.fullAllowance()
	}

	now := l.clock.Now()

	if rec.LockedUntil != nil {
		if now.Before(*rec.LockedUntil) {
			return Allowance{
				CanAttempt:        false,
				Remaining:         rec.LockedUntil.Sub(now),
				AttemptsRemaining: 0,
			}
		}
		// Lockout served in full; the slate is wiped
		l.evictLocked(ctx, principal)
		return l.fullAllowance()
	}

	if rec.windowExpired(now, l.policy.ResetWindow) {
		l.evictLocked(ctx, principal)
		return l.fullAllowance()
	}

	if rec.Attempts >= l.policy.MaxAttempts {
		// Max attempts on record but no lock timestamp - set it now
		lockedUntil := now.Add(l.policy.LockoutDuration)
		rec.LockedUntil = &lockedUntil
		l.persistLocked(ctx, principal, rec)
		l.log.Info("ratelimit", "lockout_rederived", map[string]interface{}{
			"principal": principal,
			"attempts":  rec.Attempts,
		})
		return Allowance{
			CanAttempt:        false,
			Remaining:         l.policy.LockoutDuration,
			AttemptsRemaining: 0,
		}
	}

	return Allowance{
		CanAttempt:        true,
		AttemptsRemaining: l.policy.MaxAttempts - rec.Attempts,
	}
}

// RecordFailedAttempt registers a failed passcode entry and returns an
// advisory pre-retry delay (exponential backoff). The delay is a UX hint
// only; it does not gate the next CheckAllowance.
func (l *Limiter) RecordFailedAttempt(ctx context.Context, principal string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.loadLocked(ctx, principal)
	now := l.clock.Now()

	lapsedLock := rec != nil && rec.LockedUntil != nil && !now.Before(*rec.LockedUntil)
	staleWindow := rec != nil && rec.LockedUntil == nil && rec.windowExpired(now, l.policy.ResetWindow)
	if rec == nil || lapsedLock || staleWindow {
		// First failure starts a fresh window
		rec = &AttemptRecord{WindowStart: now}
	}

	rec.Attempts++
	rec.LastAttempt = now

	if rec.Attempts >= l.policy.MaxAttempts && rec.LockedUntil == nil {
		lockedUntil := now.Add(l.policy.LockoutDuration)
		rec.LockedUntil = &lockedUntil
		l.log.Info("ratelimit", "lockout_started", map[string]interface{}{
			"principal":    principal,
			"attempts":     rec.Attempts,
			"locked_until": lockedUntil,
		})
	}

	l.cache[principal] = rec
	l.loaded[principal] = true
	l.persistLocked(ctx, principal, rec)

	if rec.Attempts > 1 {
		return time.Duration(1<<(rec.Attempts-2)) * backoffUnit
	}
	return 0
}

// RecordSuccessfulAttempt deletes the principal's record entirely.
func (l *Limiter) RecordSuccessfulAttempt(ctx context.Context, principal string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictLocked(ctx, principal)
}

// Clear deletes the given principals' records, or every record when
// called with no principals (full logout). Clearing all enumerates the
// store so records persisted by earlier processes are removed too; if
// enumeration fails, cached records are still cleared.
func (l *Limiter) Clear(ctx context.Context, principals ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(principals) == 0 {
		cleared := make(map[string]bool)
		keys, err := l.store.Keys(ctx, keyPrefix)
		if err != nil {
			l.log.Warn("ratelimit", "store_list_failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		for _, key := range keys {
			principal := strings.TrimPrefix(key, keyPrefix)
			cleared[principal] = true
			l.deleteStoredLocked(ctx, principal)
		}
		for principal, rec := range l.cache {
			if rec != nil && !cleared[principal] {
				l.deleteStoredLocked(ctx, principal)
			}
		}
		l.cache = make(map[string]*AttemptRecord)
		l.loaded = make(map[string]bool)
		return
	}

	for _, principal := range principals {
		l.evictLocked(ctx, principal)
	}
}

// GetAttemptInfo returns the principal's attempt status for display.
func (l *Limiter) GetAttemptInfo(ctx context.Context, principal string) Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.loadLocked(ctx, principal)
	if rec == nil {
		return Info{AttemptsRemaining: l.policy.MaxAttempts}
	}

	now := l.clock.Now()
	if rec.lockActive(now) {
		return Info{
			Attempts:         rec.Attempts,
			IsLocked:         true,
			LockoutRemaining: rec.LockedUntil.Sub(now),
		}
	}
	// A lapsed lock or expired window reads as a clean slate, matching
	// what CheckAllowance would evict
	if rec.LockedUntil != nil || rec.windowExpired(now, l.policy.ResetWindow) {
		return Info{AttemptsRemaining: l.policy.MaxAttempts}
	}

	remaining := l.policy.MaxAttempts - rec.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return Info{
		Attempts:          rec.Attempts,
		AttemptsRemaining: remaining,
	}
}

func (l *Limiter) fullAllowance() Allowance {
	return Allowance{
		CanAttempt:        true,
		AttemptsRemaining: l.policy.MaxAttempts,
	}
}

// loadLocked returns the cached record for the principal, reading the
// persisted copy the first time a principal is touched. Caller must
// hold mu.
func (l *Limiter) loadLocked(ctx context.Context, principal string) *AttemptRecord {
	if l.loaded[principal] {
		return l.cache[principal]
	}
	l.loaded[principal] = true

	value, err := l.store.Get(ctx, keyPrefix+principal)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.log.Warn("ratelimit", "store_read_failed", map[string]interface{}{
				"principal": principal,
				"error":     err.Error(),
			})
		}
		return nil
	}

	var rec AttemptRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		l.log.Warn("ratelimit", "record_corrupt", map[string]interface{}{
			"principal": principal,
			"error":     err.Error(),
		})
		return nil
	}

	l.cache[principal] = &rec
	return &rec
}

// persistLocked writes the record through to the store. Write failures
// are logged, never surfaced. Caller must hold mu.
func (l *Limiter) persistLocked(ctx context.Context, principal string, rec *AttemptRecord) {
	l.cache[principal] = rec
	l.loaded[principal] = true

	data, err := json.Marshal(rec)
	if err != nil {
		l.log.Warn("ratelimit", "record_marshal_failed", map[string]interface{}{
			"principal": principal,
			"error":     err.Error(),
		})
		return
	}

	if err := l.store.Set(ctx, keyPrefix+principal, string(data)); err != nil {
		l.log.Warn("ratelimit", "store_write_failed", map[string]interface{}{
			"principal": principal,
			"error":     err.Error(),
		})
	}
}

// evictLocked drops the principal's record from cache and store.
// Caller must hold mu.
func (l *Limiter) evictLocked(ctx context.Context, principal string) {
	l.cache[principal] = nil
	l.loaded[principal] = true
	l.deleteStoredLocked(ctx, principal)
}

func (l *Limiter) deleteStoredLocked(ctx context.Context, principal string) {
	if err := l.store.Delete(ctx, keyPrefix+principal); err != nil {
		l.log.Warn("ratelimit", "store_delete_failed", map[string]interface{}{
			"principal": principal,
			"error":     err.Error(),
		})
	}
}
