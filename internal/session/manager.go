// Package session tracks access-token and passcode-session expiry,
// schedules forced re-authentication, and applies the biometric re-lock
// policy on app foreground/background transitions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenfi/authcore/internal/clock"
	"github.com/lumenfi/authcore/internal/logging"
	"github.com/lumenfi/authcore/internal/promptguard"
)

// RelockPolicy gates the biometric challenge fired on app resume.
type RelockPolicy struct {
	// MinBackgroundDuration filters out trivial interruptions such as a
	// permission dialog briefly backgrounding the app.
	MinBackgroundDuration time.Duration

	// PromptCooldown is the minimum spacing between re-lock prompts.
	PromptCooldown time.Duration

	// FailureCooldown is applied after a failed or errored challenge so a
	// misbehaving OS or sensor cannot produce a prompt loop.
	FailureCooldown time.Duration

	// GracePeriod is granted after a successful challenge before the
	// policy can trigger again.
	GracePeriod time.Duration
}

// DefaultRelockPolicy returns the standard re-lock gating policy.
func DefaultRelockPolicy() RelockPolicy {
	return RelockPolicy{
		MinBackgroundDuration: 30 * time.Second,
		PromptCooldown:        10 * time.Second,
		FailureCooldown:       30 * time.Second,
		GracePeriod:           15 * time.Second,
	}
}

// State is the expiry-relevant subset of session state this core owns.
type State struct {
	AccessToken    string
	TokenIssuedAt  time.Time
	TokenExpiresAt time.Time

	PasscodeSessionToken     string
	PasscodeSessionExpiresAt time.Time

	Authenticated            bool
	RequireBiometricOnResume bool
}

// relock state machine phases
type phase int

const (
	phaseIdle phase = iota
	phaseBackgrounded
	phaseAuthenticating
)

// Manager owns session expiry scheduling and the background re-lock
// state machine. All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	clock     clock.Clock
	log       *logging.Logger
	guard     *promptguard.Guard
	biometric BiometricAuthenticator
	policy    RelockPolicy

	state             State
	passcodeDisabled  bool
	onRequirePasscode func()

	// expiry timer; armID identifies the latest arm so a superseded
	// timer that fires anyway is recognized as stale
	expiryTimer clock.Timer
	armID       string

	phase          phase
	backgroundedAt time.Time
	lastPromptAt   time.Time
	graceUntil     time.Time
	cooldownUntil  time.Time

	unsubscribe func()
}

// NewManager creates a session manager. The guard must be the same
// instance every credential call site shares. A nil logger discards
// output; a zero policy gets defaults.
func NewManager(clk clock.Clock, log *logging.Logger, guard *promptguard.Guard, biometric BiometricAuthenticator, policy RelockPolicy) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	if policy == (RelockPolicy{}) {
		policy = DefaultRelockPolicy()
	}
	return &Manager{
		clock:     clk,
		log:       log,
		guard:     guard,
		biometric: biometric,
		policy:    policy,
	}
}

// Bind subscribes the manager to app lifecycle transitions. Call Close
// to unsubscribe.
func (m *Manager) Bind(lifecycle Lifecycle) {
	unsubscribe := lifecycle.Subscribe(func(state AppState) {
		m.HandleAppStateChange(context.Background(), state)
	})

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

// Close unsubscribes from lifecycle events and disarms any pending
// expiry timer.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.disarmLocked()
	m.mu.Unlock()

	// Called outside mu: the lifecycle may be delivering a transition
	// that is waiting on the manager lock
	if unsubscribe != nil {
		unsubscribe()
	}
}

// SetAccessToken records a freshly issued access token and derives its
// expiry from the token's registered claims.
func (m *Manager) SetAccessToken(token string) error {
	issuedAt, expiresAt, err := ParseTokenTimes(token)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.AccessToken = token
	m.state.TokenIssuedAt = issuedAt
	m.state.TokenExpiresAt = expiresAt
	m.state.Authenticated = true
	return nil
}

// SetRequireBiometricOnResume records the user's re-lock preference.
func (m *Manager) SetRequireBiometricOnResume(require bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.RequireBiometricOnResume = require
}

// SetPasscodeSessionDisabled marks the passcode-session subsystem as
// disabled for this user; HasValidPasscodeSession then only requires a
// valid access token.
func (m *Manager) SetPasscodeSessionDisabled(disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passcodeDisabled = disabled
}

// Snapshot returns a copy of the current session state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnRequirePasscode registers the callback fired when the passcode
// session expires and the user must re-enter their passcode.
func (m *Manager) OnRequirePasscode(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRequirePasscode = fn
}

// BeginPasscodeSession records a newly issued passcode session and arms
// its expiry timer. An empty token is the missing-session condition:
// login succeeded at the identity layer but the follow-on session needed
// for sensitive actions was not issued.
func (m *Manager) BeginPasscodeSession(token string, expiresAt time.Time) error {
	if token == "" {
		return ErrPasscodeSessionMissing
	}

	m.mu.Lock()
	m.state.PasscodeSessionToken = token
	m.state.PasscodeSessionExpiresAt = expiresAt
	m.mu.Unlock()

	m.ScheduleExpiry(expiresAt)
	return nil
}

// ScheduleExpiry arms a timer that marks the passcode session invalid
// when it fires. A fresh call supersedes any previously scheduled
// firing; a stale timer that fires anyway is ignored.
func (m *Manager) ScheduleExpiry(expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disarmLocked()

	armID := uuid.NewString()
	m.armID = armID

	delay := expiresAt.Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}

	m.expiryTimer = m.clock.AfterFunc(delay, func() {
		m.expireIfCurrent(armID)
	})

	m.log.Debug("session", "expiry_scheduled", map[string]interface{}{
		"expires_at": expiresAt,
	})
}

// expireIfCurrent handles a timer firing, ignoring superseded arms.
func (m *Manager) expireIfCurrent(armID string) {
	m.mu.Lock()
	if m.armID != armID {
		m.mu.Unlock()
		return
	}
	fn := m.handleExpiredLocked()
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// IsPasscodeSessionExpired reports whether the passcode session is
// absent or past its expiry.
func (m *Manager) IsPasscodeSessionExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passcodeSessionExpiredLocked()
}

func (m *Manager) passcodeSessionExpiredLocked() bool {
	if m.state.PasscodeSessionToken == "" {
		return true
	}
	if m.state.PasscodeSessionExpiresAt.IsZero() {
		return true
	}
	return !m.clock.Now().Before(m.state.PasscodeSessionExpiresAt)
}

// HasValidPasscodeSession reports whether sensitive actions may proceed:
// a valid access token AND an unexpired passcode session, or the
// passcode-session subsystem being disabled for this user.
func (m *Manager) HasValidPasscodeSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Authenticated {
		return false
	}
	if m.state.TokenExpiresAt.IsZero() || !m.clock.Now().Before(m.state.TokenExpiresAt) {
		return false
	}
	if m.passcodeDisabled {
		return true
	}
	return !m.passcodeSessionExpiredLocked()
}

// HandlePasscodeSessionExpired transitions to "needs passcode" without
// invalidating the access token. Idempotent: the callback fires only on
// the transition from a present session to an absent one.
func (m *Manager) HandlePasscodeSessionExpired() {
	m.mu.Lock()
	fn := m.handleExpiredLocked()
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// handleExpiredLocked clears the passcode session and returns the
// callback to fire (nil when already expired). Caller must hold mu.
func (m *Manager) handleExpiredLocked() func() {
	if m.state.PasscodeSessionToken == "" && m.state.PasscodeSessionExpiresAt.IsZero() {
		return nil
	}

	m.state.PasscodeSessionToken = ""
	m.state.PasscodeSessionExpiresAt = time.Time{}
	m.disarmLocked()

	m.log.Info("session", "passcode_session_expired", nil)
	return m.onRequirePasscode
}

// Logout clears all session state and bookkeeping.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disarmLocked()
	m.state = State{}
	m.passcodeDisabled = false
	m.phase = phaseIdle
	m.backgroundedAt = time.Time{}
	m.graceUntil = time.Time{}
	m.cooldownUntil = time.Time{}
}

// disarmLocked stops any pending expiry timer. Caller must hold mu.
func (m *Manager) disarmLocked() {
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
	m.armID = ""
}

// HandleAppStateChange feeds an app lifecycle transition into the
// re-lock state machine. On resume it may block on a biometric
// challenge; run it from the goroutine delivering lifecycle events.
func (m *Manager) HandleAppStateChange(ctx context.Context, state AppState) {
	switch state {
	case AppStateBackground:
		m.handleBackground()
	case AppStateActive:
		m.handleForeground(ctx)
	}
}

func (m *Manager) handleBackground() {
	// A background event while a credential sheet is up is a side-effect
	// of the sheet itself, not the user leaving the app
	if m.guard.InFlight() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != phaseIdle {
		return
	}
	m.phase = phaseBackgrounded
	m.backgroundedAt = m.clock.Now()
}

func (m *Manager) handleForeground(ctx context.Context) {
	m.mu.Lock()

	if m.phase != phaseBackgrounded {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	backgroundFor := now.Sub(m.backgroundedAt)
	m.backgroundedAt = time.Time{}

	if !m.relockGatePassesLocked(now, backgroundFor) {
		m.phase = phaseIdle
		m.mu.Unlock()
		return
	}

	m.phase = phaseAuthenticating
	m.mu.Unlock()

	m.runRelockChallenge(ctx, backgroundFor)
}

// relockGatePassesLocked evaluates all gating conditions for firing a
// re-lock challenge. Caller must hold mu.
func (m *Manager) relockGatePassesLocked(now time.Time, backgroundFor time.Duration) bool {
	if !m.state.RequireBiometricOnResume {
		return false
	}
	if backgroundFor < m.policy.MinBackgroundDuration {
		return false
	}
	if m.guard.InFlight() {
		return false
	}
	if now.Before(m.graceUntil) || now.Before(m.cooldownUntil) {
		return false
	}
	if !m.lastPromptAt.IsZero() && now.Sub(m.lastPromptAt) < m.policy.PromptCooldown {
		return false
	}
	return true
}

// runRelockChallenge fires the biometric challenge. The guard's
// in-flight flag is held across the entire platform call and released
// on every path.
func (m *Manager) runRelockChallenge(ctx context.Context, backgroundFor time.Duration) {
	if !m.guard.Begin() {
		m.mu.Lock()
		m.phase = phaseIdle
		m.mu.Unlock()
		return
	}
	defer m.guard.End()

	m.log.Info("session", "relock_triggered", map[string]interface{}{
		"background_seconds": int(backgroundFor.Seconds()),
	})

	success, err := m.biometric.Authenticate(ctx, BiometricPrompt{
		PromptMessage: "Unlock your account",
		CancelLabel:   "Use passcode",
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	m.phase = phaseIdle
	now := m.clock.Now()
	m.lastPromptAt = now

	if err == nil && success {
		m.graceUntil = now.Add(m.policy.GracePeriod)
		m.log.Info("session", "relock_succeeded", nil)
		return
	}

	m.cooldownUntil = now.Add(m.policy.FailureCooldown)
	if IsCancellation(err) {
		m.log.Debug("session", "relock_cancelled", nil)
		return
	}
	fields := map[string]interface{}{}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.log.Warn("session", "relock_failed", fields)
}
