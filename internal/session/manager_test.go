package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lumenfi/authcore/internal/clock"
	"github.com/lumenfi/authcore/internal/promptguard"
)

// fakeBiometric scripts the platform biometric result.
type fakeBiometric struct {
	mu      sync.Mutex
	success bool
	err     error
	calls   int
}

func (f *fakeBiometric) Authenticate(ctx context.Context, prompt BiometricPrompt) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.success, f.err
}

func (f *fakeBiometric) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestManager(t *testing.T) (*Manager, *clock.Manual, *promptguard.Guard, *fakeBiometric) {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	guard := promptguard.NewGuard(clk)
	biometric := &fakeBiometric{success: true}
	manager := NewManager(clk, nil, guard, biometric, DefaultRelockPolicy())
	return manager, clk, guard, biometric
}

func TestScheduleExpiryFires(t *testing.T) {
	manager, clk, _, _ := newTestManager(t)

	expired := 0
	manager.OnRequirePasscode(func() { expired++ })

	expiresAt := clk.Now().Add(10 * time.Minute)
	if err := manager.BeginPasscodeSession("ps-token", expiresAt); err != nil {
		t.Fatalf("BeginPasscodeSession failed: %v", err)
	}

	if manager.IsPasscodeSessionExpired() {
		t.Error("Expected fresh passcode session to be valid")
	}

	clk.Advance(10 * time.Minute)

	if expired != 1 {
		t.Errorf("Expected expiry callback to fire once, fired %d times", expired)
	}
	if !manager.IsPasscodeSessionExpired() {
		t.Error("Expected passcode session expired after timer fired")
	}
}

func TestScheduleExpirySuperseded(t *testing.T) {
	manager, clk, _, _ := newTestManager(t)

	expired := 0
	manager.OnRequirePasscode(func() { expired++ })

	if err := manager.BeginPasscodeSession("ps-1", clk.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("BeginPasscodeSession failed: %v", err)
	}

	// Renew before the first timer fires; the stale arm must not expire
	// the fresh session
	clk.Advance(4 * time.Minute)
	if err := manager.BeginPasscodeSession("ps-2", clk.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("BeginPasscodeSession failed: %v", err)
	}

	clk.Advance(2 * time.Minute) // past the first deadline
	if expired != 0 {
		t.Errorf("Expected superseded timer not to fire, callback fired %d times", expired)
	}
	if manager.IsPasscodeSessionExpired() {
		t.Error("Expected renewed session to still be valid")
	}

	clk.Advance(3 * time.Minute) // second deadline
	if expired != 1 {
		t.Errorf("Expected renewed timer to fire once, fired %d times", expired)
	}
}

func TestBeginPasscodeSessionMissingToken(t *testing.T) {
	manager, clk, _, _ := newTestManager(t)

	err := manager.BeginPasscodeSession("", clk.Now().Add(5*time.Minute))
	if !errors.Is(err, ErrPasscodeSessionMissing) {
		t.Errorf("Expected ErrPasscodeSessionMissing, got %v", err)
	}
}

func TestHandleExpiredIdempotentAndKeepsAccessToken(t *testing.T) {
	manager, clk, _, _ := newTestManager(t)

	token := makeToken(t, clk.Now(), clk.Now().Add(24*time.Hour))
	if err := manager.SetAccessToken(token); err != nil {
		t.Fatalf("SetAccessToken failed: %v", err)
	}

	expired := 0
	manager.OnRequirePasscode(func() { expired++ })

	if err := manager.BeginPasscodeSession("ps-token", clk.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("BeginPasscodeSession failed: %v", err)
	}

	manager.HandlePasscodeSessionExpired()
	manager.HandlePasscodeSessionExpired()

	if expired != 1 {
		t.Errorf("Expected callback once across repeated calls, fired %d times", expired)
	}

	state := manager.Snapshot()
	if state.PasscodeSessionToken != "" {
		t.Error("Expected passcode session token cleared")
	}
	if state.AccessToken == "" || !state.Authenticated {
		t.Error("Expected access token and authenticated flag to survive passcode expiry")
	}
}

func TestHasValidPasscodeSession(t *testing.T) {
	manager, clk, _, _ := newTestManager(t)

	if manager.HasValidPasscodeSession() {
		t.Error("Expected invalid before any authentication")
	}

	token := makeToken(t, clk.Now(), clk.Now().Add(1*time.Hour))
	if err := manager.SetAccessToken(token); err != nil {
		t.Fatalf("SetAccessToken failed: %v", err)
	}

	if manager.HasValidPasscodeSession() {
		t.Error("Expected invalid with token but no passcode session")
	}

	if err := manager.BeginPasscodeSession("ps-token", clk.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("BeginPasscodeSession failed: %v", err)
	}
	if !manager.HasValidPasscodeSession() {
		t.Error("Expected valid with token and passcode session")
	}

	// Expired access token invalidates everything
	clk.Advance(2 * time.Hour)
	if manager.HasValidPasscodeSession() {
		t.Error("Expected invalid after access token expiry")
	}
}

func TestHasValidPasscodeSessionWhenDisabled(t *testing.T) {
	manager, clk, _, _ := newTestManager(t)

	token := makeToken(t, clk.Now(), clk.Now().Add(1*time.Hour))
	if err := manager.SetAccessToken(token); err != nil {
		t.Fatalf("SetAccessToken failed: %v", err)
	}

	manager.SetPasscodeSessionDisabled(true)
	if !manager.HasValidPasscodeSession() {
		t.Error("Expected valid with token when passcode sessions are disabled")
	}
}

func TestRelockFiresAfterLongBackground(t *testing.T) {
	manager, clk, _, biometric := newTestManager(t)
	ctx := context.Background()

	manager.SetRequireBiometricOnResume(true)

	manager.HandleAppStateChange(ctx, AppStateBackground)
	clk.Advance(1 * time.Minute)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 1 {
		t.Errorf("Expected 1 biometric challenge, got %d", biometric.callCount())
	}
}

func TestRelockSkippedWhenPreferenceOff(t *testing.T) {
	manager, clk, _, biometric := newTestManager(t)
	ctx := context.Background()

	manager.HandleAppStateChange(ctx, AppStateBackground)
	clk.Advance(1 * time.Minute)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 0 {
		t.Errorf("Expected no challenge with preference off, got %d", biometric.callCount())
	}
}

func TestRelockSkippedForTrivialInterruption(t *testing.T) {
	manager, clk, _, biometric := newTestManager(t)
	ctx := context.Background()

	manager.SetRequireBiometricOnResume(true)

	// A permission dialog backgrounds the app for a few seconds
	manager.HandleAppStateChange(ctx, AppStateBackground)
	clk.Advance(5 * time.Second)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 0 {
		t.Errorf("Expected no challenge for short background, got %d", biometric.callCount())
	}
}

func TestRelockIgnoresBackgroundFromCredentialSheet(t *testing.T) {
	manager, clk, guard, biometric := newTestManager(t)
	ctx := context.Background()

	manager.SetRequireBiometricOnResume(true)

	// The system credential sheet backgrounds the app as a side-effect
	guard.Begin()
	manager.HandleAppStateChange(ctx, AppStateBackground)
	guard.End()

	clk.Advance(1 * time.Minute)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 0 {
		t.Errorf("Expected no challenge when background was a sheet side-effect, got %d", biometric.callCount())
	}
}

func TestRelockSuccessGrantsGracePeriod(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	guard := promptguard.NewGuard(clk)
	biometric := &fakeBiometric{success: true}
	// Grace longer than the min background duration so a qualifying
	// cycle can land inside it
	manager := NewManager(clk, nil, guard, biometric, RelockPolicy{
		MinBackgroundDuration: 30 * time.Second,
		PromptCooldown:        10 * time.Second,
		FailureCooldown:       30 * time.Second,
		GracePeriod:           5 * time.Minute,
	})
	ctx := context.Background()

	manager.SetRequireBiometricOnResume(true)

	manager.HandleAppStateChange(ctx, AppStateBackground)
	clk.Advance(1 * time.Minute)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 1 {
		t.Fatalf("Expected first challenge, got %d", biometric.callCount())
	}

	// A qualifying cycle inside the grace period stays quiet
	manager.HandleAppStateChange(ctx, AppStateBackground)
	clk.Advance(1 * time.Minute)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 1 {
		t.Errorf("Expected no re-challenge inside grace period, got %d", biometric.callCount())
	}

	// Past the grace period the policy can trigger again
	manager.HandleAppStateChange(ctx, AppStateBackground)
	clk.Advance(5 * time.Minute)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 2 {
		t.Errorf("Expected re-challenge after grace elapsed, got %d", biometric.callCount())
	}
}

func TestRelockFailureAppliesCooldown(t *testing.T) {
	manager, clk, _, biometric := newTestManager(t)
	ctx := context.Background()

	manager.SetRequireBiometricOnResume(true)
	biometric.success = false
	biometric.err = errors.New("sensor unavailable")

	manager.HandleAppStateChange(ctx, AppStateBackground)
	clk.Advance(1 * time.Minute)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 1 {
		t.Fatalf("Expected first challenge, got %d", biometric.callCount())
	}

	// Inside the 30s failure cooldown nothing re-fires
	manager.HandleAppStateChange(ctx, AppStateBackground)
	clk.Advance(29 * time.Second)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 1 {
		t.Errorf("Expected no re-challenge inside failure cooldown, got %d", biometric.callCount())
	}

	// After the cooldown a qualifying cycle fires again
	manager.HandleAppStateChange(ctx, AppStateBackground)
	clk.Advance(1 * time.Minute)
	manager.HandleAppStateChange(ctx, AppStateActive)

	if biometric.callCount() != 2 {
		t.Errorf("Expected challenge after cooldown elapsed, got %d", biometric.callCount())
	}
}

func TestLogoutClearsState(t *testing.T) {
	manager, clk, _, _ := newTestManager(t)

	token := makeToken(t, clk.Now(), clk.Now().Add(1*time.Hour))
	if err := manager.SetAccessToken(token); err != nil {
		t.Fatalf("SetAccessToken failed: %v", err)
	}
	if err := manager.BeginPasscodeSession("ps-token", clk.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("BeginPasscodeSession failed: %v", err)
	}

	expired := 0
	manager.OnRequirePasscode(func() { expired++ })

	manager.Logout()

	state := manager.Snapshot()
	if state.Authenticated || state.AccessToken != "" {
		t.Error("Expected authentication cleared on logout")
	}

	// The disarmed timer must not fire
	clk.Advance(1 * time.Hour)
	if expired != 0 {
		t.Errorf("Expected no expiry callback after logout, fired %d times", expired)
	}
}

// manualLifecycle delivers app state transitions to subscribers.
type manualLifecycle struct {
	mu       sync.Mutex
	handlers map[int]func(AppState)
	next     int
}

func (l *manualLifecycle) Subscribe(handler func(AppState)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[int]func(AppState))
	}
	id := l.next
	l.next++
	l.handlers[id] = handler
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, id)
	}
}

func (l *manualLifecycle) emit(state AppState) {
	l.mu.Lock()
	handlers := make([]func(AppState), 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}

func TestBindSubscribesToLifecycle(t *testing.T) {
	manager, clk, _, biometric := newTestManager(t)

	manager.SetRequireBiometricOnResume(true)

	lifecycle := &manualLifecycle{}
	manager.Bind(lifecycle)

	lifecycle.emit(AppStateBackground)
	clk.Advance(1 * time.Minute)
	lifecycle.emit(AppStateActive)

	if biometric.callCount() != 1 {
		t.Errorf("Expected challenge via bound lifecycle, got %d", biometric.callCount())
	}

	// After Close no further events are delivered
	manager.Close()
	lifecycle.emit(AppStateBackground)
	clk.Advance(1 * time.Minute)
	lifecycle.emit(AppStateActive)

	if biometric.callCount() != 1 {
		t.Errorf("Expected no challenge after Close, got %d", biometric.callCount())
	}

	// Close is safe to call again
	manager.Close()
}
