package session

import "context"

// AppState is an app lifecycle transition delivered by the platform.
type AppState int

const (
	AppStateActive AppState = iota
	AppStateBackground
)

func (s AppState) String() string {
	switch s {
	case AppStateActive:
		return "active"
	case AppStateBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Lifecycle delivers app foreground/background transitions. The returned
// function unsubscribes.
type Lifecycle interface {
	Subscribe(handler func(AppState)) (unsubscribe func())
}

// BiometricPrompt is the text shown on the platform biometric sheet.
type BiometricPrompt struct {
	PromptMessage string
	CancelLabel   string
}

// BiometricAuthenticator is the platform biometric API. Authenticate
// blocks until the user acts; cancellation surfaces as a recognizable
// error (see IsCancellation).
type BiometricAuthenticator interface {
	Authenticate(ctx context.Context, prompt BiometricPrompt) (success bool, err error)
}
