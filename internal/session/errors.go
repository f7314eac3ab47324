package session

import (
	"errors"
	"strings"
)

var (
	// ErrPromptDenied is returned when the prompt guard refuses to start
	// a credential prompt. Callers should fall back to manual passcode
	// entry rather than retrying.
	ErrPromptDenied = errors.New("credential prompt denied")

	// ErrPromptCancelled is returned when the user dismissed the platform
	// credential sheet. It is a benign, expected outcome.
	ErrPromptCancelled = errors.New("credential prompt cancelled by user")

	// ErrPasscodeSessionMissing indicates authentication succeeded at the
	// identity layer but no passcode session was issued for sensitive
	// actions. The flow must surface this rather than proceed as if
	// fully authorized.
	ErrPasscodeSessionMissing = errors.New("passcode session missing after authentication")

	// ErrNoAccessToken indicates the access token could not be parsed.
	ErrNoAccessToken = errors.New("access token missing or malformed")
)

// Platform credential errors carry no stable codes across OS versions,
// so cancellation is recognized by substring matching.
var cancellationMarkers = []string{
	"usercancel",
	"cancelled",
	"canceled",
	"cancel",
	"abort",
}

// IsCancellation reports whether the error represents the user
// dismissing a credential prompt.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPromptCancelled) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range cancellationMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
