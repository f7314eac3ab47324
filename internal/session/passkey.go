package session

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lumenfi/authcore/internal/logging"
	"github.com/lumenfi/authcore/internal/promptguard"
)

// CredentialClient is the platform credential (passkey) API. Request and
// assertion payloads are opaque to this core; it only decides when the
// calls may be invoked.
type CredentialClient interface {
	// Create registers a new credential.
	Create(ctx context.Context, request json.RawMessage) (json.RawMessage, error)
	// Get requests a signed assertion from an existing credential.
	Get(ctx context.Context, request json.RawMessage) (json.RawMessage, error)
}

// PasskeyCoordinator runs passkey operations under the prompt guard:
// one prompt at a time process-wide, auto prompts at most once per scope,
// cooldowns applied on cancellation, failure, and success.
type PasskeyCoordinator struct {
	guard  *promptguard.Guard
	client CredentialClient
	log    *logging.Logger
}

// NewPasskeyCoordinator creates a coordinator over the shared guard.
func NewPasskeyCoordinator(guard *promptguard.Guard, client CredentialClient, log *logging.Logger) *PasskeyCoordinator {
	if log == nil {
		log = logging.Nop()
	}
	return &PasskeyCoordinator{
		guard:  guard,
		client: client,
		log:    log,
	}
}

// Create runs a credential registration under the guard.
func (c *PasskeyCoordinator) Create(ctx context.Context, scope promptguard.Scope, mode promptguard.Mode, request json.RawMessage) (json.RawMessage, error) {
	return c.run(ctx, scope, mode, request, c.client.Create)
}

// Get runs an assertion request under the guard.
func (c *PasskeyCoordinator) Get(ctx context.Context, scope promptguard.Scope, mode promptguard.Mode, request json.RawMessage) (json.RawMessage, error) {
	return c.run(ctx, scope, mode, request, c.client.Get)
}

func (c *PasskeyCoordinator) run(ctx context.Context, scope promptguard.Scope, mode promptguard.Mode, request json.RawMessage, op func(context.Context, json.RawMessage) (json.RawMessage, error)) (json.RawMessage, error) {
	if !c.guard.CanStart(scope, mode) {
		c.log.Debug("passkey", "prompt_denied", map[string]interface{}{
			"scope": scope.String(),
		})
		return nil, ErrPromptDenied
	}

	if !c.guard.Begin() {
		return nil, ErrPromptDenied
	}
	defer c.guard.End()

	// The auto shot is consumed only once a prompt actually fires; a
	// claim lost to a concurrent prompt must not burn it
	if mode == promptguard.ModeAuto {
		c.guard.RecordAutoFired(scope)
	}

	attemptID := uuid.NewString()
	c.log.Debug("passkey", "prompt_started", map[string]interface{}{
		"scope":      scope.String(),
		"attempt_id": attemptID,
	})

	assertion, err := op(ctx, request)
	if err == nil {
		c.guard.MarkSuccess(scope, 0)
		c.log.Info("passkey", "prompt_succeeded", map[string]interface{}{
			"scope":      scope.String(),
			"attempt_id": attemptID,
		})
		return assertion, nil
	}

	// Cooldown applies on every failure path so a re-trigger loop cannot
	// form even when the platform is misbehaving
	c.guard.SuppressAuto(scope, 0)

	if IsCancellation(err) {
		c.log.Debug("passkey", "prompt_cancelled", map[string]interface{}{
			"scope":      scope.String(),
			"attempt_id": attemptID,
		})
		return nil, ErrPromptCancelled
	}

	c.log.Error("passkey", "prompt_failed", map[string]interface{}{
		"scope":      scope.String(),
		"attempt_id": attemptID,
		"error":      err.Error(),
	})
	return nil, err
}
