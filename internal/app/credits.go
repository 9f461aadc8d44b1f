package app

import (
	"fmt"
	"log/slog"
)

// GrantCredits adds credits to an authenticated user's balance. A non-empty
// idempotency key makes retried grants single-shot; callers that can retry
// should always supply one.
func (a *App) GrantCredits(userID string, amount int64, idempotencyKey string) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive")
	}
	applied, err := a.store.GrantCredits(userID, amount, idempotencyKey)
	if err != nil {
		return err
	}
	if !applied {
		slog.Info("duplicate credit grant ignored", "user_id", userID, "idempotency_key", idempotencyKey)
	}
	return nil
}
