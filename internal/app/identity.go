package app

import (
	"context"
	"fmt"
	"log/slog"

	"chatcore/internal/util"
	"chatcore/pkg/domain"
	"chatcore/pkg/store"
	"chatcore/pkg/webhook"
)

// ApplyIdentityEvent turns a verified provider event into an idempotent user
// mutation. The delivery id is recorded atomically with the mutation, so a
// transient store failure leaves no dedup trace and the provider's retry is
// applied. Replayed delivery ids and unknown kinds are acknowledged without
// touching state. Duplicate or out-of-order created/updated events converge
// because both paths patch the same fields and the initial credit grant only
// happens on insert.
func (a *App) ApplyIdentityEvent(ctx context.Context, event webhook.Event) error {
	logger := util.LoggerFromContext(ctx)

	fresh, err := a.store.ApplyDelivery(event.DeliveryID, string(event.Kind), event.Raw, func(tx store.Store) error {
		return applyIdentity(logger, tx, event, a.initialGrant)
	})
	if err != nil {
		return err
	}
	if !fresh {
		logger.Info("webhook delivery replayed, skipping", "delivery_id", event.DeliveryID)
	}
	return nil
}

func applyIdentity(logger *slog.Logger, tx store.Store, event webhook.Event, initialGrant int64) error {
	switch event.Kind {
	case webhook.EventUserCreated, webhook.EventUserUpdated:
		_, created, err := tx.UpsertUserByExternalID(event.UserID, event.Email, event.Name, initialGrant)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		logger.Info("identity synced",
			"kind", string(event.Kind),
			"external_id", event.UserID,
			"created", created,
		)
		return nil
	case webhook.EventUserDeleted:
		deleted, err := tx.DeleteUserByExternalID(event.UserID)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if !deleted {
			// Already gone; the provider may redeliver deletes.
			logger.Info("delete for absent identity", "external_id", event.UserID)
		}
		return nil
	default:
		logger.Info("unhandled webhook event kind", "kind", string(event.Kind), "delivery_id", event.DeliveryID)
		return nil
	}
}

// GetCurrentUser resolves the authenticated external identity to a user.
func (a *App) GetCurrentUser(externalID string) (domain.User, bool, error) {
	if externalID == "" {
		return domain.User{}, false, ErrNotAuthenticated
	}
	return a.store.GetUserByExternalID(externalID)
}
