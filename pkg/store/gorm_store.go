package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"chatcore/internal/util"
	"chatcore/pkg/domain"
)

const migrateLockID int64 = 48233911

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas never race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&ConversationModel{},
			&MessageModel{},
			&ModelModel{},
			&ImageJobModel{},
			&WebhookDeliveryModel{},
			&CreditGrantModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// One in-flight streaming message per conversation, enforced at the
		// database even if an application-level check is bypassed.
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS uq_message_streaming_per_conversation
			ON message_models (conversation_id)
			WHERE status = 'streaming';
		`).Error; err != nil {
			return fmt.Errorf("create streaming index: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM conversation_models c WHERE c.id = m.conversation_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'conversation_models'
					AND constraint_name = 'conversation_models_owner_id_fkey'
				) THEN
					ALTER TABLE conversation_models
					ADD CONSTRAINT conversation_models_owner_id_fkey
					FOREIGN KEY (owner_id) REFERENCES user_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		// Balances must never be negative regardless of code paths.
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'user_models'
					AND constraint_name = 'user_models_credits_nonnegative'
				) THEN
					ALTER TABLE user_models
					ADD CONSTRAINT user_models_credits_nonnegative CHECK (credits >= 0);
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure credits check: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// UpsertUserByExternalID patches email/name on an existing identity or
// inserts a fresh user with the initial credit grant. The second return is
// true when a new row was created. Applying the identical event twice leaves
// identical state; credits are never touched on the update path.
func (s *GormStore) UpsertUserByExternalID(externalID, email, name string, initialCredits int64) (domain.User, bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return domain.User{}, false, fmt.Errorf("external id required")
	}
	now := time.Now().UTC()
	candidate := UserModel{
		ID:         util.NewID(),
		ExternalID: externalID,
		Email:      email,
		Name:       name,
		Credits:    initialCredits,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "updated_at"}),
	}).Create(&candidate).Error; err != nil {
		return domain.User{}, false, err
	}
	var row UserModel
	if err := s.db.First(&row, "external_id = ?", externalID).Error; err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(row), row.ID == candidate.ID, nil
}

// DeleteUserByExternalID removes the matching user. Deleting an absent
// identity is not an error; the bool reports whether a row went away.
func (s *GormStore) DeleteUserByExternalID(externalID string) (bool, error) {
	res := s.db.Delete(&UserModel{}, "external_id = ?", externalID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetUserByExternalID looks up a user by provider identity.
func (s *GormStore) GetUserByExternalID(externalID string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "external_id = ?", externalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ApplyDelivery records a webhook delivery id and runs apply inside the same
// transaction. A failed apply rolls the dedup row back with it, so the
// provider's retry of that delivery is applied rather than swallowed. It
// returns false when the id was already seen, which callers treat as
// "acknowledge, do not reapply". An empty delivery id skips dedup.
func (s *GormStore) ApplyDelivery(deliveryID, eventKind string, payload []byte, apply func(Store) error) (bool, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return true, apply(s)
	}
	fresh := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model := WebhookDeliveryModel{
			DeliveryID: deliveryID,
			EventKind:  eventKind,
			Payload:    payload,
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return err
		}
		fresh = true
		return apply(&GormStore{db: tx})
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

// DebitCredits atomically checks and decrements a balance. The guard lives in
// the UPDATE itself so concurrent debits can never interleave into a negative
// balance.
func (s *GormStore) DebitCredits(userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}
	res := s.db.Model(&UserModel{}).
		Where("id = ? AND credits >= ?", userID, amount).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, found, err := s.GetUserByID(userID); err != nil {
		return err
	} else if !found {
		return ErrNotFound
	}
	return ErrInsufficientCredits
}

// CreditCredits atomically increments a balance.
func (s *GormStore) CreditCredits(userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	res := s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GrantCredits credits a balance once per idempotency key. A duplicate key is
// reported as false with no balance change. An empty key skips dedup.
func (s *GormStore) GrantCredits(userID string, amount int64, idempotencyKey string) (bool, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return true, s.CreditCredits(userID, amount)
	}
	applied := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		grant := CreditGrantModel{
			Key:       idempotencyKey,
			UserID:    userID,
			Amount:    amount,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&grant).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return err
		}
		res := tx.Model(&UserModel{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"credits":    gorm.Expr("credits + ?", amount),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		applied = true
		return nil
	})
	return applied, err
}

// GetModel returns one catalog entry.
func (s *GormStore) GetModel(id string) (domain.Model, bool, error) {
	var model ModelModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Model{}, false, nil
		}
		return domain.Model{}, false, err
	}
	return catalogFromModel(model), true, nil
}

// ListModels returns catalog entries ordered by name.
func (s *GormStore) ListModels(activeOnly bool) ([]domain.Model, error) {
	tx := s.db.Order("name ASC")
	if activeOnly {
		tx = tx.Where("active = ?", true)
	}
	var models []ModelModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Model, 0, len(models))
	for _, m := range models {
		res = append(res, catalogFromModel(m))
	}
	return res, nil
}

// SeedModels inserts the default catalog when it is empty. Re-running against
// a non-empty catalog is a no-op reporting zero inserts.
func (s *GormStore) SeedModels(models []domain.Model) (int, error) {
	inserted := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ModelModel{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, m := range models {
			row := catalogToModel(m)
			if row.ID == "" {
				row.ID = util.NewID()
			}
			if row.CreatedAt.IsZero() {
				row.CreatedAt = time.Now().UTC()
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// SetModelActive flips the catalog activity flag.
func (s *GormStore) SetModelActive(id string, active bool) error {
	res := s.db.Model(&ModelModel{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateConversation creates a new conversation record.
func (s *GormStore) CreateConversation(conversation domain.Conversation) error {
	model := conversationToModel(conversation)
	return s.db.Create(&model).Error
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByOwner returns latest conversations of a user.
func (s *GormStore) ListConversationsByOwner(ownerID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ConversationModel
	if err := s.db.Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// AppendMessage records a message and advances the conversation's updated_at.
// The conversation row is locked for the duration so the at-most-one-streaming
// check and the insert are one serialized unit.
func (s *GormStore) AppendMessage(conversationID string, msg domain.Message) (domain.Message, error) {
	var created domain.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conv ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if msg.Status == domain.MessageStatusStreaming {
			var streaming int64
			if err := tx.Model(&MessageModel{}).
				Where("conversation_id = ? AND status = ?", conversationID, string(domain.MessageStatusStreaming)).
				Count(&streaming).Error; err != nil {
				return err
			}
			if streaming > 0 {
				return ErrInvalidStateTransition
			}
		}
		model := messageToModel(msg)
		model.ConversationID = conversationID
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		// Seq is database-assigned; read the row back for the caller.
		var inserted MessageModel
		if err := tx.First(&inserted, "id = ?", model.ID).Error; err != nil {
			return err
		}
		if err := tx.Model(&ConversationModel{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now().UTC()).Error; err != nil {
			return err
		}
		created = messageFromModel(inserted)
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return created, nil
}

// GetMessage returns one message by ID.
func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// TransitionMessageStatus moves a streaming message to complete or error.
// The source-state guard is part of the UPDATE; terminal states never change.
func (s *GormStore) TransitionMessageStatus(messageID string, to domain.MessageStatus) error {
	if to != domain.MessageStatusComplete && to != domain.MessageStatusError {
		return ErrInvalidStateTransition
	}
	res := s.db.Model(&MessageModel{}).
		Where("id = ? AND status = ?", messageID, string(domain.MessageStatusStreaming)).
		Update("status", string(to))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, found, err := s.GetMessage(messageID); err != nil {
		return err
	} else if !found {
		return ErrNotFound
	}
	return ErrInvalidStateTransition
}

// RecordMessageUsage stores a message's token count and debits its owner in
// one transaction, at most once per message. The tokens = 0 guard in the
// UPDATE makes a retried usage report a no-op instead of a second charge; the
// false return reports that nothing was applied.
func (s *GormStore) RecordMessageUsage(messageID, userID string, tokens int, cost int64) (bool, error) {
	applied := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&MessageModel{}).
			Where("id = ? AND tokens = 0", messageID).
			Update("tokens", tokens)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&MessageModel{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			// Usage already recorded for this message.
			return nil
		}
		if cost > 0 {
			if err := (&GormStore{db: tx}).DebitCredits(userID, cost); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// ListMessages pages through a conversation in creation order using the
// database-assigned sequence as the cursor.
func (s *GormStore) ListMessages(conversationID string, afterSeq int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []MessageModel
	if err := s.db.Where("conversation_id = ? AND seq > ?", conversationID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// CreateImageJob pre-authorizes the job cost and inserts the pending row in
// one transaction. Insufficient balance means no job row exists afterwards.
func (s *GormStore) CreateImageJob(job domain.ImageJob) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if job.Cost > 0 {
			res := tx.Model(&UserModel{}).
				Where("id = ? AND credits >= ?", job.OwnerID, job.Cost).
				Updates(map[string]any{
					"credits":    gorm.Expr("credits - ?", job.Cost),
					"updated_at": time.Now().UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var count int64
				if err := tx.Model(&UserModel{}).Where("id = ?", job.OwnerID).Count(&count).Error; err != nil {
					return err
				}
				if count == 0 {
					return ErrNotFound
				}
				return ErrInsufficientCredits
			}
		}
		model := imageJobToModel(job)
		return tx.Create(&model).Error
	})
}

// GetImageJob retrieves a job.
func (s *GormStore) GetImageJob(id string) (domain.ImageJob, bool, error) {
	var model ImageJobModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ImageJob{}, false, nil
		}
		return domain.ImageJob{}, false, err
	}
	return imageJobFromModel(model), true, nil
}

// ListImageJobsByOwner returns a user's jobs, newest first.
func (s *GormStore) ListImageJobsByOwner(ownerID string, limit int) ([]domain.ImageJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ImageJobModel
	if err := s.db.Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.ImageJob, 0, len(models))
	for _, model := range models {
		jobs = append(jobs, imageJobFromModel(model))
	}
	return jobs, nil
}

// ClaimImageJob moves pending to processing with a compare-and-swap. Racing
// claimers see exactly one success; everyone else gets ErrAlreadyClaimed.
func (s *GormStore) ClaimImageJob(id string) (domain.ImageJob, error) {
	now := time.Now().UTC()
	res := s.db.Model(&ImageJobModel{}).
		Where("id = ? AND status = ?", id, string(domain.JobPending)).
		Updates(map[string]any{
			"status":     string(domain.JobProcessing),
			"claimed_at": now,
		})
	if res.Error != nil {
		return domain.ImageJob{}, res.Error
	}
	if res.RowsAffected == 0 {
		if _, found, err := s.GetImageJob(id); err != nil {
			return domain.ImageJob{}, err
		} else if !found {
			return domain.ImageJob{}, ErrNotFound
		}
		return domain.ImageJob{}, ErrAlreadyClaimed
	}
	job, _, err := s.GetImageJob(id)
	return job, err
}

// CompleteImageJob finishes a processing job with its result reference.
func (s *GormStore) CompleteImageJob(id, resultRef string) error {
	res := s.db.Model(&ImageJobModel{}).
		Where("id = ? AND status = ?", id, string(domain.JobProcessing)).
		Updates(map[string]any{
			"status":       string(domain.JobCompleted),
			"result_ref":   resultRef,
			"completed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, found, err := s.GetImageJob(id); err != nil {
		return err
	} else if !found {
		return ErrNotFound
	}
	return ErrInvalidStateTransition
}

// FailImageJob fails a processing job and refunds the pre-authorized cost in
// the same transaction so the caller never pays for work that did not happen.
func (s *GormStore) FailImageJob(id, errorMessage string, refund int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var job ImageJobModel
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		res := tx.Model(&ImageJobModel{}).
			Where("id = ? AND status = ?", id, string(domain.JobProcessing)).
			Updates(map[string]any{
				"status":        string(domain.JobFailed),
				"error_message": errorMessage,
				"completed_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidStateTransition
		}
		if refund > 0 {
			if err := tx.Model(&UserModel{}).
				Where("id = ?", job.OwnerID).
				Updates(map[string]any{
					"credits":    gorm.Expr("credits + ?", refund),
					"updated_at": time.Now().UTC(),
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ReclaimStalledImageJobs requeues processing jobs whose worker went quiet.
// Each job is requeued at most once; a second stall fails it and refunds the
// owner. All status flips use the same compare-and-swap discipline as claims,
// so a concurrent worker update always wins over the reclaimer.
func (s *GormStore) ReclaimStalledImageJobs(claimedBefore time.Time) ([]domain.ImageJob, error) {
	var stalled []ImageJobModel
	if err := s.db.Where("status = ? AND claimed_at IS NOT NULL AND claimed_at < ?",
		string(domain.JobProcessing), claimedBefore.UTC()).
		Find(&stalled).Error; err != nil {
		return nil, err
	}
	requeued := make([]domain.ImageJob, 0, len(stalled))
	for _, job := range stalled {
		if !job.Reclaimed {
			res := s.db.Model(&ImageJobModel{}).
				Where("id = ? AND status = ? AND reclaimed = ?", job.ID, string(domain.JobProcessing), false).
				Updates(map[string]any{
					"status":     string(domain.JobPending),
					"reclaimed":  true,
					"claimed_at": nil,
				})
			if res.Error != nil {
				return requeued, res.Error
			}
			if res.RowsAffected == 1 {
				if fresh, found, err := s.GetImageJob(job.ID); err == nil && found {
					requeued = append(requeued, fresh)
				}
			}
			continue
		}
		if err := s.FailImageJob(job.ID, "worker timed out", job.Cost); err != nil &&
			!errors.Is(err, ErrInvalidStateTransition) && !errors.Is(err, ErrNotFound) {
			return requeued, err
		}
	}
	return requeued, nil
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:         m.ID,
		ExternalID: m.ExternalID,
		Email:      m.Email,
		Name:       m.Name,
		Credits:    m.Credits,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func catalogToModel(m domain.Model) ModelModel {
	return ModelModel{
		ID:              m.ID,
		Name:            m.Name,
		Provider:        m.Provider,
		ExternalModelID: m.ExternalModelID,
		CostPer1KTokens: m.CostPer1KTokens,
		MaxTokens:       m.MaxTokens,
		Active:          m.Active,
		CreatedAt:       m.CreatedAt,
	}
}

func catalogFromModel(m ModelModel) domain.Model {
	return domain.Model{
		ID:              m.ID,
		Name:            m.Name,
		Provider:        m.Provider,
		ExternalModelID: m.ExternalModelID,
		CostPer1KTokens: m.CostPer1KTokens,
		MaxTokens:       m.MaxTokens,
		Active:          m.Active,
		CreatedAt:       m.CreatedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:        c.ID,
		OwnerID:   c.OwnerID,
		Title:     c.Title,
		ModelID:   c.ModelID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Title:     m.Title,
		ModelID:   m.ModelID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Tokens:         msg.Tokens,
		Status:         string(msg.Status),
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		Tokens:         m.Tokens,
		Status:         domain.MessageStatus(m.Status),
		CreatedAt:      m.CreatedAt,
	}
}

func imageJobToModel(j domain.ImageJob) ImageJobModel {
	var conversationID *string
	if strings.TrimSpace(j.ConversationID) != "" {
		value := strings.TrimSpace(j.ConversationID)
		conversationID = &value
	}
	return ImageJobModel{
		ID:             j.ID,
		OwnerID:        j.OwnerID,
		ConversationID: conversationID,
		Prompt:         j.Prompt,
		Resolution:     j.Resolution,
		Status:         string(j.Status),
		ResultRef:      j.ResultRef,
		ErrorMessage:   j.ErrorMessage,
		Cost:           j.Cost,
		Reclaimed:      j.Reclaimed,
		CreatedAt:      j.CreatedAt,
		ClaimedAt:      j.ClaimedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func imageJobFromModel(m ImageJobModel) domain.ImageJob {
	conversationID := ""
	if m.ConversationID != nil {
		conversationID = *m.ConversationID
	}
	return domain.ImageJob{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		ConversationID: conversationID,
		Prompt:         m.Prompt,
		Resolution:     m.Resolution,
		Status:         domain.JobStatus(m.Status),
		ResultRef:      m.ResultRef,
		ErrorMessage:   m.ErrorMessage,
		Cost:           m.Cost,
		Reclaimed:      m.Reclaimed,
		CreatedAt:      m.CreatedAt,
		ClaimedAt:      m.ClaimedAt,
		CompletedAt:    m.CompletedAt,
	}
}
