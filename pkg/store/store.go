package store

import (
	"time"

	"chatcore/pkg/domain"
)

// Store defines persistence operations for users, conversations, messages,
// the model catalog, the credit ledger, and image jobs. Every mutating
// operation is a single atomic unit: conditional updates carry their
// state-machine guard into the database rather than reading first and
// writing unguarded.
type Store interface {
	// users (identity sync)
	UpsertUserByExternalID(externalID, email, name string, initialCredits int64) (domain.User, bool, error)
	DeleteUserByExternalID(externalID string) (bool, error)
	GetUserByExternalID(externalID string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// webhook delivery dedup, atomic with the applied mutation
	ApplyDelivery(deliveryID, eventKind string, payload []byte, apply func(Store) error) (bool, error)

	// credit ledger
	DebitCredits(userID string, amount int64) error
	CreditCredits(userID string, amount int64) error
	GrantCredits(userID string, amount int64, idempotencyKey string) (bool, error)

	// model catalog
	GetModel(id string) (domain.Model, bool, error)
	ListModels(activeOnly bool) ([]domain.Model, error)
	SeedModels(models []domain.Model) (int, error)
	SetModelActive(id string, active bool) error

	// conversations and messages
	CreateConversation(conversation domain.Conversation) error
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversationsByOwner(ownerID string, limit int) ([]domain.Conversation, error)
	AppendMessage(conversationID string, msg domain.Message) (domain.Message, error)
	GetMessage(id string) (domain.Message, bool, error)
	TransitionMessageStatus(messageID string, to domain.MessageStatus) error
	RecordMessageUsage(messageID, userID string, tokens int, cost int64) (bool, error)
	ListMessages(conversationID string, afterSeq int64, limit int) ([]domain.Message, error)

	// image jobs
	CreateImageJob(job domain.ImageJob) error
	GetImageJob(id string) (domain.ImageJob, bool, error)
	ListImageJobsByOwner(ownerID string, limit int) ([]domain.ImageJob, error)
	ClaimImageJob(id string) (domain.ImageJob, error)
	CompleteImageJob(id, resultRef string) error
	FailImageJob(id, errorMessage string, refund int64) error
	ReclaimStalledImageJobs(claimedBefore time.Time) ([]domain.ImageJob, error)
}
