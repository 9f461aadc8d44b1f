package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID         string    `gorm:"primaryKey"`
	ExternalID string    `gorm:"uniqueIndex;not null"`
	Email      string    `gorm:"not null"`
	Name       string
	Credits    int64     `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

type ConversationModel struct {
	ID        string    `gorm:"primaryKey"`
	OwnerID   string    `gorm:"not null;index"`
	Title     string    `gorm:"not null"`
	ModelID   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index:idx_message_conversation_seq,priority:1"`
	Seq            int64     `gorm:"autoIncrement;index:idx_message_conversation_seq,priority:2"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	Tokens         int
	Status         string    `gorm:"index"`
	CreatedAt      time.Time `gorm:"not null"`
}

type ModelModel struct {
	ID              string `gorm:"primaryKey"`
	Name            string `gorm:"not null"`
	Provider        string `gorm:"not null"`
	ExternalModelID string `gorm:"not null"`
	CostPer1KTokens int64  `gorm:"not null"`
	MaxTokens       int    `gorm:"not null"`
	Active          bool   `gorm:"not null;default:true"`
	CreatedAt       time.Time
}

type ImageJobModel struct {
	ID             string  `gorm:"primaryKey"`
	OwnerID        string  `gorm:"not null;index"`
	ConversationID *string `gorm:"index"`
	Prompt         string  `gorm:"type:text;not null"`
	Resolution     int     `gorm:"not null"`
	Status         string  `gorm:"not null;index"`
	ResultRef      string
	ErrorMessage   string
	Cost           int64     `gorm:"not null"`
	Reclaimed      bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null"`
	ClaimedAt      *time.Time
	CompletedAt    *time.Time
}

// WebhookDeliveryModel deduplicates provider deliveries by their id so a
// replayed webhook is acknowledged without reapplying.
type WebhookDeliveryModel struct {
	DeliveryID string         `gorm:"primaryKey"`
	EventKind  string         `gorm:"not null"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null"`
}

// CreditGrantModel records caller-supplied idempotency keys for credit grants.
type CreditGrantModel struct {
	Key       string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Amount    int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
