package domain

import "time"

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type MessageStatus string

const (
	// MessageStatusNone marks a plain message with no streaming lifecycle.
	MessageStatusNone      MessageStatus = ""
	MessageStatusStreaming MessageStatus = "streaming"
	MessageStatusComplete  MessageStatus = "complete"
	MessageStatusError     MessageStatus = "error"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Resolutions lists the image sizes the generation workers accept.
var Resolutions = []int{512, 768, 1024}

// ValidResolution reports whether the requested image size is supported.
func ValidResolution(px int) bool {
	for _, r := range Resolutions {
		if r == px {
			return true
		}
	}
	return false
}

// User is provisioned from identity-provider events; it is never created
// through the API surface directly.
type User struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Credits    int64     `json:"credits"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	ModelID   string    `json:"modelId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is append-only; after creation the only permitted mutation is a
// streaming status transition.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Seq            int64         `json:"seq"`
	Role           MessageRole   `json:"role"`
	Content        string        `json:"content"`
	Tokens         int           `json:"tokens,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Model is a catalog entry for an inference backend. CostPer1KTokens is in
// whole credits so usage accounting stays integer.
type Model struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Provider        string    `json:"provider"`
	ExternalModelID string    `json:"externalModelId"`
	CostPer1KTokens int64     `json:"costPer1kTokens"`
	MaxTokens       int       `json:"maxTokens"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
}

type ImageJob struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	ConversationID string     `json:"conversationId,omitempty"`
	Prompt         string     `json:"prompt"`
	Resolution     int        `json:"resolution"`
	Status         JobStatus  `json:"status"`
	ResultRef      string     `json:"resultRef,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	Cost           int64      `json:"cost"`
	Reclaimed      bool       `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	ClaimedAt      *time.Time `json:"claimedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// UsageCost converts a token count into whole credits, rounding up so usage
// is never free.
func UsageCost(tokens int, costPer1K int64) int64 {
	if tokens <= 0 || costPer1K <= 0 {
		return 0
	}
	return (int64(tokens)*costPer1K + 999) / 1000
}
