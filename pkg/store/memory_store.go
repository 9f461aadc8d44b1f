package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"chatcore/internal/util"
	"chatcore/pkg/domain"
)

// MemoryStore keeps all state in-process behind one mutex. It implements the
// same atomicity contract as GormStore, which makes it suitable both for
// tests and for running the service without a database.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]domain.User // key: user ID
	byExternal map[string]string      // external id -> user ID
	convs      map[string]domain.Conversation
	messages   map[string]domain.Message
	models     map[string]domain.Model
	jobs       map[string]domain.ImageJob
	deliveries map[string]struct{}
	grants     map[string]struct{}
	nextSeq    int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		byExternal: make(map[string]string),
		convs:      make(map[string]domain.Conversation),
		messages:   make(map[string]domain.Message),
		models:     make(map[string]domain.Model),
		jobs:       make(map[string]domain.ImageJob),
		deliveries: make(map[string]struct{}),
		grants:     make(map[string]struct{}),
	}
}

func (m *MemoryStore) UpsertUserByExternalID(externalID, email, name string, initialCredits int64) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if id, ok := m.byExternal[externalID]; ok {
		user := m.users[id]
		user.Email = email
		user.Name = name
		user.UpdatedAt = now
		m.users[id] = user
		return user, false, nil
	}
	user := domain.User{
		ID:         util.NewID(),
		ExternalID: externalID,
		Email:      email,
		Name:       name,
		Credits:    initialCredits,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.users[user.ID] = user
	m.byExternal[externalID] = user.ID
	return user, true, nil
}

func (m *MemoryStore) DeleteUserByExternalID(externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byExternal[externalID]
	if !ok {
		return false, nil
	}
	delete(m.byExternal, externalID)
	delete(m.users, id)
	return true, nil
}

func (m *MemoryStore) GetUserByExternalID(externalID string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byExternal[externalID]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	return user, ok, nil
}

// ApplyDelivery runs apply at most once per delivery id. A failed apply drops
// the dedup entry again so the provider's retry of that delivery goes through.
func (m *MemoryStore) ApplyDelivery(deliveryID, eventKind string, payload []byte, apply func(Store) error) (bool, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return true, apply(m)
	}
	m.mu.Lock()
	if _, seen := m.deliveries[deliveryID]; seen {
		m.mu.Unlock()
		return false, nil
	}
	m.deliveries[deliveryID] = struct{}{}
	m.mu.Unlock()
	if err := apply(m); err != nil {
		m.mu.Lock()
		delete(m.deliveries, deliveryID)
		m.mu.Unlock()
		return false, err
	}
	return true, nil
}

func (m *MemoryStore) DebitCredits(userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitLocked(userID, amount)
}

func (m *MemoryStore) debitLocked(userID string, amount int64) error {
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if user.Credits < amount {
		return ErrInsufficientCredits
	}
	user.Credits -= amount
	user.UpdatedAt = time.Now().UTC()
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) CreditCredits(userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(userID, amount)
}

func (m *MemoryStore) creditLocked(userID string, amount int64) error {
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Credits += amount
	user.UpdatedAt = time.Now().UTC()
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) GrantCredits(userID string, amount int64, idempotencyKey string) (bool, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	m.mu.Lock()
	defer m.mu.Unlock()
	if idempotencyKey != "" {
		if _, seen := m.grants[idempotencyKey]; seen {
			return false, nil
		}
	}
	if err := m.creditLocked(userID, amount); err != nil {
		return false, err
	}
	if idempotencyKey != "" {
		m.grants[idempotencyKey] = struct{}{}
	}
	return true, nil
}

func (m *MemoryStore) GetModel(id string) (domain.Model, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	return model, ok, nil
}

func (m *MemoryStore) ListModels(activeOnly bool) ([]domain.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Model, 0, len(m.models))
	for _, model := range m.models {
		if activeOnly && !model.Active {
			continue
		}
		res = append(res, model)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *MemoryStore) SeedModels(models []domain.Model) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.models) > 0 {
		return 0, nil
	}
	inserted := 0
	for _, model := range models {
		if model.ID == "" {
			model.ID = util.NewID()
		}
		if model.CreatedAt.IsZero() {
			model.CreatedAt = time.Now().UTC()
		}
		m.models[model.ID] = model
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) SetModelActive(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok {
		return ErrNotFound
	}
	model.Active = active
	m.models[id] = model
	return nil
}

func (m *MemoryStore) CreateConversation(conversation domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conversation.ID] = conversation
	return nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	return conv, ok, nil
}

func (m *MemoryStore) ListConversationsByOwner(ownerID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Conversation, 0)
	for _, conv := range m.convs {
		if conv.OwnerID == ownerID {
			res = append(res, conv)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) AppendMessage(conversationID string, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[conversationID]
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	if msg.Status == domain.MessageStatusStreaming {
		for _, existing := range m.messages {
			if existing.ConversationID == conversationID && existing.Status == domain.MessageStatusStreaming {
				return domain.Message{}, ErrInvalidStateTransition
			}
		}
	}
	m.nextSeq++
	msg.ConversationID = conversationID
	msg.Seq = m.nextSeq
	m.messages[msg.ID] = msg
	conv.UpdatedAt = time.Now().UTC()
	m.convs[conversationID] = conv
	return msg, nil
}

func (m *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg, ok, nil
}

func (m *MemoryStore) TransitionMessageStatus(messageID string, to domain.MessageStatus) error {
	if to != domain.MessageStatusComplete && to != domain.MessageStatusError {
		return ErrInvalidStateTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if msg.Status != domain.MessageStatusStreaming {
		return ErrInvalidStateTransition
	}
	msg.Status = to
	m.messages[messageID] = msg
	return nil
}

func (m *MemoryStore) RecordMessageUsage(messageID, userID string, tokens int, cost int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return false, ErrNotFound
	}
	if msg.Tokens != 0 {
		return false, nil
	}
	if cost > 0 {
		if err := m.debitLocked(userID, cost); err != nil {
			return false, err
		}
	}
	msg.Tokens = tokens
	m.messages[messageID] = msg
	return true, nil
}

func (m *MemoryStore) ListMessages(conversationID string, afterSeq int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.Seq > afterSeq {
			res = append(res, msg)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) CreateImageJob(job domain.ImageJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Cost > 0 {
		if err := m.debitLocked(job.OwnerID, job.Cost); err != nil {
			return err
		}
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) GetImageJob(id string) (domain.ImageJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok, nil
}

func (m *MemoryStore) ListImageJobsByOwner(ownerID string, limit int) ([]domain.ImageJob, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.ImageJob, 0)
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			res = append(res, job)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) ClaimImageJob(id string) (domain.ImageJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ImageJob{}, ErrNotFound
	}
	if job.Status != domain.JobPending {
		return domain.ImageJob{}, ErrAlreadyClaimed
	}
	now := time.Now().UTC()
	job.Status = domain.JobProcessing
	job.ClaimedAt = &now
	m.jobs[id] = job
	return job, nil
}

func (m *MemoryStore) CompleteImageJob(id, resultRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != domain.JobProcessing {
		return ErrInvalidStateTransition
	}
	now := time.Now().UTC()
	job.Status = domain.JobCompleted
	job.ResultRef = resultRef
	job.CompletedAt = &now
	m.jobs[id] = job
	return nil
}

func (m *MemoryStore) FailImageJob(id, errorMessage string, refund int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != domain.JobProcessing {
		return ErrInvalidStateTransition
	}
	now := time.Now().UTC()
	job.Status = domain.JobFailed
	job.ErrorMessage = errorMessage
	job.CompletedAt = &now
	m.jobs[id] = job
	if refund > 0 {
		_ = m.creditLocked(job.OwnerID, refund)
	}
	return nil
}

func (m *MemoryStore) ReclaimStalledImageJobs(claimedBefore time.Time) ([]domain.ImageJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	requeued := make([]domain.ImageJob, 0)
	for id, job := range m.jobs {
		if job.Status != domain.JobProcessing || job.ClaimedAt == nil || !job.ClaimedAt.Before(claimedBefore) {
			continue
		}
		now := time.Now().UTC()
		if !job.Reclaimed {
			job.Status = domain.JobPending
			job.Reclaimed = true
			job.ClaimedAt = nil
			m.jobs[id] = job
			requeued = append(requeued, job)
			continue
		}
		job.Status = domain.JobFailed
		job.ErrorMessage = "worker timed out"
		job.CompletedAt = &now
		m.jobs[id] = job
		if job.Cost > 0 {
			_ = m.creditLocked(job.OwnerID, job.Cost)
		}
	}
	return requeued, nil
}
