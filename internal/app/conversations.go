package app

import (
	"fmt"
	"strings"
	"time"

	"chatcore/internal/util"
	"chatcore/pkg/domain"
	"chatcore/pkg/store"
)

const defaultConversationTitle = "New conversation"

// CreateConversation starts a conversation for the caller against an active
// catalog model.
func (a *App) CreateConversation(owner domain.User, modelID, title string) (domain.Conversation, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return domain.Conversation{}, fmt.Errorf("model id required")
	}
	model, found, err := a.store.GetModel(modelID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("lookup model: %w", err)
	}
	if !found || !model.Active {
		return domain.Conversation{}, store.ErrNotFound
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultConversationTitle
	}
	now := time.Now().UTC()
	conversation := domain.Conversation{
		ID:        util.NewID(),
		OwnerID:   owner.ID,
		Title:     title,
		ModelID:   model.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateConversation(conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

// ListConversations returns the caller's conversations, most recent first.
func (a *App) ListConversations(owner domain.User, limit int) ([]domain.Conversation, error) {
	return a.store.ListConversationsByOwner(owner.ID, limit)
}

// ownedConversation fetches a conversation and verifies ownership. A
// conversation that exists but belongs to someone else reads as absent.
func (a *App) ownedConversation(owner domain.User, conversationID string) (domain.Conversation, error) {
	conversation, found, err := a.store.GetConversation(conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !found || conversation.OwnerID != owner.ID {
		return domain.Conversation{}, store.ErrNotFound
	}
	return conversation, nil
}

// AppendMessage appends to a conversation the caller owns. An assistant
// message may be created in streaming state, but only one streaming message
// may exist per conversation; a second one is a caller-side concurrency bug
// surfaced as an invalid state transition.
func (a *App) AppendMessage(owner domain.User, conversationID string, role domain.MessageRole, content string, status domain.MessageStatus) (domain.Message, error) {
	switch role {
	case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
	default:
		return domain.Message{}, fmt.Errorf("invalid role %q", role)
	}
	switch status {
	case domain.MessageStatusNone, domain.MessageStatusComplete:
	case domain.MessageStatusStreaming:
		if role != domain.RoleAssistant {
			return domain.Message{}, fmt.Errorf("only assistant messages stream")
		}
	default:
		return domain.Message{}, fmt.Errorf("invalid initial status %q", status)
	}
	conversation, err := a.ownedConversation(owner, conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:        util.NewID(),
		Role:      role,
		Content:   content,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	return a.store.AppendMessage(conversation.ID, msg)
}

// ListMessages pages a conversation's messages in creation order. afterSeq
// is the cursor from the last message of the previous page; zero starts over.
func (a *App) ListMessages(owner domain.User, conversationID string, afterSeq int64, limit int) ([]domain.Message, error) {
	conversation, err := a.ownedConversation(owner, conversationID)
	if err != nil {
		return nil, err
	}
	return a.store.ListMessages(conversation.ID, afterSeq, limit)
}

// TransitionMessageStatus settles a streaming message to complete or error.
func (a *App) TransitionMessageStatus(owner domain.User, messageID string, to domain.MessageStatus) error {
	msg, found, err := a.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	if _, err := a.ownedConversation(owner, msg.ConversationID); err != nil {
		return err
	}
	return a.store.TransitionMessageStatus(messageID, to)
}

// RecordUsage stores the token count for a settled message and debits the
// owner by the conversation model's per-token cost. Usage is charged at most
// once per message; a retried report is acknowledged without a second debit.
func (a *App) RecordUsage(owner domain.User, messageID string, tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("token count must be positive")
	}
	msg, found, err := a.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	conversation, err := a.ownedConversation(owner, msg.ConversationID)
	if err != nil {
		return err
	}
	model, found, err := a.store.GetModel(conversation.ModelID)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	cost := domain.UsageCost(tokens, model.CostPer1KTokens)
	if _, err := a.store.RecordMessageUsage(messageID, owner.ID, tokens, cost); err != nil {
		return err
	}
	return nil
}
