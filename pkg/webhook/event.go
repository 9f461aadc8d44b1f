package webhook

import (
	"encoding/json"
	"errors"
	"strings"
)

type EventKind string

const (
	EventUserCreated EventKind = "user.created"
	EventUserUpdated EventKind = "user.updated"
	EventUserDeleted EventKind = "user.deleted"
	// EventUnknown covers kinds this service does not handle. They are
	// acknowledged as no-ops so new provider event types never break delivery.
	EventUnknown EventKind = "unknown"
)

// Event is the closed union decoded from a verified webhook payload. The raw
// provider shape is validated once here and never trusted downstream.
type Event struct {
	Kind       EventKind
	DeliveryID string
	UserID     string
	Email      string
	Name       string
	Raw        json.RawMessage
}

type providerEnvelope struct {
	Type string          `json:"type"`
	Data providerPayload `json:"data"`
}

type providerPayload struct {
	ID             string          `json:"id"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	PrimaryEmailID string          `json:"primary_email_address_id"`
	EmailAddresses []providerEmail `json:"email_addresses"`
}

type providerEmail struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

func decodeEvent(payload []byte) (Event, error) {
	var envelope providerEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Event{}, errors.New("malformed event payload")
	}
	kind := EventKind(strings.TrimSpace(envelope.Type))
	switch kind {
	case EventUserCreated, EventUserUpdated, EventUserDeleted:
	default:
		return Event{Kind: EventUnknown, Raw: payload}, nil
	}
	userID := strings.TrimSpace(envelope.Data.ID)
	if userID == "" {
		return Event{}, errors.New("event missing user id")
	}
	return Event{
		Kind:   kind,
		UserID: userID,
		Email:  primaryEmail(envelope.Data),
		Name:   displayName(envelope.Data),
		Raw:    payload,
	}, nil
}

func primaryEmail(data providerPayload) string {
	for _, email := range data.EmailAddresses {
		if data.PrimaryEmailID != "" && email.ID == data.PrimaryEmailID {
			return strings.TrimSpace(email.EmailAddress)
		}
	}
	if len(data.EmailAddresses) > 0 {
		return strings.TrimSpace(data.EmailAddresses[0].EmailAddress)
	}
	return ""
}

func displayName(data providerPayload) string {
	name := strings.TrimSpace(strings.TrimSpace(data.FirstName) + " " + strings.TrimSpace(data.LastName))
	return name
}
