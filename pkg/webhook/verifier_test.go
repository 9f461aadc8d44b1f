package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"
)

const testSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

func signedHeaders(t *testing.T, secret, deliveryID string, signedAt time.Time, payload []byte) http.Header {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(secret[len("whsec_"):])
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	timestamp := strconv.FormatInt(signedAt.Unix(), 10)
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", deliveryID, timestamp)
	mac.Write(payload)
	headers := http.Header{}
	headers.Set(HeaderID, deliveryID)
	headers.Set(HeaderTimestamp, timestamp)
	headers.Set(HeaderSignature, "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return headers
}

func newTestVerifier(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierOptions{
		Secret: testSecret,
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"user.created","data":{"id":"user_1","first_name":"Ada","last_name":"Lovelace","email_addresses":[{"id":"em_1","email_address":"ada@example.com"}]}}`)
	headers := signedHeaders(t, testSecret, "msg_1", now, payload)

	event, err := newTestVerifier(t, now).Verify(payload, headers)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Kind != EventUserCreated {
		t.Fatalf("unexpected kind: %s", event.Kind)
	}
	if event.UserID != "user_1" || event.Email != "ada@example.com" || event.Name != "Ada Lovelace" {
		t.Fatalf("unexpected event fields: %+v", event)
	}
	if event.DeliveryID != "msg_1" {
		t.Fatalf("unexpected delivery id: %s", event.DeliveryID)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	headers := signedHeaders(t, testSecret, "msg_1", now, payload)

	tampered := []byte(`{"type":"user.created","data":{"id":"user_2"}}`)
	if _, err := newTestVerifier(t, now).Verify(tampered, headers); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	headers := signedHeaders(t, testSecret, "msg_1", now.Add(-10*time.Minute), payload)

	if _, err := newTestVerifier(t, now).Verify(payload, headers); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for stale timestamp, got %v", err)
	}
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	headers := signedHeaders(t, testSecret, "msg_1", now.Add(10*time.Minute), payload)

	if _, err := newTestVerifier(t, now).Verify(payload, headers); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for future timestamp, got %v", err)
	}
}

func TestVerifyRejectsMissingHeaders(t *testing.T) {
	now := time.Now()
	payload := []byte(`{}`)
	headers := signedHeaders(t, testSecret, "msg_1", now, payload)
	headers.Del(HeaderSignature)

	if _, err := newTestVerifier(t, now).Verify(payload, headers); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for missing headers, got %v", err)
	}
}

func TestVerifyAcceptsRotatedSignatureList(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"user.deleted","data":{"id":"user_9"}}`)
	headers := signedHeaders(t, testSecret, "msg_2", now, payload)
	headers.Set(HeaderSignature, "v1,aW52YWxpZHNpZ25hdHVyZQ== "+headers.Get(HeaderSignature))

	event, err := newTestVerifier(t, now).Verify(payload, headers)
	if err != nil {
		t.Fatalf("verify with rotated signatures: %v", err)
	}
	if event.Kind != EventUserDeleted {
		t.Fatalf("unexpected kind: %s", event.Kind)
	}
}

func TestVerifyUnknownKindIsAccepted(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"organization.created","data":{"id":"org_1"}}`)
	headers := signedHeaders(t, testSecret, "msg_3", now, payload)

	event, err := newTestVerifier(t, now).Verify(payload, headers)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Kind != EventUnknown {
		t.Fatalf("expected unknown kind, got %s", event.Kind)
	}
}

func TestVerifyRejectsMalformedPayload(t *testing.T) {
	now := time.Now()
	payload := []byte(`{not json`)
	headers := signedHeaders(t, testSecret, "msg_4", now, payload)

	if _, err := newTestVerifier(t, now).Verify(payload, headers); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for malformed payload, got %v", err)
	}
}

func TestPrimaryEmailPrefersPrimaryID(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"user.updated","data":{"id":"user_1","primary_email_address_id":"em_2","email_addresses":[{"id":"em_1","email_address":"old@example.com"},{"id":"em_2","email_address":"new@example.com"}]}}`)
	headers := signedHeaders(t, testSecret, "msg_5", now, payload)

	event, err := newTestVerifier(t, now).Verify(payload, headers)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Email != "new@example.com" {
		t.Fatalf("expected primary email, got %q", event.Email)
	}
}
