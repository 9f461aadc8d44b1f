package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderID carries the provider's unique delivery id.
	HeaderID = "svix-id"
	// HeaderTimestamp carries the unix-seconds signing timestamp.
	HeaderTimestamp = "svix-timestamp"
	// HeaderSignature carries space-separated "v1,<base64>" candidates.
	HeaderSignature = "svix-signature"

	secretPrefix     = "whsec_"
	defaultTolerance = 5 * time.Minute
)

// ErrSignature is returned for any authentication failure: bad signature,
// malformed headers, or a timestamp outside the replay window. Callers must
// reject the request with no side effects.
var ErrSignature = errors.New("webhook signature verification failed")

// Verifier authenticates provider webhook deliveries with an HMAC-SHA256
// signature over "{id}.{timestamp}.{body}".
type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// VerifierOptions configures webhook verification.
type VerifierOptions struct {
	// Secret is the signing secret as issued ("whsec_" + base64 key).
	Secret string
	// Tolerance bounds the timestamp replay window in both directions.
	Tolerance time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewVerifier parses the signing secret and builds a verifier.
func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, errors.New("webhook signing secret is required")
	}
	secret = strings.TrimPrefix(secret, secretPrefix)
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{key: key, tolerance: tolerance, now: now}, nil
}

// Verify authenticates the raw payload against the delivery headers and
// decodes the event. Any failure returns ErrSignature and the payload must
// not be acted upon.
func (v *Verifier) Verify(payload []byte, headers http.Header) (Event, error) {
	deliveryID := strings.TrimSpace(headers.Get(HeaderID))
	timestamp := strings.TrimSpace(headers.Get(HeaderTimestamp))
	signatures := strings.TrimSpace(headers.Get(HeaderSignature))
	if deliveryID == "" || timestamp == "" || signatures == "" {
		return Event{}, ErrSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Event{}, ErrSignature
	}
	signedAt := time.Unix(unix, 0)
	now := v.now()
	if signedAt.Before(now.Add(-v.tolerance)) || signedAt.After(now.Add(v.tolerance)) {
		return Event{}, ErrSignature
	}

	expected := v.sign(deliveryID, timestamp, payload)
	if !matchAny(signatures, expected) {
		return Event{}, ErrSignature
	}

	event, err := decodeEvent(payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s", ErrSignature, err)
	}
	event.DeliveryID = deliveryID
	return event, nil
}

func (v *Verifier) sign(deliveryID, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(deliveryID))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// matchAny compares every "v1,<base64>" candidate in constant time. The
// header may carry several signatures during secret rotation.
func matchAny(header string, expected []byte) bool {
	for _, candidate := range strings.Fields(header) {
		version, encoded, found := strings.Cut(candidate, ",")
		if !found || version != "v1" {
			continue
		}
		sig, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		if hmac.Equal(sig, expected) {
			return true
		}
	}
	return false
}
