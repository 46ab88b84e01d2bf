package keys

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"ticket-engine/internal/status"
	"ticket-engine/utils"
)

// BindDelimiter joins the primary and secondary key into the hashed key.
// PayloadDelimiter separates the hashed key from its signature inside a
// proof payload. Neither may appear inside a key, which BindKeys enforces.
const (
	BindDelimiter    = ":"
	PayloadDelimiter = "|"
)

// secondaryKeyBytes is the entropy of a secondary key (128 bits, rendered
// as 32 hex characters).
const secondaryKeyBytes = 16

// Engine produces and verifies the proof material that makes a ticket
// unforgeable. The signing secret is injected at construction; config
// validates it before the engine ever exists.
type Engine struct {
	secret []byte
}

func New(secret []byte) *Engine {
	return &Engine{secret: secret}
}

// DerivePrimaryKey resolves the issuance idempotency anchor: the gateway's
// stable transaction identity when present, else the checkout session
// identity. Two deliveries of the same confirmation always resolve to the
// same value.
func (e *Engine) DerivePrimaryKey(transactionID, sessionID string) (string, error) {
	switch {
	case transactionID != "":
		return transactionID, nil
	case sessionID != "":
		return sessionID, nil
	default:
		return "", fmt.Errorf("%w: confirmation carries neither transaction id nor session id", status.ErrInvalidMetadata)
	}
}

// GenerateSecondaryKey returns a fresh random buyer secret. It is never
// derivable from the primary key.
func (e *Engine) GenerateSecondaryKey() (string, error) {
	return utils.GenerateCode(secondaryKeyBytes)
}

// BindKeys combines the two keys into the lookup handle stored on the
// ticket. The combination is order-sensitive and purely deterministic; it
// proves nothing on its own and must always travel with a signature.
func (e *Engine) BindKeys(primaryKey, secondaryKey string) (string, error) {
	if primaryKey == "" || secondaryKey == "" {
		return "", fmt.Errorf("%w: empty key component", status.ErrInvalidMetadata)
	}
	for _, k := range []string{primaryKey, secondaryKey} {
		if strings.ContainsAny(k, BindDelimiter+PayloadDelimiter) {
			return "", fmt.Errorf("%w: key component contains reserved delimiter", status.ErrInvalidMetadata)
		}
	}
	return primaryKey + BindDelimiter + secondaryKey, nil
}

// Sign returns the hex HMAC-SHA256 tag over the hashed key.
func (e *Engine) Sign(hashedKey string) string {
	return Hmac256([]byte(hashedKey), e.secret)
}

// Verify recomputes the tag and compares in constant time. A malformed
// signature is an authentication failure, not an error.
func (e *Engine) Verify(hashedKey, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, e.secret)
	mac.Write([]byte(hashedKey))
	return hmac.Equal(provided, mac.Sum(nil))
}

// Hmac256 generates a hex HMAC-SHA256 tag over body.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifySignedBody checks a webhook body against the hex tag from its
// signature header, in constant time.
func VerifySignedBody(body, key []byte, providedHex string) bool {
	provided, err := hex.DecodeString(providedHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
