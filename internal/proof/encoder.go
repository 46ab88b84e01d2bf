package proof

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"ticket-engine/internal/keys"
	"ticket-engine/internal/status"
)

// Encoder serializes (hashedKey, signature) into the payload a gate scanner
// reads, and renders that payload as a QR image.
type Encoder struct {
	size int
}

func NewEncoder(size int) *Encoder {
	if size <= 0 {
		size = 256
	}
	return &Encoder{size: size}
}

// Encode joins the hashed key and signature with the payload delimiter.
// The validator reverses this by splitting, so a delimiter inside either
// field would corrupt the round trip; the signature is hex by construction
// and the hashed key is checked here.
func (e *Encoder) Encode(hashedKey, signature string) (string, error) {
	if hashedKey == "" || signature == "" {
		return "", fmt.Errorf("%w: empty proof component", status.ErrRenderFailure)
	}
	if strings.Contains(hashedKey, keys.PayloadDelimiter) || strings.Contains(signature, keys.PayloadDelimiter) {
		return "", fmt.Errorf("%w: proof component contains payload delimiter", status.ErrRenderFailure)
	}
	return hashedKey + keys.PayloadDelimiter + signature, nil
}

// Split reverses Encode. Malformed payloads are rejected as invalid proof.
func (e *Encoder) Split(payload string) (hashedKey, signature string, err error) {
	hashedKey, signature, found := strings.Cut(payload, keys.PayloadDelimiter)
	if !found || hashedKey == "" || signature == "" {
		return "", "", fmt.Errorf("%w: malformed proof payload", status.ErrSignatureMismatch)
	}
	return hashedKey, signature, nil
}

// Render produces the QR PNG for a proof payload. Error-correction level M
// leaves headroom for print degradation.
func (e *Encoder) Render(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, e.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrRenderFailure, err)
	}
	return png, nil
}
