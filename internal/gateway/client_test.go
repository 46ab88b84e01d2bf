package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-engine/internal/keys"
)

const testHMACKey = "gateway-shared-hmac-key"

func gatewayStub(t *testing.T, txnStatus string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		// Every request must carry a valid body signature.
		assert.True(t, keys.VerifySignedBody(body, []byte(testHMACKey), r.Header.Get("SignedHash")),
			"unsigned request to %s", r.URL.Path)

		switch r.URL.Path {
		case "/api/v1/authenticate":
			json.NewEncoder(w).Encode(map[string]any{
				"status":  "OK",
				"message": "authenticated",
				"data": map[string]any{
					"accessToken": "abc123",
					"tokenType":   "Bearer",
				},
			})

		case "/api/v1/transactions/check":
			assert.Equal(t, "Bearer abc123", r.Header.Get("Authorization"))

			var req struct {
				TransactionID string `json:"transactionId"`
			}
			require.NoError(t, json.Unmarshal(body, &req))

			json.NewEncoder(w).Encode(map[string]any{
				"status":  "OK",
				"message": "found",
				"data": map[string]any{
					"transactionId": req.TransactionID,
					"sessionId":     "sess-1",
					"payer":         "buyer@example.com",
					"amount":        "150.00",
					"status":        txnStatus,
					"createdAt":     "2026-08-29T10:00:00Z",
				},
			})

		default:
			http.NotFound(w, r)
		}
	}))
}

func newStubClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	client, err := NewClient(context.Background(), &ClientConfig{
		BaseURL:   srv.URL,
		PartnerID: "partner-1",
		ClientID:  "client-1",
		ClientKey: "secret",
		HMACKey:   testHMACKey,
	})
	require.NoError(t, err)
	return client
}

func TestClientSignsAndChecksTransaction(t *testing.T) {
	srv := gatewayStub(t, "captured")
	defer srv.Close()

	client := newStubClient(t, srv)

	txn, err := client.CheckTransaction(context.Background(), "txn-9000")
	require.NoError(t, err)

	assert.Equal(t, "txn-9000", txn.TransactionID)
	assert.Equal(t, "sess-1", txn.SessionID)
	assert.Equal(t, "captured", txn.Status)
	assert.Equal(t, "150", txn.Amount.String())
	assert.Equal(t, 2026, txn.CreatedAt.Year())
}

func TestClientRejectsErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/authenticate" {
			json.NewEncoder(w).Encode(map[string]any{
				"status": "OK",
				"data":   map[string]any{"accessToken": "abc", "tokenType": "Bearer"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ERROR",
			"message": "transaction not found",
		})
	}))
	defer srv.Close()

	client, err := NewClient(context.Background(), &ClientConfig{
		BaseURL: srv.URL,
		HMACKey: testHMACKey,
	})
	require.NoError(t, err)

	_, err = client.CheckTransaction(context.Background(), "txn-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction not found")
}

func TestClientRefusesBadAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(context.Background(), &ClientConfig{
		BaseURL: srv.URL,
		HMACKey: testHMACKey,
	})
	assert.Error(t, err)
}

func TestDecodeConfirmation(t *testing.T) {
	raw := `{"transaction_id":"txn-1","session_id":"sess-1","payer_email":"a@b.c","amount":"99.50","metadata":{"event_id":"7","quantity":"1"}}`

	conf, err := decodeConfirmation(raw)
	require.NoError(t, err)
	assert.Equal(t, "txn-1", conf.TransactionID)
	assert.Equal(t, "99.5", conf.Amount.String())
	assert.Equal(t, "7", conf.Metadata["event_id"])

	// The SDK may hand the message over as an already-decoded map.
	conf, err = decodeConfirmation(map[string]any{
		"session_id": "sess-2",
		"metadata":   map[string]any{"event_id": "9"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-2", conf.SessionID)

	_, err = decodeConfirmation(map[string]any{"payer_email": "a@b.c"})
	assert.Error(t, err, "a confirmation without identity is undeliverable")
}
