package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ticket-engine/internal/keys"
	"ticket-engine/models"
)

type ClientConfig struct {
	BaseURL   string `json:"baseUrl" mapstructure:"base_url"`
	PartnerID string `json:"partnerId" mapstructure:"partner_id"`
	ClientID  string `json:"clientId" mapstructure:"client_id"`
	ClientKey string `json:"clientKey" mapstructure:"client_key"`
	HMACKey   string `json:"hmacKey" mapstructure:"hmac_key"`
}

// Client talks to the payment gateway's transaction API. Every request body
// is HMAC-signed; the bearer token is refreshed in the background when the
// gateway reports it expired. Used for reconciliation: re-checking a
// captured payment that could not be issued.
type Client struct {
	baseURL   string
	partnerID string
	clientID  string
	clientKey string
	hmacKey   string

	// accessToken is guarded by mu.
	accessToken string
	mu          sync.Mutex

	// toggleTokenRefresher wakes the refresher outside its normal period.
	toggleTokenRefresher chan struct{}

	hc *http.Client
}

// NewClient authenticates against the gateway and starts the token
// refresher.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	c := &Client{
		baseURL:   cfg.BaseURL,
		partnerID: cfg.PartnerID,
		clientID:  cfg.ClientID,
		clientKey: cfg.ClientKey,
		hmacKey:   cfg.HMACKey,

		// buffered so a 401 handler never blocks on the refresher
		toggleTokenRefresher: make(chan struct{}, 1),

		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	token, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.setAccessToken(token)

	go c.notifyAccessTokenExpired(ctx)

	return c, nil
}

// notifyAccessTokenExpired renews the token periodically and on demand,
// with exponential backoff on failure.
func (c *Client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			log.Println("gateway token refresh requested")
		}

		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			switch err {
			case nil:
				c.setAccessToken(token)
				break Retry

			default:
				log.Printf("gateway token refresh: %v", err)
				select {
				case <-ctx.Done():
					return

				case <-time.After(backOff):
					backOff *= 2
				}
			}
		}
	}
}

func (c *Client) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

func (c *Client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// connect authenticates with the gateway and returns a bearer token.
func (c *Client) connect(ctx context.Context) (string, error) {
	requestID, err := randomNumber()
	if err != nil {
		return "", fmt.Errorf("gateway connect: randomNumber: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"partnerId":%q,"clientId":%q,"clientSecret":%q}`,
		requestID, c.partnerID, c.clientID, c.clientKey)

	reply, err := c.post(ctx, "/api/v1/authenticate", body, false)
	if err != nil {
		return "", fmt.Errorf("gateway connect: %w", err)
	}

	var data struct {
		AccessToken string `json:"accessToken"`
		TokenType   string `json:"tokenType"`
	}
	if err := json.Unmarshal(reply, &data); err != nil {
		return "", fmt.Errorf("gateway connect: decode: %w", err)
	}

	return fmt.Sprintf("%s %s", data.TokenType, data.AccessToken), nil
}

// CheckTransaction asks the gateway for its record of a transaction.
func (c *Client) CheckTransaction(ctx context.Context, transactionID string) (*models.GatewayTransaction, error) {
	requestID, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("gateway check: randomNumber: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"transactionId":%q}`, requestID, transactionID)

	reply, err := c.post(ctx, "/api/v1/transactions/check", body, true)
	if err != nil {
		return nil, fmt.Errorf("gateway check: %w", err)
	}

	var data struct {
		TransactionID string          `json:"transactionId"`
		SessionID     string          `json:"sessionId"`
		Payer         string          `json:"payer"`
		Amount        decimal.Decimal `json:"amount"`
		Status        string          `json:"status"`
		CreatedAt     string          `json:"createdAt"`
	}
	if err := json.Unmarshal(reply, &data); err != nil {
		return nil, fmt.Errorf("gateway check: decode: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339, data.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("gateway check: createdAt: %w", err)
	}

	return &models.GatewayTransaction{
		TransactionID: data.TransactionID,
		SessionID:     data.SessionID,
		Payer:         data.Payer,
		Amount:        data.Amount,
		Status:        data.Status,
		CreatedAt:     createdAt,
	}, nil
}

// post sends a signed request and unwraps the gateway's reply envelope.
func (c *Client) post(ctx context.Context, path, body string, authed bool) (json.RawMessage, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String()+path, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", keys.Hmac256([]byte(body), []byte(c.hmacKey)))
	if authed {
		req.Header.Set("Authorization", c.getAccessToken())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	// wake the refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		select {
		case c.toggleTokenRefresher <- struct{}{}:
		default:
		}
		return nil, errors.New("resp.StatusCode: 401 => Unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resp.StatusCode: %d", resp.StatusCode)
	}

	var reply struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("json.Decode: %w", err)
	}
	if reply.Status != "OK" {
		return nil, fmt.Errorf("reply.Status: %v, reply.Message: %v", reply.Status, reply.Message)
	}

	return reply.Data, nil
}

func randomNumber() (string, error) {
	min := big.NewInt(100000000000000000)
	max := big.NewInt(999999999999999999)
	n, err := rand.Int(rand.Reader, new(big.Int).Sub(max, min))
	if err != nil {
		return "", err
	}

	n.Add(n, min)
	return n.String(), nil
}
