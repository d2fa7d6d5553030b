package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/ledger"
)

// Client wraps interactions with the payment provider's intent API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ ledger.Gateway = (*Client)(nil)

type intentResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Captured bool            `json:"captured"`
}

// Ping checks if the remote gateway is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// LookupIntent fetches the current state of a payment intent.
func (c *Client) LookupIntent(ctx context.Context, intentID string) (ledger.Intent, error) {
	endpoint := fmt.Sprintf("%s/v1/payment_intents/%s", c.baseURL, url.PathEscape(intentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ledger.Intent{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ledger.Intent{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return ledger.Intent{}, fmt.Errorf("lookup intent failed with status %d", resp.StatusCode)
	}
	var body intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ledger.Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	return ledger.Intent{
		ID:       body.ID,
		Status:   body.Status,
		Amount:   body.Amount,
		Captured: body.Captured || body.Status == "succeeded",
	}, nil
}
