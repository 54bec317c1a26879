// Package ledger integrates with the external double-entry accounting service
// that acts as the canonical store for transactions and account balances.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Account is a ledger account as returned by the service
type Account struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"` // asset | liabilities | expense | income
	Balance float64 `json:"balance"`
}

// TransactionRequest is the payload for the ledger's create-transaction
// endpoint. Amount is the absolute value formatted with two decimals; the
// direction is expressed by source/destination.
type TransactionRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Date        string `json:"date"` // YYYY-MM-DD
	Description string `json:"description"`
	ExternalID  string `json:"external_id"`
}

// Client is the HTTP client for the ledger service
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new ledger client
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "ledger").Logger(),
	}
}

// ListAccounts fetches all ledger accounts
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var result struct {
		Data []Account `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/accounts", nil, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// CreateAccount creates a new ledger account and returns its id
func (c *Client) CreateAccount(ctx context.Context, name, accountType, currency string) (string, error) {
	payload := map[string]string{
		"name":     name,
		"type":     accountType,
		"currency": currency,
	}
	var result struct {
		Data Account `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/accounts", payload, &result); err != nil {
		return "", err
	}
	return result.Data.ID, nil
}

// CreateTransaction creates a double-entry transaction and returns its id.
// The ledger dedupes on external_id and reports collisions with an error
// message containing "duplicate".
func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest) (string, error) {
	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/transactions", req, &result); err != nil {
		return "", err
	}
	return result.Data.ID, nil
}

// UpdateAccountBalance pushes a balance observation for an account
func (c *Client) UpdateAccountBalance(ctx context.Context, accountID string, balance float64, date string) error {
	payload := map[string]interface{}{
		"balance": balance,
		"date":    date,
	}
	return c.do(ctx, http.MethodPost, "/api/accounts/"+accountID+"/balance", payload, nil)
}

// do performs one JSON request/response round trip
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode ledger response: %w", err)
		}
	}
	return nil
}
