// Package aggregator integrates with the hosted bank-aggregation API that
// provides multi-institution sync via opaque cursors and a webhook channel.
package aggregator

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

// syncPageSize is the maximum transactions per sync page accepted upstream
const syncPageSize = 500

// Transaction is one transaction in the aggregator's representation.
// Amount follows the aggregator's convention: positive = money out.
type Transaction struct {
	TransactionID string   `json:"transaction_id"`
	AccountID     string   `json:"account_id"`
	Amount        float64  `json:"amount"`
	Name          string   `json:"name"`
	MerchantName  string   `json:"merchant_name"`
	Categories    []string `json:"category"`
	Pending       bool     `json:"pending"`
	Date          string   `json:"date"`
}

// RemovedTransaction identifies a transaction deleted upstream
type RemovedTransaction struct {
	TransactionID string `json:"transaction_id"`
}

// SyncPage is one page of the cursor-based delta protocol
type SyncPage struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
}

// Account is an account in the aggregator's representation
type Account struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Balances  struct {
		Current   float64  `json:"current"`
		Available *float64 `json:"available"`
		Limit     *float64 `json:"limit"`
		Currency  string   `json:"iso_currency_code"`
	} `json:"balances"`
}

// Client is the HTTP client for the aggregator API
type Client struct {
	baseURL    string
	clientID   string
	secret     string
	webhookURL string
	client     *http.Client
	log        zerolog.Logger
}

// NewClient creates a new aggregator client for the given environment
// (sandbox, development, production).
func NewClient(clientID, secret, env, webhookURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("https://%s.plaid.com", env),
		clientID:   clientID,
		secret:     secret,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("client", "aggregator").Logger(),
	}
}

// Configured reports whether credentials are present
func (c *Client) Configured() bool {
	return c.clientID != "" && c.secret != ""
}

// CreateLinkToken starts a link flow for the given user
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	payload := map[string]interface{}{
		"user":          map[string]string{"client_user_id": userID},
		"client_name":   "Moneta",
		"products":      []string{"transactions"},
		"country_codes": []string{"US"},
		"language":      "en",
	}
	if c.webhookURL != "" {
		payload["webhook"] = c.webhookURL
	}

	var result struct {
		LinkToken string `json:"link_token"`
	}
	if err := c.post(ctx, "/link/token/create", payload, &result); err != nil {
		return "", err
	}
	return result.LinkToken, nil
}

// ExchangePublicToken trades a link public token for an access token + item id
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (accessToken, itemID string, err error) {
	var result struct {
		AccessToken string `json:"access_token"`
		ItemID      string `json:"item_id"`
	}
	err = c.post(ctx, "/item/public_token/exchange", map[string]string{"public_token": publicToken}, &result)
	if err != nil {
		return "", "", err
	}
	return result.AccessToken, result.ItemID, nil
}

// SyncTransactions fetches one page of the transaction delta for a cursor.
// An empty cursor starts from the beginning of the item's history.
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string) (*SyncPage, error) {
	payload := map[string]interface{}{
		"access_token": accessToken,
		"count":        syncPageSize,
	}
	if cursor != "" {
		payload["cursor"] = cursor
	}

	var page SyncPage
	if err := c.post(ctx, "/transactions/sync", payload, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetAccounts fetches current account balances for an item
func (c *Client) GetAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	var result struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.post(ctx, "/accounts/balance/get", map[string]string{"access_token": accessToken}, &result); err != nil {
		return nil, err
	}
	return result.Accounts, nil
}

// RemoveItem revokes an item's access token upstream
func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	return c.post(ctx, "/item/remove", map[string]string{"access_token": accessToken}, nil)
}

// post performs one authenticated JSON round trip
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body := map[string]interface{}{
		"client_id": c.clientID,
		"secret":    c.secret,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("failed to merge request: %w", err)
	}
	merged, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(merged))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("aggregator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			ErrorCode    string `json:"error_code"`
			ErrorMessage string `json:"error_message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.ErrorCode != "" {
			return &APIError{Code: apiErr.ErrorCode, Message: apiErr.ErrorMessage, Status: resp.StatusCode}
		}
		return fmt.Errorf("aggregator returned %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode aggregator response: %w", err)
		}
	}
	return nil
}

// APIError is a structured aggregator error
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aggregator error %s: %s", e.Code, e.Message)
}

// LoginRequired reports whether the error means the user must re-link
func (e *APIError) LoginRequired() bool {
	return e.Code == "ITEM_LOGIN_REQUIRED" || e.Code == "PENDING_EXPIRATION"
}
