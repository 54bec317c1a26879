package categorize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LLMClient sends one batched categorization prompt per batch of unmatched
// transactions. The model is asked for a JSON array of category strings in
// input order.
type LLMClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	log     zerolog.Logger
}

// NewLLMClient creates a new LLM categorization client.
// Returns nil when no API key is configured; callers treat a nil client as
// "LLM disabled".
func NewLLMClient(apiKey string, log zerolog.Logger) *LLMClient {
	if apiKey == "" {
		return nil
	}
	return &LLMClient{
		baseURL: "https://api.openai.com/v1/chat/completions",
		apiKey:  apiKey,
		model:   "gpt-4o-mini",
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "llm").Logger(),
	}
}

// CategorizeBatch asks the model to label the given descriptions. The result
// always has len(descriptions) entries; any failure or invalid label coerces
// to "other".
func (c *LLMClient) CategorizeBatch(ctx context.Context, descriptions []string) []string {
	fallback := make([]string, len(descriptions))
	for i := range fallback {
		fallback[i] = "other"
	}
	if len(descriptions) == 0 {
		return fallback
	}

	prompt := fmt.Sprintf(
		"Categorize each transaction description into exactly one of these categories: %s.\n"+
			"Respond with only a JSON array of category strings, one per description, in order.\n\nDescriptions:\n%s",
		strings.Join(Categories, ", "),
		strings.Join(descriptions, "\n"),
	)

	payload := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fallback
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
	if err != nil {
		return fallback
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("LLM request failed, falling back to 'other'")
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("LLM returned error")
		return fallback
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil || len(completion.Choices) == 0 {
		c.log.Warn().Err(err).Msg("Failed to decode LLM response")
		return fallback
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	// Models occasionally wrap the array in a code fence
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var labels []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &labels); err != nil {
		c.log.Warn().Err(err).Msg("LLM response was not a JSON array")
		return fallback
	}

	result := make([]string, len(descriptions))
	for i := range result {
		if i < len(labels) && ValidCategory(labels[i]) {
			result[i] = labels[i]
		} else {
			result[i] = "other"
		}
	}
	return result
}
