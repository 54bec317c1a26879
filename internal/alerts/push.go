package alerts

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PushClient delivers notifications to an ntfy-style topic endpoint: the
// message is the POST body, metadata travels in headers.
type PushClient struct {
	url    string
	topic  string
	client *http.Client
	log    zerolog.Logger
}

// NewPushClient creates a new push client.
// Returns nil when no push URL is configured; callers treat nil as disabled.
func NewPushClient(url, topic string, log zerolog.Logger) *PushClient {
	if url == "" {
		return nil
	}
	return &PushClient{
		url:    strings.TrimRight(url, "/"),
		topic:  topic,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("client", "push").Logger(),
	}
}

// Send posts one notification. Best effort: errors are returned for logging
// but callers never fail on them.
func (p *PushClient) Send(ctx context.Context, title, message string, priority Priority, tags []string) error {
	endpoint := p.url
	if p.topic != "" {
		endpoint += "/" + p.topic
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Title", title)
	req.Header.Set("Priority", string(priority))
	if len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push transport returned %d", resp.StatusCode)
	}
	return nil
}
