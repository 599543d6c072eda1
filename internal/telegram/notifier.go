package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"config-checker/internal/model"
)

const DefaultBaseURL = "https://api.telegram.org"

type Notifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  DefaultBaseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1), // one message per second per chat
	}
}

// WithBaseURL points the notifier at another Bot API endpoint.
func (n *Notifier) WithBaseURL(u string) *Notifier {
	n.baseURL = u
	return n
}

// SendMessage sends a text message to the configured chat
func (n *Notifier) SendMessage(ctx context.Context, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)

	jsonBody, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram API error: %s - %s", resp.Status, string(body))
	}
	return nil
}

// SendTop publishes the first top outcomes, one descriptor per message,
// prefixed by a summary line. It stops at the first failed send.
func (n *Notifier) SendTop(ctx context.Context, outcomes []model.Outcome, top int) error {
	if top > 0 && len(outcomes) > top {
		outcomes = outcomes[:top]
	}
	if len(outcomes) == 0 {
		return nil
	}

	if err := n.SendMessage(ctx, fmt.Sprintf("Top %d working configs", len(outcomes))); err != nil {
		return err
	}
	for _, o := range outcomes {
		text := fmt.Sprintf("[%s] %dms | %s\n%s", o.Candidate.Type().Label(), o.LatencyMs(), o.Candidate.Name, o.Candidate.RawLink)
		if err := n.SendMessage(ctx, text); err != nil {
			return fmt.Errorf("error sending message: %w", err)
		}
	}
	return nil
}
