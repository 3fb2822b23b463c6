package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"atcwatch/pkg/logx"
)

// Webhook posts a legacy MessageCard to a chat incoming-webhook URL.
// Fire-and-forget: non-2xx or transport error is a failure, no retry.
type Webhook struct {
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

// messageCard is the legacy card format, kept for maximum compatibility
// with channel webhooks.
type messageCard struct {
	Type       string `json:"@type"`
	Context    string `json:"@context"`
	Summary    string `json:"summary"`
	ThemeColor string `json:"themeColor"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}

func NewWebhook(log logx.Logger) *Webhook {
	return &Webhook{
		http: &http.Client{Timeout: 15 * time.Second},
		// One send per second smooths bursts when several deliveries are
		// decided in the same tick.
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		log:     log,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, p Payload) error {
	url := strings.TrimSpace(p.Destination)
	if url == "" {
		return errors.New("webhook destination is empty")
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	var text strings.Builder
	for _, line := range p.Lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		text.WriteString("- ")
		text.WriteString(line)
		text.WriteString("\n")
	}

	body, err := json.Marshal(messageCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		Summary:    p.Title,
		ThemeColor: "0071CE",
		Title:      p.Title,
		Text:       text.String(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("webhook failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
