package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"atcwatch/pkg/logx"
)

// Outbox writes payloads to durable storage for later audit or manual send.
// Used while a live channel is not yet authorized; a write counts as a
// successful send for dedupe and rate-limit purposes.
type Outbox struct {
	dir string
	log logx.Logger

	now func() time.Time
}

// outboxMeta is the JSON sidecar next to each message body.
type outboxMeta struct {
	Delivery    string    `json:"delivery_number"`
	ShiftLabel  string    `json:"shift_label"`
	Destination string    `json:"destination,omitempty"`
	Title       string    `json:"title"`
	Lines       []string  `json:"lines"`
	WrittenAt   time.Time `json:"written_at"`
}

func NewOutbox(dir string, log logx.Logger) *Outbox {
	return &Outbox{dir: dir, log: log, now: time.Now}
}

func (o *Outbox) Name() string { return "outbox" }

func (o *Outbox) Send(ctx context.Context, p Payload) error {
	_ = ctx
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}

	now := o.now()
	stamp := now.Format("20060102_150405")
	base := fmt.Sprintf("delivery_%s_%s", sanitize(string(p.Summary.Delivery)), stamp)

	body := p.Title + "\n\n" + strings.Join(p.Lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(o.dir, base+".txt"), []byte(body), 0o644); err != nil {
		return err
	}

	meta, err := json.MarshalIndent(outboxMeta{
		Delivery:    string(p.Summary.Delivery),
		ShiftLabel:  p.Summary.ShiftLabel,
		Destination: p.Destination,
		Title:       p.Title,
		Lines:       p.Lines,
		WrittenAt:   now,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.dir, base+".json"), meta, 0o644)
}

// Sweep deletes outbox artifacts older than retention. Returns the number
// of files removed.
func (o *Outbox) Sweep(retention time.Duration) (int, error) {
	entries, err := os.ReadDir(o.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := o.now().Add(-retention)
	removed := 0
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(o.dir, de.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			b.WriteRune(ch)
		}
	}
	return b.String()
}
