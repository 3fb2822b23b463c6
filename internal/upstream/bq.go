package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"atcwatch/internal/event"
	"atcwatch/pkg/logx"
)

// BQConfig configures the BigQuery CLI client.
type BQConfig struct {
	// BqPath overrides PATH lookup of the bq binary. If set and missing,
	// that is an error; we never fall back to some other bq.
	BqPath string

	// SQLTemplate is the path to the query template. It is rendered with
	// {{.FacilityID}} and {{.WindowMinutes}}.
	SQLTemplate string

	// Project sets the job/billing project (--project_id).
	Project string

	Timeout time.Duration
}

// BQClient runs the polling query through the bq CLI.
//
// The SQL is piped via stdin rather than passed as an argument: large query
// text as an argv entry hits command-line length limits on some platforms.
type BQClient struct {
	cfg BQConfig
	log logx.Logger

	runner func(ctx context.Context, argv []string, stdin string) (string, error)
}

func NewBQClient(cfg BQConfig, log logx.Logger) *BQClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &BQClient{cfg: cfg, log: log, runner: runCommand}
}

func (c *BQClient) Fetch(ctx context.Context, facilityID string, start, end time.Time) ([]event.Raw, error) {
	sql, err := c.renderSQL(facilityID, start, end)
	if err != nil {
		return nil, err
	}

	exe, err := c.resolveBq()
	if err != nil {
		return nil, err
	}

	argv := []string{exe, "query", "--quiet", "--use_legacy_sql=false", "--format=csv"}
	if strings.TrimSpace(c.cfg.Project) != "" {
		argv = append(argv, "--project_id="+c.cfg.Project)
	}

	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.runner(rctx, argv, sql)
	if err != nil {
		return nil, fmt.Errorf("bq query: %w", err)
	}
	return ParseEventsCSV(out)
}

func (c *BQClient) renderSQL(facilityID string, start, end time.Time) (string, error) {
	b, err := os.ReadFile(c.cfg.SQLTemplate)
	if err != nil {
		return "", fmt.Errorf("sql template: %w", err)
	}
	tpl, err := template.New("query").Parse(string(b))
	if err != nil {
		return "", fmt.Errorf("sql template: %w", err)
	}

	windowMinutes := int(end.Sub(start).Minutes())
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	var buf bytes.Buffer
	err = tpl.Execute(&buf, struct {
		FacilityID    string
		WindowMinutes int
	}{FacilityID: facilityID, WindowMinutes: windowMinutes})
	if err != nil {
		return "", fmt.Errorf("sql template: %w", err)
	}
	return buf.String(), nil
}

func (c *BQClient) resolveBq() (string, error) {
	if p := strings.TrimSpace(c.cfg.BqPath); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("configured bq_path does not exist: %s", p)
		}
		return p, nil
	}
	p, err := exec.LookPath("bq")
	if err != nil {
		return "", errors.New("bq CLI not found: install the Cloud SDK or set upstream.bq_path")
	}
	return p, nil
}

func runCommand(ctx context.Context, argv []string, stdin string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			detail = "(no output from bq)"
		}
		return "", fmt.Errorf("%w: %s", err, truncate(detail, 500))
	}
	return stdout.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
