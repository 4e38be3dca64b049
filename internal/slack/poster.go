// Package slack posts a run summary to a Slack channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/botprobe/internal/batch"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxListed caps how many problem questions go into the thread reply.
const maxListed = 20

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostRunSummary posts the outcome of a run. When some questions failed or
// timed out they are listed in a thread reply. Returns the message timestamp.
func (p *Poster) PostRunSummary(ctx context.Context, run *batch.Run, reportPath string) (string, error) {
	text := formatRunSummary(run, reportPath)
	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": text},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{"type": "mrkdwn", "text": "Run `" + run.ID.String() + "`"},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	p.logger.Info("posted run summary to slack", "ts", ts, "run_id", run.ID.String())

	if problems := formatProblems(run); problems != "" {
		if _, err := p.post(ctx, map[string]any{
			"channel":   p.channel,
			"thread_ts": ts,
			"text":      problems,
		}); err != nil {
			p.logger.Warn("failed to post problem list", "error", err)
		}
	}
	return ts, nil
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatRunSummary(run *batch.Run, reportPath string) string {
	var sb strings.Builder
	counts := run.Counts()

	state := "complete"
	if !run.Complete {
		state = "partial, resume from checkpoint"
	}
	fmt.Fprintf(&sb, "*Bot query run finished* (%s, %s)\n", run.Mode, state)
	fmt.Fprintf(&sb, "*Processed:* %d/%d in %s\n", len(run.Results), run.Total,
		run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	fmt.Fprintf(&sb, ":white_check_mark: %d  :x: %d  :hourglass: %d\n",
		counts[batch.StatusSuccess], counts[batch.StatusFailed], counts[batch.StatusTimeout])

	if avg, ok := averageTotal(run.Results); ok {
		fmt.Fprintf(&sb, "*Avg total response:* %.2fs\n", avg)
	}
	if reportPath != "" {
		fmt.Fprintf(&sb, "*Report:* `%s`", filepath.Base(reportPath))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func averageTotal(results []batch.Result) (float64, bool) {
	var sum float64
	var n int
	for _, r := range results {
		if r.Status == batch.StatusSuccess {
			sum += r.TotalResponseTime
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// formatProblems lists failed and timed-out questions, or "" when there are none.
func formatProblems(run *batch.Run) string {
	var lines []string
	for _, r := range batch.SortByIndex(run.Results) {
		if r.Status == batch.StatusSuccess {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", r.Index+1, r.Status, r.Question))
	}
	if len(lines) == 0 {
		return ""
	}
	extra := len(lines) - maxListed
	if extra > 0 {
		lines = append(lines[:maxListed], fmt.Sprintf("_...and %d more_", extra))
	}
	return "*Questions needing attention:*\n" + strings.Join(lines, "\n")
}
