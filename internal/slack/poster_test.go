package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/botprobe/internal/batch"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRun(results ...batch.Result) *batch.Run {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &batch.Run{
		ID:         uuid.MustParse("9f6ed519-0000-0000-0000-000000000000"),
		Mode:       batch.ModeBatched,
		StartedAt:  start,
		FinishedAt: start.Add(4*time.Minute + 30*time.Second),
		Total:      len(results),
		Results:    results,
		Complete:   true,
	}
}

func TestFormatRunSummary(t *testing.T) {
	run := testRun(
		batch.Result{Index: 0, Status: batch.StatusSuccess, TotalResponseTime: 10},
		batch.Result{Index: 1, Status: batch.StatusSuccess, TotalResponseTime: 20},
		batch.Result{Index: 2, Status: batch.StatusTimeout, TotalResponseTime: 300},
	)

	msg := formatRunSummary(run, "/tmp/out/bot_queries_20260501_090000.xlsx")

	checks := []string{
		"batched, complete",
		"3/3 in 4m30s",
		":white_check_mark: 2",
		":hourglass: 1",
		"Avg total response:* 15.00s",
		"bot_queries_20260501_090000.xlsx",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q, got:\n%s", check, msg)
		}
	}
	if strings.Contains(msg, "/tmp/out") {
		t.Error("only the report file name should be posted")
	}
}

func TestFormatRunSummary_Partial(t *testing.T) {
	run := testRun(batch.Result{Index: 0, Status: batch.StatusFailed})
	run.Total = 5
	run.Complete = false

	msg := formatRunSummary(run, "")

	if !strings.Contains(msg, "partial") || !strings.Contains(msg, "1/5") {
		t.Errorf("unexpected message %q", msg)
	}
	if strings.Contains(msg, "Avg total") || strings.Contains(msg, "Report") {
		t.Errorf("no average or report line expected, got %q", msg)
	}
}

func TestFormatProblems(t *testing.T) {
	if got := formatProblems(testRun(batch.Result{Status: batch.StatusSuccess})); got != "" {
		t.Errorf("expected no problems, got %q", got)
	}

	var results []batch.Result
	for i := 0; i < maxListed+3; i++ {
		results = append(results, batch.Result{Index: i, Question: fmt.Sprintf("q%d", i), Status: batch.StatusFailed})
	}
	got := formatProblems(testRun(results...))
	if !strings.HasPrefix(got, "*Questions needing attention:*\n1. [failed] q0") {
		t.Errorf("unexpected list start: %q", got)
	}
	if !strings.Contains(got, "and 3 more") {
		t.Errorf("expected overflow note, got %q", got)
	}
}

func TestPostRunSummary_Success(t *testing.T) {
	var mu sync.Mutex
	var payloads []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	run := testRun(
		batch.Result{Index: 0, Question: "fine", Status: batch.StatusSuccess},
		batch.Result{Index: 1, Question: "slow", Status: batch.StatusTimeout},
	)
	ts, err := p.PostRunSummary(context.Background(), run, "report.xlsx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 2 {
		t.Fatalf("expected summary + thread reply, got %d posts", len(payloads))
	}
	if payloads[0]["channel"] != "C123" {
		t.Errorf("expected channel C123, got %v", payloads[0]["channel"])
	}
	if payloads[1]["thread_ts"] != "1234567890.123456" {
		t.Errorf("thread reply should target the summary, got %v", payloads[1]["thread_ts"])
	}
	if text, _ := payloads[1]["text"].(string); !strings.Contains(text, "[timeout] slow") {
		t.Errorf("thread reply should list the timeout, got %q", text)
	}
}

func TestPostRunSummary_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	_, err := p.PostRunSummary(context.Background(), testRun(), "")
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected slack error, got %v", err)
	}
}
