package botapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/botprobe/internal/extractor"
	"github.com/MikeSquared-Agency/botprobe/internal/session"
)

// State is a step of the per-question poll state machine.
type State int

const (
	StateSubmitted State = iota
	StateAwaitingFirstResponse
	StateAwaitingCompletion
	StateComplete
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateAwaitingFirstResponse:
		return "awaiting_first_response"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateComplete:
		return "complete"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MinTimeout is the smallest overall poll window accepted by configuration.
const MinTimeout = 55 * time.Second

// PollOptions tune the two poll phases.
type PollOptions struct {
	Timeout            time.Duration // overall window measured from submission, default 300s
	FastInterval       time.Duration // first-response phase interval, default 100ms
	FirstResponsePolls int           // attempts in the first-response phase, default 50
	Interval           time.Duration // completion phase interval, default 1s
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Timeout <= 0 {
		o.Timeout = 300 * time.Second
	}
	if o.FastInterval <= 0 {
		o.FastInterval = 100 * time.Millisecond
	}
	if o.FirstResponsePolls <= 0 {
		o.FirstResponsePolls = 50
	}
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	return o
}

// Answer is a completed poll.
type Answer struct {
	Payload       extractor.Payload
	FirstResponse time.Duration
	Total         time.Duration
}

// Poller waits for pending questions to complete.
type Poller struct {
	sess   *session.Manager
	opts   PollOptions
	logger *slog.Logger
}

func NewPoller(sess *session.Manager, opts PollOptions, logger *slog.Logger) *Poller {
	return &Poller{sess: sess, opts: opts.withDefaults(), logger: logger}
}

// pollResult carries the payload of a 200 response; it is nil on 202.
type pollResult struct {
	payload extractor.Payload
	done    bool
}

// Poll drives the state machine for p until the answer text appears, the
// window elapses (*TimeoutError) or the service returns an unexpected status
// (*PollError).
func (pl *Poller) Poll(ctx context.Context, p *Pending) (*Answer, error) {
	start := p.SubmittedAt
	if start.IsZero() {
		start = time.Now()
	}
	deadline := start.Add(pl.opts.Timeout)

	state := StateSubmitted
	var firstResponse time.Duration
	fastPolls := 0

	for {
		if time.Now().After(deadline) {
			elapsed := time.Since(start)
			if firstResponse == 0 {
				firstResponse = elapsed
			}
			pl.logger.Warn("poll timed out", "question_id", p.ID, "state", StateTimedOut.String(), "elapsed", elapsed.String())
			return nil, &TimeoutError{QuestionID: p.ID, Elapsed: elapsed, FirstResponse: firstResponse}
		}

		if state == StateSubmitted {
			state = StateAwaitingFirstResponse
		}

		res, err := pl.pollOnce(ctx, p.ID)
		if err != nil {
			pl.logger.Error("poll failed", "question_id", p.ID, "state", StateFailed.String(), "error", err)
			return nil, err
		}

		if res.done {
			total := time.Since(start)
			if firstResponse == 0 {
				firstResponse = total
			}
			pl.logger.Debug("answer ready",
				"question_id", p.ID,
				"state", StateComplete.String(),
				"first_response", firstResponse.String(),
				"total", total.String(),
			)
			return &Answer{Payload: res.payload, FirstResponse: firstResponse, Total: total}, nil
		}

		interval := pl.opts.Interval
		if state == StateAwaitingFirstResponse {
			fastPolls++
			switch {
			case res.payload != nil:
				// Non-pending status observed: the acknowledgement has arrived.
				firstResponse = time.Since(start)
				state = StateAwaitingCompletion
			case fastPolls >= pl.opts.FirstResponsePolls:
				firstResponse = time.Since(start)
				state = StateAwaitingCompletion
			default:
				interval = pl.opts.FastInterval
			}
		}

		select {
		case <-ctx.Done():
			return nil, &PollError{QuestionID: p.ID, Err: ctx.Err()}
		case <-time.After(interval):
		}
	}
}

func (pl *Poller) pollOnce(ctx context.Context, id string) (pollResult, error) {
	target := pl.sess.Target()
	endpoint := target.BaseURL + questionsPath + "/" + url.PathEscape(id)

	resp, err := pl.sess.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(ProjectHeader, target.ProjectID)
		return req, nil
	})
	if err != nil {
		return pollResult{}, &PollError{QuestionID: id, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pollResult{}, &PollError{QuestionID: id, Err: fmt.Errorf("read response: %w", err)}
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		return pollResult{}, nil
	case http.StatusOK:
		var payload extractor.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			return pollResult{}, &PollError{QuestionID: id, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
		}
		if payload == nil {
			payload = extractor.Payload{}
		}
		_, hasText := extractor.AnswerText(payload)
		return pollResult{payload: payload, done: hasText}, nil
	default:
		return pollResult{}, &PollError{QuestionID: id, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}
