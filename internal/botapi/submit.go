// Package botapi submits questions to the bot service and waits for answers.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/botprobe/internal/session"
)

const (
	questionsPath = "/api/questions"

	// ProjectHeader scopes a request to a project.
	ProjectHeader = "X-MSTR-ProjectID"
)

// Pending is a submitted question waiting for its answer.
type Pending struct {
	Question    string
	SubmittedAt time.Time
	ID          string
}

// SubmitOptions control the retry policy of a Submitter.
type SubmitOptions struct {
	Attempts    int           // total attempts, default 3
	BackoffBase time.Duration // wait before attempt n is BackoffBase*n, default 2s
	MaxAge      time.Duration // session idle limit checked before each retry
}

func (o SubmitOptions) withDefaults() SubmitOptions {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.MaxAge <= 0 {
		o.MaxAge = session.DefaultMaxAge
	}
	return o
}

type botRef struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
}

type submitRequest struct {
	Text     string   `json:"text"`
	TextOnly bool     `json:"textOnly"`
	Bots     []botRef `json:"bots"`
	History  []any    `json:"history"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submitter turns question text into a pending identifier.
type Submitter struct {
	sess   *session.Manager
	opts   SubmitOptions
	logger *slog.Logger
}

func NewSubmitter(sess *session.Manager, opts SubmitOptions, logger *slog.Logger) *Submitter {
	return &Submitter{sess: sess, opts: opts.withDefaults(), logger: logger}
}

// Submit enqueues the question, retrying with linear-growth backoff. Before
// every retry the session is forced to re-authenticate, since an expired
// token is the usual cause of a failed submit.
func (s *Submitter) Submit(ctx context.Context, question string) (*Pending, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.Attempts; attempt++ {
		if attempt > 0 {
			wait := s.opts.BackoffBase * time.Duration(attempt)
			s.logger.Warn("submit failed, retrying",
				"attempt", attempt,
				"wait", wait.String(),
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, &SubmitError{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(wait):
			}
			if err := s.sess.Authenticate(ctx); err != nil {
				s.logger.Warn("re-authentication before retry failed", "error", err)
			}
		} else {
			s.sess.EnsureFresh(ctx, s.opts.MaxAge)
		}

		submittedAt := time.Now()
		id, err := s.submitOnce(ctx, question)
		if err == nil {
			s.logger.Debug("question submitted", "question_id", id, "attempt", attempt+1)
			return &Pending{Question: question, SubmittedAt: submittedAt, ID: id}, nil
		}
		lastErr = err
	}
	return nil, &SubmitError{Attempts: s.opts.Attempts, Err: lastErr}
}

func (s *Submitter) submitOnce(ctx context.Context, question string) (string, error) {
	target := s.sess.Target()
	body, err := json.Marshal(submitRequest{
		Text:     question,
		TextOnly: true,
		Bots:     []botRef{{ID: target.BotID, ProjectID: target.ProjectID}},
		History:  []any{},
	})
	if err != nil {
		return "", fmt.Errorf("marshal question: %w", err)
	}

	resp, err := s.sess.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.BaseURL+questionsPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "respond-async")
		req.Header.Set(ProjectHeader, target.ProjectID)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var sr submitResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if sr.ID == "" {
		return "", fmt.Errorf("submit response has no id")
	}
	return sr.ID, nil
}
