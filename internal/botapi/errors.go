package botapi

import (
	"fmt"
	"time"
)

// SubmitError means a question could not be enqueued after all attempts.
type SubmitError struct {
	Attempts int
	Err      error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// PollError is an unexpected status while polling for an answer.
type PollError struct {
	QuestionID string
	StatusCode int
	Body       string
	Err        error
}

func (e *PollError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("poll %s: %v", e.QuestionID, e.Err)
	}
	return fmt.Sprintf("poll %s: unexpected status %d: %s", e.QuestionID, e.StatusCode, e.Body)
}

func (e *PollError) Unwrap() error { return e.Err }

// TimeoutError means no answer text arrived within the poll window.
type TimeoutError struct {
	QuestionID    string
	Elapsed       time.Duration
	FirstResponse time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("polling %s timed out after %s", e.QuestionID, e.Elapsed.Round(time.Second))
}

// statusError is a non-success HTTP status on submit.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}
