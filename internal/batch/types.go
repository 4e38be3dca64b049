package batch

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one question.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Result is one row of the result table. Times are in seconds.
type Result struct {
	Index                  int       `json:"index"`
	Question               string    `json:"question"`
	Answer                 string    `json:"answer"`
	Interpretation         string    `json:"interpretation"`
	SQL                    string    `json:"sql"`
	Insights               string    `json:"insights"`
	APIResponseTime        float64   `json:"api_response_time"`
	TotalResponseTime      float64   `json:"total_response_time"`
	ComplexityLabel        string    `json:"complexity_label"`
	ComplexityLatency      float64   `json:"complexity_latency"`
	EstimatedFirstResponse float64   `json:"estimated_first_response"`
	Status                 Status    `json:"status"`
	CompletedAt            time.Time `json:"completed_at"`
}

// Mode selects how the Runner schedules questions.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeConcurrent Mode = "concurrent"
	ModeBatched    Mode = "batched"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModeSequential, ModeConcurrent, ModeBatched:
		return m, true
	default:
		return "", false
	}
}

// Progress is a snapshot of a running batch.
type Progress struct {
	RunID     uuid.UUID `json:"run_id"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Message   string    `json:"message"`
	Done      bool      `json:"done"`
}

// Run is what a Runner produced. Results are in completion order.
type Run struct {
	ID         uuid.UUID `json:"id"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Results    []Result  `json:"results"`
	Complete   bool      `json:"complete"`
}

// Counts tallies results by status.
func (r *Run) Counts() map[Status]int {
	counts := make(map[Status]int, 3)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// SortByIndex returns a copy of results ordered by question index.
func SortByIndex(results []Result) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
