package hermes

import (
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/botprobe/internal/batch"
)

const (
	SubjectProgress  = "botprobe.run.progress"
	SubjectCompleted = "botprobe.run.completed"
)

// Publisher is the subset of Client used for run events.
type Publisher interface {
	Publish(subject string, data any) error
}

// ProgressEvent is emitted after every recorded result.
type ProgressEvent struct {
	RunID     string `json:"run_id"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
	Done      bool   `json:"done"`
	Timestamp string `json:"timestamp"`
}

// CompletedEvent is emitted once when a run returns.
type CompletedEvent struct {
	RunID      string  `json:"run_id"`
	Mode       string  `json:"mode"`
	Total      int     `json:"total"`
	Processed  int     `json:"processed"`
	Success    int     `json:"success"`
	Failed     int     `json:"failed"`
	Timeout    int     `json:"timeout"`
	Complete   bool    `json:"complete"`
	DurationS  float64 `json:"duration_s"`
	FinishedAt string  `json:"finished_at"`
}

// RunEvents turns runner progress into NATS messages. Publish failures are
// logged and never interrupt the run.
type RunEvents struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewRunEvents(pub Publisher, logger *slog.Logger) *RunEvents {
	return &RunEvents{pub: pub, logger: logger, now: time.Now}
}

// OnProgress has the signature expected by batch.Runner.OnProgress.
func (e *RunEvents) OnProgress(p batch.Progress) {
	ev := ProgressEvent{
		RunID:     p.RunID.String(),
		Processed: p.Processed,
		Total:     p.Total,
		Message:   p.Message,
		Done:      p.Done,
		Timestamp: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.pub.Publish(SubjectProgress, ev); err != nil {
		e.logger.Warn("failed to publish progress", "run_id", ev.RunID, "error", err)
	}
}

// Completed announces the end of a run.
func (e *RunEvents) Completed(run *batch.Run) {
	counts := run.Counts()
	ev := CompletedEvent{
		RunID:      run.ID.String(),
		Mode:       string(run.Mode),
		Total:      run.Total,
		Processed:  len(run.Results),
		Success:    counts[batch.StatusSuccess],
		Failed:     counts[batch.StatusFailed],
		Timeout:    counts[batch.StatusTimeout],
		Complete:   run.Complete,
		DurationS:  run.FinishedAt.Sub(run.StartedAt).Seconds(),
		FinishedAt: run.FinishedAt.UTC().Format(time.RFC3339),
	}
	if err := e.pub.Publish(SubjectCompleted, ev); err != nil {
		e.logger.Warn("failed to publish completion", "run_id", ev.RunID, "error", err)
	}
}
