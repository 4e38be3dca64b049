// Package batch drives a list of questions through submit, poll, extract and
// classify, and aggregates one result per question.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/botprobe/internal/botapi"
	"github.com/MikeSquared-Agency/botprobe/internal/complexity"
	"github.com/MikeSquared-Agency/botprobe/internal/extractor"
	"github.com/MikeSquared-Agency/botprobe/internal/session"
)

// perQuestionOverhead is added to the inter-question delay when estimating runtime.
const perQuestionOverhead = 10 * time.Second

// Config holds the batch run configuration.
type Config struct {
	Target      session.Target
	Credentials session.Credentials

	Mode       Mode
	Workers    int           // concurrent mode
	BatchSize  int           // batched mode
	MaxBatches int           // batched mode: stop after this many slices, 0 = all
	Delay      time.Duration // pause between questions (sequential, batched)

	SessionMaxAge time.Duration
	Submit        botapi.SubmitOptions
	Poll          botapi.PollOptions

	Retries        int    // extra attempts for a failed question; timeouts are not retried
	CheckpointPath string // empty = no persistence
}

// Runner orchestrates a batch run.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	progress   Progress
	onProgress []func(Progress)
	current    *Checkpoint

	notifyMu sync.Mutex // serializes publish so listeners see non-decreasing counts
}

// NewRunner creates a batch runner.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.Mode == "" {
		cfg.Mode = ModeSequential
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Runner{cfg: cfg, logger: logger}
}

// OnProgress registers a callback invoked after every recorded result and
// at the end of the run. Callbacks run synchronously on the recording goroutine.
func (r *Runner) OnProgress(fn func(Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onProgress = append(r.onProgress, fn)
}

// Progress returns the latest progress snapshot.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Results returns the rows recorded so far by the active or last run, in
// completion order.
func (r *Runner) Results() []Result {
	r.mu.Lock()
	cp := r.current
	r.mu.Unlock()
	if cp == nil {
		return nil
	}
	return cp.Snapshot()
}

// EstimatedRuntime is a rough wall-clock estimate for n questions.
func (r *Runner) EstimatedRuntime(n int) time.Duration {
	return time.Duration(n) * (r.cfg.Delay + perQuestionOverhead)
}

// Run processes every unprocessed question. Per-question failures become
// result rows; Run itself only fails when the initial login is rejected, the
// checkpoint cannot be used, or ctx is cancelled. On cancellation the partial
// run is returned alongside ctx.Err().
func (r *Runner) Run(ctx context.Context, questions []string) (*Run, error) {
	if len(questions) == 0 {
		return nil, errors.New("no questions to run")
	}

	cp, err := LoadCheckpoint(r.cfg.CheckpointPath, questions)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	primary := session.NewManager(r.cfg.Target, r.cfg.Credentials, r.logger)
	if err := primary.Authenticate(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.current = cp
	r.mu.Unlock()

	pending := cp.Pending()
	run := &Run{ID: cp.RunID, Mode: r.cfg.Mode, StartedAt: time.Now().UTC(), Total: len(questions)}

	r.setProgress(Progress{
		RunID:     cp.RunID,
		Processed: cp.ProcessedCount(),
		Total:     len(questions),
		Message:   fmt.Sprintf("%d questions pending", len(pending)),
	})
	r.logger.Info("batch starting",
		"run_id", cp.RunID.String(),
		"mode", string(r.cfg.Mode),
		"total", len(questions),
		"pending", len(pending),
		"resumed", len(questions)-len(pending),
		"estimated_runtime", r.EstimatedRuntime(len(pending)).Round(time.Second).String(),
	)

	switch r.cfg.Mode {
	case ModeConcurrent:
		r.runConcurrent(ctx, cp, questions, pending)
	case ModeBatched:
		r.runBatched(ctx, cp, questions, pending, primary)
	default:
		r.runSequential(ctx, cp, questions, pending, r.newWorker(primary))
	}

	run.Results = cp.Snapshot()
	run.FinishedAt = time.Now().UTC()
	run.Complete = cp.ProcessedCount() == len(questions)

	final := r.Progress()
	final.Done = run.Complete
	final.Message = fmt.Sprintf("processed %d/%d", cp.ProcessedCount(), len(questions))
	r.publish(final)

	counts := run.Counts()
	r.logger.Info("batch finished",
		"run_id", run.ID.String(),
		"processed", len(run.Results),
		"total", run.Total,
		"success", counts[StatusSuccess],
		"failed", counts[StatusFailed],
		"timeout", counts[StatusTimeout],
		"complete", run.Complete,
	)

	if err := ctx.Err(); err != nil {
		return run, err
	}
	return run, nil
}

type worker struct {
	sess      *session.Manager
	submitter *botapi.Submitter
	poller    *botapi.Poller
}

func (r *Runner) newWorker(sess *session.Manager) *worker {
	return &worker{
		sess:      sess,
		submitter: botapi.NewSubmitter(sess, r.withMaxAge(r.cfg.Submit), r.logger),
		poller:    botapi.NewPoller(sess, r.cfg.Poll, r.logger),
	}
}

func (r *Runner) withMaxAge(o botapi.SubmitOptions) botapi.SubmitOptions {
	if o.MaxAge <= 0 {
		o.MaxAge = r.cfg.SessionMaxAge
	}
	return o
}

func (r *Runner) runSequential(ctx context.Context, cp *Checkpoint, questions []string, indices []int, w *worker) {
	for n, idx := range indices {
		if ctx.Err() != nil {
			r.logger.Info("batch stopped, not launching further questions", "remaining", len(indices)-n)
			return
		}
		r.record(cp, r.process(ctx, w, idx, questions[idx]))

		if n < len(indices)-1 && r.cfg.Delay > 0 {
			r.logger.Debug("waiting before next question", "delay", r.cfg.Delay.String())
			if !sleep(ctx, r.cfg.Delay) {
				return
			}
		}
	}
}

func (r *Runner) runBatched(ctx context.Context, cp *Checkpoint, questions []string, pending []int, primary *session.Manager) {
	w := r.newWorker(primary)
	for b := 0; b*r.cfg.BatchSize < len(pending); b++ {
		if r.cfg.MaxBatches > 0 && b >= r.cfg.MaxBatches {
			r.logger.Info("batch limit reached, resume later from checkpoint",
				"batches", b,
				"remaining", len(pending)-b*r.cfg.BatchSize,
			)
			return
		}
		if b > 0 && r.cfg.Delay > 0 && !sleep(ctx, r.cfg.Delay) {
			return
		}

		end := min((b+1)*r.cfg.BatchSize, len(pending))
		slice := pending[b*r.cfg.BatchSize : end]
		r.logger.Info("processing batch", "batch", b+1, "size", len(slice))
		r.runSequential(ctx, cp, questions, slice, w)
		if ctx.Err() != nil {
			return
		}
	}
}

// runConcurrent gives each of the workers its own session and feeds them
// indices until the list is exhausted or ctx is cancelled.
func (r *Runner) runConcurrent(ctx context.Context, cp *Checkpoint, questions []string, pending []int) {
	jobs := make(chan int)
	var g errgroup.Group

	g.Go(func() error {
		defer close(jobs)
		for _, idx := range pending {
			select {
			case <-ctx.Done():
				return nil
			case jobs <- idx:
			}
		}
		return nil
	})

	workers := min(r.cfg.Workers, len(pending))
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			sess := session.NewManager(r.cfg.Target, r.cfg.Credentials, r.logger.With("worker", i))
			if err := sess.Authenticate(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("worker login failed, will retry per question", "worker", i, "error", err)
			}
			w := r.newWorker(sess)
			for idx := range jobs {
				r.record(cp, r.process(ctx, w, idx, questions[idx]))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// process runs one question end to end. It never fails: errors become rows.
// In-flight work ignores cancellation of ctx and ends by completion or timeout.
func (r *Runner) process(ctx context.Context, w *worker, idx int, question string) Result {
	ctx = context.WithoutCancel(ctx)
	logger := r.logger.With("question_index", idx)

	var res Result
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 {
			logger.Info("retrying question", "attempt", attempt+1)
		}
		res = r.ask(ctx, w, idx, question, logger)
		if res.Status != StatusFailed {
			break
		}
	}
	res.CompletedAt = time.Now().UTC()
	return res
}

func (r *Runner) ask(ctx context.Context, w *worker, idx int, question string, logger *slog.Logger) Result {
	res := Result{Index: idx, Question: question}
	logger.Info("processing question", "question", question)

	w.sess.EnsureFresh(ctx, r.cfg.SessionMaxAge)

	pending, err := w.submitter.Submit(ctx, question)
	if err != nil {
		logger.Error("submit failed", "error", err)
		res.Status = StatusFailed
		res.Answer = "ERROR: " + err.Error()
		return res
	}

	ans, err := w.poller.Poll(ctx, pending)
	if err != nil {
		var timeoutErr *botapi.TimeoutError
		if errors.As(err, &timeoutErr) {
			logger.Warn("question timed out", "question_id", pending.ID, "elapsed", timeoutErr.Elapsed.String())
			res.Status = StatusTimeout
			res.Answer = fmt.Sprintf("TIMEOUT: no answer after %.0f seconds", timeoutErr.Elapsed.Seconds())
			res.APIResponseTime = seconds(timeoutErr.FirstResponse)
			res.TotalResponseTime = seconds(timeoutErr.Elapsed)
			return res
		}
		logger.Error("poll failed", "question_id", pending.ID, "error", err)
		res.Status = StatusFailed
		res.Answer = "ERROR: " + err.Error()
		return res
	}

	fields := extractor.Extract(ans.Payload)
	latency, label := complexity.Classify(fields.SQL)

	res.Status = StatusSuccess
	res.Answer = fields.AnswerText
	res.Interpretation = fields.Interpretation
	res.SQL = fields.SQL
	res.Insights = fields.Insights
	res.APIResponseTime = seconds(ans.FirstResponse)
	res.TotalResponseTime = seconds(ans.Total)
	res.ComplexityLabel = label
	res.ComplexityLatency = latency
	res.EstimatedFirstResponse = round2(res.APIResponseTime + latency)

	logger.Info("answer received",
		"question_id", pending.ID,
		"total_seconds", res.TotalResponseTime,
		"complexity", label,
	)
	return res
}

// record appends res to the table, updates progress and notifies listeners.
func (r *Runner) record(cp *Checkpoint, res Result) {
	added, err := cp.Record(res)
	if err != nil {
		r.logger.Error("checkpoint save failed", "question_index", res.Index, "error", err)
	}
	if !added && err == nil {
		r.logger.Debug("question already recorded, skipping", "question_index", res.Index)
		return
	}

	r.mu.Lock()
	p := r.progress
	if n := cp.ProcessedCount(); n > p.Processed {
		p.Processed = n
	}
	p.Message = fmt.Sprintf("question %d: %s", res.Index+1, res.Status)
	r.mu.Unlock()

	r.publish(p)
}

func (r *Runner) setProgress(p Progress) {
	r.mu.Lock()
	r.progress = p
	r.mu.Unlock()
}

func (r *Runner) publish(p Progress) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if p.Processed < r.progress.Processed {
		p.Processed = r.progress.Processed
	}
	r.progress = p
	listeners := append([]func(Progress){}, r.onProgress...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func seconds(d time.Duration) float64 {
	return round2(d.Seconds())
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
