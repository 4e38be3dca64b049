package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/botprobe/internal/api"
	"github.com/MikeSquared-Agency/botprobe/internal/batch"
	"github.com/MikeSquared-Agency/botprobe/internal/botapi"
	"github.com/MikeSquared-Agency/botprobe/internal/config"
	"github.com/MikeSquared-Agency/botprobe/internal/hermes"
	"github.com/MikeSquared-Agency/botprobe/internal/questions"
	"github.com/MikeSquared-Agency/botprobe/internal/report"
	"github.com/MikeSquared-Agency/botprobe/internal/session"
	"github.com/MikeSquared-Agency/botprobe/internal/slack"
	"github.com/MikeSquared-Agency/botprobe/internal/store"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cfg := config.Load()
	var keepCheckpoint bool

	cmd := &cobra.Command{
		Use:   "run <questions-file>",
		Short: "Run every question in a .txt or .yaml file against the bot",
		Long: `Log in, submit each question, poll until it is answered or times out, and
write one row per question to a .xlsx or .csv report.

With --checkpoint an interrupted run (Ctrl-C, --max-batches) can be resumed by
running the same command again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cfg.LogLevel, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBatch(ctx, cfg, args[0], keepCheckpoint, cmd.OutOrStdout(), slog.Default())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Mode, "mode", cfg.Mode, "sequential, concurrent or batched")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "parallel sessions in concurrent mode")
	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "questions per slice in batched mode")
	f.IntVar(&cfg.MaxBatches, "max-batches", cfg.MaxBatches, "stop after this many slices (0 = all)")
	f.DurationVar(&cfg.Delay, "delay", cfg.Delay, "pause between questions")
	f.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "give up on a question after this long")
	f.DurationVar(&cfg.SessionMaxAge, "session-max-age", cfg.SessionMaxAge, "re-login after this much idle time")
	f.IntVar(&cfg.Retries, "retries", cfg.Retries, "extra attempts for failed questions")
	f.StringVar(&cfg.CheckpointPath, "checkpoint", cfg.CheckpointPath, "checkpoint file for resume")
	f.BoolVar(&keepCheckpoint, "keep-checkpoint", false, "keep the checkpoint file after a complete run")
	f.StringVarP(&cfg.OutputPath, "output", "o", cfg.OutputPath, "report path (.xlsx or .csv)")
	f.IntVar(&cfg.Port, "port", cfg.Port, "serve progress over HTTP on this port (0 = off)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	return cmd
}

func runBatch(ctx context.Context, cfg config.Config, questionsPath string, keepCheckpoint bool, out io.Writer, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	mode, _ := batch.ParseMode(cfg.Mode)

	qs, err := questions.Load(questionsPath)
	if err != nil {
		return err
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = config.DefaultOutputPath(time.Now())
	}

	runner := batch.NewRunner(batch.Config{
		Target: session.Target{
			BaseURL:   cfg.BotBaseURL,
			BotID:     cfg.BotID,
			ProjectID: cfg.BotProjectID,
		},
		Credentials:    session.Credentials{Username: cfg.BotUsername, Password: cfg.BotPassword},
		Mode:           mode,
		Workers:        cfg.Workers,
		BatchSize:      cfg.BatchSize,
		MaxBatches:     cfg.MaxBatches,
		Delay:          cfg.Delay,
		SessionMaxAge:  cfg.SessionMaxAge,
		Submit:         botapi.SubmitOptions{MaxAge: cfg.SessionMaxAge},
		Poll:           botapi.PollOptions{Timeout: cfg.PollTimeout},
		Retries:        cfg.Retries,
		CheckpointPath: cfg.CheckpointPath,
	}, logger)

	runner.OnProgress(func(p batch.Progress) {
		fmt.Fprintf(out, "[%d/%d] %s\n", p.Processed, p.Total, p.Message)
	})

	var events *hermes.RunEvents
	if cfg.NatsURL != "" {
		nc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			logger.Warn("NATS unavailable, running without progress events", "error", err)
		} else {
			defer nc.Close()
			events = hermes.NewRunEvents(nc, logger)
			runner.OnProgress(events.OnProgress)
			logger.Info("NATS connected", "url", cfg.NatsURL)
		}
	}

	if cfg.Port > 0 {
		srv := api.NewServer(cfg.Port, runner, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("HTTP server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Fprintf(out, "Running %d questions (%s mode), estimated %s\n",
		len(qs), mode, runner.EstimatedRuntime(len(qs)).Round(time.Second))

	run, runErr := runner.Run(ctx, qs)
	if run == nil {
		return runErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	// The run may have been interrupted; everything below still reports what
	// was collected, so it must not depend on ctx.
	finishCtx := context.WithoutCancel(ctx)

	if err := report.Write(cfg.OutputPath, run.Results); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	counts := run.Counts()
	fmt.Fprintf(out, "Wrote %d rows to %s (%d success, %d failed, %d timeout)\n",
		len(run.Results), cfg.OutputPath,
		counts[batch.StatusSuccess], counts[batch.StatusFailed], counts[batch.StatusTimeout])

	if cfg.DatabaseURL != "" {
		saveRun(finishCtx, cfg.DatabaseURL, run, logger)
	}
	if events != nil {
		events.Completed(run)
	}
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		poster := slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		if _, err := poster.PostRunSummary(finishCtx, run, cfg.OutputPath); err != nil {
			logger.Warn("failed to post slack summary", "error", err)
		}
	}

	if !run.Complete {
		if cfg.CheckpointPath != "" {
			fmt.Fprintf(out, "Run incomplete, rerun the same command to resume from %s\n", cfg.CheckpointPath)
		}
		return runErr
	}
	if cfg.CheckpointPath != "" && !keepCheckpoint {
		cp, err := batch.LoadCheckpoint(cfg.CheckpointPath, qs)
		if err == nil {
			err = cp.Clear()
		}
		if err != nil {
			logger.Warn("failed to remove checkpoint", "path", cfg.CheckpointPath, "error", err)
		}
	}
	return nil
}

func saveRun(ctx context.Context, databaseURL string, run *batch.Run, logger *slog.Logger) {
	db, err := store.New(ctx, databaseURL)
	if err != nil {
		logger.Warn("database unavailable, run not stored", "error", err)
		return
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Warn("failed to migrate database", "error", err)
		return
	}
	if err := db.SaveRun(ctx, run); err != nil {
		logger.Warn("failed to store run", "run_id", run.ID.String(), "error", err)
		return
	}
	logger.Info("run stored", "run_id", run.ID.String(), "rows", len(run.Results))
}
