package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/docintel/internal/bootstrap"
	"github.com/kirillkom/docintel/internal/config"
	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
	"github.com/kirillkom/docintel/internal/observability/logging"
	"github.com/kirillkom/docintel/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:        logger,
		WorkerMetrics: workerMetrics,
	})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	taskTimeout := time.Duration(cfg.WorkerTaskTimeoutSecs) * time.Second
	retryDelay := time.Duration(cfg.WorkerRetryDelaySeconds) * time.Second

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeProcessTasks(ctx, func(handlerCtx context.Context, task ports.ProcessTask) error {
		start := time.Now()
		workerMetrics.StartDocument()

		processCtx, cancel := context.WithTimeout(handlerCtx, taskTimeout)
		defer cancel()

		if doc, getErr := app.Repo.GetByID(processCtx, task.DocumentID); getErr == nil {
			workerMetrics.ObserveQueueLag("worker", time.Since(doc.UpdatedAt))
		}

		processErr := app.ProcessUC.ProcessByID(processCtx, task.DocumentID)
		workerMetrics.FinishDocument("worker", time.Since(start), processErr)
		if processErr == nil {
			return nil
		}

		// A conflict means another worker claimed the document or a
		// reviewer intervened. Retrying would only repeat the collision.
		if domain.IsKind(processErr, domain.ErrConflict) || domain.IsKind(processErr, domain.ErrDocumentNotFound) {
			logger.Warn("task dropped",
				"document_id", task.DocumentID,
				"attempt", task.Attempt,
				"error", processErr)
			return nil
		}

		attempt := task.Attempt + 1
		if retriesExhausted(attempt, cfg.WorkerMaxAttempts) {
			logger.Error("task exhausted retries",
				"document_id", task.DocumentID,
				"attempts", attempt,
				"error", processErr)
			return processErr
		}

		logger.Warn("task failed, scheduling retry",
			"document_id", task.DocumentID,
			"attempt", attempt,
			"delay", retryDelay*time.Duration(attempt),
			"error", processErr)
		workerMetrics.RecordRetry("worker")

		retryTask := ports.ProcessTask{DocumentID: task.DocumentID, Attempt: attempt}
		time.AfterFunc(retryDelay*time.Duration(attempt), func() {
			publishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := app.Repo.UpdateStatusIf(publishCtx, task.DocumentID,
				domain.StatusFailed, domain.StatusQueued, ""); err != nil {
				logger.Warn("retry skipped, document state changed",
					"document_id", task.DocumentID, "error", err)
				return
			}
			if err := app.Queue.PublishProcessTask(publishCtx, retryTask); err != nil {
				logger.Error("retry publish failed",
					"document_id", task.DocumentID, "error", err)
			}
		})
		return processErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}

// retriesExhausted reports whether the failed attempt has used up the
// retry budget. maxRetries counts retries after the first run, so a
// budget of 3 allows four executions in total.
func retriesExhausted(failedAttempt, maxRetries int) bool {
	return failedAttempt > maxRetries
}
