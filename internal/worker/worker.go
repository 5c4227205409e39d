// Package worker consumes prediction tasks from SQS and settles them
// against the prediction record the producer already created.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"stockcast/internal/external"
	"stockcast/internal/types"
)

// SQSReceiver abstracts the SQS consumer operations for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ResultStore persists task outcomes. Implemented by *db.PredictionRepo.
type ResultStore interface {
	MarkCompleted(ctx context.Context, id string, metrics types.JSONB, plotURLs []string) error
	MarkFailed(ctx context.Context, id string) error
}

// QuotaSettler records consumption for tasks charged on success.
// Implemented by *quota.Controller.
type QuotaSettler interface {
	ConfirmSuccess(ctx context.Context, userID string) error
}

// TaskRepublisher re-enqueues a task after a transient failure.
// Implemented by *queue.PredictTrigger.
type TaskRepublisher interface {
	Publish(ctx context.Context, msg types.PredictTaskMessage) error
}

// ResultNotifier delivers the outcome back to the chat channel that
// requested it. Only consulted when the task carries a chat ID.
type ResultNotifier interface {
	NotifySuccess(ctx context.Context, chatID int64, ticker string, result *external.PredictionResult) error
	NotifyFailure(ctx context.Context, chatID int64, ticker string) error
}

// WorkerMetrics is the telemetry subset the worker emits. Satisfied by
// *metrics.CloudWatchMetrics.
type WorkerMetrics interface {
	RecordPredictionLatency(ctx context.Context, channel types.Channel, duration time.Duration)
	RecordPredictorFailure(ctx context.Context, channel types.Channel)
}

// Config tunes the polling loop.
type Config struct {
	QueueURL          string
	MaxMessages       int32
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	Concurrency       int
	MaxRetries        int
	TaskTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessages <= 0 {
		c.MaxMessages = 10
	}
	if c.WaitTime <= 0 {
		c.WaitTime = 20 * time.Second
	}
	if c.VisibilityTimeout <= 0 {
		// Must exceed TaskTimeout or in-flight tasks get redelivered.
		c.VisibilityTimeout = 3 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 2 * time.Minute
	}
	return c
}

// Worker long-polls the predict queue and executes tasks. Messages in a
// batch run concurrently; each message handles its own failures so one
// bad task never blocks its batch.
type Worker struct {
	cfg         Config
	sqs         SQSReceiver
	predictor   external.PredictorService
	store       ResultStore
	quota       QuotaSettler
	republisher TaskRepublisher
	notifier    ResultNotifier
	metrics     WorkerMetrics
	logger      *slog.Logger
}

// New creates a Worker. republisher, notifier, and metrics may be nil:
// without a republisher transient failures go straight to the failed
// state, and without a notifier chat replies are skipped.
func New(cfg Config, client SQSReceiver, predictor external.PredictorService, store ResultStore, quota QuotaSettler, republisher TaskRepublisher, notifier ResultNotifier, met WorkerMetrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:         cfg.withDefaults(),
		sqs:         client,
		predictor:   predictor,
		store:       store,
		quota:       quota,
		republisher: republisher,
		notifier:    notifier,
		metrics:     met,
		logger:      logger,
	}
}

// Run polls until ctx is cancelled. Returns nil on clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "predict worker started",
		"queue_url", w.cfg.QueueURL,
		"concurrency", w.cfg.Concurrency,
	)

	for {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "predict worker stopping")
			return nil
		}

		out, err := w.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.cfg.QueueURL),
			MaxNumberOfMessages: w.cfg.MaxMessages,
			WaitTimeSeconds:     int32(w.cfg.WaitTime.Seconds()),
			VisibilityTimeout:   int32(w.cfg.VisibilityTimeout.Seconds()),
			AttributeNames: []sqsTypes.QueueAttributeName{
				sqsTypes.QueueAttributeName("ApproximateReceiveCount"),
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.ErrorContext(ctx, "receive from predict queue failed", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if len(out.Messages) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.cfg.Concurrency)
		for _, m := range out.Messages {
			g.Go(func() error {
				w.handleMessage(gctx, m)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// handleMessage runs a single task end to end. It never returns an
// error: the outcome is expressed through delete/republish so SQS
// redrive semantics stay in charge of redelivery.
func (w *Worker) handleMessage(ctx context.Context, m sqsTypes.Message) {
	if m.Body == nil || *m.Body == "" {
		w.logger.WarnContext(ctx, "discarding empty queue message",
			"message_id", aws.ToString(m.MessageId))
		w.deleteMessage(ctx, m)
		return
	}

	var msg types.PredictTaskMessage
	if err := json.Unmarshal([]byte(*m.Body), &msg); err != nil {
		// Poison pill: parse failures never succeed on redelivery.
		w.logger.ErrorContext(ctx, "discarding unparseable predict task",
			"message_id", aws.ToString(m.MessageId),
			"error", err,
		)
		w.deleteMessage(ctx, m)
		return
	}

	if msg.RequestID != "" {
		ctx = types.WithRequestID(ctx, msg.RequestID)
	}
	logger := w.logger.With(
		"task_id", msg.TaskID,
		"user_id", msg.UserID,
		"ticker", msg.Ticker,
		"channel", string(msg.Channel),
		"retry_count", msg.RetryCount,
	)
	logger.InfoContext(ctx, "processing predict task")

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	err := w.processTask(taskCtx, msg)
	cancel()

	if err == nil {
		w.deleteMessage(ctx, m)
		return
	}

	logger.ErrorContext(ctx, "predict task failed", "error", err)

	if w.republisher != nil && msg.RetryCount < w.cfg.MaxRetries {
		msg.RetryCount++
		if pubErr := w.republisher.Publish(ctx, msg); pubErr != nil {
			// Leave the original in flight; the visibility timeout
			// brings it back with the same retry count.
			logger.ErrorContext(ctx, "failed to republish predict task", "error", pubErr)
			return
		}
		w.deleteMessage(ctx, m)
		return
	}

	// Retries exhausted. The quota stays consumed for on_attempt tasks.
	if mfErr := w.store.MarkFailed(ctx, msg.TaskID); mfErr != nil {
		logger.ErrorContext(ctx, "failed to mark prediction failed", "error", mfErr)
	}
	if w.notifier != nil && msg.ChatID != 0 {
		if nErr := w.notifier.NotifyFailure(ctx, msg.ChatID, msg.Ticker); nErr != nil {
			logger.WarnContext(ctx, "failed to deliver failure reply", "error", nErr)
		}
	}
	w.deleteMessage(ctx, m)
}

// processTask runs the model, stores the result, and settles the quota
// charge for on_success tasks.
func (w *Worker) processTask(ctx context.Context, msg types.PredictTaskMessage) error {
	start := time.Now()

	result, err := w.predictor.Predict(ctx, msg.Ticker)
	if err != nil {
		if w.metrics != nil {
			w.metrics.RecordPredictorFailure(ctx, msg.Channel)
		}
		return err
	}
	if w.metrics != nil {
		w.metrics.RecordPredictionLatency(ctx, msg.Channel, time.Since(start))
	}

	if err := w.store.MarkCompleted(ctx, msg.TaskID, result.Metrics, result.PlotURLs); err != nil {
		return err
	}

	if msg.ChargePolicy == types.ChargeOnSuccess {
		// The result is already stored, so a settle failure must not
		// push the task back through the model. Log and move on.
		if err := w.quota.ConfirmSuccess(ctx, msg.UserID); err != nil {
			w.logger.WarnContext(ctx, "failed to record quota consumption",
				"task_id", msg.TaskID,
				"user_id", msg.UserID,
				"error", err,
			)
		}
	}

	if w.notifier != nil && msg.ChatID != 0 {
		if err := w.notifier.NotifySuccess(ctx, msg.ChatID, msg.Ticker, result); err != nil {
			w.logger.WarnContext(ctx, "failed to deliver result reply",
				"task_id", msg.TaskID,
				"chat_id", msg.ChatID,
				"error", err,
			)
		}
	}

	return nil
}

func (w *Worker) deleteMessage(ctx context.Context, m sqsTypes.Message) {
	if m.ReceiptHandle == nil {
		return
	}
	if _, err := w.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.cfg.QueueURL),
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		w.logger.ErrorContext(ctx, "failed to delete queue message",
			"message_id", aws.ToString(m.MessageId),
			"error", err,
		)
	}
}
