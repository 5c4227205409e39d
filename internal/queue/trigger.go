// Package queue provides the SQS producer that dispatches prediction tasks
// to the worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"stockcast/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// PredictTrigger enqueues prediction tasks for asynchronous execution.
type PredictTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewPredictTrigger creates a PredictTrigger publishing to the given queue.
func NewPredictTrigger(client SQSSender, queueURL string, logger *slog.Logger) *PredictTrigger {
	return &PredictTrigger{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// EnqueuePrediction builds and publishes a task for an admitted request.
// taskID is the prediction row's ID so the worker can settle the result
// against the record the API already created. ChatID is zero for API
// traffic.
func (t *PredictTrigger) EnqueuePrediction(ctx context.Context, taskID string, actor types.Actor, ticker string, charge types.ChargePolicy, chatID int64) error {
	msg := types.PredictTaskMessage{
		TaskID:       taskID,
		UserID:       actor.UserID,
		Ticker:       ticker,
		ChargePolicy: charge,
		Channel:      actor.Channel,
		ChatID:       chatID,
		RequestID:    types.GetRequestID(ctx),
		EnqueuedAt:   time.Now().UTC(),
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}

	return t.Publish(ctx, msg)
}

// Publish serializes a task message and sends it to SQS. The worker also
// uses this path to re-publish a task with an incremented retry count.
func (t *PredictTrigger) Publish(ctx context.Context, msg types.PredictTaskMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to marshal predict task", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Channel)),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to send predict task to %s", t.queueURL), err)
	}

	t.logger.InfoContext(ctx, "predict task enqueued",
		"task_id", msg.TaskID,
		"user_id", msg.UserID,
		"ticker", msg.Ticker,
		"channel", string(msg.Channel),
		"retry_count", msg.RetryCount,
	)

	return nil
}
