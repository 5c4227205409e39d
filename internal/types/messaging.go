package types

import "time"

// PredictTaskMessage is the SQS payload sent from the API (or bot) to the
// prediction worker. The struct is the transport envelope carrying all
// information the worker needs to run the model call, persist the result,
// and settle the deferred quota charge.
type PredictTaskMessage struct {
	// Core Identity
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
	Ticker string `json:"ticker"`

	// Routing: on_success tasks charge the quota only after the model call
	// completes; the worker calls ConfirmSuccess when the result is stored.
	ChargePolicy ChargePolicy `json:"charge_policy"`
	Channel      Channel      `json:"channel"`

	// Reply routing for the chat-bot channel. Zero when the task did not
	// originate from Telegram.
	ChatID int64 `json:"chat_id,omitempty"`

	// Retry State: carries retry count across the SQS publish cycle.
	// Incremented by the worker on transient failures before re-publishing.
	RetryCount int `json:"retry_count"`

	// Observability
	RequestID  string    `json:"request_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
