package retryer

import (
	"context"
	"encoding/json"
	"intake/internal/config"
	"intake/internal/rabbitmq"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Task is one mismatch retry request carried over the queue
type Task struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	DocumentKey string    `json:"document_key"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Queue publishes retry tasks to the broker. Implements the ingestion
// pipeline's RetryScheduler.
type Queue struct {
	rabbit rabbitmq.Client
	cfg    config.RabbitMQConfig
}

// NewQueue declares the retry topology and returns a publisher for it
func NewQueue(client rabbitmq.Client, cfg config.RabbitMQConfig) (*Queue, error) {
	if err := rabbitmq.SetupRetryTopology(client, cfg); err != nil {
		return nil, err
	}
	return &Queue{rabbit: client, cfg: cfg}, nil
}

// ScheduleMismatchRetry enqueues a document whose totals did not reconcile
func (q *Queue) ScheduleMismatchRetry(ctx context.Context, jobID, documentKey string) error {
	task := Task{
		ID:          uuid.NewString(),
		JobID:       jobID,
		DocumentKey: documentKey,
		EnqueuedAt:  time.Now(),
	}

	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return q.rabbit.Publish(q.cfg.ExchangeName, q.cfg.RoutingKey, body, amqp.Table{
		"task_type": "mismatch_retry",
	})
}
