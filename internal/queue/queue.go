package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/panocam/internal/config"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

const (
	StitchQueueName = "stitch_jobs"
	ExchangeName    = "panocam"
	maxPriority     = 10
)

// Handler processes one stitch job. retryCount is how many times the job
// was retried before this delivery.
type Handler func(ctx context.Context, job *models.StitchJob, retryCount int) error

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logging.Logger
}

// New creates a new queue client
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = channel.QueueDeclare(
		StitchQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-max-priority": maxPriority},
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = channel.QueueBind(
		StitchQueueName,
		StitchQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	q := &Queue{
		conn:    conn,
		channel: channel,
		logger:  logger.WithComponent("queue"),
	}
	if err := q.SetupDeadLetterQueue(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// Ping reports whether the broker connection is open
func (q *Queue) Ping() error {
	if q.conn == nil || q.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// PublishJob publishes a stitch job to the queue
func (q *Queue) PublishJob(ctx context.Context, job *models.StitchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		StitchQueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Priority:     messagePriority(job.Priority),
			MessageId:    job.ID,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

// ConsumeJobs starts consuming stitch jobs from the queue. Jobs are handled
// one at a time since the stitch worker runs a single task.
func (q *Queue) ConsumeJobs(ctx context.Context, handler Handler) error {
	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		StitchQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				handleDelivery(ctx, q, q.logger, msg, handler)
			}
		}
	}()

	return nil
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(StitchQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}

// retrier moves failed jobs out of the main queue
type retrier interface {
	PublishToRetryQueue(ctx context.Context, job *models.StitchJob, retryCount int) error
	PublishToDeadLetterQueue(ctx context.Context, job *models.StitchJob, reason string) error
}

// handleDelivery runs handler on one message. Undecodable messages and
// permanent failures go to the dead letter queue, others are retried with
// backoff. The message is requeued only if neither publish succeeds.
func handleDelivery(ctx context.Context, r retrier, logger *logging.Logger, msg amqp.Delivery, handler Handler) {
	var job models.StitchJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		logger.ErrorWithErr("Dropping undecodable stitch job", err)
		msg.Nack(false, false)
		return
	}

	retries := retryCount(msg.Headers)
	err := handler(ctx, &job, retries)
	if err == nil {
		msg.Ack(false)
		return
	}

	log := logger.WithFields(map[string]interface{}{
		"job_id":      job.ID,
		"source":      job.SourcePath,
		"retry_count": retries,
	})
	if permanent(err) {
		log.ErrorWithErr("Stitch job failed permanently", err)
		err = r.PublishToDeadLetterQueue(ctx, &job, err.Error())
	} else {
		log.ErrorWithErr("Stitch job failed, scheduling retry", err)
		err = r.PublishToRetryQueue(ctx, &job, retries)
	}
	if err != nil {
		log.ErrorWithErr("Failed to reroute stitch job, requeueing", err)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// permanent reports failures a retry cannot fix
func permanent(err error) bool {
	return errors.Is(err, models.ErrFileMissing) ||
		errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrInvalidCombination)
}

func messagePriority(p int) uint8 {
	if p < 0 {
		return 0
	}
	if p > maxPriority {
		return maxPriority
	}
	return uint8(p)
}

func retryCount(headers amqp.Table) int {
	switch v := headers["x-retry-count"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
