package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campushub/thesis-api/pkg/config"
	"github.com/campushub/thesis-api/pkg/jobs"
)

type mailMetrics interface {
	RecordMailSent(template string)
	RecordGatewayFailure(gatewayName string)
}

// QueuedMailer hands messages to a background worker pool so request
// handlers never block on the mail transport. Failed deliveries are
// retried by the queue; a message that exhausts its retries is dropped
// with an error log.
type QueuedMailer struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewQueuedMailer wraps the delegate mailer with an in-memory worker
// queue. The metrics sink may be nil.
func NewQueuedMailer(delegate Mailer, cfg config.MailConfig, metrics mailMetrics, logger *zap.Logger) *QueuedMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(MailMessage)
		if !ok {
			return fmt.Errorf("unexpected mail job payload %T", job.Payload)
		}
		if err := delegate.Send(ctx, msg); err != nil {
			if metrics != nil {
				metrics.RecordGatewayFailure("mail")
			}
			return err
		}
		if metrics != nil {
			metrics.RecordMailSent(string(msg.Template))
		}
		return nil
	}
	queue := jobs.NewQueue("mail", handler, jobs.QueueConfig{
		Workers:    2,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return &QueuedMailer{queue: queue, logger: logger}
}

// Start launches the delivery workers.
func (m *QueuedMailer) Start(ctx context.Context) {
	m.queue.Start(ctx)
}

// Stop drains the workers.
func (m *QueuedMailer) Stop() {
	m.queue.Stop()
}

// Send enqueues the message for background delivery.
func (m *QueuedMailer) Send(_ context.Context, msg MailMessage) error {
	return m.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(msg.Template),
		Payload: msg,
	})
}
