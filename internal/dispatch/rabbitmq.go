package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/telemetry"
)

// RabbitPublisher publishes persistent messages to a durable direct exchange
// and waits for the broker's publisher confirm before returning.
type RabbitPublisher struct {
	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	exchange  string
	startKey  string
	resultKey string
}

// DialRabbit opens the connection once and declares the topology: a durable
// direct exchange with durable start and result queues bound by their names.
func DialRabbit(url, exchange, startQueue, resultQueue string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	fail := func(err error) (*RabbitPublisher, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fail(fmt.Errorf("declare exchange %s: %w", exchange, err))
	}
	for _, q := range []string{startQueue, resultQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fail(fmt.Errorf("declare queue %s: %w", q, err))
		}
		if err := ch.QueueBind(q, q, exchange, false, nil); err != nil {
			return fail(fmt.Errorf("bind queue %s: %w", q, err))
		}
	}
	if err := ch.Confirm(false); err != nil {
		return fail(fmt.Errorf("enable confirms: %w", err))
	}

	return &RabbitPublisher{
		conn:      conn,
		channel:   ch,
		exchange:  exchange,
		startKey:  startQueue,
		resultKey: resultQueue,
	}, nil
}

func (p *RabbitPublisher) Name() string { return "rabbitmq" }

func (p *RabbitPublisher) PublishJobStart(ctx context.Context, msg models.StartMessage) error {
	return p.publish(ctx, p.startKey, msg.JobID, msg)
}

func (p *RabbitPublisher) PublishJobResult(ctx context.Context, jobID string, env models.ResultEnvelope) error {
	return p.publish(ctx, p.resultKey, jobID, resultMessage{JobID: jobID, ResultEnvelope: env})
}

func (p *RabbitPublisher) publish(ctx context.Context, routingKey, jobID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		telemetry.PublishErrors.WithLabelValues(p.Name()).Inc()
		return fmt.Errorf("publish to %s/%s: %w", p.exchange, routingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		telemetry.PublishErrors.WithLabelValues(p.Name()).Inc()
		return fmt.Errorf("await confirm for %s: %w", jobID, err)
	}
	if !acked {
		telemetry.PublishErrors.WithLabelValues(p.Name()).Inc()
		return fmt.Errorf("broker nacked message for job %s", jobID)
	}
	return nil
}

// Close tears down the channel and connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
