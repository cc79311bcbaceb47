// Package dispatch publishes job-start and job-result messages to the
// configured broker binding.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ocr-job-pipeline/internal/config"
	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/signature"
)

// ErrNotConfigured is returned by every publish on a disabled dispatcher.
var ErrNotConfigured = errors.New("dispatcher not configured")

// Publisher is safe for concurrent use.
type Publisher interface {
	PublishJobStart(ctx context.Context, msg models.StartMessage) error
	PublishJobResult(ctx context.Context, jobID string, env models.ResultEnvelope) error
	Name() string
	Close() error
}

// resultMessage is the queued form of a result envelope.
type resultMessage struct {
	JobID string `json:"jobId"`
	models.ResultEnvelope
}

// New connects the binding selected by cfg.Binding. A binding that cannot be
// established is logged and replaced by a Disabled publisher so the rest of
// the service keeps running.
func New(ctx context.Context, cfg config.DispatchConfig, publicBaseURL string, signer *signature.Signer, log *zap.Logger) Publisher {
	log = log.Named("dispatch").With(zap.String("binding", cfg.Binding))
	p, err := connect(ctx, cfg, publicBaseURL, signer)
	if err != nil {
		log.Error("dispatcher disabled", zap.Error(err))
		return Disabled{Reason: err.Error()}
	}
	log.Info("dispatcher connected")
	return p
}

func connect(ctx context.Context, cfg config.DispatchConfig, publicBaseURL string, signer *signature.Signer) (Publisher, error) {
	switch cfg.Binding {
	case "rabbitmq":
		if cfg.RabbitURL == "" {
			return nil, errors.New("RABBITMQ_URL is empty")
		}
		return DialRabbit(cfg.RabbitURL, cfg.RabbitExchange, cfg.RabbitQueue, cfg.RabbitResultQueue)
	case "qstash":
		return NewQStash(cfg, publicBaseURL, signer)
	case "redis":
		return NewRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown dispatch binding %q", cfg.Binding)
	}
}

// Disabled fails every publish immediately.
type Disabled struct {
	Reason string
}

func (d Disabled) PublishJobStart(context.Context, models.StartMessage) error {
	return d.err()
}

func (d Disabled) PublishJobResult(context.Context, string, models.ResultEnvelope) error {
	return d.err()
}

func (Disabled) Name() string { return "disabled" }

func (Disabled) Close() error { return nil }

func (d Disabled) err() error {
	if d.Reason == "" {
		return ErrNotConfigured
	}
	return fmt.Errorf("%w: %s", ErrNotConfigured, d.Reason)
}
