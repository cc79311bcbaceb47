package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ocr-job-pipeline/internal/config"
	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/signature"
	"ocr-job-pipeline/internal/telemetry"
)

// QStashPublisher hands messages to Upstash QStash, which delivers them by
// HTTP POST and retries delivery itself. The HMAC headers for the destination
// are attached as forwarded headers.
type QStashPublisher struct {
	client    *resty.Client
	workerURL string
	baseURL   string
	retries   int
	signer    *signature.Signer
}

func NewQStash(cfg config.DispatchConfig, publicBaseURL string, signer *signature.Signer) (*QStashPublisher, error) {
	if cfg.QStashToken == "" {
		return nil, errors.New("QSTASH_TOKEN is empty")
	}
	if cfg.QStashWorkerURL == "" {
		return nil, errors.New("QSTASH_WORKER_URL is empty")
	}
	timeout := cfg.QStashTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.QStashURL, "/")).
		SetAuthToken(cfg.QStashToken).
		SetTimeout(timeout)
	return &QStashPublisher{
		client:    client,
		workerURL: cfg.QStashWorkerURL,
		baseURL:   strings.TrimRight(publicBaseURL, "/"),
		retries:   cfg.QStashRetries,
		signer:    signer,
	}, nil
}

func (p *QStashPublisher) Name() string { return "qstash" }

func (p *QStashPublisher) PublishJobStart(ctx context.Context, msg models.StartMessage) error {
	return p.publish(ctx, p.workerURL, msg)
}

// PublishJobResult targets this service's own result callback.
func (p *QStashPublisher) PublishJobResult(ctx context.Context, jobID string, env models.ResultEnvelope) error {
	return p.publish(ctx, p.baseURL+"/ocr-jobs/"+url.PathEscape(jobID)+"/result", env)
}

func (p *QStashPublisher) publish(ctx context.Context, destination string, payload any) error {
	dest, err := url.Parse(destination)
	if err != nil || dest.Host == "" {
		return fmt.Errorf("invalid destination %q", destination)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Upstash-Retries", strconv.Itoa(p.retries)).
		SetBody(body)
	if p.signer != nil {
		ts, sig := p.signer.Headers("POST", dest.Path, dest.RawQuery, body)
		req.SetHeader("Upstash-Forward-"+signature.HeaderTimestamp, ts).
			SetHeader("Upstash-Forward-"+signature.HeaderSignature, sig)
	}

	resp, err := req.Post("/v2/publish/" + destination)
	if err != nil {
		telemetry.PublishErrors.WithLabelValues(p.Name()).Inc()
		return fmt.Errorf("qstash publish: %w", err)
	}
	if resp.IsError() {
		telemetry.PublishErrors.WithLabelValues(p.Name()).Inc()
		return fmt.Errorf("qstash publish: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (p *QStashPublisher) Close() error { return nil }
