package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ocr-job-pipeline/internal/config"
	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/telemetry"
)

// RedisPublisher appends messages to Redis lists consumed with BLPOP by the
// worker. Each publish also stamps a per-job metadata hash.
type RedisPublisher struct {
	client     *redis.Client
	startList  string
	resultList string
	metaPrefix string
}

// NewRedis connects and pings Redis.
func NewRedis(ctx context.Context, cfg config.DispatchConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client, cfg.RedisStartList, cfg.RedisResultsList), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, startList, resultList string) *RedisPublisher {
	return &RedisPublisher{
		client:     client,
		startList:  startList,
		resultList: resultList,
		metaPrefix: "ocr:jobmeta:",
	}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) PublishJobStart(ctx context.Context, msg models.StartMessage) error {
	return p.push(ctx, p.startList, msg.JobID, "last_start_at", msg)
}

func (p *RedisPublisher) PublishJobResult(ctx context.Context, jobID string, env models.ResultEnvelope) error {
	return p.push(ctx, p.resultList, jobID, "last_result_at", resultMessage{JobID: jobID, ResultEnvelope: env})
}

func (p *RedisPublisher) push(ctx context.Context, list, jobID, field string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.RPush(ctx, list, body)
	pipe.HSet(ctx, p.metaPrefix+jobID, field, time.Now().UTC().UnixMilli())
	pipe.HIncrBy(ctx, p.metaPrefix+jobID, "publishes", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.PublishErrors.WithLabelValues(p.Name()).Inc()
		return fmt.Errorf("push to %s: %w", list, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }
