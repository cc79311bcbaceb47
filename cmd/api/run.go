package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	api "ocr-job-pipeline/internal/api"
	"ocr-job-pipeline/internal/blob"
	"ocr-job-pipeline/internal/chat"
	"ocr-job-pipeline/internal/config"
	"ocr-job-pipeline/internal/dispatch"
	"ocr-job-pipeline/internal/ocr"
	"ocr-job-pipeline/internal/ratelimit"
	"ocr-job-pipeline/internal/signature"
	"ocr-job-pipeline/internal/store"
)

// jobStore is what the run command needs from either store driver.
type jobStore interface {
	ocr.Store
	Ping(ctx context.Context) error
	Close()
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the OCR job API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer st.Close()

		signer := signature.NewSigner(cfg.Signature.Secret)
		publisher := dispatch.New(ctx, cfg.Dispatch, cfg.PublicBaseURL, signer, log)
		defer func() { _ = publisher.Close() }()

		blobs, err := blob.New(ctx, cfg.Blob)
		if err != nil {
			log.Warn("blob store unavailable, uploads and signed urls disabled", zap.Error(err))
			blobs = nil
		}

		quota, closeQuota := openQuota(ctx, cfg, log)
		defer closeQuota()

		telegram := chat.NewTelegram(cfg.Telegram, cfg.Intake.ImageMaxBytes)
		if !telegram.Enabled() {
			log.Warn("TELEGRAM_BOT_TOKEN not set, chat messages will fail")
		}

		svc := ocr.NewService(ocr.Options{
			Store:        st,
			Publisher:    publisher,
			Chat:         telegram,
			Blob:         blobs,
			Quota:        quota,
			Formatter:    ocr.NewFormatter(cfg.MessageLocale),
			Logger:       log.Named("ocr"),
			MaxAttempts:  cfg.Store.DefaultMaxAttempts,
			SignedURLTTL: cfg.Blob.SignedURLTTL,
			UploadFolder: cfg.Blob.UploadFolder,
			MaxImageDim:  cfg.Intake.ImageMaxDimension,
			AllowedUsers: cfg.Telegram.AllowedUserIDs,
			LedgerLoc:    cfg.LedgerLocation(),
		})

		gate := signature.NewGate(
			signature.NewVerifier(cfg.Signature.Secret, cfg.Signature.Window),
			signature.NewQStashVerifier(cfg.Dispatch.QStashCurrentSigningKey, cfg.Dispatch.QStashNextSigningKey),
			cfg.PublicBaseURL,
			log,
		)
		server := api.New(api.Options{
			Service:       svc,
			Health:        st,
			Gate:          gate,
			WebhookSecret: cfg.Telegram.WebhookSecret,
			DevUploads:    !cfg.IsProduction(),
			MaxUploadLen:  cfg.Intake.ImageMaxBytes,
			Logger:        log,
		})

		httpServer := &http.Server{
			Addr:              ":" + cfg.HTTPPort,
			Handler:           server.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			log.Info("api listening", zap.String("addr", httpServer.Addr), zap.String("env", cfg.Env))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
		}

		log.Info("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	},
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (jobStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	case "postgres":
		st, err := store.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Store.MigrateOnStart {
			if err := st.RunMigrations(ctx, log.Named("migrate")); err != nil {
				st.Close()
				return nil, err
			}
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// openQuota connects the Redis client behind the daily upload limit. A
// missing Redis disables the limit rather than failing startup.
func openQuota(ctx context.Context, cfg config.Config, log *zap.Logger) (*ratelimit.UploadQuota, func()) {
	if cfg.Intake.DailyUploadLimit <= 0 {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Dispatch.RedisAddr,
		Password: cfg.Dispatch.RedisPassword,
		DB:       cfg.Dispatch.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, upload quota disabled", zap.String("addr", cfg.Dispatch.RedisAddr), zap.Error(err))
		_ = client.Close()
		return nil, func() {}
	}
	return ratelimit.NewUploadQuota(client, cfg.Intake.DailyUploadLimit), func() { _ = client.Close() }
}
