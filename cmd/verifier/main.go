// Command verifier runs the audio dataset verification service: HTTP
// ingress, decryption engine, verification pipeline workers, and the reward
// applier, all over one PostgreSQL session store.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/audio-verifier/infrastructure/metrics"
	"github.com/R3E-Network/audio-verifier/internal/config"
	"github.com/R3E-Network/audio-verifier/internal/database"
	"github.com/R3E-Network/audio-verifier/internal/decrypt"
	"github.com/R3E-Network/audio-verifier/internal/embedding"
	"github.com/R3E-Network/audio-verifier/internal/fingerprint"
	"github.com/R3E-Network/audio-verifier/internal/httpapi"
	"github.com/R3E-Network/audio-verifier/internal/llm"
	"github.com/R3E-Network/audio-verifier/internal/pipeline"
	"github.com/R3E-Network/audio-verifier/internal/quality"
	"github.com/R3E-Network/audio-verifier/internal/rewards"
	"github.com/R3E-Network/audio-verifier/internal/session"
	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLog := logger.New(logger.LoggingConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		appLog.Fatalf("Failed to load tuning: %v", err)
	}

	// --- Database ---
	db, err := database.Open(ctx, database.Config{
		URL:            cfg.DatabaseURL,
		MaxConnections: cfg.DBMaxConnections,
	})
	if err != nil {
		appLog.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		appLog.Fatalf("Failed to ensure schema: %v", err)
	}

	store := session.NewPostgresStore(db, appLog)
	applier := rewards.NewApplier(db, appLog)

	// --- Metrics ---
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New("verifier")
	}

	// --- Decryption engine (optional: encrypted flow only) ---
	var decryptor httpapi.Decryptor
	if cfg.EncryptedFlowConfigured() {
		aggregator, err := decrypt.NewAggregatorClient(decrypt.AggregatorConfig{
			BaseURL:         cfg.AggregatorURL,
			Token:           cfg.AggregatorToken,
			Logger:          appLog,
			PropagationWait: tuning.Fetch.PropagationWait.Duration,
			RetryDelay:      tuning.Fetch.RetryDelay.Duration,
			MaxRetries:      tuning.Fetch.MaxRetries,
			Timeout:         tuning.Fetch.Timeout.Duration,
		})
		if err != nil {
			appLog.Fatalf("Failed to create aggregator client: %v", err)
		}
		keys, err := decrypt.NewKeyServiceClient(decrypt.KeyServiceConfig{
			BaseURL:        cfg.KeyServiceURL,
			PackageID:      cfg.KeyPackageID,
			Logger:         appLog,
			AttemptTimeout: tuning.KeyRecovery.AttemptTimeout.Duration,
			MaxAttempts:    tuning.KeyRecovery.MaxAttempts,
		})
		if err != nil {
			appLog.Fatalf("Failed to create key service client: %v", err)
		}
		decryptor = decrypt.NewDecryptor(aggregator, keys, appLog)
	} else {
		appLog.Warn("encrypted blob flow disabled (aggregator/key service not configured)")
	}

	// --- External analysis services ---
	qualityChecker, err := quality.NewHTTPChecker(quality.Config{
		BaseURL: cfg.QualityServiceURL,
		Logger:  appLog,
	})
	if err != nil {
		appLog.Fatalf("Failed to create quality client: %v", err)
	}

	var detector fingerprint.Detector
	if cfg.FingerprintServiceURL != "" {
		detector, err = fingerprint.NewHTTPDetector(fingerprint.Config{
			BaseURL: cfg.FingerprintServiceURL,
			APIKey:  cfg.FingerprintAPIKey,
			Logger:  appLog,
		})
		if err != nil {
			appLog.Fatalf("Failed to create fingerprint client: %v", err)
		}
	} else {
		appLog.Warn("fingerprint service not configured; copyright checks disabled")
		detector = fingerprint.NewDisabledDetector()
	}

	llmClient, err := llm.NewClient(llm.Config{
		BaseURL: cfg.TranscriptionAPIURL,
		APIKey:  cfg.TranscriptionAPIKey,
		Logger:  appLog,
	})
	if err != nil {
		appLog.Fatalf("Failed to create llm client: %v", err)
	}

	var embedder pipeline.Embedder
	if cfg.EmbeddingAPIURL != "" {
		client, err := embedding.NewClient(embedding.Config{
			BaseURL: cfg.EmbeddingAPIURL,
			APIKey:  cfg.AnalysisAPIKey,
			Logger:  appLog,
		})
		if err != nil {
			appLog.Fatalf("Failed to create embedding client: %v", err)
		}
		embedder = client
	}

	// --- Pipeline workers ---
	pipe := pipeline.New(pipeline.Options{
		Store:       store,
		Quality:     qualityChecker,
		Fingerprint: detector,
		LLM:         llmClient,
		Rewards:     applier,
		Embedder:    embedder,
		Metrics:     m,
		Tuning:      tuning,
		Logger:      appLog,
	})

	dispatcher := pipeline.NewDispatcher(pipe, cfg.MaxConcurrentVerifications, cfg.VerifierQueueSize, appLog)
	dispatcher.Start(ctx)

	// --- Background workers ---
	stopRanks := make(chan struct{})
	go rankRefreshWorker(ctx, applier, appLog, cfg.RankRefreshInterval, stopRanks)

	// --- HTTP server ---
	svc := httpapi.New(httpapi.Options{
		Config:     cfg,
		Store:      store,
		Decryptor:  decryptor,
		Dispatcher: dispatcher,
		DB:         db,
		Metrics:    m,
		Logger:     appLog,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           svc.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		appLog.Infof("verifier service listening on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatalf("Server error: %v", err)
		}
	}()

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	appLog.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Errorf("Shutdown error: %v", err)
	}
	close(stopRanks)
	dispatcher.Stop()
	appLog.Info("Service stopped")
}

// rankRefreshWorker periodically recomputes leaderboard ranks.
func rankRefreshWorker(ctx context.Context, applier *rewards.Applier, log *logger.Logger, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := applier.RefreshRanks(ctx); err != nil {
				log.WithError(err).Warn("rank refresh failed")
			}
		}
	}
}
