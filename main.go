package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/john/livechat/internal/config"
	"github.com/john/livechat/internal/health"
	"github.com/john/livechat/internal/kick"
	"github.com/john/livechat/internal/message"
	"github.com/john/livechat/internal/recorder"
	"github.com/john/livechat/internal/telemetry"
	"github.com/john/livechat/internal/twitch"
	"github.com/john/livechat/internal/uploader"
	"github.com/john/livechat/internal/webclient"
	"github.com/john/livechat/internal/youtube"
)

var version = "dev"

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load(".env")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogger(cfg.Log)
	slog.Info("livechat starting", slog.String("version", version), slog.String("config", configPath))

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("livechat", version)
	if err != nil {
		slog.Warn("tracing unavailable", slog.Any("err", err))
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	messageChan := make(chan message.Message, cfg.Recorder.BufferSize)
	fileChan := make(chan string, 100)

	httpClient := webclient.NewClient(cfg.YouTube.RequestTimeout())

	var ytConn *youtube.Connector
	if len(cfg.YouTube.VideoIDs) > 0 {
		slog.Info("monitoring youtube videos", slog.Any("video_ids", cfg.YouTube.VideoIDs))
		ytConn = youtube.New(cfg.YouTube.VideoIDs, youtube.Options{
			BaseURL:                cfg.YouTube.BaseURL,
			UserAgent:              cfg.YouTube.UserAgent,
			RequestTimeout:         cfg.YouTube.RequestTimeout(),
			PollInterval:           cfg.YouTube.PollInterval(),
			ScheduledRecheck:       cfg.YouTube.ScheduledRecheck(),
			MaxConsecutiveFailures: cfg.YouTube.MaxConsecutiveFailures,
			HTTPClient:             httpClient,
		})
	}

	var twitchConn *twitch.Connector
	if len(cfg.Twitch.Channels) > 0 {
		slog.Info("monitoring twitch channels", slog.Any("channels", cfg.Twitch.Channels))
		twitchConn = twitch.New(cfg.Twitch.Username, cfg.Twitch.OAuth, cfg.Twitch.Channels)
	}

	var kickConn *kick.Connector
	if cfg.Kick.Enabled && len(cfg.Kick.Channels) > 0 {
		channels := make([]kick.ChannelConfig, 0, len(cfg.Kick.Channels))
		for _, ch := range cfg.Kick.Channels {
			channels = append(channels, kick.ChannelConfig{Slug: ch.Slug, ChatroomID: ch.ChatroomID})
		}
		slog.Info("monitoring kick channels", slog.Int("count", len(channels)))
		kickConn = kick.New(channels, httpClient)
	}

	rec := recorder.New(
		cfg.Recorder.OutputDir,
		cfg.Recorder.BufferSize,
		cfg.Recorder.RotateMinutes,
		cfg.Recorder.RotateMegabytes,
	)

	var up *uploader.Uploader
	if cfg.S3.Enabled() {
		up, err = uploader.New(ctx, uploader.Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			RoleARN:         cfg.S3.RoleARN,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
			DeleteAfter:     cfg.Uploader.DeleteAfterUpload,
			MaxRetries:      cfg.Uploader.MaxRetries,
		})
		if err != nil {
			slog.Error("failed to create uploader", slog.Any("err", err))
			os.Exit(1)
		}
		if err := up.ScanAndUploadExisting(ctx, cfg.Recorder.OutputDir); err != nil {
			slog.Warn("failed to scan for existing files", slog.Any("err", err))
		}
	} else {
		slog.Info("s3 not configured, rotated files stay on disk", slog.String("dir", cfg.Recorder.OutputDir))
	}

	// A nil *youtube.Connector must not end up inside the interface.
	var sessions health.SessionReporter
	if ytConn != nil {
		sessions = ytConn
	}
	healthServer := health.New(cfg.Health.Addr, sessions)

	var wg sync.WaitGroup
	run := func(name string, start func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(); err != nil && err != context.Canceled {
				slog.Error("component stopped with error", slog.String("component", name), slog.Any("err", err))
			}
		}()
	}

	if ytConn != nil {
		run("youtube", func() error { return ytConn.Start(ctx, messageChan) })
	}
	if twitchConn != nil {
		run("twitch", func() error { return twitchConn.Start(ctx, messageChan) })
	}
	if kickConn != nil {
		run("kick", func() error { return kickConn.Start(ctx, messageChan) })
	}
	run("recorder", func() error { return rec.Start(ctx, messageChan, fileChan) })
	if up != nil {
		run("uploader", func() error { return up.Start(ctx, fileChan) })
	}
	run("health", healthServer.Start)

	slog.Info("all components started")

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down status server", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timeout exceeded, forcing exit")
	}
	slog.Info("livechat stopped")
}

// setupLogger installs the default slog logger from the log config
func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
