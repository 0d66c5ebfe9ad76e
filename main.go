// Command chatcaster is a headless backend for a live-stream chat overlay.
// It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Loads the blacklist and slang tables and starts the speech worker.
//   - Builds the chat provider (YouTube Data API or Twitch IRC) and the feed
//     controller, plus the optional Postgres archive and Redis relay sinks.
//   - Serves health, status, metrics, the event stream and command endpoints.
//   - Connects to CHANNEL_URL at startup when set.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/onnwee/chatcaster/archive"
	"github.com/onnwee/chatcaster/chat"
	"github.com/onnwee/chatcaster/config"
	"github.com/onnwee/chatcaster/feed"
	"github.com/onnwee/chatcaster/relay"
	"github.com/onnwee/chatcaster/resolver"
	"github.com/onnwee/chatcaster/server"
	"github.com/onnwee/chatcaster/speech"
	"github.com/onnwee/chatcaster/telemetry"
	"github.com/onnwee/chatcaster/wordlist"
	"github.com/onnwee/chatcaster/youtubeapi"
)

const version = "1.0.0"

func main() {
	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	if err := run(); err != nil {
		slog.Error("chatcaster exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(cfg.OTLPEndpoint, "chatcaster", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	words := wordlist.NewStore(cfg.BlacklistPath, cfg.SlangPath)
	if err := words.Reload(); err != nil {
		slog.Warn("word lists not loaded, starting with empty tables", slog.Any("err", err))
	}

	worker := newSpeechWorker(cfg, words)
	worker.Start()

	provider, directRefs, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}

	opts := feed.Options{
		Provider:   provider,
		Resolver:   &resolver.Resolver{Timeout: cfg.ResolveTimeout},
		DirectRefs: directRefs,
		Speech:     worker,
		Words:      words,
		SessionOptions: []chat.SessionOption{
			chat.WithGraceDelay(cfg.GraceDelay),
			chat.WithPollInterval(cfg.PollInterval),
		},
	}
	srvOpts := server.Options{
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.AllowedOrigins(),
	}
	if cfg.RateLimitEnabled {
		srvOpts.RequestsPerMinute = cfg.RateLimitPerMinute
	}

	var stopSinks []func()
	if cfg.ArchiveDSN != "" {
		db, err := archive.Open(ctx, cfg.ArchiveDSN)
		if err != nil {
			return fmt.Errorf("failed to open archive db: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("failed to close archive db", slog.Any("err", err))
			}
		}()
		if err := archive.Migrate(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate archive db: %w", err)
		}
		store := archive.NewPGStore(db)
		archiver := archive.New(store, archive.DefaultConfig)
		archiver.Start(context.WithoutCancel(ctx))
		stopSinks = append(stopSinks, archiver.Stop)
		opts.Sinks = append(opts.Sinks, archiver)
		srvOpts.History = store
		srvOpts.ReadyChecks = append(srvOpts.ReadyChecks, server.ReadyCheck{Name: "archive", Check: store.Ping})
		slog.Info("archive sink enabled", slog.String("component", "archive"))
	}
	if cfg.RedisURL != "" {
		rdb, err := relay.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()
		pub := relay.NewPublisher(rdb, cfg.RedisChannel)
		pub.Start(context.WithoutCancel(ctx))
		stopSinks = append(stopSinks, pub.Stop)
		opts.Sinks = append(opts.Sinks, pub)
		srvOpts.ReadyChecks = append(srvOpts.ReadyChecks, server.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		slog.Info("relay sink enabled", slog.String("component", "relay"), slog.String("channel", pub.Channel()))
	}

	ctl := feed.New(opts)
	defer func() {
		// Session first so no sink receives messages after it stopped.
		ctl.Close()
		for _, stopSink := range stopSinks {
			stopSink()
		}
	}()

	if cfg.ChannelURL != "" {
		slog.Info("connecting to configured channel", slog.String("ref", cfg.ChannelURL))
		ctl.ConnectRefAsync(cfg.ChannelURL)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, ctl, srvOpts))
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func newSpeechWorker(cfg *config.Config, words *wordlist.Store) *speech.Worker {
	settings := speech.NewSettings()
	settings.SetEnabled(cfg.TTSEnabled)
	settings.SetTranslateEnabled(cfg.TTSTranslate)
	if cfg.TTSToVI {
		settings.SetDirection(speech.ToVietnamese)
	} else {
		settings.SetDirection(speech.ToEnglish)
	}
	settings.SetVolumePercent(cfg.TTSVolume)

	hc := &http.Client{Timeout: 15 * time.Second}
	opts := []speech.Option{
		speech.WithPollInterval(cfg.TTSPollEvery),
		speech.WithDefaultLanguage(cfg.TTSDefaultLang),
	}
	if cfg.TTSTempDir != "" {
		opts = append(opts, speech.WithTempDir(cfg.TTSTempDir))
	}
	return speech.NewWorker(settings, words,
		speech.NewGoogleTranslator(hc),
		speech.NewGoogleSynthesizer(hc),
		speech.NewExecPlayer(cfg.TTSPlayer, strings.Fields(cfg.TTSPlayerArgs)...),
		opts...)
}

// newProvider builds the chat provider for cfg.ChatProvider. Twitch streams
// are addressed by channel name, so references skip YouTube resolution.
func newProvider(ctx context.Context, cfg *config.Config) (chat.Provider, bool, error) {
	switch cfg.ChatProvider {
	case config.ProviderTwitch:
		if err := cfg.ValidateTwitchReady(); err != nil {
			return nil, false, err
		}
		return &chat.TwitchProvider{Username: cfg.TwitchBotUsername, OAuthToken: cfg.TwitchOAuthToken}, true, nil
	default:
		if err := cfg.ValidateYouTubeReady(); err != nil {
			slog.Warn("youtube chat disabled", slog.Any("err", err))
			return chat.ProviderFunc(func(context.Context, string) (chat.Handle, error) {
				return nil, youtubeapi.ErrNoCredentials
			}), false, nil
		}
		svc, err := youtubeapi.New(cfg).Client(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create youtube client: %w", err)
		}
		return &chat.YouTubeProvider{Service: svc}, false, nil
	}
}
