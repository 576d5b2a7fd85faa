/*
main.go - Application entry point

PURPOSE:
  Starts the debt bot: loads configuration, opens the store, connects the
  optional Redis and RabbitMQ backends, and runs the Telegram intake next
  to the HTTP server until SIGINT/SIGTERM.

STARTUP SEQUENCE:
  1. Parse flags, load and validate config
  2. Open the store (sqlite, postgres or memory)
  3. Prompt tracker: Redis when configured and reachable, else memory
  4. Event publisher: RabbitMQ when configured and reachable, else none
  5. Telegram client, bot service, adapter
  6. HTTP servers: the public one on HTTP_ADDR (health, webhook in
     webhook mode) and the read API on API_ADDR when set
  7. Long polling in polling mode

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -http    public listen address, overrides HTTP_ADDR
  -api     read API listen address, overrides API_ADDR

WEBHOOK MODE:
  The webhook itself is registered with Telegram out of band (setWebhook
  with secret_token = WEBHOOK_SECRET, pointing at /telegram/webhook).

GRACEFUL SHUTDOWN:
  Polling stops taking updates and in-flight ones finish; the HTTP server
  drains for up to 30s; then backends are closed.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/debt-engine/api"
	"github.com/warp/debt-engine/bot"
	"github.com/warp/debt-engine/config"
	"github.com/warp/debt-engine/events"
	"github.com/warp/debt-engine/ledger"
	memstore "github.com/warp/debt-engine/ledger/store"
	"github.com/warp/debt-engine/logger"
	"github.com/warp/debt-engine/selection"
	"github.com/warp/debt-engine/store/postgres"
	"github.com/warp/debt-engine/store/sqlite"
	"github.com/warp/debt-engine/telegram"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	httpAddr := flag.String("http", "", "public listen address (overrides HTTP_ADDR)")
	apiAddr := flag.String("api", "", "read API listen address (overrides API_ADDR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *apiAddr != "" {
		cfg.API.Addr = *apiAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	log.Info().Str("driver", cfg.Database.Driver).Msg("store ready")

	tracker, closeTracker := openTracker(ctx, cfg.Redis, log)
	defer closeTracker()

	publisher, closePublisher := openPublisher(cfg.AMQP, log)
	defer closePublisher()

	tg, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("telegram login: %w", err)
	}
	log.Info().Str("bot", tg.Self.UserName).Msg("authorized on telegram")

	svc := bot.NewService(bot.Deps{
		Store:   store,
		Events:  publisher,
		Tracker: tracker,
		Log:     log,
	})
	adapter := telegram.NewAdapter(tg, svc, log)

	var webhook http.Handler
	if cfg.Telegram.Mode == config.ModeWebhook {
		webhook = adapter.WebhookHandler(cfg.Telegram.WebhookSecret)
	}
	handler := api.NewHandler(store, log)

	// The public listener never serves ledger data unless the read API was
	// put on the same address on purpose.
	public := api.NewPublicRouter(handler, webhook)
	servers := []*http.Server{newHTTPServer(cfg.HTTP.Addr, public)}
	switch cfg.API.Addr {
	case "":
	case cfg.HTTP.Addr:
		servers[0].Handler = api.NewRouter(handler, api.Options{Token: cfg.API.Token, Webhook: webhook})
	default:
		servers = append(servers, newHTTPServer(cfg.API.Addr, api.NewRouter(handler, api.Options{Token: cfg.API.Token})))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		g.Go(func() error {
			log.Info().Str("addr", server.Addr).Str("mode", cfg.Telegram.Mode).Msg("http server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", server.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var errs []error
		for _, server := range servers {
			errs = append(errs, server.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	if cfg.Telegram.Mode == config.ModePolling {
		g.Go(func() error {
			return adapter.Poll(gctx, tg, cfg.Telegram.Workers)
		})
	}
	return g.Wait()
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// =============================================================================
// BACKENDS
// =============================================================================

func openStore(ctx context.Context, db config.DatabaseConfig) (ledger.Store, func(), error) {
	switch db.Driver {
	case config.DriverPostgres:
		s, err := postgres.New(ctx, db.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, func() { s.Close() }, nil
	case config.DriverMemory:
		return memstore.NewMemory(), func() {}, nil
	default:
		s, err := sqlite.New(db.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", db.URL, err)
		}
		return s, func() { s.Close() }, nil
	}
}

// openTracker falls back to memory so the bot keeps working without Redis;
// prompts then only survive as long as the process.
func openTracker(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (selection.Tracker, func()) {
	if cfg.Addr == "" {
		return selection.NewMemoryTracker(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable, tracking prompts in memory")
		_ = client.Close()
		return selection.NewMemoryTracker(), func() {}
	}
	log.Info().Str("addr", cfg.Addr).Msg("tracking prompts in redis")
	return selection.NewRedisTracker(client, selection.DefaultClaimTTL), func() { _ = client.Close() }
}

func openPublisher(cfg config.AMQPConfig, log zerolog.Logger) (events.Publisher, func()) {
	if cfg.URL == "" {
		return events.Nop{}, func() {}
	}
	p, err := events.DialAMQP(cfg.URL)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unreachable, events disabled")
		return events.Nop{}, func() {}
	}
	log.Info().Str("queue", events.QueueDebtRecorded).Msg("publishing events to rabbitmq")
	return p, func() { _ = p.Close() }
}
