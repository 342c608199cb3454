// Command intake-bot runs the resume intake bot: the chat webhook, the record
// and conversion callbacks, the operator API and the handoff outbox relay.
//
// @title       Resume Intake Bot API
// @version     1.0
// @description Webhook entry points and operator API of the resume intake bot.
// @BasePath    /
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gorm.io/gorm"

	_ "github.com/tbourn/resume-intake-bot/docs"
	"github.com/tbourn/resume-intake-bot/internal/clients"
	"github.com/tbourn/resume-intake-bot/internal/config"
	httpapi "github.com/tbourn/resume-intake-bot/internal/http"
	"github.com/tbourn/resume-intake-bot/internal/http/handlers"
	"github.com/tbourn/resume-intake-bot/internal/i18n"
	"github.com/tbourn/resume-intake-bot/internal/observability"
	"github.com/tbourn/resume-intake-bot/internal/outbox"
	"github.com/tbourn/resume-intake-bot/internal/repo"
	"github.com/tbourn/resume-intake-bot/internal/services"
	"github.com/tbourn/resume-intake-bot/internal/sysutil"
)

var version = "dev" // set with -ldflags "-X main.version=..."

// collaborators are the outbound ports, real or disabled.
type collaborators struct {
	messenger   services.Messenger
	store       services.ObjectStore
	files       services.Downloader
	converter   services.AudioConverter
	transcriber services.Transcriber
	model       services.Completer
	renderer    services.PDFRenderer
	mailer      services.Mailer

	telegram *clients.Telegram
}

func main() {
	var (
		envFile         string
		migrateOnly     bool
		registerWebhook bool
	)
	pflag.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file (ignored when missing)")
	pflag.BoolVar(&migrateOnly, "migrate-only", sysutil.IsTruthy(os.Getenv("MIGRATE_ONLY")), "Apply database migrations and exit")
	pflag.BoolVar(&registerWebhook, "register-webhook", false, "Point the bot webhook at PUBLIC_URL and exit")
	pflag.Parse()

	envErr := godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := sysutil.InitLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn().Err(envErr).Str("file", envFile).Msg("env file not loaded")
	}

	if err := run(cfg, logger, migrateOnly, registerWebhook); err != nil {
		logger.Fatal().Err(err).Msg("intake-bot stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger, migrateOnly, registerWebhook bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version))
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if migrateOnly {
		logger.Info().Str("driver", cfg.DB.Driver).Msg("migrations applied")
		return nil
	}

	cl, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if registerWebhook {
		return setWebhook(cfg, cl.telegram, logger)
	}

	guard, err := buildUpdateGuard(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	if c, ok := guard.(io.Closer); ok {
		defer c.Close()
	}

	text := i18n.Default().WithFallback(cfg.DefaultLanguage)
	shim := httpapi.RepoShim{}

	dispatcher := services.NewDispatcher(db, shim, shim)
	dispatcher.Text = text
	dispatcher.Messenger = cl.messenger
	dispatcher.Store = cl.store
	dispatcher.Files = cl.files
	dispatcher.Converter = cl.converter
	dispatcher.Transcriber = cl.transcriber
	dispatcher.Model = cl.model
	dispatcher.Renderer = cl.renderer
	dispatcher.Mailer = cl.mailer
	dispatcher.Buckets = services.Buckets{
		Images:      cfg.Storage.ImagesBucket,
		Resumes:     cfg.Storage.ResumesBucket,
		Experiences: cfg.Storage.ExperiencesBucket,
	}
	dispatcher.SignedURLTTL = cfg.SignedURLTTL
	dispatcher.PhotoWidth = cfg.PhotoWidth
	dispatcher.Disabled = cfg.DisableExternalCalls
	dispatcher.Timeout = cfg.HandoffTimeout
	dispatcher.Lease = cfg.Outbox.Lease
	dispatcher.MaxAttempts = cfg.Outbox.MaxAttempts
	dispatcher.BackoffBase = cfg.Outbox.BackoffBase

	intake := services.NewIntakeService(db, shim, cl.messenger, dispatcher)
	intake.Text = text
	intake.Store = cl.store
	intake.Files = cl.files
	intake.StickerID = cfg.Telegram.StickerID
	intake.ImagesBucket = cfg.Storage.ImagesBucket
	intake.MaxAge = cfg.MaxAge
	intake.DefaultLanguage = cfg.DefaultLanguage

	operator := services.NewOperatorService(db, shim)

	relay := outbox.NewRelay(db, dispatcher, logger,
		outbox.WithPollingInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithAttemptTimeout(cfg.HandoffTimeout),
	)
	relay.Start()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, handlers.New(intake, dispatcher, operator, guard), cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Bool("external_calls_disabled", cfg.DisableExternalCalls).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			relay.Stop()
			return fmt.Errorf("serve: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	relay.Stop()
	dispatcher.Wait()
	return nil
}

// buildCollaborators wires the real external clients, or logging stand-ins
// when external calls are disabled.
func buildCollaborators(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*collaborators, error) {
	if cfg.DisableExternalCalls {
		d := clients.Disabled{Log: logger.With().Str("component", "disabled-clients").Logger()}
		return &collaborators{
			messenger: d, store: d, files: d, converter: d,
			transcriber: d, model: d, renderer: d, mailer: d,
		}, nil
	}

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}

	tg, err := clients.NewTelegram(cfg.Telegram.Token, cfg.Telegram.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logger.Info().Str("bot", tg.Username()).Msg("chat transport ready")

	store, err := clients.NewMinioStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	bctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := store.EnsureBuckets(bctx, cfg.Storage.ImagesBucket, cfg.Storage.ResumesBucket, cfg.Storage.ExperiencesBucket); err != nil {
		return nil, fmt.Errorf("object storage buckets: %w", err)
	}

	ai := clients.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, httpClient)

	return &collaborators{
		messenger:   tg,
		store:       store,
		files:       clients.NewHTTPDownloader(httpClient),
		converter:   clients.NewCloudConvert(cfg.CloudConvertAPIKey, cfg.CloudConvertBaseURL, httpClient),
		transcriber: ai,
		model:       ai,
		renderer:    clients.NewBrowserless(cfg.BrowserlessAPIKey, cfg.BrowserlessURL, httpClient),
		mailer:      clients.NewResendMailer(cfg.Mail.APIKey, cfg.Mail.From, cfg.Mail.To),
		telegram:    tg,
	}, nil
}

// buildUpdateGuard prefers Redis when configured and falls back to the
// record store.
func buildUpdateGuard(ctx context.Context, cfg config.Config, db *gorm.DB, logger zerolog.Logger) (handlers.UpdateGuard, error) {
	if cfg.RedisURL == "" {
		return clients.DBDeduper{DB: db, TTL: cfg.UpdateDedupeTTL}, nil
	}
	rd, err := clients.NewRedisDeduper(ctx, cfg.RedisURL, cfg.UpdateDedupeTTL)
	if err != nil {
		return nil, fmt.Errorf("update guard: %w", err)
	}
	logger.Info().Msg("update guard backed by redis")
	return rd, nil
}

func setWebhook(cfg config.Config, tg *clients.Telegram, logger zerolog.Logger) error {
	if tg == nil {
		return errors.New("register webhook: external calls are disabled")
	}
	if cfg.PublicURL == "" {
		return errors.New("register webhook: PUBLIC_URL is not set")
	}
	hook := cfg.PublicURL + "/webhooks/telegram?secret=" + url.QueryEscape(cfg.WebhookSecret)
	if err := tg.RegisterWebhook(hook); err != nil {
		return err
	}
	logger.Info().Str("url", cfg.PublicURL+"/webhooks/telegram").Msg("webhook registered")
	return nil
}
