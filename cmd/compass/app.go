package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/audit"
	"github.com/MarcoPoloResearchLab/compass/internal/auth"
	"github.com/MarcoPoloResearchLab/compass/internal/config"
	"github.com/MarcoPoloResearchLab/compass/internal/consent"
	"github.com/MarcoPoloResearchLab/compass/internal/database"
	"github.com/MarcoPoloResearchLab/compass/internal/digest"
	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/inference/openai"
	"github.com/MarcoPoloResearchLab/compass/internal/journal"
	"github.com/MarcoPoloResearchLab/compass/internal/logging"
	"github.com/MarcoPoloResearchLab/compass/internal/notify"
	"github.com/MarcoPoloResearchLab/compass/internal/predictions"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenIssuer   = "compass-auth"
	tokenAudience = "compass-api"
)

// application holds the wired services shared by every command.
type application struct {
	config      config.AppConfig
	logger      *zap.Logger
	db          *gorm.DB
	profiles    *users.Service
	shares      *consent.Store
	consents    *consent.Service
	predictions *predictions.Service
	composer    *digest.Composer
	dispatcher  *digest.Dispatcher

	closers []func() error
}

func newApplication(ctx context.Context, appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(logging.Options{Level: appConfig.Log.Level, FilePath: appConfig.Log.File})
	if err != nil {
		return nil, err
	}
	app := &application{config: appConfig, logger: logger}
	app.closers = append(app.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	if err := app.wire(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (app *application) wire(ctx context.Context) error {
	cfg := app.config
	logger := app.logger
	clock := time.Now
	ids := wellness.NewUUIDProvider()

	db, err := database.Open(database.Options{Driver: cfg.Database.Driver, Path: cfg.Database.Path, DSN: cfg.Database.DSN}, logger)
	if err != nil {
		return err
	}
	app.db = db
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	app.closers = append(app.closers, sqlDB.Close)

	profiles, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		return err
	}
	app.profiles = profiles

	logs, err := journal.NewStore(journal.StoreConfig{Database: db, Clock: clock, IDProvider: ids, Logger: logger})
	if err != nil {
		return err
	}

	auditSink, err := audit.NewSink(audit.SinkConfig{Database: db, Clock: clock, IDProvider: ids, Logger: logger})
	if err != nil {
		return err
	}

	shares, err := consent.NewStore(db)
	if err != nil {
		return err
	}
	app.shares = shares

	consents, err := consent.NewService(consent.ServiceConfig{Database: db, Audit: auditSink, Clock: clock, IDProvider: ids, Logger: logger})
	if err != nil {
		return err
	}
	app.consents = consents

	aggregator, err := features.NewAggregator(features.AggregatorConfig{Logs: logs, Profiles: profiles, Clock: clock})
	if err != nil {
		return err
	}

	client := app.inferenceClient()
	engine := inference.NewEngine(inference.EngineConfig{Client: client, Timeout: cfg.Inference.Timeout(), Logger: logger})

	writer, err := predictions.NewWriter(predictions.WriterConfig{Database: db, Clock: clock, IDProvider: ids, Logger: logger})
	if err != nil {
		return err
	}

	app.predictions, err = predictions.NewService(predictions.ServiceConfig{
		Profiles:   profiles,
		Aggregator: aggregator,
		Engine:     engine,
		Writer:     writer,
		WindowDays: cfg.Prediction.WindowDays,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sender, err := app.sender()
	if err != nil {
		return err
	}

	narrator := digest.NewNarrator(digest.NarratorConfig{Client: client, Timeout: cfg.Inference.Timeout(), Clock: clock, Logger: logger})

	app.composer, err = digest.NewComposer(digest.ComposerConfig{
		Database:   db,
		Shares:     shares,
		Aggregator: aggregator,
		Snapshots:  writer,
		Profiles:   profiles,
		Narrator:   narrator,
		Sender:     sender,
		Audit:      auditSink,
		Guard:      app.guard(ctx),
		IDProvider: ids,
		Clock:      clock,
		Logger:     logger,
		WindowDays: cfg.Digest.WindowDays,
		DigestType: cfg.Digest.Type,
		From:       cfg.Notify.From,
	})
	if err != nil {
		return err
	}

	app.dispatcher, err = digest.NewDispatcher(digest.DispatcherConfig{
		Shares:      shares,
		Composer:    app.composer,
		Concurrency: cfg.Digest.Concurrency,
		PairTimeout: cfg.Digest.PairTimeout(),
		ActorID:     cfg.Digest.ActorID,
		Logger:      logger,
	})
	return err
}

// inferenceClient returns nil without an API key, which keeps every call on the local rules.
func (app *application) inferenceClient() inference.Client {
	cfg := app.config.Inference
	if cfg.APIKey == "" {
		app.logger.Info("inference api key not configured; using rule-based predictions")
		return nil
	}
	client := openai.NewClient(openai.Config{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		Model:         cfg.Model,
		RetryAttempts: uint(cfg.RetryAttempts),
		Logger:        app.logger,
	})
	app.closers = append(app.closers, client.Close)
	return client
}

func (app *application) sender() (notify.Sender, error) {
	cfg := app.config
	switch cfg.Notify.Driver {
	case "smtp":
		return notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Logger:   app.logger,
		})
	case "webhook":
		return notify.NewWebhookSender(notify.WebhookConfig{URL: cfg.Webhook.URL, Token: cfg.Webhook.Token})
	case "log", "":
		return notify.NewLogSender(app.logger), nil
	default:
		return nil, fmt.Errorf("unsupported notify driver %q", cfg.Notify.Driver)
	}
}

// guard connects the redis send guard when an address is configured. An unreachable
// redis is logged and the composer still runs; it fails open on guard errors.
func (app *application) guard(ctx context.Context) digest.Guard {
	cfg := app.config
	if cfg.Redis.Address == "" {
		return digest.NoopGuard{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	app.closers = append(app.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		app.logger.Warn("redis send guard unreachable", zap.String("address", cfg.Redis.Address), zap.Error(err))
	}
	return digest.NewRedisGuard(client, cfg.Guard.TTL())
}

func (app *application) tokenIssuer() (*auth.TokenIssuer, error) {
	if err := app.config.RequireSigningSecret(); err != nil {
		return nil, err
	}
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(app.config.Auth.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      app.config.Auth.TokenTTL(),
	})
}

// Close releases resources in reverse acquisition order.
func (app *application) Close() error {
	var errs []error
	for index := len(app.closers) - 1; index >= 0; index-- {
		if err := app.closers[index](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}

func parseFields(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	return fields
}
