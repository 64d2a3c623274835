package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marcus/fieldsync/internal/api"
	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
	"github.com/marcus/fieldsync/internal/notify"
	"github.com/marcus/fieldsync/internal/projector"
)

// Version may be set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cfg, err := api.LoadConfig()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	// Route to maintenance subcommands if present
	if len(os.Args) > 1 {
		os.Exit(runSubcommand(cfg, os.Args[1], os.Args[2:]))
	}

	api.Version = Version
	if err := serve(cfg); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func serve(cfg api.Config) error {
	store, err := ledger.Open(cfg.LedgerDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	source, err := projector.OpenSource(cfg.SourceDriver, cfg.SourceDSN)
	if err != nil {
		return err
	}
	defer source.Close()

	proj, err := newProjector(source, cfg.RulesFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RulesFile != "" {
		go func() {
			if err := projector.WatchRules(ctx, cfg.RulesFile, proj, slog.Default()); err != nil {
				slog.Error("watch rules", "path", cfg.RulesFile, "err", err)
			}
		}()
	}

	var extra []engine.Notifier
	var publisher *notify.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = notify.NewPublisher(notify.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Acks:    1,
		}, slog.Default())
		if err != nil {
			return err
		}
		publisher.Start(ctx)
		extra = append(extra, publisher)
		slog.Info("publishing run events", "target", publisher.String())
	}

	var webhook *notify.Webhook
	if cfg.WebhookURL != "" {
		webhook, err = notify.NewWebhook(cfg.WebhookURL, cfg.WebhookSecret, slog.Default())
		if err != nil {
			return err
		}
		extra = append(extra, webhook)
		slog.Info("posting run events to webhook", "url", cfg.WebhookURL, "signed", cfg.WebhookSecret != "")
	}

	srv, err := api.NewServer(cfg, api.Deps{
		Ledger:    store,
		Projector: proj,
		Directory: projector.NewDirectory(source, cfg.WindowPast, cfg.WindowFuture),
		Notifiers: extra,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}
	slog.Info("server started",
		"addr", srv.Addr(),
		"version", Version,
		"ledger", cfg.LedgerDBPath,
		"entity_types", proj.EntityTypes())

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
	if webhook != nil {
		if err := webhook.Close(shutdownCtx); err != nil {
			slog.Error("close webhook", "err", err)
		}
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			slog.Error("stop kafka publisher", "err", err)
		}
		published, failed, dropped := publisher.Stats()
		slog.Info("kafka publisher stopped", "published", published, "failed", failed, "dropped", dropped)
	}
	return nil
}

// newProjector builds the SQL projector from the rules file, or the built-in
// rules when no file is configured.
func newProjector(source *sql.DB, rulesFile string) (*projector.SQLProjector, error) {
	rules := projector.DefaultRules()
	if rulesFile != "" {
		loaded, err := projector.LoadRules(rulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	return projector.NewSQL(source, rules)
}
