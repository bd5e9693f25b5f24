package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/cumplia/enscope/analytics"
	"github.com/cumplia/enscope/answers"
	"github.com/cumplia/enscope/catalog"
	"github.com/cumplia/enscope/config"
	"github.com/cumplia/enscope/engine"
	"github.com/cumplia/enscope/llm"
	"github.com/cumplia/enscope/session"
)

// runtime bundles the wired application services behind the CLI and
// the HTTP server.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	nc       *nats.Conn
	catalog  *catalog.Catalog
	sessions *session.Store
	answers  *answers.Store
	engine   *engine.Engine
	reporter *analytics.Reporter
}

// buildRuntime connects NATS, loads the catalog and wires the engine.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	cat, err := catalog.Load(cfg.Catalog.Patterns...)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("Catalog loaded", "questions", cat.Len(), "domains", len(cat.Domains()))

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(appName),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	sessionStore, err := session.NewStore(ctx, js)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	answerStore, err := answers.NewStore(ctx, js)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open answer store: %w", err)
	}

	client := llm.NewClient(llm.Endpoint{
		Provider:    cfg.Model.Provider,
		Model:       cfg.Model.Name,
		URL:         cfg.Model.Endpoint,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.Model.Timeout,
	}, llm.WithLogger(logger))

	eng := engine.New(cat, sessionStore, answerStore, client, client, engine.Config{
		ConfidenceThreshold:   cfg.Engine.ConfidenceThreshold,
		ConfirmationMargin:    cfg.Engine.ConfirmationMargin,
		WindowTurns:           cfg.Engine.WindowTurns,
		MaxExtractionFailures: cfg.Engine.MaxExtractionFailures,
	}, logger)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		nc:       nc,
		catalog:  cat,
		sessions: sessionStore,
		answers:  answerStore,
		engine:   eng,
		reporter: analytics.NewReporter(cat, answerStore, logger),
	}, nil
}

func (rt *runtime) close() {
	rt.nc.Close()
}
