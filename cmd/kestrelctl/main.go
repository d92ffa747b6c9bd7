// Command kestrelctl is a small CLI harness around the bridge client: it
// loads a Default-models configuration file, wires up the provider plugins
// and model registry it describes, and issues one chat call.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrel-ai/bridge/internal/config"
	"github.com/kestrel-ai/bridge/internal/observe"
	"github.com/kestrel-ai/bridge/internal/store/postgres"
	"github.com/kestrel-ai/bridge/pkg/bridge"
	"github.com/kestrel-ai/bridge/pkg/bridge/provider"
	"github.com/kestrel-ai/bridge/pkg/bridge/providers/anthropic"
	"github.com/kestrel-ai/bridge/pkg/bridge/providers/anyllm"
	"github.com/kestrel-ai/bridge/pkg/bridge/providers/openai"
	"github.com/kestrel-ai/bridge/pkg/bridge/registry"
	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "models.json", "path to the Default-models configuration file")
	model := flag.String("model", "", "namespaced model id to chat against, e.g. anthropic:claude-sonnet-4")
	prompt := flag.String("prompt", "", "user message to send")
	postgresDSN := flag.String("postgres-dsn", "", "optional PostgreSQL DSN; when set, model/plugin registrations are upserted there and the model registry is restored from it on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kestrelctl: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kestrelctl: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	shutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "kestrelctl"})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	providers := registry.NewProviders()
	models := registry.NewModels()

	var store postgres.Store
	if *postgresDSN != "" {
		pool, err := pgxpool.New(context.Background(), *postgresDSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pool.Close()

		pgStore := postgres.NewPostgresStore(pool)
		if err := pgStore.Migrate(context.Background()); err != nil {
			slog.Error("failed to migrate postgres schema", "err", err)
			return 1
		}
		if err := restoreModels(context.Background(), pgStore, models); err != nil {
			slog.Error("failed to restore model registry from postgres", "err", err)
			return 1
		}
		logPersistedPlugins(context.Background(), pgStore, logger)
		store = pgStore
	}

	if err := buildProviders(cfg, providers, store); err != nil {
		slog.Error("failed to build provider plugins", "err", err)
		return 1
	}
	for _, desc := range cfg.ModelDescriptors() {
		if err := models.Register(desc.ID, desc); err != nil {
			slog.Error("failed to register model", "model", desc.ID, "err", err)
			return 1
		}
		if store != nil {
			if err := store.UpsertModel(context.Background(), postgres.ModelRowFromDescriptor(desc)); err != nil {
				slog.Error("failed to persist model descriptor", "model", desc.ID, "err", err)
				return 1
			}
		}
	}

	client := bridge.New(models, providers, bridge.WithLogger(logger))

	if *model == "" || *prompt == "" {
		printCatalog(client)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msg, err := client.Chat(ctx, types.ChatRequest{
		Model:    *model,
		Messages: []types.Message{{Role: types.RoleUser, Content: []types.ContentPart{types.TextPart{Text: *prompt}}}},
	})
	if err != nil {
		slog.Error("chat failed", "model", *model, "err", err)
		return 1
	}

	for _, part := range msg.Content {
		if text, ok := part.(types.TextPart); ok {
			fmt.Println(text.Text)
		}
	}
	return 0
}

// builtinProviders lists the provider plugin kinds kestrelctl knows how to
// construct. Nothing in this command reads it.
var builtinProviders = []string{"anthropic", "openai", "anyllm"}

// buildProviders instantiates a plugin for every entry in cfg.Providers and
// registers it with reg. The provider id selects which plugin constructor
// runs: "anthropic" and "openai" use their native wire formats; anything
// else is treated as an anyllm backend name, with or without the "anyllm-"
// prefix the resulting plugin's ID carries. When store is
// non-nil, each successful registration is also upserted there so the
// plugin's (id, version) identity survives a restart for bookkeeping.
func buildProviders(cfg *config.Config, reg *registry.Providers, store postgres.Store) error {
	for _, p := range cfg.Providers {
		plugin, err := newPlugin(p)
		if err != nil {
			return fmt.Errorf("provider %q: %w", p.ID, err)
		}
		if err := reg.Register(plugin); err != nil {
			return fmt.Errorf("provider %q: %w", p.ID, err)
		}
		slog.Info("provider plugin registered", "id", plugin.ID(), "version", plugin.Version())
		if store != nil {
			row := postgres.PluginRowFromDescriptor(registry.PluginDescriptor{ID: plugin.ID(), Version: plugin.Version().String()})
			if err := store.UpsertPlugin(context.Background(), row); err != nil {
				return fmt.Errorf("provider %q: persisting plugin identity: %w", p.ID, err)
			}
		}
	}
	return nil
}

// restoreModels reads every persisted model descriptor back from store and
// loads it into models, so a restart recovers registrations made in a prior
// process even before the Default-models configuration file is applied.
// Config-provided models are registered afterward and take precedence,
// since Register overwrites by id.
func restoreModels(ctx context.Context, store postgres.Store, models *registry.Models) error {
	rows, err := store.ListModels(ctx, "")
	if err != nil {
		return fmt.Errorf("listing persisted models: %w", err)
	}
	descs := make([]types.ModelDescriptor, len(rows))
	for i, row := range rows {
		descs[i] = row.ToDescriptor()
	}
	models.Restore(descs)
	slog.Info("restored model registry from postgres", "count", len(descs))
	return nil
}

// logPersistedPlugins logs every plugin identity persisted in store, purely
// for operator visibility: a persisted identity records that a plugin was
// once registered, not its behavior, so it cannot be restored automatically
// (see [registry.PluginDescriptor]) — the concrete plugin must still be
// constructed via buildProviders.
func logPersistedPlugins(ctx context.Context, store postgres.Store, logger *slog.Logger) {
	rows, err := store.ListPlugins(ctx)
	if err != nil {
		logger.Warn("failed to list persisted plugin identities", "err", err)
		return
	}
	for _, row := range rows {
		logger.Info("previously registered plugin identity on record", "id", row.ID, "version", row.Version)
	}
}

func newPlugin(p config.ProviderConfig) (provider.Plugin, error) {
	switch p.ID {
	case "anthropic":
		pl := anthropic.New(p.APIKey)
		if p.BaseURL != "" {
			pl.WithBaseURL(p.BaseURL)
		}
		return pl, nil
	case "openai":
		pl := openai.New(p.APIKey)
		if p.BaseURL != "" {
			pl.WithBaseURL(p.BaseURL)
		}
		return pl, nil
	default:
		return anyllm.New(strings.TrimPrefix(p.ID, "anyllm-"), p.APIKey)
	}
}

func printCatalog(client *bridge.Client) {
	fmt.Println("Registered providers:")
	for _, p := range client.ListAvailableProviders() {
		fmt.Printf("  %-12s %s\n", p.ID(), p.Version())
	}
	fmt.Println("Registered models:")
	for _, m := range client.ListAvailableModels("") {
		fmt.Printf("  %-40s streaming=%v toolCalls=%v\n", m.ID, m.Capabilities.Streaming, m.Capabilities.ToolCalls)
	}
	fmt.Println("\nUsage: kestrelctl -config models.json -model <id> -prompt \"...\"")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
