// Package app assembles the daemon's components in dependency order so the
// binary and integration tests share one wiring path.
package app

import (
	"context"
	"fmt"

	"github.com/mzani/taskd/internal/broadcast"
	"github.com/mzani/taskd/internal/chat"
	"github.com/mzani/taskd/internal/config"
	"github.com/mzani/taskd/internal/dispatch"
	"github.com/mzani/taskd/internal/httpapi"
	"github.com/mzani/taskd/internal/observability"
	"github.com/mzani/taskd/internal/server"
	"github.com/mzani/taskd/internal/session"
	"github.com/mzani/taskd/internal/task"
	"github.com/mzani/taskd/internal/transcript"
)

type BuildResult struct {
	Config      config.Config
	Registry    *session.Registry
	Broadcaster *broadcast.Broadcaster
	Dispatcher  *dispatch.Dispatcher
	Server      *server.Server
	API         *httpapi.Server
	Metrics     *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Options override defaults for tests; the zero value is production wiring.
type Options struct {
	Runner  task.Runner
	Metrics *observability.Metrics
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	metrics := opts.Metrics

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	provider, err := chat.NewProvider(chat.Config{
		Mode:    cfg.ChatMode,
		HTTPURL: cfg.ChatHTTPURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("chat provider init failed: %w", err)
	}

	broadcaster := broadcast.New(metrics)
	registry := session.NewRegistry(opts.Runner, provider, store, cfg.ChatContextTurns, broadcaster.Broadcast)
	dispatcher := dispatch.New(registry, metrics, cfg.DefaultTaskDurationMs)
	srv := server.New(dispatcher, broadcaster, metrics)
	api := httpapi.New(cfg, registry, broadcaster, metrics)

	return &BuildResult{
		Config:      cfg,
		Registry:    registry,
		Broadcaster: broadcaster,
		Dispatcher:  dispatcher,
		Server:      srv,
		API:         api,
		Metrics:     metrics,
		Cleanup:     store.Close,
	}, nil
}
