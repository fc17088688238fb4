package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avesa-io/avesa/internal/aggregator"
	"github.com/avesa-io/avesa/internal/blobstore"
	"github.com/avesa-io/avesa/internal/canonical"
	"github.com/avesa-io/avesa/internal/chunkproc"
	"github.com/avesa-io/avesa/internal/columnstore"
	"github.com/avesa-io/avesa/internal/config"
	"github.com/avesa-io/avesa/internal/connector"
	"github.com/avesa-io/avesa/internal/lock"
	"github.com/avesa-io/avesa/internal/mapping"
	"github.com/avesa-io/avesa/internal/orchestrator"
	"github.com/avesa-io/avesa/internal/retry"
	"github.com/avesa-io/avesa/internal/secretstore"
	"github.com/avesa-io/avesa/internal/statestore"
	"github.com/avesa-io/avesa/internal/tableproc"
	"github.com/avesa-io/avesa/internal/tenantproc"
)

// pipeline bundles every component a run/backfill/serve invocation needs,
// plus their teardown functions in acquisition order.
type pipeline struct {
	store   statestore.Store
	orch    *orchestrator.Orchestrator
	closers []func() error
}

// Close tears down every opened dependency in reverse acquisition order,
// logging (not failing on) individual close errors.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			slog.Error("error closing pipeline dependency", "error", err)
		}
	}
}

// buildPipeline wires every capability the orchestrator depends on
// (spec.md §1's capability list) from cfg: state store, blob store,
// column store, distributed lock, mapping registry, secret store, the
// per-service connector registry, and the Chunk→Table→Tenant→Orchestrator
// stack on top.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	store, err := statestore.Open(ctx, cfg.StateStoreEndpoint)
	if err != nil {
		return nil, exitWith(exitStoreUnreachable, fmt.Errorf("connecting to state store: %w", err))
	}
	p := &pipeline{}
	p.store = store
	p.closers = append(p.closers, store.Close)

	blobs, err := blobstore.New(cfg.BlobStoreEndpoint, cfg.BlobStoreAccessKey, cfg.BlobStoreSecretKey, cfg.BlobStoreBucket, cfg.BlobStoreUseTLS)
	if err != nil {
		return nil, fmt.Errorf("connecting to blob store: %w", err)
	}

	columns, err := columnstore.Open(ctx, cfg.ColumnStoreEndpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to column store: %w", err)
	}
	p.closers = append(p.closers, columns.Close)

	locker, err := lock.New(cfg.RedisURL, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to lock store: %w", err)
	}
	p.closers = append(p.closers, locker.Close)

	mappings, err := mapping.Load(cfg.MappingDir)
	if err != nil {
		return nil, fmt.Errorf("loading mapping documents: %w", err)
	}

	secrets := secretstore.New(ctx, cfg.SecretStoreEndpoint, cfg.SecretStoreClientID, cfg.SecretStoreSecret, cfg.SecretStoreEndpoint+"/oauth/token")

	registry := connector.NewRegistry(cfg.RateLimitWaitMax)
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.ConnectWiseBaseURL != "" {
		registry.Register("connectwise", connector.NewConnectWise(cfg.ConnectWiseBaseURL, httpClient), 5, 10)
	}
	if cfg.ServiceNowBaseURL != "" {
		registry.Register("servicenow", connector.NewServiceNow(cfg.ServiceNowBaseURL, httpClient), 5, 10)
	}

	chunks := chunkproc.New(registry, blobs, secrets, retry.Default, cfg.MaxPagesInMemory)
	tables := tableproc.New(store, chunks)
	canon := canonical.New(mappings, blobs, columns, locker, cfg.RejectRatioMax)
	tenants := tenantproc.New(store, tables, canon, blobs)
	notifier := aggregator.New(aggregator.Config{
		Token:        cfg.SlackBotToken,
		Channel:      cfg.SlackChannel,
		DashboardURL: cfg.DashboardURL,
	})
	p.orch = orchestrator.New(store, tenants, notifier)

	return p, nil
}
