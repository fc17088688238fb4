// Package tenantproc is the Tenant Processor (spec.md §4.6): resolves one
// tenant's enabled (service, endpoint) pairs, drives the Table Processor
// over them with bounded concurrency, and fires a fire-and-forget
// Canonical Transformer submission per canonical table that saw new data.
package tenantproc

import (
	"context"
	"log/slog"
	"time"

	"github.com/avesa-io/avesa/internal/blobstore"
	"github.com/avesa-io/avesa/internal/canonical"
	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/statestore"
	"github.com/avesa-io/avesa/internal/tableproc"
	"github.com/avesa-io/avesa/internal/workerpool"
)

// Config describes one tenant run (spec.md §4.6's input tuple).
type Config struct {
	JobID             string
	TenantID          string
	ForceFullSync     bool
	TableFilter       map[string]bool // nil means no filter: every enabled table runs
	TablesConcurrency int
	ChunksConcurrency int
	ChunkDuration     time.Duration
	ChunkTimeout      time.Duration
	ClockSkewGuard    time.Duration

	// Window, when set, pins every table run to this explicit range
	// instead of the watermark (spec.md §4.9's backfill path).
	Window *tableproc.Window
}

// Summary is the tenant run's rollup.
type Summary struct {
	PerTable map[string]model.TableSummary
}

// target is one resolved (service, endpoint) the tenant run will process.
// endpointKey doubles as the table_name chunks are keyed on.
type target struct {
	service     string
	endpointKey string
	endpoint    model.EndpointConfig
	credentials string
}

// Processor drives one tenant's tables and, on success, the canonical
// transform for whichever canonical tables changed.
type Processor struct {
	store  statestore.Store
	tables *tableproc.Processor
	canon  *canonical.Transformer
	blobs  blobstore.BlobStore
}

// New builds a Processor.
func New(store statestore.Store, tables *tableproc.Processor, canon *canonical.Transformer, blobs blobstore.BlobStore) *Processor {
	return &Processor{store: store, tables: tables, canon: canon, blobs: blobs}
}

// Run resolves this tenant's enabled tables, processes each, and submits
// canonical transforms for tables that produced new data.
func (p *Processor) Run(ctx context.Context, cfg Config) (Summary, error) {
	log := slog.With("job_id", cfg.JobID, "tenant_id", cfg.TenantID)

	targets, err := p.resolveTargets(ctx, cfg)
	if err != nil {
		return Summary{}, err
	}

	type tableOutcome struct {
		target  target
		summary tableproc.Summary
		err     error
	}

	outcomes := workerpool.Map(ctx, cfg.TablesConcurrency, targets, func(ctx context.Context, t target) tableOutcome {
		summary, err := p.tables.Run(ctx, tableproc.Config{
			JobID: cfg.JobID, TenantID: cfg.TenantID, Service: t.service, TableName: t.endpointKey,
			Endpoint: t.endpoint, CredentialsRef: t.credentials, ForceFullSync: cfg.ForceFullSync,
			ChunkDuration: cfg.ChunkDuration, ChunkTimeout: cfg.ChunkTimeout,
			ChunksConcurrency: cfg.ChunksConcurrency, ClockSkewGuard: cfg.ClockSkewGuard,
			Window: cfg.Window,
		})
		return tableOutcome{target: t, summary: summary, err: err}
	})

	perTable := make(map[string]model.TableSummary, len(outcomes))
	triggered := make(map[string][]target)
	for _, o := range outcomes {
		ts := model.TableSummary{Status: o.summary.Status, RecordsWritten: o.summary.Records}
		if o.err != nil {
			ts.Status = tableproc.StatusFailed
			ts.Error = o.err.Error()
			log.Error("table run failed", "table", o.target.endpointKey, "error", o.err)
		}
		perTable[o.target.endpointKey] = ts

		if (ts.Status == tableproc.StatusSucceeded || ts.Status == tableproc.StatusPartial) && ts.RecordsWritten > 0 {
			canonicalTable := o.target.endpoint.CanonicalTable
			triggered[canonicalTable] = append(triggered[canonicalTable], o.target)
		}
	}

	for canonicalTable, contributors := range triggered {
		go p.submitCanonical(cfg, canonicalTable, contributors, log)
	}

	return Summary{PerTable: perTable}, nil
}

// submitCanonical runs the canonical transform for one canonical table;
// its outcome never affects the tenant job's own status (spec.md §4.6
// step 4: "submission is fire-and-forget").
func (p *Processor) submitCanonical(cfg Config, canonicalTable string, contributors []target, log *slog.Logger) {
	ctx := context.Background()

	var blobs []canonical.SourceBlob
	for _, t := range contributors {
		chunks, err := p.store.ListChunksForTable(ctx, cfg.JobID, cfg.TenantID, t.endpointKey)
		if err != nil {
			log.Error("listing chunks for canonical transform", "table", t.endpointKey, "error", err)
			continue
		}
		for _, c := range chunks {
			if c.Status != model.ChunkStatusSucceeded || c.RecordsWritten == 0 {
				continue
			}
			path := blobstore.RawBlobPath(cfg.TenantID, t.service, t.endpointKey, cfg.JobID, c.ChunkID)
			exists, err := p.blobs.Exists(ctx, path)
			if err != nil || !exists {
				continue
			}
			blobs = append(blobs, canonical.SourceBlob{
				Service: t.service, Endpoint: t.endpoint.Path, Path: path, IngestedAt: c.RawLastUpdatedMax,
			})
		}
	}
	if len(blobs) == 0 {
		return
	}

	if _, err := p.canon.Apply(ctx, cfg.JobID, cfg.TenantID, canonicalTable, blobs); err != nil {
		log.Error("canonical transform failed", "canonical_table", canonicalTable, "error", err)
	}
}

// resolveTargets expands every enabled ServiceConfig's enabled endpoint
// overrides into a flat target list, honoring cfg.TableFilter.
func (p *Processor) resolveTargets(ctx context.Context, cfg Config) ([]target, error) {
	configs, err := p.store.ListServiceConfigs(ctx, cfg.TenantID)
	if err != nil {
		return nil, err
	}

	var targets []target
	for _, sc := range configs {
		if !sc.Enabled {
			continue
		}
		for key, ep := range sc.EndpointOverrides {
			if !ep.Enabled {
				continue
			}
			if cfg.TableFilter != nil && !cfg.TableFilter[key] {
				continue
			}
			targets = append(targets, target{service: sc.ServiceName, endpointKey: key, endpoint: ep, credentials: sc.CredentialsRef})
		}
	}
	return targets, nil
}
