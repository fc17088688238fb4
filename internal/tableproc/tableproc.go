// Package tableproc is the Table Processor (spec.md §4.5): plans the
// chunk set for one (tenant, table) run, drives the Chunk Processor over
// it with bounded concurrency via internal/workerpool, and advances the
// table's watermark through the contiguous-succeeded-prefix rule so a
// gap never gets silently skipped.
package tableproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/chunkproc"
	"github.com/avesa-io/avesa/internal/metrics"
	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/statestore"
	"github.com/avesa-io/avesa/internal/workerpool"
)

// Config describes one table run (spec.md §4.5's input tuple).
type Config struct {
	JobID             string
	TenantID          string
	Service           string
	TableName         string
	Endpoint          model.EndpointConfig
	CredentialsRef    string
	ForceFullSync     bool
	ChunkDuration     time.Duration
	ChunkTimeout      time.Duration
	ChunksConcurrency int
	ClockSkewGuard    time.Duration

	// Window, when set, pins the run to this explicit [Start, End) range
	// instead of planning from the table's watermark — the Backfill
	// Planner's historical runs (spec.md §4.9) use this; ordinary
	// incremental runs leave it nil.
	Window *Window
}

// Window is one planned chunk's time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Summary is the table run's terminal outcome (spec.md §4.5 step 7).
type Summary struct {
	Status           string
	Records          int64
	NextResumeWindow *Window
}

const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Processor drives one table's chunk set.
type Processor struct {
	store  statestore.Store
	chunks *chunkproc.Processor
}

// New builds a Processor.
func New(store statestore.Store, chunks *chunkproc.Processor) *Processor {
	return &Processor{store: store, chunks: chunks}
}

// Run plans, dispatches, and aggregates one table's chunk set.
func (p *Processor) Run(ctx context.Context, cfg Config) (Summary, error) {
	log := slog.With("job_id", cfg.JobID, "tenant_id", cfg.TenantID, "table", cfg.TableName)

	var start, end time.Time
	if cfg.Window != nil {
		start, end = cfg.Window.Start, cfg.Window.End
	} else {
		var err error
		start, err = p.planStart(ctx, cfg)
		if err != nil {
			return Summary{}, err
		}
		end = time.Now().UTC().Add(-cfg.ClockSkewGuard)
	}
	if !end.After(start) {
		return Summary{Status: StatusSucceeded}, nil
	}

	windows := splitWindows(start, end, cfg.ChunkDuration)
	for _, w := range windows {
		chunkID := ChunkID(cfg.TenantID, cfg.TableName, w.Start, w.End)
		err := p.store.UpsertChunk(ctx, model.ChunkProgress{
			JobID: cfg.JobID, TenantID: cfg.TenantID, TableName: cfg.TableName,
			ChunkID: chunkID, WindowStart: w.Start, WindowEnd: w.End,
			Status: model.ChunkStatusPending,
		})
		if err != nil && !avesaerr.Is(err, avesaerr.KindAlreadyTerminal) {
			return Summary{}, fmt.Errorf("tableproc: planning chunk %s: %w", chunkID, err)
		}
	}

	results := workerpool.Map(ctx, cfg.ChunksConcurrency, windows, func(ctx context.Context, w Window) model.ChunkProgress {
		return p.runChunk(ctx, cfg, w)
	})

	return p.aggregate(ctx, cfg, windows, results, log)
}

func (p *Processor) planStart(ctx context.Context, cfg Config) (time.Time, error) {
	if cfg.ForceFullSync {
		return time.Unix(0, 0).UTC(), nil
	}
	wm, err := p.store.GetWatermark(ctx, cfg.TenantID, cfg.TableName)
	if err != nil {
		return time.Time{}, fmt.Errorf("tableproc: reading watermark: %w", err)
	}
	return wm.LastUpdatedTS, nil
}

func (p *Processor) runChunk(ctx context.Context, cfg Config, w Window) model.ChunkProgress {
	chunkID := ChunkID(cfg.TenantID, cfg.TableName, w.Start, w.End)

	claimed, err := p.store.ClaimChunk(ctx, cfg.JobID, chunkID)
	if err != nil {
		return model.ChunkProgress{
			JobID: cfg.JobID, TenantID: cfg.TenantID, TableName: cfg.TableName,
			ChunkID: chunkID, WindowStart: w.Start, WindowEnd: w.End,
			Status: model.ChunkStatusFailed,
			Error:  fmt.Errorf("claiming chunk: %w", err).Error(),
		}
	}
	attempts := claimed.AttemptCount

	result := p.chunks.Process(ctx, chunkproc.Config{
		JobID: cfg.JobID, TenantID: cfg.TenantID, Service: cfg.Service, TableName: cfg.TableName,
		Endpoint: cfg.Endpoint, CredentialsRef: cfg.CredentialsRef,
		WindowStart: w.Start, WindowEnd: w.End, ChunkID: chunkID, Timeout: cfg.ChunkTimeout,
	})

	// A chunk that times out gets exactly one resumption, from its cursor
	// when the connector supports it and from scratch otherwise (spec.md
	// §4.4); a second timeout becomes a terminal failure. The resumption
	// re-claims the row so attempt_count reflects both tries; the interim
	// timed_out status is persisted first since ClaimChunk only reclaims
	// a pending or timed_out row, never one still marked in_progress.
	if result.Status == model.ChunkStatusTimedOut {
		interim := model.ChunkProgress{
			JobID: cfg.JobID, TenantID: cfg.TenantID, TableName: cfg.TableName,
			ChunkID: chunkID, WindowStart: w.Start, WindowEnd: w.End,
			Status: model.ChunkStatusTimedOut, AttemptCount: attempts,
			RecordsWritten: result.RecordsWritten, RawLastUpdatedMax: result.RawLastUpdatedMax,
		}
		_ = p.store.UpsertChunk(ctx, interim)

		claimed, err = p.store.ClaimChunk(ctx, cfg.JobID, chunkID)
		if err == nil {
			attempts = claimed.AttemptCount
			result = p.chunks.Process(ctx, chunkproc.Config{
				JobID: cfg.JobID, TenantID: cfg.TenantID, Service: cfg.Service, TableName: cfg.TableName,
				Endpoint: cfg.Endpoint, CredentialsRef: cfg.CredentialsRef,
				WindowStart: w.Start, WindowEnd: w.End, ChunkID: chunkID, Timeout: cfg.ChunkTimeout,
				ResumeCursor: result.NextCursor,
			})
			if result.Status == model.ChunkStatusTimedOut {
				result.Status = model.ChunkStatusFailed
			}
		}
	}

	progress := model.ChunkProgress{
		JobID: cfg.JobID, TenantID: cfg.TenantID, TableName: cfg.TableName,
		ChunkID: chunkID, WindowStart: w.Start, WindowEnd: w.End,
		Status: result.Status, AttemptCount: attempts, RecordsWritten: result.RecordsWritten,
		RawLastUpdatedMax: result.RawLastUpdatedMax,
	}
	if result.Err != nil {
		progress.Error = result.Err.Error()
	}

	if err := p.store.UpsertChunk(ctx, progress); err != nil && !avesaerr.Is(err, avesaerr.KindAlreadyTerminal) {
		progress.Status = model.ChunkStatusFailed
		progress.Error = fmt.Errorf("persisting chunk result: %w", err).Error()
	}
	return progress
}

// aggregate applies the contiguous-succeeded-prefix watermark rule
// (spec.md §4.5 step 6) and computes the table-level status.
func (p *Processor) aggregate(ctx context.Context, cfg Config, windows []Window, results []model.ChunkProgress, log *slog.Logger) (Summary, error) {
	sort.Slice(results, func(i, j int) bool { return results[i].WindowStart.Before(results[j].WindowStart) })

	var records int64
	allSucceeded := true
	anySucceeded := false
	var prefixEnd time.Time
	var prefixMaxTS time.Time
	inPrefix := true

	for _, r := range results {
		records += r.RecordsWritten
		if r.Status == model.ChunkStatusSucceeded {
			anySucceeded = true
			if inPrefix {
				prefixEnd = r.WindowEnd
				if r.RawLastUpdatedMax.After(prefixMaxTS) {
					prefixMaxTS = r.RawLastUpdatedMax
				}
			}
		} else {
			allSucceeded = false
			inPrefix = false
		}
	}

	if len(results) > 0 {
		watermarkTS := prefixMaxTS
		if watermarkTS.IsZero() {
			watermarkTS = prefixEnd
		}
		if !watermarkTS.IsZero() {
			if err := p.store.SetWatermark(ctx, cfg.TenantID, cfg.TableName, watermarkTS, cfg.JobID); err != nil {
				if !avesaerr.Is(err, avesaerr.KindConflict) {
					return Summary{}, fmt.Errorf("tableproc: advancing watermark: %w", err)
				}
				log.Info("watermark advance superseded by a fresher run", "table", cfg.TableName)
			} else {
				lag := time.Since(watermarkTS).Seconds()
				metrics.WatermarkLagSeconds.WithLabelValues(cfg.TenantID, cfg.TableName).Set(lag)
			}
		}
	}

	switch {
	case allSucceeded:
		return Summary{Status: StatusSucceeded, Records: records}, nil
	case anySucceeded:
		var resume *Window
		if !prefixEnd.IsZero() && len(windows) > 0 && prefixEnd.Before(windows[len(windows)-1].End) {
			resume = &Window{Start: prefixEnd, End: windows[len(windows)-1].End}
		}
		return Summary{Status: StatusPartial, Records: records, NextResumeWindow: resume}, nil
	default:
		var resume *Window
		if len(windows) > 0 {
			resume = &Window{Start: windows[0].Start, End: windows[len(windows)-1].End}
		}
		return Summary{Status: StatusFailed, Records: records, NextResumeWindow: resume}, nil
	}
}

// splitWindows divides [start, end) into chunkDuration-sized windows.
func splitWindows(start, end time.Time, chunkDuration time.Duration) []Window {
	if chunkDuration <= 0 {
		return []Window{{Start: start, End: end}}
	}
	var windows []Window
	for cur := start; cur.Before(end); cur = cur.Add(chunkDuration) {
		next := cur.Add(chunkDuration)
		if next.After(end) {
			next = end
		}
		windows = append(windows, Window{Start: cur, End: next})
	}
	return windows
}

// ChunkID deterministically hashes (tenant, table, window) so retries of
// the same chunk reuse the same row and blob path (spec.md §4.5 step 3).
func ChunkID(tenantID, tableName string, start, end time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", tenantID, tableName, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))))
	return hex.EncodeToString(sum[:])[:16]
}
