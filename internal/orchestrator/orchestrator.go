// Package orchestrator is the Pipeline Orchestrator (spec.md §4.7): the
// top-level state machine that builds a Job, dispatches Tenant Processors
// across it with bounded concurrency, and aggregates the job-level
// status. Job IDs use google/uuid, the same identifier library the
// teacher's queue/event/session packages use throughout.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avesa-io/avesa/internal/aggregator"
	"github.com/avesa-io/avesa/internal/metrics"
	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/statestore"
	"github.com/avesa-io/avesa/internal/tableproc"
	"github.com/avesa-io/avesa/internal/tenantproc"
	"github.com/avesa-io/avesa/internal/workerpool"
)

// Concurrency bundles the per-tier bounds spec.md §5 derives
// max_open_chunks from.
type Concurrency struct {
	Tenants int
	Tables  int
	Chunks  int
}

// MaxOpenChunks is tenants_concurrency × tables_concurrency ×
// chunks_concurrency (spec.md §4.7's in-flight bound).
func (c Concurrency) MaxOpenChunks() int { return c.Tenants * c.Tables * c.Chunks }

// BackfillWindow pins a run to an explicit historical range instead of
// each table's watermark (spec.md §4.9).
type BackfillWindow struct {
	Start time.Time
	End   time.Time
}

// RunRequest describes one orchestrator invocation.
type RunRequest struct {
	RunKind        model.RunKind
	TenantIDs      []string // empty means every tenant
	ForceFullSync  bool
	TableFilter    map[string]bool
	Concurrency    Concurrency
	ChunkDuration  time.Duration
	ChunkTimeout   time.Duration
	JobTimeout     time.Duration
	ClockSkewGuard time.Duration
	BackfillWindow *BackfillWindow
}

// Orchestrator drives one run of the building→dispatching→waiting→
// aggregating→terminal state machine.
type Orchestrator struct {
	store    statestore.Store
	tenants  *tenantproc.Processor
	notifier *aggregator.Notifier
}

// New builds an Orchestrator. notifier may be nil, in which case job
// notifications are skipped (aggregator.Notifier is itself nil-safe, so
// this is purely an optimization to avoid the nil-check at call sites).
func New(store statestore.Store, tenants *tenantproc.Processor, notifier *aggregator.Notifier) *Orchestrator {
	return &Orchestrator{store: store, tenants: tenants, notifier: notifier}
}

// Run executes one full pipeline run and returns the finished Job.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (model.Job, error) {
	log := slog.With("run_kind", req.RunKind)

	// building
	job, tenantIDs, err := o.build(ctx, req)
	if err != nil {
		return model.Job{}, fmt.Errorf("orchestrator: building run: %w", err)
	}
	log = log.With("job_id", job.JobID)
	log.Info("job building complete", "tenant_count", len(tenantIDs))

	threadTS := o.notifier.NotifyJobStarted(ctx, job)

	runCtx := ctx
	var cancel context.CancelFunc
	if req.JobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.JobTimeout)
		defer cancel()
	}

	// dispatching + waiting
	type tenantOutcome struct {
		tenantID string
		summary  tenantproc.Summary
		err      error
	}
	var window *tableproc.Window
	if req.BackfillWindow != nil {
		window = &tableproc.Window{Start: req.BackfillWindow.Start, End: req.BackfillWindow.End}
	}

	log.Info("dispatching tenant processors")
	outcomes := workerpool.Map(runCtx, req.Concurrency.Tenants, tenantIDs, func(ctx context.Context, tenantID string) tenantOutcome {
		summary, err := o.tenants.Run(ctx, tenantproc.Config{
			JobID: job.JobID, TenantID: tenantID, ForceFullSync: req.ForceFullSync, TableFilter: req.TableFilter,
			TablesConcurrency: req.Concurrency.Tables, ChunksConcurrency: req.Concurrency.Chunks,
			ChunkDuration: req.ChunkDuration, ChunkTimeout: req.ChunkTimeout, ClockSkewGuard: req.ClockSkewGuard,
			Window: window,
		})
		return tenantOutcome{tenantID: tenantID, summary: summary, err: err}
	})

	// aggregating
	summary := model.JobSummary{PerTenant: make(map[string]model.TenantSummary, len(outcomes))}
	allSucceeded := true
	anySucceeded := false
	for _, res := range outcomes {
		ts := model.TenantSummary{PerTable: res.summary.PerTable}
		tenantOK := res.err == nil
		for _, t := range res.summary.PerTable {
			switch t.Status {
			case tableproc.StatusFailed:
				tenantOK = false
			case tableproc.StatusSucceeded, tableproc.StatusPartial:
				anySucceeded = true
			}
		}
		if !tenantOK {
			allSucceeded = false
		}
		summary.PerTenant[res.tenantID] = ts
	}

	status := model.JobStatusFailed
	switch {
	case allSucceeded:
		status = model.JobStatusSucceeded
	case anySucceeded:
		status = model.JobStatusPartial
	}

	// terminal
	if err := o.store.UpdateJobStatus(ctx, job.JobID, status, summary); err != nil {
		return model.Job{}, fmt.Errorf("orchestrator: finalizing job: %w", err)
	}
	finishedAt := time.Now().UTC()
	job.Status = status
	job.Summary = summary
	job.FinishedAt = &finishedAt
	metrics.JobsTotal.WithLabelValues(string(req.RunKind), string(status)).Inc()
	o.notifier.NotifyJobCompleted(ctx, job, threadTS)
	log.Info("job finished", "status", status)
	return job, nil
}

func (o *Orchestrator) build(ctx context.Context, req RunRequest) (model.Job, []string, error) {
	tenantIDs := req.TenantIDs
	if len(tenantIDs) == 0 {
		tenants, err := o.store.GetTenants(ctx)
		if err != nil {
			return model.Job{}, nil, fmt.Errorf("listing tenants: %w", err)
		}
		for _, t := range tenants {
			if t.DeletedAt == nil {
				tenantIDs = append(tenantIDs, t.TenantID)
			}
		}
	}

	job := model.Job{
		JobID:     uuid.NewString(),
		RunKind:   req.RunKind,
		TenantSet: tenantIDs,
		Status:    model.JobStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return model.Job{}, nil, fmt.Errorf("creating job: %w", err)
	}
	return job, tenantIDs, nil
}
