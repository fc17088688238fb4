// Package backfill is the Backfill Planner (spec.md §4.9): it splits a
// historical (tenant, service, table, start, end) window into fixed-
// duration chunks and drives the same Tenant→Table→Chunk execution path as
// ordinary incremental runs via a synthetic run_kind=backfill Job.
//
// It also carries the periodic ingestion scheduler, a ticker loop shaped
// exactly like the teacher's pkg/cleanup.Service: Start(ctx) launches an
// immediate pass followed by a time.Ticker-driven loop, Stop() cancels and
// joins.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/orchestrator"
)

// Request describes one historical backfill window (spec.md §4.9's input
// tuple).
type Request struct {
	TenantID      string
	Service       string
	TableName     string
	Start         time.Time
	End           time.Time
	ChunkDuration time.Duration
	ChunkTimeout  time.Duration
	Concurrency   orchestrator.Concurrency
}

// Window is one planned backfill slice.
type Window struct {
	Start time.Time
	End   time.Time
}

// Plan splits [req.Start, req.End) into req.ChunkDuration-sized windows, the
// same splitting the Table Processor applies to an incremental run (spec.md
// §4.5), exposed here as pure, allocation-only code so it's unit-testable
// without any I/O.
func Plan(req Request) []Window {
	if !req.End.After(req.Start) {
		return nil
	}
	if req.ChunkDuration <= 0 {
		return []Window{{Start: req.Start, End: req.End}}
	}
	var windows []Window
	for cur := req.Start; cur.Before(req.End); cur = cur.Add(req.ChunkDuration) {
		next := cur.Add(req.ChunkDuration)
		if next.After(req.End) {
			next = req.End
		}
		windows = append(windows, Window{Start: cur, End: next})
	}
	return windows
}

// Planner dispatches a backfill Request through the orchestrator as a
// synthetic run_kind=backfill Job, one tenant with one table-filtered run.
// The Table Processor plans its own chunk set against [req.Start, req.End)
// rather than the watermark, so ordinary watermark advancement still
// applies the contiguous-prefix rule on the result (spec.md §4.9).
type Planner struct {
	orch *orchestrator.Orchestrator
}

// New builds a Planner.
func New(orch *orchestrator.Orchestrator) *Planner {
	return &Planner{orch: orch}
}

// Run plans and executes one backfill window for a single (tenant, table).
func (p *Planner) Run(ctx context.Context, req Request) (model.Job, error) {
	windows := Plan(req)
	if len(windows) == 0 {
		return model.Job{}, fmt.Errorf("backfill: empty window [%s, %s)", req.Start, req.End)
	}

	return p.orch.Run(ctx, orchestrator.RunRequest{
		RunKind:        model.RunKindBackfill,
		TenantIDs:      []string{req.TenantID},
		TableFilter:    map[string]bool{req.TableName: true},
		Concurrency:    req.Concurrency,
		ChunkDuration:  req.ChunkDuration,
		ChunkTimeout:   req.ChunkTimeout,
		ClockSkewGuard: 0,
		// BackfillWindow pins the Table Processor's start/end to this
		// historical range instead of the table's watermark.
		BackfillWindow: &orchestrator.BackfillWindow{Start: req.Start, End: req.End},
	})
}

// Scheduler runs the periodic incremental ingestion pass: an immediate run
// followed by an interval-driven loop, shaped after the teacher's
// pkg/cleanup.Service.
type Scheduler struct {
	orch     *orchestrator.Orchestrator
	interval time.Duration
	req      orchestrator.RunRequest

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a Scheduler that runs req every interval.
func NewScheduler(orch *orchestrator.Orchestrator, interval time.Duration, req orchestrator.RunRequest) *Scheduler {
	return &Scheduler{orch: orch, interval: interval, req: req}
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("ingestion scheduler started", "interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("ingestion scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	job, err := s.orch.Run(ctx, s.req)
	if err != nil {
		slog.Error("scheduled ingestion run failed", "error", err)
		return
	}
	slog.Info("scheduled ingestion run finished", "job_id", job.JobID, "status", job.Status)
}
