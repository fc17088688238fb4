// Package aggregator turns a finished orchestrator Job into a per-tenant
// summary notification, generalizing the teacher's pkg/slack notification
// service from one alert session to one pipeline job: NotifyJobStarted and
// NotifyJobCompleted replace NotifySessionStarted/NotifySessionCompleted,
// posting a per-tenant table-status rollup instead of an analysis summary.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/tableproc"
)

const maxBlockTextLength = 2900

// Config holds the parameters needed to construct a Notifier.
type Config struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Notifier posts job-level notifications to Slack. Nil-safe: every method
// is a no-op when the receiver is nil, so callers can construct it
// unconditionally and never branch on whether Slack is configured.
type Notifier struct {
	api          *goslack.Client
	channel      string
	dashboardURL string
	logger       *slog.Logger
}

// New builds a Notifier. Returns nil if Token or Channel is empty, so
// unconfigured deployments get a no-op notifier rather than an error.
func New(cfg Config) *Notifier {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Notifier{
		api:          goslack.New(cfg.Token),
		channel:      cfg.Channel,
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "aggregator"),
	}
}

// NotifyJobStarted posts a job-started message and returns its Slack
// timestamp, so a later NotifyJobCompleted can thread onto it. Returns ""
// on a nil receiver or a delivery failure; failures are logged, never
// returned, so a Slack outage never fails the pipeline run.
func (n *Notifier) NotifyJobStarted(ctx context.Context, job model.Job) string {
	if n == nil {
		return ""
	}

	text := fmt.Sprintf(":arrows_counterclockwise: *Ingestion started* — run_kind=%s, job_id=%s, tenants=%d\n%s",
		job.RunKind, job.JobID, len(job.TenantSet), n.dashboardLink(job.JobID))

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}

	_, ts, err := n.api.PostMessageContext(ctx, n.channel, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		n.logger.Error("failed to post job-started notification", "job_id", job.JobID, "error", err)
		return ""
	}
	return ts
}

// NotifyJobCompleted posts the job's terminal summary, threaded onto
// threadTS when non-empty. Nil-safe and fail-open like NotifyJobStarted.
func (n *Notifier) NotifyJobCompleted(ctx context.Context, job model.Job, threadTS string) {
	if n == nil {
		return
	}

	blocks := buildSummaryMessage(job, n.dashboardURL)

	opts := []goslack.MsgOption{goslack.MsgOptionBlocks(blocks...)}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	if _, _, err := n.api.PostMessageContext(ctx, n.channel, opts...); err != nil {
		n.logger.Error("failed to post job-completed notification", "job_id", job.JobID, "error", err)
	}
}

func (n *Notifier) dashboardLink(jobID string) string {
	if n.dashboardURL == "" {
		return ""
	}
	return fmt.Sprintf("<%s/jobs/%s|View in Dashboard>", n.dashboardURL, jobID)
}

var statusEmoji = map[model.JobStatus]string{
	model.JobStatusSucceeded: ":white_check_mark:",
	model.JobStatusPartial:   ":warning:",
	model.JobStatusFailed:    ":x:",
}

var statusLabel = map[model.JobStatus]string{
	model.JobStatusSucceeded: "Ingestion Succeeded",
	model.JobStatusPartial:   "Ingestion Partially Failed",
	model.JobStatusFailed:    "Ingestion Failed",
}

// buildSummaryMessage creates Block Kit blocks for a job's terminal
// summary: one header line plus a per-tenant table of failing tables,
// mirroring the teacher's BuildTerminalMessage layout.
func buildSummaryMessage(job model.Job, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[job.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[job.Status]
	if label == "" {
		label = "Ingestion " + string(job.Status)
	}

	header := fmt.Sprintf("%s *%s* — run_kind=%s, job_id=%s", emoji, label, job.RunKind, job.JobID)

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
		nil, nil,
	))

	if detail := formatFailingTables(job.Summary); detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(detail), false, false),
			nil, nil,
		))
	}

	if dashboardURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Job", false, false))
		btn.URL = fmt.Sprintf("%s/jobs/%s", dashboardURL, job.JobID)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

// formatFailingTables lists every table that did not succeed, grouped by
// tenant, so an on-call engineer can see what needs a backfill without
// opening the dashboard.
func formatFailingTables(summary model.JobSummary) string {
	tenantIDs := make([]string, 0, len(summary.PerTenant))
	for tenantID := range summary.PerTenant {
		tenantIDs = append(tenantIDs, tenantID)
	}
	sort.Strings(tenantIDs)

	var lines []string
	for _, tenantID := range tenantIDs {
		ts := summary.PerTenant[tenantID]
		tableNames := make([]string, 0, len(ts.PerTable))
		for name := range ts.PerTable {
			tableNames = append(tableNames, name)
		}
		sort.Strings(tableNames)

		for _, name := range tableNames {
			t := ts.PerTable[name]
			if t.Status == tableproc.StatusSucceeded {
				continue
			}
			line := fmt.Sprintf("• `%s/%s`: %s", tenantID, name, t.Status)
			if t.Error != "" {
				line += fmt.Sprintf(" — %s", t.Error)
			}
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "*Failing tables:*\n" + strings.Join(lines, "\n")
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full summary in dashboard)_"
}
