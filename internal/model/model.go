// Package model holds the plain data structures shared across the pipeline
// tiers (spec.md §3). These are carriers, not behavior: validation and
// persistence live in the packages that own each store.
package model

import "time"

// Tenant is created once and is immutable apart from soft-delete.
type Tenant struct {
	TenantID    string
	CompanyName string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// ServiceConfig is keyed on (TenantID, ServiceName).
type ServiceConfig struct {
	TenantID          string
	ServiceName       string
	Enabled           bool
	CredentialsRef    string
	EndpointOverrides map[string]EndpointConfig
}

// EndpointConfig describes one source endpoint, read-only at runtime. The
// yaml tags let the operator CLI parse a tenant's endpoint table straight
// off disk with the same gopkg.in/yaml.v3 decoder the Mapping Registry
// uses for mapping documents.
type EndpointConfig struct {
	Path             string        `yaml:"path"`
	CanonicalTable   string        `yaml:"canonical_table"`
	Enabled          bool          `yaml:"enabled"`
	PageSize         int           `yaml:"page_size"`
	OrderBy          string        `yaml:"order_by"`
	IncrementalField string        `yaml:"incremental_field"`
	SyncFrequency    time.Duration `yaml:"sync_frequency"`
}

// Watermark is monotonically non-decreasing per (TenantID, TableName).
type Watermark struct {
	TenantID           string
	TableName          string
	LastUpdatedTS      time.Time
	LastSuccessfulJob  string
	UpdatedAt          time.Time
}

// RunKind enumerates how a Job was triggered.
type RunKind string

const (
	RunKindScheduled RunKind = "scheduled"
	RunKindManual    RunKind = "manual"
	RunKindBackfill  RunKind = "backfill"
)

// JobStatus is the terminal/in-flight status of a Job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one orchestrator run; the unit of observability.
type Job struct {
	JobID      string
	RunKind    RunKind
	TenantSet  []string
	Status     JobStatus
	CreatedAt  time.Time
	FinishedAt *time.Time
	Summary    JobSummary
}

// JobSummary is the per-tenant/per-table rollup stored on the Job row.
type JobSummary struct {
	PerTenant map[string]TenantSummary `json:"per_tenant"`
}

// TenantSummary is the per-table rollup for one tenant.
type TenantSummary struct {
	PerTable map[string]TableSummary `json:"per_table"`
}

// TableSummary is the terminal status for one (tenant, table) within a job.
type TableSummary struct {
	Status         string `json:"status"`
	RecordsWritten int64  `json:"records_written"`
	Error          string `json:"error,omitempty"`
}

// ChunkStatus is the terminal/in-flight status of a ChunkProgress row.
type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "pending"
	ChunkStatusInProgress ChunkStatus = "in_progress"
	ChunkStatusSucceeded  ChunkStatus = "succeeded"
	ChunkStatusFailed     ChunkStatus = "failed"
	ChunkStatusTimedOut   ChunkStatus = "timed_out"
)

// ChunkProgress has primary key (JobID, ChunkID); chunk IDs are
// deterministic from (tenant, table, window) so retries reuse the row.
type ChunkProgress struct {
	JobID             string
	TenantID          string
	TableName         string
	ChunkID           string
	WindowStart       time.Time
	WindowEnd         time.Time
	Status            ChunkStatus
	AttemptCount      int
	RecordsWritten    int64
	RawLastUpdatedMax time.Time
	Error             string
}

// IsTerminal reports whether the chunk has reached a status the Table
// Processor will not revisit within the same job (spec.md §7).
func (c ChunkStatus) IsTerminal() bool {
	switch c {
	case ChunkStatusSucceeded, ChunkStatusFailed, ChunkStatusTimedOut:
		return true
	default:
		return false
	}
}

// CanonicalRecord is the canonical row shape shared by every canonical
// table (spec.md §3); business fields live in Fields.
type CanonicalRecord struct {
	TenantID       string
	ID             string
	Fields         map[string]any
	SourceSystem   string
	SourceID       string
	LastUpdated    time.Time
	DataHash       string
	EffectiveDate  time.Time
	ExpirationDate *time.Time
	IsCurrent      bool
	RecordVersion  int
}

// RawRecord is the attribute-map shape returned by a SourceConnector page
// (spec.md §4.2): string keys, scalar/nested-map/list values.
type RawRecord = map[string]any
