package statestore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgx5migrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/model"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore implements Store against PostgreSQL via pgx, modeled on the
// teacher's pkg/database.Client: pooled connections, migrations applied
// at startup from an embedded filesystem.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL, applies pending migrations, and returns a
// ready-to-use PostgresStore.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("statestore: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("statestore: ping: %w", err)
	}
	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("statestore: migrating: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	db := stdlib.OpenDB(*mustParseConfig(dsn))
	defer db.Close()

	driver, err := pgx5migrate.WithInstance(db, &pgx5migrate.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

func mustParseConfig(dsn string) *pgx.ConnConfig {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		panic(fmt.Sprintf("statestore: invalid dsn: %v", err))
	}
	return cfg
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT tenant_id, company_name, created_at, deleted_at
		FROM tenants WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("statestore: GetTenants: %w", err)
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.TenantID, &t.CompanyName, &t.CreatedAt, &t.DeletedAt); err != nil {
			return nil, fmt.Errorf("statestore: GetTenants scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateTenant(ctx context.Context, tenant model.Tenant) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO tenants (tenant_id, company_name, created_at)
		VALUES ($1, $2, $3)`, tenant.TenantID, tenant.CompanyName, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("statestore: CreateTenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetServiceConfig(ctx context.Context, tenantID, service string) (model.ServiceConfig, error) {
	var cfg model.ServiceConfig
	var overridesJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT tenant_id, service_name, enabled, credentials_ref, endpoint_overrides
		FROM service_configs WHERE tenant_id = $1 AND service_name = $2`, tenantID, service).
		Scan(&cfg.TenantID, &cfg.ServiceName, &cfg.Enabled, &cfg.CredentialsRef, &overridesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ServiceConfig{}, avesaerr.New("GetServiceConfig", avesaerr.KindNotFound, err)
	}
	if err != nil {
		return model.ServiceConfig{}, fmt.Errorf("statestore: GetServiceConfig: %w", err)
	}
	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &cfg.EndpointOverrides); err != nil {
			return model.ServiceConfig{}, fmt.Errorf("statestore: GetServiceConfig unmarshal overrides: %w", err)
		}
	}
	return cfg, nil
}

func (s *PostgresStore) ListServiceConfigs(ctx context.Context, tenantID string) ([]model.ServiceConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT tenant_id, service_name, enabled, credentials_ref, endpoint_overrides
		FROM service_configs WHERE tenant_id = $1 AND enabled`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("statestore: ListServiceConfigs: %w", err)
	}
	defer rows.Close()

	var out []model.ServiceConfig
	for rows.Next() {
		var cfg model.ServiceConfig
		var overridesJSON []byte
		if err := rows.Scan(&cfg.TenantID, &cfg.ServiceName, &cfg.Enabled, &cfg.CredentialsRef, &overridesJSON); err != nil {
			return nil, fmt.Errorf("statestore: ListServiceConfigs scan: %w", err)
		}
		if len(overridesJSON) > 0 {
			_ = json.Unmarshal(overridesJSON, &cfg.EndpointOverrides)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertServiceConfig(ctx context.Context, cfg model.ServiceConfig) error {
	overridesJSON, err := json.Marshal(cfg.EndpointOverrides)
	if err != nil {
		return fmt.Errorf("statestore: UpsertServiceConfig marshal: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO service_configs (tenant_id, service_name, enabled, credentials_ref, endpoint_overrides)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, service_name) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			credentials_ref = EXCLUDED.credentials_ref,
			endpoint_overrides = EXCLUDED.endpoint_overrides`,
		cfg.TenantID, cfg.ServiceName, cfg.Enabled, cfg.CredentialsRef, overridesJSON)
	if err != nil {
		return fmt.Errorf("statestore: UpsertServiceConfig: %w", err)
	}
	return nil
}

// epoch is the zero watermark returned when none has been recorded yet.
var epoch = time.Unix(0, 0).UTC()

func (s *PostgresStore) GetWatermark(ctx context.Context, tenantID, table string) (model.Watermark, error) {
	var wm model.Watermark
	err := s.pool.QueryRow(ctx, `SELECT tenant_id, table_name, last_updated_ts, last_successful_job_id, updated_at
		FROM watermarks WHERE tenant_id = $1 AND table_name = $2`, tenantID, table).
		Scan(&wm.TenantID, &wm.TableName, &wm.LastUpdatedTS, &wm.LastSuccessfulJob, &wm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Watermark{TenantID: tenantID, TableName: table, LastUpdatedTS: epoch}, nil
	}
	if err != nil {
		return model.Watermark{}, fmt.Errorf("statestore: GetWatermark: %w", err)
	}
	return wm, nil
}

func (s *PostgresStore) SetWatermark(ctx context.Context, tenantID, table string, ts time.Time, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO watermarks (tenant_id, table_name, last_updated_ts, last_successful_job_id, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id, table_name) DO UPDATE SET
			last_updated_ts = EXCLUDED.last_updated_ts,
			last_successful_job_id = EXCLUDED.last_successful_job_id,
			updated_at = now()
		WHERE watermarks.last_updated_ts <= $3`,
		tenantID, table, ts, jobID)
	if err != nil {
		return fmt.Errorf("statestore: SetWatermark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row didn't exist (handled by the INSERT ON CONFLICT path
		// above, so this only triggers on the WHERE guard) or an existing,
		// higher watermark blocked the update.
		return avesaerr.New("SetWatermark", avesaerr.KindConflict, nil)
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job model.Job) error {
	tenantSetJSON, err := json.Marshal(job.TenantSet)
	if err != nil {
		return fmt.Errorf("statestore: CreateJob marshal: %w", err)
	}
	summaryJSON, err := json.Marshal(job.Summary)
	if err != nil {
		return fmt.Errorf("statestore: CreateJob marshal summary: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO jobs (job_id, run_kind, tenant_set, status, created_at, summary)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.JobID, job.RunKind, tenantSetJSON, job.Status, job.CreatedAt, summaryJSON)
	if err != nil {
		return fmt.Errorf("statestore: CreateJob: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	var job model.Job
	var tenantSetJSON, summaryJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT job_id, run_kind, tenant_set, status, created_at, finished_at, summary
		FROM jobs WHERE job_id = $1`, jobID).
		Scan(&job.JobID, &job.RunKind, &tenantSetJSON, &job.Status, &job.CreatedAt, &job.FinishedAt, &summaryJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, avesaerr.New("GetJob", avesaerr.KindNotFound, err)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("statestore: GetJob: %w", err)
	}
	_ = json.Unmarshal(tenantSetJSON, &job.TenantSet)
	_ = json.Unmarshal(summaryJSON, &job.Summary)
	return job, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, summary model.JobSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("statestore: UpdateJobStatus marshal: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $2, summary = $3, finished_at = now() WHERE job_id = $1`,
		jobID, status, summaryJSON)
	if err != nil {
		return fmt.Errorf("statestore: UpdateJobStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return avesaerr.New("UpdateJobStatus", avesaerr.KindNotFound, nil)
	}
	return nil
}

func (s *PostgresStore) UpsertChunk(ctx context.Context, chunk model.ChunkProgress) error {
	existing, err := s.GetChunk(ctx, chunk.JobID, chunk.ChunkID)
	if err == nil && existing.Status == model.ChunkStatusSucceeded {
		return avesaerr.New("UpsertChunk", avesaerr.KindAlreadyTerminal, nil)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO chunk_progress
			(job_id, tenant_id, table_name, chunk_id, window_start, window_end,
			 status, attempt_count, records_written, raw_last_updated_max, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id, chunk_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			records_written = EXCLUDED.records_written,
			raw_last_updated_max = EXCLUDED.raw_last_updated_max,
			error = EXCLUDED.error
		WHERE chunk_progress.status <> 'succeeded'`,
		chunk.JobID, chunk.TenantID, chunk.TableName, chunk.ChunkID,
		chunk.WindowStart, chunk.WindowEnd, chunk.Status, chunk.AttemptCount,
		chunk.RecordsWritten, nullableTime(chunk.RawLastUpdatedMax), nullableString(chunk.Error))
	if err != nil {
		return fmt.Errorf("statestore: UpsertChunk: %w", err)
	}
	return nil
}

// ClaimChunk atomically transitions a claimable chunk to in_progress.
// Claimable means pending, or timed_out (eligible for the one resumption
// attempt per spec.md §4.4).
func (s *PostgresStore) ClaimChunk(ctx context.Context, jobID, chunkID string) (model.ChunkProgress, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.ChunkProgress{}, fmt.Errorf("statestore: ClaimChunk begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var chunk model.ChunkProgress
	var rawMax *time.Time
	var errStr *string
	err = tx.QueryRow(ctx, `SELECT job_id, tenant_id, table_name, chunk_id, window_start, window_end,
			status, attempt_count, records_written, raw_last_updated_max, error
		FROM chunk_progress WHERE job_id = $1 AND chunk_id = $2
		FOR UPDATE SKIP LOCKED`, jobID, chunkID).
		Scan(&chunk.JobID, &chunk.TenantID, &chunk.TableName, &chunk.ChunkID,
			&chunk.WindowStart, &chunk.WindowEnd, &chunk.Status, &chunk.AttemptCount,
			&chunk.RecordsWritten, &rawMax, &errStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ChunkProgress{}, avesaerr.New("ClaimChunk", avesaerr.KindNotFound, err)
	}
	if err != nil {
		return model.ChunkProgress{}, fmt.Errorf("statestore: ClaimChunk select: %w", err)
	}
	if chunk.Status != model.ChunkStatusPending && chunk.Status != model.ChunkStatusTimedOut {
		return model.ChunkProgress{}, avesaerr.New("ClaimChunk", avesaerr.KindConflict, nil)
	}

	chunk.Status = model.ChunkStatusInProgress
	chunk.AttemptCount++

	_, err = tx.Exec(ctx, `UPDATE chunk_progress SET status = $3, attempt_count = $4
		WHERE job_id = $1 AND chunk_id = $2`, jobID, chunkID, chunk.Status, chunk.AttemptCount)
	if err != nil {
		return model.ChunkProgress{}, fmt.Errorf("statestore: ClaimChunk update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.ChunkProgress{}, fmt.Errorf("statestore: ClaimChunk commit: %w", err)
	}
	return chunk, nil
}

func (s *PostgresStore) GetChunk(ctx context.Context, jobID, chunkID string) (model.ChunkProgress, error) {
	var chunk model.ChunkProgress
	var rawMax *time.Time
	var errStr *string
	err := s.pool.QueryRow(ctx, `SELECT job_id, tenant_id, table_name, chunk_id, window_start, window_end,
			status, attempt_count, records_written, raw_last_updated_max, error
		FROM chunk_progress WHERE job_id = $1 AND chunk_id = $2`, jobID, chunkID).
		Scan(&chunk.JobID, &chunk.TenantID, &chunk.TableName, &chunk.ChunkID,
			&chunk.WindowStart, &chunk.WindowEnd, &chunk.Status, &chunk.AttemptCount,
			&chunk.RecordsWritten, &rawMax, &errStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ChunkProgress{}, avesaerr.New("GetChunk", avesaerr.KindNotFound, err)
	}
	if err != nil {
		return model.ChunkProgress{}, fmt.Errorf("statestore: GetChunk: %w", err)
	}
	if rawMax != nil {
		chunk.RawLastUpdatedMax = *rawMax
	}
	if errStr != nil {
		chunk.Error = *errStr
	}
	return chunk, nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, jobID string) ([]model.ChunkProgress, error) {
	return s.queryChunks(ctx, `SELECT job_id, tenant_id, table_name, chunk_id, window_start, window_end,
			status, attempt_count, records_written, raw_last_updated_max, error
		FROM chunk_progress WHERE job_id = $1 ORDER BY window_start`, jobID)
}

func (s *PostgresStore) ListChunksForTable(ctx context.Context, jobID, tenantID, table string) ([]model.ChunkProgress, error) {
	return s.queryChunks(ctx, `SELECT job_id, tenant_id, table_name, chunk_id, window_start, window_end,
			status, attempt_count, records_written, raw_last_updated_max, error
		FROM chunk_progress WHERE job_id = $1 AND tenant_id = $2 AND table_name = $3 ORDER BY window_start`,
		jobID, tenantID, table)
}

func (s *PostgresStore) queryChunks(ctx context.Context, query string, args ...any) ([]model.ChunkProgress, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("statestore: queryChunks: %w", err)
	}
	defer rows.Close()

	var out []model.ChunkProgress
	for rows.Next() {
		var chunk model.ChunkProgress
		var rawMax *time.Time
		var errStr *string
		if err := rows.Scan(&chunk.JobID, &chunk.TenantID, &chunk.TableName, &chunk.ChunkID,
			&chunk.WindowStart, &chunk.WindowEnd, &chunk.Status, &chunk.AttemptCount,
			&chunk.RecordsWritten, &rawMax, &errStr); err != nil {
			return nil, fmt.Errorf("statestore: queryChunks scan: %w", err)
		}
		if rawMax != nil {
			chunk.RawLastUpdatedMax = *rawMax
		}
		if errStr != nil {
			chunk.Error = *errStr
		}
		out = append(out, chunk)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PostgresStore)(nil)
