package tenantproc_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/blobstore"
	"github.com/avesa-io/avesa/internal/canonical"
	"github.com/avesa-io/avesa/internal/chunkproc"
	"github.com/avesa-io/avesa/internal/columnstore"
	"github.com/avesa-io/avesa/internal/connector"
	"github.com/avesa-io/avesa/internal/lock"
	"github.com/avesa-io/avesa/internal/mapping"
	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/retry"
	"github.com/avesa-io/avesa/internal/secretstore"
	"github.com/avesa-io/avesa/internal/statestore"
	"github.com/avesa-io/avesa/internal/tableproc"
	"github.com/avesa-io/avesa/internal/tenantproc"
)

var (
	sharedDSN     string
	containerOnce sync.Once
	containerErr  error
)

func newColumnStore(t *testing.T) *columnstore.Store {
	t.Helper()
	ctx := context.Background()

	containerOnce.Do(func() {
		c, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("avesa_test"),
			postgres.WithUsername("avesa"),
			postgres.WithPassword("avesa"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("starting postgres container: %w", err)
			return
		}
		sharedDSN, containerErr = c.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr)

	store, err := columnstore.Open(ctx, sharedDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newLocker(t *testing.T) *lock.Locker {
	t.Helper()
	ctx := context.Background()

	c, err := redis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	connStr, err := c.ConnectionString(ctx)
	require.NoError(t, err)

	l, err := lock.New(connStr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func companiesMapping(t *testing.T) *mapping.Registry {
	t.Helper()
	dir := t.TempDir()
	doc := `
canonical_table: companies
scd_type: type2
natural_key: [id]
source_mappings:
  connectwise:
    endpoint_path: /company/companies
    fields:
      - canonical_field: id
        source_path: id
        required: true
      - canonical_field: name
        source_path: identifier
        required: true
      - canonical_field: last_updated
        source_path: info.lastUpdated
        required: true
        transform: iso_datetime
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "companies.yaml"), []byte(doc), 0o644))
	reg, err := mapping.Load(dir)
	require.NoError(t, err)
	return reg
}

// fakeStore is a minimal in-memory statestore.Store covering what the
// Tenant and Table Processors exercise.
type fakeStore struct {
	mu         sync.Mutex
	services   map[string][]model.ServiceConfig
	watermarks map[string]model.Watermark
	chunks     map[string]model.ChunkProgress
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		services:   make(map[string][]model.ServiceConfig),
		watermarks: make(map[string]model.Watermark),
		chunks:     make(map[string]model.ChunkProgress),
	}
}

func (f *fakeStore) GetTenants(context.Context) ([]model.Tenant, error) { return nil, nil }
func (f *fakeStore) CreateTenant(context.Context, model.Tenant) error   { return nil }
func (f *fakeStore) GetServiceConfig(context.Context, string, string) (model.ServiceConfig, error) {
	return model.ServiceConfig{}, nil
}
func (f *fakeStore) ListServiceConfigs(_ context.Context, tenantID string) ([]model.ServiceConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.services[tenantID], nil
}
func (f *fakeStore) UpsertServiceConfig(_ context.Context, cfg model.ServiceConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[cfg.TenantID] = append(f.services[cfg.TenantID], cfg)
	return nil
}

func (f *fakeStore) GetWatermark(_ context.Context, tenantID, table string) (model.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if wm, ok := f.watermarks[tenantID+"|"+table]; ok {
		return wm, nil
	}
	return model.Watermark{TenantID: tenantID, TableName: table, LastUpdatedTS: time.Unix(0, 0).UTC()}, nil
}
func (f *fakeStore) SetWatermark(_ context.Context, tenantID, table string, ts time.Time, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watermarks[tenantID+"|"+table] = model.Watermark{TenantID: tenantID, TableName: table, LastUpdatedTS: ts, LastSuccessfulJob: jobID}
	return nil
}

func (f *fakeStore) CreateJob(context.Context, model.Job) error { return nil }
func (f *fakeStore) GetJob(context.Context, string) (model.Job, error) {
	return model.Job{}, nil
}
func (f *fakeStore) UpdateJobStatus(context.Context, string, model.JobStatus, model.JobSummary) error {
	return nil
}

func (f *fakeStore) UpsertChunk(_ context.Context, chunk model.ChunkProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chunk.JobID + "|" + chunk.ChunkID
	if existing, ok := f.chunks[key]; ok && existing.Status == model.ChunkStatusSucceeded {
		return avesaerr.New("fakeStore.UpsertChunk", avesaerr.KindAlreadyTerminal, nil)
	}
	f.chunks[key] = chunk
	return nil
}
func (f *fakeStore) ClaimChunk(_ context.Context, jobID, chunkID string) (model.ChunkProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[jobID+"|"+chunkID], nil
}
func (f *fakeStore) GetChunk(_ context.Context, jobID, chunkID string) (model.ChunkProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[jobID+"|"+chunkID], nil
}
func (f *fakeStore) ListChunks(_ context.Context, jobID string) ([]model.ChunkProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChunkProgress
	for _, c := range f.chunks {
		if c.JobID == jobID {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeStore) ListChunksForTable(_ context.Context, jobID, tenantID, table string) ([]model.ChunkProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChunkProgress
	for _, c := range f.chunks {
		if c.JobID == jobID && c.TenantID == tenantID && c.TableName == table {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeStore) Close() error { return nil }

var _ statestore.Store = (*fakeStore)(nil)

type fakeSecrets struct{}

func (fakeSecrets) Resolve(context.Context, string) (secretstore.Credential, error) {
	return secretstore.Credential{Token: "tok"}, nil
}

func TestRunProcessesEnabledTablesAndTriggersCanonicalTransform(t *testing.T) {
	store := newFakeStore()
	store.services["acme"] = []model.ServiceConfig{{
		TenantID: "acme", ServiceName: "connectwise", Enabled: true, CredentialsRef: "acme-connectwise",
		EndpointOverrides: map[string]model.EndpointConfig{
			"companies": {Path: "/company/companies", CanonicalTable: "companies", Enabled: true, PageSize: 10},
		},
	}}

	registry := connector.NewRegistry(time.Second)
	recordTS := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := connector.NewMock(connector.Page{
		Records: []model.RawRecord{{"id": "co-1", "identifier": "Acme", "info": map[string]any{"lastUpdated": recordTS.Format(time.RFC3339)}}},
		RawLastUpdatedMax: recordTS,
	})
	registry.Register("connectwise", mock, 100, 10)

	blobs := blobstore.NewMemStore()
	chunks := chunkproc.New(registry, blobs, fakeSecrets{}, retry.Default, 5)
	tables := tableproc.New(store, chunks)

	columns := newColumnStore(t)
	locker := newLocker(t)
	mappings := companiesMapping(t)
	canon := canonical.New(mappings, blobs, columns, locker, 0)

	p := tenantproc.New(store, tables, canon, blobs)

	summary, err := p.Run(context.Background(), tenantproc.Config{
		JobID: "job-1", TenantID: "acme", TablesConcurrency: 2, ChunksConcurrency: 2,
		ChunkDuration: 0, ChunkTimeout: 5 * time.Second, ClockSkewGuard: 0,
	})
	require.NoError(t, err)
	require.Equal(t, tableproc.StatusSucceeded, summary.PerTable["companies"].Status)
	require.EqualValues(t, 1, summary.PerTable["companies"].RecordsWritten)

	require.Eventually(t, func() bool {
		ctx := context.Background()
		tx, err := columns.BeginTx(ctx)
		if err != nil {
			return false
		}
		defer func() { _ = tx.Rollback(ctx) }()
		_, found, err := columns.GetCurrent(ctx, tx, "companies", "acme", "co-1")
		return err == nil && found
	}, 3*time.Second, 50*time.Millisecond, "canonical transform should merge the company within a few seconds")
}

func TestRunSkipsDisabledEndpoints(t *testing.T) {
	store := newFakeStore()
	store.services["acme"] = []model.ServiceConfig{{
		TenantID: "acme", ServiceName: "connectwise", Enabled: true, CredentialsRef: "acme-connectwise",
		EndpointOverrides: map[string]model.EndpointConfig{
			"companies": {Path: "/company/companies", CanonicalTable: "companies", Enabled: false, PageSize: 10},
		},
	}}

	registry := connector.NewRegistry(time.Second)
	blobs := blobstore.NewMemStore()
	chunks := chunkproc.New(registry, blobs, fakeSecrets{}, retry.Default, 5)
	tables := tableproc.New(store, chunks)

	p := tenantproc.New(store, tables, nil, blobs)

	summary, err := p.Run(context.Background(), tenantproc.Config{
		JobID: "job-2", TenantID: "acme", TablesConcurrency: 2, ChunksConcurrency: 2,
	})
	require.NoError(t, err)
	require.Empty(t, summary.PerTable)
}
