package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/blobstore"
	"github.com/avesa-io/avesa/internal/chunkproc"
	"github.com/avesa-io/avesa/internal/connector"
	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/orchestrator"
	"github.com/avesa-io/avesa/internal/retry"
	"github.com/avesa-io/avesa/internal/secretstore"
	"github.com/avesa-io/avesa/internal/statestore"
	"github.com/avesa-io/avesa/internal/tableproc"
	"github.com/avesa-io/avesa/internal/tenantproc"
)

// fakeStore is a minimal in-memory statestore.Store covering everything the
// Orchestrator→Tenant→Table chain exercises in these tests.
type fakeStore struct {
	mu         sync.Mutex
	tenants    []model.Tenant
	services   map[string][]model.ServiceConfig
	watermarks map[string]model.Watermark
	chunks     map[string]model.ChunkProgress
	jobs       map[string]model.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		services:   make(map[string][]model.ServiceConfig),
		watermarks: make(map[string]model.Watermark),
		chunks:     make(map[string]model.ChunkProgress),
		jobs:       make(map[string]model.Job),
	}
}

func (f *fakeStore) GetTenants(context.Context) ([]model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenants, nil
}
func (f *fakeStore) CreateTenant(context.Context, model.Tenant) error { return nil }
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

func (f *fakeStore) CreateJob(_ context.Context, job model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.JobID] = job
	return nil
}
func (f *fakeStore) GetJob(_ context.Context, jobID string) (model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID], nil
}
func (f *fakeStore) UpdateJobStatus(_ context.Context, jobID string, status model.JobStatus, summary model.JobSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Status = status
	job.Summary = summary
	f.jobs[jobID] = job
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

// denySecrets fails credential resolution for one specific ref, so a single
// tenant's table run can be made to fail without a second connector registry.
type denySecrets struct{ denyRef string }

func (d denySecrets) Resolve(_ context.Context, ref string) (secretstore.Credential, error) {
	if ref == d.denyRef {
		return secretstore.Credential{}, avesaerr.New("denySecrets.Resolve", avesaerr.KindNotFound, nil)
	}
	return secretstore.Credential{Token: "tok"}, nil
}

func newTenantProcessor(store *fakeStore, mock *connector.Mock) *tenantproc.Processor {
	registry := connector.NewRegistry(time.Second)
	registry.Register("connectwise", mock, 100, 10)
	blobs := blobstore.NewMemStore()
	chunks := chunkproc.New(registry, blobs, fakeSecrets{}, retry.Default, 5)
	tables := tableproc.New(store, chunks)
	// No canonical transform wiring needed: these tests only assert
	// job/tenant/table status aggregation, not the fire-and-forget merge.
	return tenantproc.New(store, tables, nil, blobs)
}

func TestRunAllTenantsSucceedYieldsSucceededJob(t *testing.T) {
	store := newFakeStore()
	store.tenants = []model.Tenant{{TenantID: "acme"}, {TenantID: "globex"}}
	for _, tid := range []string{"acme", "globex"} {
		store.services[tid] = []model.ServiceConfig{{
			TenantID: tid, ServiceName: "connectwise", Enabled: true, CredentialsRef: tid + "-connectwise",
			EndpointOverrides: map[string]model.EndpointConfig{
				"companies": {Path: "/company/companies", CanonicalTable: "companies", Enabled: true, PageSize: 10},
			},
		}}
	}

	mock := connector.NewMock(connector.Page{
		Records:           []model.RawRecord{{"id": "co-1"}},
		RawLastUpdatedMax: time.Now().UTC().Add(-time.Hour),
	})
	tenants := newTenantProcessor(store, mock)
	o := orchestrator.New(store, tenants, nil)

	job, err := o.Run(context.Background(), orchestrator.RunRequest{
		RunKind:     model.RunKindManual,
		Concurrency: orchestrator.Concurrency{Tenants: 2, Tables: 2, Chunks: 2},
	})
	require.NoError(t, err)
	require.Equal(t, model.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.FinishedAt)
	require.Len(t, job.Summary.PerTenant, 2)
	require.Equal(t, tableproc.StatusSucceeded, job.Summary.PerTenant["acme"].PerTable["companies"].Status)
}

func TestRunOneTenantFailsYieldsPartialJob(t *testing.T) {
	store := newFakeStore()
	store.tenants = []model.Tenant{{TenantID: "acme"}, {TenantID: "globex"}}
	store.services["acme"] = []model.ServiceConfig{{
		TenantID: "acme", ServiceName: "connectwise", Enabled: true, CredentialsRef: "acme-connectwise",
		EndpointOverrides: map[string]model.EndpointConfig{
			"companies": {Path: "/company/companies", CanonicalTable: "companies", Enabled: true, PageSize: 10},
		},
	}}
	store.services["globex"] = []model.ServiceConfig{{
		TenantID: "globex", ServiceName: "connectwise", Enabled: true, CredentialsRef: "globex-connectwise",
		EndpointOverrides: map[string]model.EndpointConfig{
			"companies": {Path: "/company/companies", CanonicalTable: "companies", Enabled: true, PageSize: 10},
		},
	}}

	registry := connector.NewRegistry(time.Second)
	mock := connector.NewMock(connector.Page{
		Records:           []model.RawRecord{{"id": "co-1"}},
		RawLastUpdatedMax: time.Now().UTC().Add(-time.Hour),
	})
	registry.Register("connectwise", mock, 100, 10)

	blobs := blobstore.NewMemStore()
	// globex's credentials never resolve, so its table (and tenant) fails
	// while acme's succeeds, yielding an overall partial job.
	chunks := chunkproc.New(registry, blobs, denySecrets{denyRef: "globex-connectwise"}, retry.Default, 5)
	tables := tableproc.New(store, chunks)
	tenants := tenantproc.New(store, tables, nil, blobs)

	o := orchestrator.New(store, tenants, nil)

	job, err := o.Run(context.Background(), orchestrator.RunRequest{
		RunKind:     model.RunKindManual,
		TenantIDs:   []string{"acme", "globex"},
		Concurrency: orchestrator.Concurrency{Tenants: 2, Tables: 2, Chunks: 2},
	})
	require.NoError(t, err)
	require.Equal(t, model.JobStatusPartial, job.Status)
	require.Equal(t, tableproc.StatusSucceeded, job.Summary.PerTenant["acme"].PerTable["companies"].Status)
	require.Equal(t, tableproc.StatusFailed, job.Summary.PerTenant["globex"].PerTable["companies"].Status)
}

func TestRunNoTenantsYieldsSucceededEmptyJob(t *testing.T) {
	store := newFakeStore()
	mock := connector.NewMock()
	tenants := newTenantProcessor(store, mock)
	o := orchestrator.New(store, tenants, nil)

	job, err := o.Run(context.Background(), orchestrator.RunRequest{
		RunKind:     model.RunKindManual,
		TenantIDs:   []string{},
		Concurrency: orchestrator.Concurrency{Tenants: 1, Tables: 1, Chunks: 1},
	})
	require.NoError(t, err)
	require.Equal(t, model.JobStatusSucceeded, job.Status)
	require.Empty(t, job.Summary.PerTenant)
}
