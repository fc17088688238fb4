package statestore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/statestore"
)

var (
	sharedDSN     string
	containerOnce sync.Once
	containerErr  error
)

// newStore starts (once per package run) a shared Postgres testcontainer,
// applies migrations, and returns a fresh PostgresStore. Each test isolates
// its own rows via unique IDs rather than per-test schemas, since the State
// Store has no notion of schema-per-tenant.
func newStore(t *testing.T) *statestore.PostgresStore {
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

	store, err := statestore.Open(ctx, sharedDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func uniqueTenant(t *testing.T) model.Tenant {
	return model.Tenant{
		TenantID:    fmt.Sprintf("tenant-%s", t.Name()),
		CompanyName: "Acme Corp",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetTenants(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tenant := uniqueTenant(t)

	require.NoError(t, store.CreateTenant(ctx, tenant))

	tenants, err := store.GetTenants(ctx)
	require.NoError(t, err)

	var found bool
	for _, got := range tenants {
		if got.TenantID == tenant.TenantID {
			found = true
			require.Equal(t, tenant.CompanyName, got.CompanyName)
		}
	}
	require.True(t, found, "expected tenant %q in GetTenants result", tenant.TenantID)
}

func TestServiceConfigUpsertAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tenant := uniqueTenant(t)
	require.NoError(t, store.CreateTenant(ctx, tenant))

	cfg := model.ServiceConfig{
		TenantID:       tenant.TenantID,
		ServiceName:    "connectwise",
		Enabled:        true,
		CredentialsRef: "secret://connectwise/acme",
		EndpointOverrides: map[string]model.EndpointConfig{
			"tickets": {Path: "/service/tickets", CanonicalTable: "tickets", Enabled: true, PageSize: 100},
		},
	}
	require.NoError(t, store.UpsertServiceConfig(ctx, cfg))

	got, err := store.GetServiceConfig(ctx, tenant.TenantID, "connectwise")
	require.NoError(t, err)
	require.Equal(t, cfg.CredentialsRef, got.CredentialsRef)
	require.Equal(t, "tickets", got.EndpointOverrides["tickets"].CanonicalTable)

	cfg.Enabled = false
	require.NoError(t, store.UpsertServiceConfig(ctx, cfg))
	got, err = store.GetServiceConfig(ctx, tenant.TenantID, "connectwise")
	require.NoError(t, err)
	require.False(t, got.Enabled)
}

func TestGetServiceConfigNotFound(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.GetServiceConfig(ctx, "nonexistent", "connectwise")
	require.True(t, avesaerr.Is(err, avesaerr.KindNotFound))
}

func TestWatermarkMonotonicity(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tenant := uniqueTenant(t)
	require.NoError(t, store.CreateTenant(ctx, tenant))

	wm, err := store.GetWatermark(ctx, tenant.TenantID, "tickets")
	require.NoError(t, err)
	require.True(t, wm.LastUpdatedTS.Before(time.Unix(1, 0)))

	t1 := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, store.SetWatermark(ctx, tenant.TenantID, "tickets", t1, "job-1"))

	wm, err = store.GetWatermark(ctx, tenant.TenantID, "tickets")
	require.NoError(t, err)
	require.WithinDuration(t, t1, wm.LastUpdatedTS, 0)

	// An earlier watermark must be rejected as a conflict.
	earlier := t1.Add(-time.Minute)
	err = store.SetWatermark(ctx, tenant.TenantID, "tickets", earlier, "job-2")
	require.True(t, avesaerr.Is(err, avesaerr.KindConflict))

	// A later watermark advances it.
	later := t1.Add(time.Minute)
	require.NoError(t, store.SetWatermark(ctx, tenant.TenantID, "tickets", later, "job-3"))
	wm, err = store.GetWatermark(ctx, tenant.TenantID, "tickets")
	require.NoError(t, err)
	require.WithinDuration(t, later, wm.LastUpdatedTS, 0)
}

func TestJobLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	jobID := fmt.Sprintf("job-%s", t.Name())

	job := model.Job{
		JobID:     jobID,
		RunKind:   model.RunKindScheduled,
		TenantSet: []string{"acme", "globex"},
		Status:    model.JobStatusRunning,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, job.TenantSet, got.TenantSet)
	require.Equal(t, model.JobStatusRunning, got.Status)
	require.Nil(t, got.FinishedAt)

	summary := model.JobSummary{PerTenant: map[string]model.TenantSummary{
		"acme": {PerTable: map[string]model.TableSummary{
			"tickets": {Status: "succeeded", RecordsWritten: 42},
		}},
	}}
	require.NoError(t, store.UpdateJobStatus(ctx, jobID, model.JobStatusSucceeded, summary))

	got, err = store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusSucceeded, got.Status)
	require.NotNil(t, got.FinishedAt)
	require.EqualValues(t, 42, got.Summary.PerTenant["acme"].PerTable["tickets"].RecordsWritten)
}

func TestChunkClaimAndUpsert(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	jobID := fmt.Sprintf("job-%s", t.Name())
	require.NoError(t, store.CreateJob(ctx, model.Job{
		JobID:     jobID,
		RunKind:   model.RunKindManual,
		Status:    model.JobStatusRunning,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}))

	chunk := model.ChunkProgress{
		JobID:       jobID,
		TenantID:    "acme",
		TableName:   "tickets",
		ChunkID:     "chunk-1",
		WindowStart: time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second),
		WindowEnd:   time.Now().UTC().Truncate(time.Second),
		Status:      model.ChunkStatusPending,
	}
	require.NoError(t, store.UpsertChunk(ctx, chunk))

	claimed, err := store.ClaimChunk(ctx, jobID, "chunk-1")
	require.NoError(t, err)
	require.Equal(t, model.ChunkStatusInProgress, claimed.Status)
	require.Equal(t, 1, claimed.AttemptCount)

	// Claiming an already in_progress chunk is a conflict.
	_, err = store.ClaimChunk(ctx, jobID, "chunk-1")
	require.True(t, avesaerr.Is(err, avesaerr.KindConflict))

	claimed.Status = model.ChunkStatusSucceeded
	claimed.RecordsWritten = 10
	require.NoError(t, store.UpsertChunk(ctx, claimed))

	// Writes to an already-succeeded chunk are rejected.
	claimed.RecordsWritten = 99
	err = store.UpsertChunk(ctx, claimed)
	require.True(t, avesaerr.Is(err, avesaerr.KindAlreadyTerminal))

	chunks, err := store.ListChunksForTable(ctx, jobID, "acme", "tickets")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, model.ChunkStatusSucceeded, chunks[0].Status)
	require.EqualValues(t, 10, chunks[0].RecordsWritten)
}
