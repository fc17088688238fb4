package backfill_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avesa-io/avesa/internal/backfill"
	"github.com/avesa-io/avesa/internal/orchestrator"
)

func TestPlanSplitsIntoFixedDurationWindows(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

	windows := backfill.Plan(backfill.Request{Start: start, End: end, ChunkDuration: 48 * time.Hour})
	require.Len(t, windows, 3)
	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, start.Add(48*time.Hour), windows[0].End)
	assert.Equal(t, windows[0].End, windows[1].Start)
	assert.Equal(t, end, windows[2].End)
}

func TestPlanWithoutChunkDurationReturnsSingleWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

	windows := backfill.Plan(backfill.Request{Start: start, End: end})
	require.Len(t, windows, 1)
	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, end, windows[0].End)
}

func TestPlanEmptyRangeReturnsNoWindows(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windows := backfill.Plan(backfill.Request{Start: ts, End: ts, ChunkDuration: time.Hour})
	assert.Empty(t, windows)
}

func TestRunRejectsEmptyWindow(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := backfill.New(&orchestrator.Orchestrator{})

	_, err := p.Run(context.Background(), backfill.Request{
		TenantID: "acme", Service: "connectwise", TableName: "companies",
		Start: ts, End: ts, ChunkDuration: time.Hour,
	})
	require.Error(t, err)
}

