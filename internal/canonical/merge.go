package canonical

import (
	"context"
	"fmt"
	"strings"

	"github.com/avesa-io/avesa/internal/metrics"
	"github.com/avesa-io/avesa/internal/model"
)

// mergeOne acquires the per-key lock, reads the current row, and applies
// the SCD-2 decision tree (spec.md §4.8):
//
//   - no current row: insert as the first version.
//   - same data_hash: no-op (idempotent re-ingestion of unchanged data).
//   - different hash, existing.last_updated >= new.last_updated: the new
//     record is late-arriving — insert it as a historical (non-current)
//     row without touching the current one or bumping record_version.
//   - different hash, new record is fresher: close the current row and
//     insert the new one as current with record_version+1. Ties on
//     last_updated break toward the lexicographically higher data_hash.
func (t *Transformer) mergeOne(ctx context.Context, tenantID, canonicalTable, naturalKey string, pr projectedRecord) error {
	h, err := t.locker.Acquire(ctx, tenantID, naturalKey)
	if err != nil {
		return fmt.Errorf("canonical: acquiring merge lock: %w", err)
	}
	defer func() { _ = t.locker.Release(ctx, h) }()

	tx, err := t.columns.BeginTx(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	current, exists, err := t.columns.GetCurrent(ctx, tx, canonicalTable, tenantID, naturalKey)
	if err != nil {
		return err
	}

	outcome := ""
	switch {
	case !exists:
		if err := t.columns.Insert(ctx, tx, canonicalTable, newRecord(tenantID, naturalKey, pr, true, 1)); err != nil {
			return err
		}
		outcome = "inserted"

	case current.DataHash == pr.dataHash:
		// unchanged, nothing to do
		outcome = "unchanged"

	case isFresher(current, pr):
		if err := t.columns.CloseCurrent(ctx, tx, canonicalTable, tenantID, naturalKey, pr.lastUpdated); err != nil {
			return err
		}
		next := newRecord(tenantID, naturalKey, pr, true, current.RecordVersion+1)
		if err := t.columns.Insert(ctx, tx, canonicalTable, next); err != nil {
			return err
		}
		outcome = "fresher_update"

	default:
		// late-arriving: record history without disturbing the current row.
		// Its expiration_date is the nearest successor's effective_date,
		// which may be an earlier late-arriving row rather than current.
		historical := newRecord(tenantID, naturalKey, pr, false, current.RecordVersion)
		nextEff, found, err := t.columns.NextEffectiveDate(ctx, tx, canonicalTable, tenantID, naturalKey, pr.lastUpdated)
		if err != nil {
			return err
		}
		if found {
			historical.ExpirationDate = &nextEff
		}
		if err := t.columns.Insert(ctx, tx, canonicalTable, historical); err != nil {
			return err
		}
		outcome = "late_arriving"
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("canonical: committing merge: %w", err)
	}
	committed = true
	metrics.CanonicalMergesTotal.WithLabelValues(tenantID, canonicalTable, outcome).Inc()
	return nil
}

// isFresher reports whether pr should replace current as the live row,
// tie-breaking equal last_updated timestamps on the higher data_hash
// (spec.md §4.8's deterministic tie-break rule).
func isFresher(current model.CanonicalRecord, pr projectedRecord) bool {
	if pr.lastUpdated.After(current.LastUpdated) {
		return true
	}
	if pr.lastUpdated.Equal(current.LastUpdated) {
		return strings.Compare(pr.dataHash, current.DataHash) > 0
	}
	return false
}

func newRecord(tenantID, naturalKey string, pr projectedRecord, isCurrent bool, version int) model.CanonicalRecord {
	return model.CanonicalRecord{
		TenantID:      tenantID,
		ID:            naturalKey,
		Fields:        pr.fields,
		SourceSystem:  pr.sourceSystem,
		SourceID:      pr.sourceID,
		LastUpdated:   pr.lastUpdated,
		DataHash:      pr.dataHash,
		EffectiveDate: pr.lastUpdated,
		IsCurrent:     isCurrent,
		RecordVersion: version,
	}
}
