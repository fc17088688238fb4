// Package canonical is the Canonical Transformer & SCD-2 Applier
// (spec.md §4.8): projects raw records to the canonical schema and merges
// them with at-most-one "current" row per natural key. The per-key
// logical lock is internal/lock; the merge SQL shape is grounded on the
// retrieved DBAShand-cdc-sink-redshift/sink.go transactional upsert
// reference, adapted from a single upsert-by-primary-key to the full
// SCD-2 decision tree.
package canonical

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/blobstore"
	"github.com/avesa-io/avesa/internal/columnstore"
	"github.com/avesa-io/avesa/internal/lock"
	"github.com/avesa-io/avesa/internal/mapping"
	"github.com/avesa-io/avesa/internal/metrics"
	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/pathresolve"
)

// Reject is one record that failed projection (spec.md §4.8 step 2a).
type Reject struct {
	Raw    model.RawRecord `json:"raw"`
	Reason string          `json:"reason"`
}

// SourceBlob identifies one raw blob to project, along with the service
// it came from (needed to resolve the mapping) and a fallback ingestion
// timestamp for records missing a mapped last_updated.
type SourceBlob struct {
	Service    string
	Endpoint   string
	Path       string
	IngestedAt time.Time
}

// Result summarizes one Apply call.
type Result struct {
	RecordsMerged   int
	RecordsRejected int
}

// Transformer is the Canonical Transformer & SCD-2 Applier.
type Transformer struct {
	mappings       *mapping.Registry
	blobs          blobstore.BlobStore
	columns        *columnstore.Store
	locker         *lock.Locker
	rejectRatioMax float64
}

// New builds a Transformer wired to its dependencies. rejectRatioMax is
// the maximum tolerable fraction of rejected-to-total records before Apply
// fails the whole call (spec.md §7/§4.8); zero disables the check.
func New(mappings *mapping.Registry, blobs blobstore.BlobStore, columns *columnstore.Store, locker *lock.Locker, rejectRatioMax float64) *Transformer {
	return &Transformer{mappings: mappings, blobs: blobs, columns: columns, locker: locker, rejectRatioMax: rejectRatioMax}
}

// Apply projects every record in blobs into canonicalTable and merges
// each with its existing current row (spec.md §4.8).
func (t *Transformer) Apply(ctx context.Context, jobID, tenantID, canonicalTable string, blobs []SourceBlob) (Result, error) {
	projected := make(map[string]projectedRecord)
	var rejects []Reject
	total := 0

	for _, sb := range blobs {
		doc := t.mappings.Resolve(sb.Service, sb.Endpoint)
		if doc == nil {
			return Result{}, avesaerr.New("canonical.Apply", avesaerr.KindMappingError,
				fmt.Errorf("no mapping for service %q endpoint %q", sb.Service, sb.Endpoint))
		}
		sm := doc.SourceMappings[sb.Service]

		raw, err := t.blobs.Get(ctx, sb.Path)
		if err != nil {
			return Result{}, fmt.Errorf("canonical: reading blob %s: %w", sb.Path, err)
		}
		records, err := blobstore.ReadRawRecords(raw)
		if err != nil {
			return Result{}, fmt.Errorf("canonical: decoding blob %s: %w", sb.Path, err)
		}

		for _, rec := range records {
			total++
			pr, rejected, reason := project(doc, sm, rec, sb.Service, sb.IngestedAt)
			if rejected {
				rejects = append(rejects, Reject{Raw: rec, Reason: reason})
				continue
			}
			key := naturalKeyValue(doc, pr.fields)
			if existing, ok := projected[key]; !ok || pr.lastUpdated.After(existing.lastUpdated) {
				projected[key] = pr
			}
		}
	}

	if len(rejects) > 0 {
		metrics.CanonicalRejectsTotal.WithLabelValues(tenantID, canonicalTable).Add(float64(len(rejects)))
		if err := t.flushRejects(ctx, tenantID, canonicalTable, jobID, rejects); err != nil {
			return Result{}, err
		}
	}

	if t.rejectRatioMax > 0 && total > 0 {
		ratio := float64(len(rejects)) / float64(total)
		if ratio > t.rejectRatioMax {
			return Result{RecordsRejected: len(rejects)}, avesaerr.New("canonical.Apply", avesaerr.KindRecordReject,
				fmt.Errorf("reject ratio %.4f exceeds max %.4f (%d/%d records)", ratio, t.rejectRatioMax, len(rejects), total))
		}
	}

	merged := 0
	for key, pr := range projected {
		if err := t.mergeOne(ctx, tenantID, canonicalTable, key, pr); err != nil {
			return Result{}, err
		}
		merged++
	}

	return Result{RecordsMerged: merged, RecordsRejected: len(rejects)}, nil
}

type projectedRecord struct {
	fields       map[string]any
	sourceSystem string
	sourceID     string
	lastUpdated  time.Time
	dataHash     string
}

func project(doc *mapping.Document, sm mapping.SourceMapping, rec model.RawRecord, service string, ingestedAt time.Time) (projectedRecord, bool, string) {
	fields := make(map[string]any, len(sm.Fields))
	for _, f := range sm.Fields {
		v, ok := pathresolve.Resolve(rec, f.SourcePath)
		if !ok {
			if f.Required {
				return projectedRecord{}, true, fmt.Sprintf("required field %s: source_path %s not resolvable", f.CanonicalField, f.SourcePath)
			}
			continue
		}
		transformed, err := mapping.Apply(f.Transform, v)
		if err != nil {
			if f.Required {
				return projectedRecord{}, true, fmt.Sprintf("required field %s: %v", f.CanonicalField, err)
			}
			continue
		}
		fields[f.CanonicalField] = transformed
	}

	lastUpdated := ingestedAt
	if v, ok := fields["last_updated"]; ok {
		if ts, ok := v.(time.Time); ok {
			lastUpdated = ts
		}
	}

	return projectedRecord{
		fields:       fields,
		sourceSystem: service,
		sourceID:     fmt.Sprintf("%v", fields["id"]),
		lastUpdated:  lastUpdated,
		dataHash:     dataHash(doc.CanonicalTable, fields),
	}, false, ""
}

// dataHash computes sha256 of the canonical fields in stable (sorted key)
// order (spec.md §4.8 step 2b).
func dataHash(canonicalTable string, fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(canonicalTable)
	for _, k := range keys {
		b, _ := json.Marshal(fields[k])
		sb.WriteString("|")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.Write(b)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func naturalKeyValue(doc *mapping.Document, fields map[string]any) string {
	parts := make([]string, len(doc.NaturalKey))
	for i, k := range doc.NaturalKey {
		parts[i] = fmt.Sprintf("%v", fields[k])
	}
	return strings.Join(parts, "\x1f")
}

func (t *Transformer) flushRejects(ctx context.Context, tenantID, canonicalTable, jobID string, rejects []Reject) error {
	var sb strings.Builder
	for _, r := range rejects {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("canonical: marshalling reject: %w", err)
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	path := blobstore.RejectBlobPath(tenantID, canonicalTable, jobID)
	if err := t.blobs.Put(ctx, path, []byte(sb.String())); err != nil {
		return fmt.Errorf("canonical: writing reject blob: %w", err)
	}
	return nil
}
