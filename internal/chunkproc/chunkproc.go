// Package chunkproc is the Chunk Processor (spec.md §4.4): the unit of
// retryable work that pages one SourceConnector endpoint over one time
// window and writes the pages to a RawBlob. The fetch loop is a
// cenkalti/backoff-driven retry.Policy.Do around each page fetch,
// generalizing the teacher's pkg/queue.Worker poll-and-process loop
// (pollAndProcess) from "poll for a session, process it" to "page an
// endpoint, flush it".
package chunkproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/blobstore"
	"github.com/avesa-io/avesa/internal/connector"
	"github.com/avesa-io/avesa/internal/metrics"
	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/retry"
	"github.com/avesa-io/avesa/internal/secretstore"
)

// Config describes one chunk of work (spec.md §4.4's chunk identity:
// deterministic ChunkID from (tenant, table, window), so retries of the
// same chunk reuse the same RawBlob path).
type Config struct {
	JobID          string
	TenantID       string
	Service        string
	TableName      string
	Endpoint       model.EndpointConfig
	CredentialsRef string
	WindowStart    time.Time
	WindowEnd      time.Time
	ChunkID        string
	Timeout        time.Duration
	ResumeCursor   *string
}

// Result is the terminal outcome of one Process call.
type Result struct {
	Status            model.ChunkStatus
	RecordsWritten    int64
	RawLastUpdatedMax time.Time
	BlobPaths         []string
	NextCursor        *string
	Err               error
}

// Processor pages a SourceConnector and flushes pages to BlobStore.
type Processor struct {
	connectors       *connector.Registry
	blobs            blobstore.BlobStore
	secrets          secretstore.SecretStore
	policy           retry.Policy
	maxPagesInMemory int
}

// New builds a Processor. maxPagesInMemory bounds how many endpoint pages
// accumulate before a flush, independent of the page size itself
// (spec.md §9).
func New(connectors *connector.Registry, blobs blobstore.BlobStore, secrets secretstore.SecretStore, policy retry.Policy, maxPagesInMemory int) *Processor {
	return &Processor{connectors: connectors, blobs: blobs, secrets: secrets, policy: policy, maxPagesInMemory: maxPagesInMemory}
}

// Process pages cfg.Endpoint from cfg.WindowStart to cfg.WindowEnd, writing
// one or more RawBlobs, and returns the terminal ChunkStatus (spec.md
// §4.4): succeeded on a clean end-of-pages, timed_out if cfg.Timeout
// elapses first, failed on a non-retryable or exhausted-retry error.
// AuthFailure and UnknownService never retry; Transient and RateLimited
// retry per p.policy.
func (p *Processor) Process(ctx context.Context, cfg Config) (result Result) {
	log := slog.With("job_id", cfg.JobID, "tenant_id", cfg.TenantID, "chunk_id", cfg.ChunkID)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.ChunkDuration.WithLabelValues(cfg.TenantID, cfg.TableName).Observe(time.Since(start).Seconds())
		metrics.ChunksProcessedTotal.WithLabelValues(cfg.TenantID, cfg.TableName, string(result.Status)).Inc()
	}()

	cred, err := p.secrets.Resolve(ctx, cfg.CredentialsRef)
	if err != nil {
		log.Error("resolving credentials", "error", err)
		return Result{Status: terminalStatus(ctx, err), Err: fmt.Errorf("chunkproc: resolving credentials: %w", err)}
	}
	auth := connector.Auth{Token: cred.Token}

	basePath := blobstore.RawBlobPath(cfg.TenantID, cfg.Service, cfg.TableName, cfg.JobID, cfg.ChunkID)

	var (
		buffered   []model.RawRecord
		maxTS      = cfg.WindowStart
		blobPaths  []string
		records    int64
		part       int
		cursor     = cfg.ResumeCursor
		flushLimit = cfg.Endpoint.PageSize * p.maxPagesInMemory
	)
	if flushLimit <= 0 {
		flushLimit = cfg.Endpoint.PageSize
	}
	if cursor != nil && !p.connectors.SupportsResume(cfg.Service) {
		cursor = nil
	}

	for {
		var page connector.Page
		fetchErr := p.policy.Do(ctx, func(ctx context.Context, attempt int) error {
			var ferr error
			page, ferr = p.connectors.FetchPage(ctx, cfg.Service, cfg.Endpoint, auth, cursor, cfg.WindowStart, cfg.WindowEnd, cfg.Endpoint.PageSize)
			if ferr != nil {
				log.Warn("fetch page failed", "attempt", attempt, "error", ferr)
				if attempt > 1 {
					metrics.ChunkRetriesTotal.WithLabelValues(cfg.TenantID, cfg.Service).Inc()
				}
			}
			return ferr
		})
		if fetchErr != nil {
			if len(buffered) > 0 {
				path, werr := p.flush(ctx, basePath, part, buffered)
				if werr == nil {
					blobPaths = append(blobPaths, path)
					records += int64(len(buffered))
				}
			}
			return Result{
				Status:            terminalStatus(ctx, fetchErr),
				RecordsWritten:    records,
				RawLastUpdatedMax: maxTS,
				BlobPaths:         blobPaths,
				NextCursor:        cursor,
				Err:               fmt.Errorf("chunkproc: fetching page: %w", fetchErr),
			}
		}

		buffered = append(buffered, page.Records...)
		if page.RawLastUpdatedMax.After(maxTS) {
			maxTS = page.RawLastUpdatedMax
		}
		cursor = page.NextCursor

		if len(buffered) >= flushLimit && cursor != nil {
			path, err := p.flush(ctx, basePath, part, buffered)
			if err != nil {
				return Result{Status: model.ChunkStatusFailed, RecordsWritten: records, RawLastUpdatedMax: maxTS, BlobPaths: blobPaths, Err: err}
			}
			blobPaths = append(blobPaths, path)
			records += int64(len(buffered))
			buffered = nil
			part++
		}

		if cursor == nil {
			break
		}
	}

	if len(buffered) > 0 {
		path, err := p.flush(ctx, basePath, part, buffered)
		if err != nil {
			return Result{Status: model.ChunkStatusFailed, RecordsWritten: records, RawLastUpdatedMax: maxTS, BlobPaths: blobPaths, Err: err}
		}
		blobPaths = append(blobPaths, path)
		records += int64(len(buffered))
	}

	return Result{
		Status:            model.ChunkStatusSucceeded,
		RecordsWritten:    records,
		RawLastUpdatedMax: maxTS,
		BlobPaths:         blobPaths,
	}
}

func (p *Processor) flush(ctx context.Context, basePath string, part int, records []model.RawRecord) (string, error) {
	data, err := blobstore.WriteRawRecords(records)
	if err != nil {
		return "", fmt.Errorf("chunkproc: encoding raw blob: %w", err)
	}
	path := partPath(basePath, part)
	if err := p.blobs.Put(ctx, path, data); err != nil {
		return "", fmt.Errorf("chunkproc: writing raw blob: %w", err)
	}
	return path, nil
}

// partPath returns basePath unchanged for the first part (the common
// case); additional parts get a "-partNNN" suffix inserted before the
// extension so a bounded buffer can flush a chunk in several blobs
// without colliding paths.
func partPath(basePath string, part int) string {
	if part == 0 {
		return basePath
	}
	trimmed := strings.TrimSuffix(basePath, ".parquet")
	return fmt.Sprintf("%s-part%03d.parquet", trimmed, part)
}

// terminalStatus maps a fetch error to the ChunkStatus it should leave
// behind: a context deadline means the chunk's wall-clock budget (spec.md
// §4.4) ran out before retries could conclude; anything else (auth
// failure, unknown service, or retries exhausted on a transient error)
// is a plain failure.
func terminalStatus(ctx context.Context, err error) model.ChunkStatus {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || avesaerr.Is(err, avesaerr.KindTimeout) {
		return model.ChunkStatusTimedOut
	}
	return model.ChunkStatusFailed
}
