package blobstore

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/avesa-io/avesa/internal/model"
)

// rawRow is the on-disk row shape for raw blobs: a single column holding
// the whole record as JSON, so the Canonical Transformer can resolve any
// source_path against it. Records are not split into per-field columns.
type rawRow struct {
	AttributesJSON string `parquet:"attributes_json"`
}

// WriteRawRecords serializes records into a single-file Parquet blob,
// the streaming columnar writer spec.md §4.4 calls for. Buffering and
// page-count bounds are the Chunk Processor's concern (internal/chunkproc);
// this function performs one flush.
func WriteRawRecords(records []model.RawRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[rawRow](&buf)

	rows := make([]rawRow, len(records))
	for i, rec := range records {
		encoded, err := encodeAttributes(rec)
		if err != nil {
			return nil, fmt.Errorf("blobstore: encoding record %d: %w", i, err)
		}
		rows[i] = rawRow{AttributesJSON: encoded}
	}

	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("blobstore: writing parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("blobstore: closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadRawRecords deserializes a raw blob written by WriteRawRecords.
func ReadRawRecords(data []byte) ([]model.RawRecord, error) {
	reader := parquet.NewGenericReader[rawRow](bytes.NewReader(data))
	defer reader.Close()

	rows := make([]rawRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && n == 0 && len(rows) > 0 {
		return nil, fmt.Errorf("blobstore: reading parquet rows: %w", err)
	}

	out := make([]model.RawRecord, 0, n)
	for _, row := range rows[:n] {
		rec, err := decodeAttributes(row.AttributesJSON)
		if err != nil {
			return nil, fmt.Errorf("blobstore: decoding record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
