// Package columnstore is the ColumnStore capability (spec.md §1, §4.8):
// canonical rows with SCD Type-2 history. Backed by PostgreSQL — also the
// wire-compatible target for Redshift-family column stores, matching the
// retrieved CDC-sink reference's (DBAShand-cdc-sink-redshift/sink.go)
// transactional per-row merge idiom — reached through the same pgx/v5
// pool shape as the State Store, but a distinct logical schema. One
// generic canonical_records table carries every canonical table's rows
// (business fields live in a JSONB column), matching spec.md §9's design
// note that collapses per-table merge code into one dispatcher.
package columnstore

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

// Store persists canonical records and implements the single-row lookup
// the SCD-2 merge in internal/canonical drives under its per-key lock.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("columnstore: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("columnstore: ping: %w", err)
	}
	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("columnstore: migrating: %w", err)
	}
	return &Store{pool: pool}, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("invalid dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	defer db.Close()

	driver, err := pgx5migrate.WithInstance(db, &pgx5migrate.Config{MigrationsTable: "columnstore_schema_migrations"})
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

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// GetCurrent returns the is_current=true row for (canonicalTable, tenantID,
// naturalID), or (model.CanonicalRecord{}, false, nil) if none exists.
func (s *Store) GetCurrent(ctx context.Context, tx pgx.Tx, canonicalTable, tenantID, naturalID string) (model.CanonicalRecord, bool, error) {
	var rec model.CanonicalRecord
	var fieldsJSON []byte
	err := tx.QueryRow(ctx, `SELECT tenant_id, natural_id, fields, source_system, source_id,
			last_updated, data_hash, effective_date, expiration_date, is_current, record_version
		FROM canonical_records
		WHERE canonical_table = $1 AND tenant_id = $2 AND natural_id = $3 AND is_current
		FOR UPDATE`, canonicalTable, tenantID, naturalID).
		Scan(&rec.TenantID, &rec.ID, &fieldsJSON, &rec.SourceSystem, &rec.SourceID,
			&rec.LastUpdated, &rec.DataHash, &rec.EffectiveDate, &rec.ExpirationDate, &rec.IsCurrent, &rec.RecordVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CanonicalRecord{}, false, nil
	}
	if err != nil {
		return model.CanonicalRecord{}, false, fmt.Errorf("columnstore: GetCurrent: %w", err)
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return model.CanonicalRecord{}, false, fmt.Errorf("columnstore: GetCurrent unmarshal fields: %w", err)
	}
	return rec, true, nil
}

// NextEffectiveDate returns the smallest effective_date among rows for
// (canonicalTable, tenantID, naturalID) strictly greater than after, and
// whether such a row exists. A late-arriving record's expiration_date is
// the effective_date of this nearest successor, not necessarily the
// current row's (spec.md §8 invariant 4): the successor may itself be a
// historical row inserted by an earlier late arrival.
func (s *Store) NextEffectiveDate(ctx context.Context, tx pgx.Tx, canonicalTable, tenantID, naturalID string, after time.Time) (time.Time, bool, error) {
	var eff *time.Time
	err := tx.QueryRow(ctx, `SELECT MIN(effective_date) FROM canonical_records
			WHERE canonical_table = $1 AND tenant_id = $2 AND natural_id = $3 AND effective_date > $4`,
		canonicalTable, tenantID, naturalID, after).Scan(&eff)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("columnstore: NextEffectiveDate: %w", err)
	}
	if eff == nil {
		return time.Time{}, false, nil
	}
	return *eff, true, nil
}

// Insert adds one canonical row.
func (s *Store) Insert(ctx context.Context, tx pgx.Tx, canonicalTable string, rec model.CanonicalRecord) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("columnstore: Insert marshal fields: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO canonical_records
			(canonical_table, tenant_id, natural_id, fields, source_system, source_id,
			 last_updated, data_hash, effective_date, expiration_date, is_current, record_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		canonicalTable, rec.TenantID, rec.ID, fieldsJSON, rec.SourceSystem, rec.SourceID,
		rec.LastUpdated, rec.DataHash, rec.EffectiveDate, rec.ExpirationDate, rec.IsCurrent, rec.RecordVersion)
	if err != nil {
		return fmt.Errorf("columnstore: Insert: %w", err)
	}
	return nil
}

// CloseCurrent marks the current row for (canonicalTable, tenantID,
// naturalID) as no longer current, setting its expiration_date.
func (s *Store) CloseCurrent(ctx context.Context, tx pgx.Tx, canonicalTable, tenantID, naturalID string, expirationDate time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE canonical_records SET is_current = false, expiration_date = $4
		WHERE canonical_table = $1 AND tenant_id = $2 AND natural_id = $3 AND is_current`,
		canonicalTable, tenantID, naturalID, expirationDate)
	if err != nil {
		return fmt.Errorf("columnstore: CloseCurrent: %w", err)
	}
	return nil
}

// BeginTx starts a transaction the SCD-2 merge runs inside (spec.md §4.8:
// "in a single atomic operation").
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, avesaerr.New("columnstore.BeginTx", avesaerr.KindTransient, err)
	}
	return tx, nil
}

