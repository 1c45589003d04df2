// Package duckdb implements the storage contract on DuckDB via
// database/sql and the go-duckdb driver. Writes go through the shared
// batch engine: direct-mode calls merge synchronously, batch-mode
// calls accumulate rows and hand them to the background writer.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/storage/batch"
	"github.com/inodb/vrs-registry/internal/vrs"
)

// Store is a DuckDB-backed VRS object store.
type Store struct {
	db     *sql.DB
	opts   storage.Options
	logger *zap.Logger

	writer *batch.Writer[storage.Rows]

	// scopeMu serializes batch cohorts: exactly one active batch scope
	// per store instance.
	scopeMu sync.Mutex

	bufMu     sync.Mutex
	batchMode bool
	buf       storage.Rows
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Batcher = (*Store)(nil)
)

// Open opens or creates a DuckDB database at the given path and starts
// the background writer. Use an empty path for an in-memory database.
func Open(path string, opts storage.Options) (*Store, error) {
	opts = opts.Normalize()
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// The background writer and the read path share this pool; one
	// writer connection plus readers.
	db.SetMaxOpenConns(4)

	s := &Store{db: db, opts: opts, logger: opts.Logger}
	if err := s.Setup(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	s.writer = batch.NewWriter(opts.MaxPendingBatches, s.mergeRows, opts.Logger)
	return s, nil
}

// Setup creates the schema if absent.
func (s *Store) Setup(ctx context.Context) error {
	t := s.opts.Tables
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			molecule_type TEXT
		)`, t.SequenceReferences),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			digest TEXT,
			sequence_reference_id TEXT,
			"start" BIGINT,
			"end" BIGINT,
			start_outer BIGINT,
			start_inner BIGINT,
			end_outer BIGINT,
			end_inner BIGINT
		)`, t.Locations),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			digest TEXT,
			location_id TEXT,
			state JSON
		)`, t.Alleles),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			vrs_id TEXT PRIMARY KEY,
			type TEXT,
			vrs_object JSON
		)`, t.VrsObjects),
		fmt.Sprintf(`CREATE SEQUENCE IF NOT EXISTS %s_id_seq`, t.Annotations),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY DEFAULT nextval('%s_id_seq'),
			object_id TEXT,
			annotation_type TEXT,
			annotation_value JSON
		)`, t.Annotations, t.Annotations),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			source_id TEXT,
			dest_id TEXT,
			mapping_type TEXT,
			UNIQUE (source_id, dest_id, mapping_type)
		)`, t.Mappings),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_object_type ON %s (object_id, annotation_type)`,
			t.Annotations, t.Annotations),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_source ON %s (source_id)`,
			t.Mappings, t.Mappings),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ref_interval ON %s (sequence_reference_id, "start", "end")`,
			t.Locations, t.Locations),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Close flushes pending batches, stops the writer, and closes the pool.
func (s *Store) Close() error {
	if s.writer != nil {
		s.writer.Stop()
	}
	return s.db.Close()
}

// WaitForWrites implements the flush barrier.
func (s *Store) WaitForWrites(context.Context) error {
	s.writer.Wait()
	return nil
}

// WipeDB removes all rows from all managed tables.
func (s *Store) WipeDB(ctx context.Context) error {
	t := s.opts.Tables
	for _, table := range []string{t.Annotations, t.Mappings, t.Alleles, t.VrsObjects, t.Locations, t.SequenceReferences} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	return nil
}

// InBatch runs fn in batch mode. Leaving the scope on any exit path
// enqueues the remaining buffer; when FlushOnBatchExit is set, a flush
// barrier runs before returning.
func (s *Store) InBatch(ctx context.Context, fn func() error) error {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()

	s.bufMu.Lock()
	s.batchMode = true
	s.buf = storage.Rows{}
	s.bufMu.Unlock()

	defer func() {
		s.bufMu.Lock()
		remainder := s.buf
		s.buf = storage.Rows{}
		s.batchMode = false
		s.bufMu.Unlock()
		if remainder.Len() > 0 {
			s.writer.Enqueue([]storage.Rows{remainder})
		}
		if s.opts.FlushOnBatchExit {
			s.writer.Wait()
		}
	}()

	return fn()
}

// AddObjects implements the store contract.
func (s *Store) AddObjects(ctx context.Context, objs []vrs.Object) error {
	rows, err := storage.BuildRows(objs)
	if err != nil {
		return err
	}

	s.bufMu.Lock()
	if s.batchMode {
		s.buf.SequenceReferences = append(s.buf.SequenceReferences, rows.SequenceReferences...)
		s.buf.Locations = append(s.buf.Locations, rows.Locations...)
		s.buf.Alleles = append(s.buf.Alleles, rows.Alleles...)
		s.buf.VrsObjects = append(s.buf.VrsObjects, rows.VrsObjects...)
		var full *storage.Rows
		if s.buf.Len() >= s.opts.BatchLimit {
			swapped := s.buf
			s.buf = storage.Rows{}
			full = &swapped
		}
		s.bufMu.Unlock()
		if full != nil {
			// Enqueue outside the buffer lock; blocks on back-pressure.
			s.writer.Enqueue([]storage.Rows{*full})
		}
		return nil
	}
	s.bufMu.Unlock()

	return s.mergeRows([]storage.Rows{rows})
}

// mergeRows writes one or more row batches inside a single
// transaction, staging each table through a temp table and merging
// with insert-if-absent semantics.
func (s *Store) mergeRows(batches []storage.Rows) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback()

	t := s.opts.Tables
	for _, rows := range batches {
		if len(rows.SequenceReferences) > 0 {
			if err := s.stageMerge(tx, t.SequenceReferences, []string{"id", "molecule_type"}, "id",
				func(insert func(args ...any) error) error {
					for _, r := range rows.SequenceReferences {
						if err := insert(r.ID, nullStr(r.MoleculeType)); err != nil {
							return err
						}
					}
					return nil
				}); err != nil {
				return err
			}
		}
		if len(rows.Locations) > 0 {
			if err := s.stageMerge(tx, t.Locations,
				[]string{"id", "digest", "sequence_reference_id", `"start"`, `"end"`, "start_outer", "start_inner", "end_outer", "end_inner"}, "id",
				func(insert func(args ...any) error) error {
					for _, r := range rows.Locations {
						if err := insert(r.ID, r.Digest, r.SequenceReferenceID,
							r.Start, r.End, r.StartOuter, r.StartInner, r.EndOuter, r.EndInner); err != nil {
							return err
						}
					}
					return nil
				}); err != nil {
				return err
			}
		}
		if len(rows.Alleles) > 0 {
			if err := s.stageMerge(tx, t.Alleles, []string{"id", "digest", "location_id", "state"}, "id",
				func(insert func(args ...any) error) error {
					for _, r := range rows.Alleles {
						if err := insert(r.ID, r.Digest, r.LocationID, string(r.State)); err != nil {
							return err
						}
					}
					return nil
				}); err != nil {
				return err
			}
		}
		if len(rows.VrsObjects) > 0 {
			if err := s.stageMerge(tx, t.VrsObjects, []string{"vrs_id", "type", "vrs_object"}, "vrs_id",
				func(insert func(args ...any) error) error {
					for _, r := range rows.VrsObjects {
						if err := insert(r.ID, r.Type, string(r.Object)); err != nil {
							return err
						}
					}
					return nil
				}); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}

// stageMerge bulk-loads rows into a temp copy of the target table and
// merges them with the configured merge style.
func (s *Store) stageMerge(tx *sql.Tx, table string, cols []string, keyCol string,
	fill func(insert func(args ...any) error) error,
) error {
	tmp := "tmp_" + table
	if _, err := tx.Exec(fmt.Sprintf("CREATE TEMP TABLE %s AS FROM %s LIMIT 0", tmp, table)); err != nil {
		return fmt.Errorf("create staging table for %s: %w", table, err)
	}
	defer tx.Exec("DROP TABLE IF EXISTS " + tmp)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tmp, strings.Join(cols, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("prepare staging insert for %s: %w", table, err)
	}
	defer stmt.Close()

	if err := fill(func(args ...any) error {
		_, err := stmt.Exec(args...)
		return err
	}); err != nil {
		return fmt.Errorf("stage rows for %s: %w", table, err)
	}

	// A batch may stage the same key many times (shared references and
	// locations), so the merge always reads a deduplicated view.
	dedup := fmt.Sprintf("(SELECT DISTINCT ON (%s) * FROM %s)", keyCol, tmp)
	var merge string
	switch s.opts.MergeStyle {
	case storage.MergeLeftOuterJoin:
		merge = fmt.Sprintf(
			"INSERT INTO %s SELECT t.* FROM %s t LEFT OUTER JOIN %s v ON v.%s = t.%s WHERE v.%s IS NULL",
			table, dedup, table, keyCol, keyCol, keyCol)
	default:
		// DuckDB has no MERGE statement; ON CONFLICT covers both the
		// default and the merge-configured styles.
		merge = fmt.Sprintf("INSERT INTO %s SELECT * FROM %s ON CONFLICT DO NOTHING", table, dedup)
	}
	if _, err := tx.Exec(merge); err != nil {
		return fmt.Errorf("merge into %s: %w", table, err)
	}
	return nil
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func placeholderList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
