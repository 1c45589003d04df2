// Package postgres implements the storage contract on PostgreSQL via
// pgx. Bulk writes stage through a temp table with COPY and merge with
// the configured merge statement shape; batch mode shares the same
// background writer as the other SQL backends.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/storage/batch"
	"github.com/inodb/vrs-registry/internal/vrs"
)

// Store is a PostgreSQL-backed VRS object store.
type Store struct {
	pool   *pgxpool.Pool
	opts   storage.Options
	logger *zap.Logger

	writer *batch.Writer[storage.Rows]

	scopeMu sync.Mutex

	bufMu     sync.Mutex
	batchMode bool
	buf       storage.Rows
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Batcher = (*Store)(nil)
)

// Open connects to the database at uri, creates the schema if absent,
// and starts the background writer.
func Open(ctx context.Context, uri string, opts storage.Options) (*Store, error) {
	opts = opts.Normalize()
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool, opts: opts, logger: opts.Logger}
	if err := s.Setup(ctx); err != nil {
		pool.Close()
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
			state JSONB
		)`, t.Alleles),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			vrs_id TEXT PRIMARY KEY,
			type TEXT,
			vrs_object JSONB
		)`, t.VrsObjects),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			object_id TEXT,
			annotation_type TEXT,
			annotation_value JSONB
		)`, t.Annotations),
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
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
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
	s.pool.Close()
	return nil
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
		if _, err := s.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	return nil
}

// InBatch runs fn in batch mode; see the duckdb backend for the
// lifecycle, which is identical here.
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
			s.writer.Enqueue([]storage.Rows{*full})
		}
		return nil
	}
	s.bufMu.Unlock()

	return s.mergeRows([]storage.Rows{rows})
}

// mergeRows stages each table through a temp table with COPY and merges
// with the configured merge statement shape, all in one transaction.
func (s *Store) mergeRows(batches []storage.Rows) error {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t := s.opts.Tables
	for _, rows := range batches {
		if len(rows.SequenceReferences) > 0 {
			src := make([][]any, len(rows.SequenceReferences))
			for i, r := range rows.SequenceReferences {
				src[i] = []any{r.ID, nullStr(r.MoleculeType)}
			}
			if err := s.stageMerge(ctx, tx, t.SequenceReferences,
				[]string{"id", "molecule_type"}, "id", src); err != nil {
				return err
			}
		}
		if len(rows.Locations) > 0 {
			src := make([][]any, len(rows.Locations))
			for i, r := range rows.Locations {
				src[i] = []any{r.ID, r.Digest, r.SequenceReferenceID,
					r.Start, r.End, r.StartOuter, r.StartInner, r.EndOuter, r.EndInner}
			}
			if err := s.stageMerge(ctx, tx, t.Locations,
				[]string{"id", "digest", "sequence_reference_id", "start", "end", "start_outer", "start_inner", "end_outer", "end_inner"},
				"id", src); err != nil {
				return err
			}
		}
		if len(rows.Alleles) > 0 {
			src := make([][]any, len(rows.Alleles))
			for i, r := range rows.Alleles {
				src[i] = []any{r.ID, r.Digest, r.LocationID, string(r.State)}
			}
			if err := s.stageMerge(ctx, tx, t.Alleles,
				[]string{"id", "digest", "location_id", "state"}, "id", src); err != nil {
				return err
			}
		}
		if len(rows.VrsObjects) > 0 {
			src := make([][]any, len(rows.VrsObjects))
			for i, r := range rows.VrsObjects {
				src[i] = []any{r.ID, r.Type, string(r.Object)}
			}
			if err := s.stageMerge(ctx, tx, t.VrsObjects,
				[]string{"vrs_id", "type", "vrs_object"}, "vrs_id", src); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}

func (s *Store) stageMerge(ctx context.Context, tx pgx.Tx, table string, cols []string, keyCol string, src [][]any) error {
	tmp := "tmp_" + table
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", tmp, table)); err != nil {
		return fmt.Errorf("create staging table for %s: %w", table, err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, cols, pgx.CopyFromRows(src)); err != nil {
		return fmt.Errorf("copy rows into %s: %w", tmp, err)
	}

	colList := quoteJoin(cols)
	dedup := fmt.Sprintf("(SELECT DISTINCT ON (%s) %s FROM %s) d", keyCol, colList, tmp)
	var merge string
	switch s.opts.MergeStyle {
	case storage.MergeWhenNotMatch:
		merge = fmt.Sprintf(
			"MERGE INTO %s v USING %s ON v.%s = d.%s WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
			table, dedup, keyCol, keyCol, colList, prefixJoin("d.", cols))
	case storage.MergeLeftOuterJoin:
		merge = fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s LEFT OUTER JOIN %s v ON v.%s = d.%s WHERE v.%s IS NULL",
			table, colList, prefixJoin("d.", cols), dedup, table, keyCol, keyCol, keyCol)
	default:
		merge = fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING",
			table, colList, colList, dedup)
	}
	if _, err := tx.Exec(ctx, merge); err != nil {
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

// quoteJoin quotes each column; "start" and "end" are reserved words.
func quoteJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, ", ")
}

func prefixJoin(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + `"` + c + `"`
	}
	return strings.Join(out, ", ")
}
