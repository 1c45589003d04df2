// Package factory opens the storage backend selected by a URI. It sits
// outside the storage package so the contract does not import its own
// implementations.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/inodb/vrs-registry/internal/storage"
	"github.com/inodb/vrs-registry/internal/storage/duckdb"
	"github.com/inodb/vrs-registry/internal/storage/postgres"
)

// Open dispatches on the URI scheme:
//
//	postgresql://... or postgres://...  PostgreSQL
//	duckdb:///path/to/file.db           DuckDB (empty path is in-memory)
//	memory:                             in-process map store
//	(empty)                             no-op store, registration disabled
func Open(ctx context.Context, uri string, opts storage.Options) (storage.Store, error) {
	switch {
	case uri == "":
		return storage.NewNoopStore(), nil
	case uri == "memory:" || strings.HasPrefix(uri, "memory://"):
		return storage.NewMemoryStore(), nil
	case strings.HasPrefix(uri, "duckdb://"):
		// duckdb:///abs/path.db keeps the leading slash after the
		// authority; duckdb://rel.db is relative.
		return duckdb.Open(strings.TrimPrefix(uri, "duckdb://"), opts)
	case strings.HasPrefix(uri, "postgresql://") || strings.HasPrefix(uri, "postgres://"):
		return postgres.Open(ctx, uri, opts)
	default:
		return nil, fmt.Errorf("unsupported storage uri %q", uri)
	}
}
