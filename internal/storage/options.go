package storage

import "go.uber.org/zap"

// Default batch-engine parameters.
const (
	DefaultBatchLimit        = 65536
	DefaultMaxPendingBatches = 50
)

// MergeStyle selects the SQL shape used for insert-if-absent merges.
// The variants are semantically equivalent.
type MergeStyle string

// Supported merge styles.
const (
	MergeOnConflict    MergeStyle = "on_conflict"     // INSERT ... ON CONFLICT DO NOTHING
	MergeWhenNotMatch  MergeStyle = "merge"           // MERGE ... WHEN NOT MATCHED
	MergeLeftOuterJoin MergeStyle = "left_outer_join" // INSERT ... LEFT OUTER JOIN ... WHERE NULL
)

// TableNames carries the physical table names for the relational
// decomposition. Each defaults to its conventional plural and can be
// overridden via ANYVAR_<PLURAL>_TABLE_NAME.
type TableNames struct {
	Alleles            string
	Locations          string
	SequenceReferences string
	Annotations        string
	Mappings           string
	VrsObjects         string
}

// DefaultTableNames returns the conventional table names.
func DefaultTableNames() TableNames {
	return TableNames{
		Alleles:            "alleles",
		Locations:          "locations",
		SequenceReferences: "sequence_references",
		Annotations:        "annotations",
		Mappings:           "variation_mappings",
		VrsObjects:         "vrs_objects",
	}
}

// Options configures a SQL store instance.
type Options struct {
	// BatchLimit is the row count at which an in-process batch buffer
	// is handed to the background writer.
	BatchLimit int
	// MaxPendingBatches caps the background writer's queue; producers
	// block while the queue is full.
	MaxPendingBatches int
	// FlushOnBatchExit performs a flush barrier when leaving a batch
	// scope.
	FlushOnBatchExit bool
	// MaxRows bounds read and search result sets.
	MaxRows int
	// MergeStyle selects the merge statement shape.
	MergeStyle MergeStyle
	// Tables carries the physical table names.
	Tables TableNames
	// Logger receives batch-engine and backend diagnostics.
	Logger *zap.Logger
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		BatchLimit:        DefaultBatchLimit,
		MaxPendingBatches: DefaultMaxPendingBatches,
		FlushOnBatchExit:  true,
		MaxRows:           MaxRowsDefault,
		MergeStyle:        MergeOnConflict,
		Tables:            DefaultTableNames(),
		Logger:            zap.NewNop(),
	}
}

// Normalize fills zero values with defaults.
func (o Options) Normalize() Options {
	def := DefaultOptions()
	if o.BatchLimit <= 0 {
		o.BatchLimit = def.BatchLimit
	}
	if o.MaxPendingBatches <= 0 {
		o.MaxPendingBatches = def.MaxPendingBatches
	}
	if o.MaxRows <= 0 {
		o.MaxRows = def.MaxRows
	}
	if o.MergeStyle == "" {
		o.MergeStyle = def.MergeStyle
	}
	if o.Tables == (TableNames{}) {
		o.Tables = def.Tables
	}
	if o.Logger == nil {
		o.Logger = def.Logger
	}
	return o
}
