// Package config reads the ANYVAR_* environment variables into a
// typed configuration.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/inodb/vrs-registry/internal/storage"
)

// Auth configures bearer-token validation. An empty Auth disables the
// middleware.
type Auth struct {
	// TokenList holds literal accepted tokens.
	TokenList []string
	// IssuerURL and JWKSURI enable JWT validation.
	IssuerURL string
	JWKSURI   string
	Audiences []string
	AppIDs    []string
	Scopes    []string
	Emails    []string
	Subjects  []string
}

// Enabled reports whether any validation method is configured.
func (a Auth) Enabled() bool {
	return len(a.TokenList) > 0 || a.IssuerURL != ""
}

// Config is the process configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// StorageURI selects the storage backend (postgresql://,
	// duckdb://, memory:, empty for no-op).
	StorageURI string

	BatchLimit        int
	MaxPendingBatches int
	FlushOnBatchExit  bool
	Tables            storage.TableNames

	// TranslatorURL is the base URL of the variation normalization
	// service.
	TranslatorURL string

	// QueueURL selects the async job state backend (redis://); empty
	// disables async runs.
	QueueURL string
	// AsyncWorkDir holds input and output files of async runs; async
	// mode requires it.
	AsyncWorkDir string
	// AsyncFailureStatusCode overrides the status code returned when
	// polling a terminally failed run.
	AsyncFailureStatusCode int
	// ExpectedIDsPerSecond drives Retry-After estimates.
	ExpectedIDsPerSecond int

	Auth Auth
}

// Load reads configuration from the environment. Unset variables fall
// back to defaults.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("anyvar")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("storage_uri", "")
	v.SetDefault("sql_store_batch_limit", storage.DefaultBatchLimit)
	v.SetDefault("sql_store_max_pending_batches", storage.DefaultMaxPendingBatches)
	v.SetDefault("sql_store_flush_on_batchctx_exit", true)
	v.SetDefault("translator_url", "http://localhost:8001")
	v.SetDefault("queue_url", "")
	v.SetDefault("vcf_async_work_dir", "")
	v.SetDefault("vcf_async_failure_status_code", 500)
	v.SetDefault("expected_vrs_ids_per_second", 500)

	tables := storage.DefaultTableNames()
	v.SetDefault("alleles_table_name", tables.Alleles)
	v.SetDefault("locations_table_name", tables.Locations)
	v.SetDefault("sequence_references_table_name", tables.SequenceReferences)
	v.SetDefault("annotations_table_name", tables.Annotations)
	v.SetDefault("variation_mappings_table_name", tables.Mappings)
	v.SetDefault("vrs_objects_table_name", tables.VrsObjects)

	return &Config{
		ListenAddr:        v.GetString("listen_addr"),
		StorageURI:        v.GetString("storage_uri"),
		BatchLimit:        v.GetInt("sql_store_batch_limit"),
		MaxPendingBatches: v.GetInt("sql_store_max_pending_batches"),
		FlushOnBatchExit:  v.GetBool("sql_store_flush_on_batchctx_exit"),
		Tables: storage.TableNames{
			Alleles:            v.GetString("alleles_table_name"),
			Locations:          v.GetString("locations_table_name"),
			SequenceReferences: v.GetString("sequence_references_table_name"),
			Annotations:        v.GetString("annotations_table_name"),
			Mappings:           v.GetString("variation_mappings_table_name"),
			VrsObjects:         v.GetString("vrs_objects_table_name"),
		},
		TranslatorURL:          v.GetString("translator_url"),
		QueueURL:               v.GetString("queue_url"),
		AsyncWorkDir:           v.GetString("vcf_async_work_dir"),
		AsyncFailureStatusCode: v.GetInt("vcf_async_failure_status_code"),
		ExpectedIDsPerSecond:   v.GetInt("expected_vrs_ids_per_second"),
		Auth: Auth{
			TokenList: splitList(v.GetString("auth_token_list")),
			IssuerURL: v.GetString("auth_issuer_url"),
			JWKSURI:   v.GetString("auth_jwks_uri"),
			Audiences: splitList(v.GetString("auth_audiences")),
			AppIDs:    splitList(v.GetString("auth_appids")),
			Scopes:    splitList(v.GetString("auth_scopes")),
			Emails:    splitList(v.GetString("auth_emails")),
			Subjects:  splitList(v.GetString("auth_subjects")),
		},
	}
}

// StorageOptions maps the configuration onto SQL store options.
func (c *Config) StorageOptions() storage.Options {
	opts := storage.DefaultOptions()
	opts.BatchLimit = c.BatchLimit
	opts.MaxPendingBatches = c.MaxPendingBatches
	opts.FlushOnBatchExit = c.FlushOnBatchExit
	opts.Tables = c.Tables
	return opts.Normalize()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
