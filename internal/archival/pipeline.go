// Package archival implements the Archival Framework (spec.md §4.10): an
// abstract extract/transform/truncate/load/merge/cleanup pipeline contract
// plus its six concrete jobs, grounded on
// original_source/pipelines/base.py (read in full). The original targets
// BigQuery; this module targets an embedded DuckDB analytical store
// (github.com/duckdb/duckdb-go/v2), which has native MERGE support and
// needs no staging-dataset provisioning step.
package archival

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Row is one transformed record, positional against Pipeline.Columns().
type Row []any

// Pipeline is the contract every archival job implements. It mirrors
// BigQueryPipelineBase's extract/transform/cleanup split: Extract and
// Cleanup are job-specific (abstract in the Python base), Transform does
// the shaping into Columns()-ordered rows.
type Pipeline interface {
	Name() string
	StagingTable() string
	FactTable() string
	IDColumn() string
	Columns() []string

	// Extract fetches source records. A nil/empty result short-circuits
	// the run before any staging table is touched.
	Extract(ctx context.Context) ([]any, error)
	// Transform shapes extracted records into Columns()-ordered rows.
	Transform(ctx context.Context, records []any) ([]Row, error)
	// Cleanup runs only after a successful merge. Pipelines with nothing
	// to clean up (e.g. AccountSnapshot, a read-only source) implement
	// this as a no-op rather than skipping the step.
	Cleanup(ctx context.Context, records []any, rows []Row) error
}

// Engine runs pipelines against one analytical Store.
type Engine struct {
	Store       *Store
	Snapshotter *Snapshotter
	Log         zerolog.Logger
}

// New builds an Engine bound to store. Snapshots to S3 are skipped when
// snap is nil (e.g. local/test runs with no bucket configured).
func New(store *Store, snap *Snapshotter, log zerolog.Logger) *Engine {
	return &Engine{Store: store, Snapshotter: snap, Log: log.With().Str("component", "archival").Logger()}
}

// Run executes one pipeline pass: extract -> transform -> truncate staging
// -> load staging -> snapshot -> merge staging into fact -> cleanup. Any
// failure before cleanup is returned, wrapped with the pipeline and step
// name, without calling Cleanup —
// this is the critical invariant from base.py's run(): cleanup only runs
// after a successful merge, so a failed load/merge never loses source
// records.
func (e *Engine) Run(ctx context.Context, p Pipeline) error {
	log := e.Log.With().Str("job", p.Name()).Logger()
	log.Info().Msg("extracting")

	records, err := p.Extract(ctx)
	if err != nil {
		return fmt.Errorf("archival: %s: extract: %w", p.Name(), err)
	}
	if len(records) == 0 {
		log.Info().Msg("nothing to archive")
		return nil
	}

	rows, err := p.Transform(ctx, records)
	if err != nil {
		return fmt.Errorf("archival: %s: transform: %w", p.Name(), err)
	}
	if len(rows) == 0 {
		log.Info().Msg("transform produced no rows")
		return nil
	}

	if err := e.Store.TruncateStaging(ctx, p.StagingTable()); err != nil {
		return fmt.Errorf("archival: %s: truncate staging: %w", p.Name(), err)
	}

	if err := e.Store.LoadStaging(ctx, p.StagingTable(), p.Columns(), rows); err != nil {
		return fmt.Errorf("archival: %s: load staging: %w", p.Name(), err)
	}

	if err := e.Snapshotter.Snapshot(ctx, p.Name(), rows); err != nil {
		return fmt.Errorf("archival: %s: snapshot: %w", p.Name(), err)
	}

	if err := e.Store.Merge(ctx, p.StagingTable(), p.FactTable(), p.IDColumn(), p.Columns()); err != nil {
		return fmt.Errorf("archival: %s: merge: %w", p.Name(), err)
	}

	log.Info().Int("rows", len(rows)).Msg("merged")

	if err := p.Cleanup(ctx, records, rows); err != nil {
		return fmt.Errorf("archival: %s: cleanup: %w", p.Name(), err)
	}

	log.Info().Msg("pipeline finished successfully")
	return nil
}
