package archival

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptosignals/internal/domain"
)

// configHash deterministically hashes a strategy's tracked fields, sorted
// the way strategy_sync.py's json.dumps(subset, sort_keys=True) would.
func configHash(c domain.StrategyConfig) string {
	subset := struct {
		Active           bool
		Timeframe        string
		AssetClass       domain.AssetClass
		Assets           []string
		RiskParams       map[string]float64
		ConfluenceConfig map[string]float64
		PatternOverrides map[string]string
	}{c.Active, c.Timeframe, c.AssetClass, append([]string{}, c.Assets...), c.RiskParams, c.ConfluenceConfig, c.PatternOverrides}
	sort.Strings(subset.Assets)
	raw, _ := json.Marshal(subset)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// StrategySource is the narrow repository slice this pipeline needs.
type StrategySource interface {
	GetAllStrategies(ctx context.Context) ([]domain.StrategyConfig, error)
}

// ScdStore is the SQL-exec slice strategy sync needs beyond the generic
// Pipeline contract, since SCD Type 2 is a close-prior/insert-new
// pattern rather than a plain upsert.
type ScdStore interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StrategySyncPipeline performs SCD Type 2 synchronization of strategy
// configuration into dim_strategies: every detected change closes the
// currently-open version row (sets valid_to) and inserts a new one
// (valid_to NULL). Grounded on strategy_sync.py's hash-compare design,
// generalized from the teacher's trade_repository.go upsert style to a
// close-prior/insert-new pattern since no single UPDATE expresses SCD2.
type StrategySyncPipeline struct {
	Strategies StrategySource
	Store      ScdStore
	Log        zerolog.Logger
	Now        func() time.Time
}

func NewStrategySyncPipeline(strategies StrategySource, store ScdStore, log zerolog.Logger) *StrategySyncPipeline {
	return &StrategySyncPipeline{Strategies: strategies, Store: store, Log: log.With().Str("job", "strategy_sync").Logger(), Now: time.Now}
}

func (p *StrategySyncPipeline) Name() string         { return "strategy_sync" }
func (p *StrategySyncPipeline) StagingTable() string { return "stg_strategies_import" }
func (p *StrategySyncPipeline) FactTable() string    { return "dim_strategies" }
func (p *StrategySyncPipeline) IDColumn() string     { return "strategy_id" }
func (p *StrategySyncPipeline) Columns() []string {
	return []string{"strategy_id", "config_hash", "active", "timeframe", "asset_class", "valid_from", "valid_to"}
}

func (p *StrategySyncPipeline) Extract(ctx context.Context) ([]any, error) {
	strategies, err := p.Strategies.GetAllStrategies(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch strategies: %w", err)
	}
	records := make([]any, len(strategies))
	for i, s := range strategies {
		records[i] = s
	}
	return records, nil
}

// Transform diffs each strategy's current hash against dim_strategies'
// open version and, on a change, closes the prior row and inserts the
// new one directly — bypassing the generic truncate/load/merge path,
// since SCD2 history can't be expressed as a single-column-keyed upsert.
// It always returns no rows, so Engine.Run's merge step is a no-op after
// this runs.
func (p *StrategySyncPipeline) Transform(ctx context.Context, records []any) ([]Row, error) {
	current, err := p.currentHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch current strategy state: %w", err)
	}

	now := p.Now().UTC()
	for _, rec := range records {
		s := rec.(domain.StrategyConfig)
		hash := configHash(s)
		if current[s.ID] == hash {
			continue
		}

		if _, ok := current[s.ID]; ok {
			if _, err := p.Store.Exec(ctx,
				"UPDATE dim_strategies SET valid_to = ? WHERE strategy_id = ? AND valid_to IS NULL",
				now, s.ID); err != nil {
				return nil, fmt.Errorf("close prior version for %s: %w", s.ID, err)
			}
		}

		if _, err := p.Store.Exec(ctx,
			"INSERT INTO dim_strategies (strategy_id, config_hash, active, timeframe, asset_class, valid_from, valid_to) "+
				"VALUES (?, ?, ?, ?, ?, ?, NULL)",
			s.ID, hash, s.Active, s.Timeframe, s.AssetClass, now); err != nil {
			return nil, fmt.Errorf("insert new version for %s: %w", s.ID, err)
		}
		p.Log.Info().Str("strategy_id", s.ID).Msg("strategy config version changed")
	}

	return nil, nil
}

// Cleanup is a no-op: there is no operational-store record to delete,
// the operational store's strategy documents are the strategies' own config, not
// archival source data.
func (p *StrategySyncPipeline) Cleanup(ctx context.Context, records []any, rows []Row) error { return nil }

func (p *StrategySyncPipeline) currentHashes(ctx context.Context) (map[string]string, error) {
	rows, err := p.Store.Query(ctx, "SELECT strategy_id, config_hash FROM dim_strategies WHERE valid_to IS NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		out[id] = hash
	}
	return out, rows.Err()
}
