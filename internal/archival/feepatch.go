package archival

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"github.com/aristath/cryptosignals/internal/broker"
)

// pendingFeeRecord is one fact_trades row awaiting fee reconciliation.
type pendingFeeRecord struct {
	TradeID      string
	EntryOrderID string
	ExitOrderID  string
}

// FeeQueryStore is the narrow Store slice FeePatchPipeline reads pending
// rows through.
type FeeQueryStore interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// FeePatchPipeline re-opens already-merged fact_trades rows once CFEE
// (crypto fee) broker activities are visible at T+1 and replaces the
// ESTIMATED fee with the broker's actual charged amount. This pipeline
// has no direct Python ground truth — original_source only references
// "FeePatchPipeline" by name in trade_archival.py's fee_calculation_type
// comments — so its shape follows the same extract/transform/merge
// contract as its siblings, supplementing the distilled spec per
// SPEC_FULL.md.
type FeePatchPipeline struct {
	Store  FeeQueryStore
	Broker broker.Broker
	Log    zerolog.Logger
	Now    func() time.Time
}

func NewFeePatchPipeline(store FeeQueryStore, b broker.Broker, log zerolog.Logger) *FeePatchPipeline {
	return &FeePatchPipeline{Store: store, Broker: b, Log: log.With().Str("job", "fee_patch").Logger(), Now: time.Now}
}

func (p *FeePatchPipeline) Name() string         { return "fee_patch" }
func (p *FeePatchPipeline) StagingTable() string { return "stg_fee_patches" }
func (p *FeePatchPipeline) FactTable() string    { return "fact_trades" }
func (p *FeePatchPipeline) IDColumn() string     { return "trade_id" }
func (p *FeePatchPipeline) Columns() []string {
	return []string{"trade_id", "actual_fee_usd", "fees_usd", "fee_calculation_type", "fee_finalized"}
}

// Extract reads fact_trades rows still marked fee_finalized = false whose
// entry occurred more than 24h ago, the window CFEE activities need to
// settle and become queryable.
func (p *FeePatchPipeline) Extract(ctx context.Context) ([]any, error) {
	cutoff := p.Now().Add(-24 * time.Hour)
	rows, err := p.Store.Query(ctx,
		"SELECT trade_id, entry_order_id, exit_order_id FROM fact_trades "+
			"WHERE fee_finalized = false AND entry_time < ?", cutoff)
	if err != nil {
		return nil, fmt.Errorf("query pending fee rows: %w", err)
	}
	defer rows.Close()

	var records []any
	for rows.Next() {
		var r pendingFeeRecord
		if err := rows.Scan(&r.TradeID, &r.EntryOrderID, &r.ExitOrderID); err != nil {
			return nil, fmt.Errorf("scan pending fee row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Transform sums the CFEE activities attached to each trade's entry/exit
// order ids into the reconciled fee total.
func (p *FeePatchPipeline) Transform(ctx context.Context, records []any) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		r := rec.(pendingFeeRecord)

		activities, err := p.Broker.GetActivities(ctx, broker.ActivityFilter{
			Types:    []string{"CFEE"},
			OrderIDs: []string{r.EntryOrderID, r.ExitOrderID},
		})
		if err != nil {
			p.Log.Warn().Err(err).Str("trade_id", r.TradeID).Msg("failed to fetch CFEE activities, skipping")
			continue
		}
		if len(activities) == 0 {
			continue
		}

		var total float64
		for _, a := range activities {
			if activityIsReversal(a.RawJSON) {
				continue
			}
			total += a.Amount
		}
		if total < 0 {
			total = -total
		}

		rows = append(rows, Row{r.TradeID, total, total, "ACTUAL", true})
	}
	return rows, nil
}

// Cleanup is a no-op: this pipeline only ever patches existing fact rows,
// there is no source record to delete.
func (p *FeePatchPipeline) Cleanup(ctx context.Context, records []any, rows []Row) error { return nil }

// activityIsReversal inspects the broker's raw activity payload for a
// reversal/void marker. Alpaca's activity feed doesn't expose this as a
// distinct Type (reversed CFEE entries still come back typed "CFEE", just
// with a status field buried in the raw record), so this needs ad hoc JSON
// inspection rather than a typed field on Activity. Unparseable or empty
// payloads are treated as non-reversals rather than dropped.
func activityIsReversal(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	v, err := fastjson.ParseBytes(raw)
	if err != nil {
		return false
	}
	status := string(v.GetStringBytes("status"))
	return status == "reversed" || status == "void" || status == "canceled"
}
