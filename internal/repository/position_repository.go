package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aristath/cryptosignals/internal/domain"
)

// PositionRepository persists Position documents, keyed by position_id
// (which equals the originating signal_id, per spec.md §5's idempotency
// rule). Theoretical positions — emitted when ENABLE_EXECUTION is false or
// a risk gate blocks a candidate — live in a separate collection so
// get_open_positions never has to filter them out by hand.
type PositionRepository struct {
	positions   *mongo.Collection
	theoretical *mongo.Collection
}

func (r *PositionRepository) collectionFor(p *domain.Position) *mongo.Collection {
	if p.TradeType == domain.TradeTypeTheoretical || p.TradeType == domain.TradeTypeRiskBlocked {
		return r.theoretical
	}
	return r.positions
}

// Save upserts a position by position_id.
func (r *PositionRepository) Save(ctx context.Context, p *domain.Position) error {
	col := r.collectionFor(p)
	filter := bson.M{"position_id": p.PositionID}
	_, err := col.ReplaceOne(ctx, filter, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("repository: save position %s: %w", p.PositionID, err)
	}
	return nil
}

// Update replaces an existing position document in place. Unlike Save, it
// does not fall back to the theoretical collection on a trade-type change
// mid-life — execution/theoretical classification is fixed at creation.
func (r *PositionRepository) Update(ctx context.Context, p *domain.Position) error {
	res, err := r.positions.ReplaceOne(ctx, bson.M{"position_id": p.PositionID}, p)
	if err != nil {
		return fmt.Errorf("repository: update position %s: %w", p.PositionID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOpenPositions returns every OPEN position (excluding THEORETICAL,
// which never shares this collection).
func (r *PositionRepository) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	cur, err := r.positions.Find(ctx, bson.M{"status": domain.PositionOpen})
	if err != nil {
		return nil, fmt.Errorf("repository: get open positions: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Position
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("repository: decode open positions: %w", err)
	}
	return out, nil
}

// GetOpenPositionBySymbol returns the open position for symbol, or
// ErrNotFound when none exists (spec.md §4.6's duplicate-symbol gate).
func (r *PositionRepository) GetOpenPositionBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	var p domain.Position
	err := r.positions.FindOne(ctx, bson.M{"symbol": symbol, "status": domain.PositionOpen}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get open position for %s: %w", symbol, err)
	}
	return &p, nil
}

// GetClosedPositions returns the most recently closed positions, newest
// first, bounded by limit — used by the trade-archival pipeline's
// extract() step.
func (r *PositionRepository) GetClosedPositions(ctx context.Context, limit int64) ([]domain.Position, error) {
	opts := options.Find().SetSort(bson.M{"exit_time": -1}).SetLimit(limit)
	cur, err := r.positions.Find(ctx, bson.M{"status": domain.PositionClosed}, opts)
	if err != nil {
		return nil, fmt.Errorf("repository: get closed positions: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Position
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("repository: decode closed positions: %w", err)
	}
	return out, nil
}

// DeletePositions removes archived closed-position rows by position_id —
// the archival framework's cleanup step, only called after a successful
// merge into the analytical store.
func (r *PositionRepository) DeletePositions(ctx context.Context, positionIDs []string) error {
	if len(positionIDs) == 0 {
		return nil
	}
	_, err := r.positions.DeleteMany(ctx, bson.M{"position_id": bson.M{"$in": positionIDs}})
	if err != nil {
		return fmt.Errorf("repository: delete positions: %w", err)
	}
	return nil
}
