package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/aristath/cryptosignals/internal/domain"
)

// StrategyRepository holds strategy configuration documents — the source
// the archival package's strategy-sync pipeline diffs against its own
// analytical dim_strategies history.
type StrategyRepository struct {
	strategies *mongo.Collection
}

// GetAllStrategies satisfies archival.StrategySource, returning every
// configured strategy for a full sync pass.
func (r *StrategyRepository) GetAllStrategies(ctx context.Context) ([]domain.StrategyConfig, error) {
	cursor, err := r.strategies.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("repository: get all strategies: %w", err)
	}
	defer cursor.Close(ctx)

	var strategies []domain.StrategyConfig
	if err := cursor.All(ctx, &strategies); err != nil {
		return nil, fmt.Errorf("repository: decode strategies: %w", err)
	}
	return strategies, nil
}
