// Package repository is the Signal / Position Repository (spec.md §4.8):
// idempotent, environment-aware persistence on top of MongoDB, grounded on
// the teacher's internal/database/repositories/base.go environment-suffix
// pattern and internal/modules/trading/trade_repository.go's explicit,
// no-ORM query style.
package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/aristath/cryptosignals/internal/config"
)

// ErrNotFound mirrors broker.ErrNotFound for the operational store: a
// missing document is not an error, just an absent entity.
var ErrNotFound = fmt.Errorf("repository: not found")

// Client wraps the Mongo connection and resolves the environment-aware
// collection prefix once, at construction, rather than recomputing it on
// every call.
type Client struct {
	mongo  *mongo.Client
	db     *mongo.Database
	prefix string
}

// NewClient connects to the operational document store. Collection naming
// is environment-aware: "live_" in PROD, "test_" elsewhere (spec.md §6).
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	opts := options.Client().ApplyURI(cfg.MongoURI).SetServerSelectionTimeout(10 * time.Second)
	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("repository: connect: %w", err)
	}
	if err := mc.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("repository: ping: %w", err)
	}
	return &Client{
		mongo:  mc,
		db:     mc.Database(cfg.MongoDBName),
		prefix: cfg.CollectionPrefix(),
	}, nil
}

// Close disconnects from the store.
func (c *Client) Close(ctx context.Context) error {
	return c.mongo.Disconnect(ctx)
}

// Name implements server.HealthChecker.
func (c *Client) Name() string { return "mongo" }

// Check pings the primary; used by /healthz.
func (c *Client) Check(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *Client) collection(name string) *mongo.Collection {
	return c.db.Collection(c.prefix + name)
}

// Signals returns the Signal / Position Repository's signal operations.
func (c *Client) Signals() *SignalRepository {
	return &SignalRepository{
		signals:  c.collection("signals"),
		rejected: c.collection("rejected_signals"),
	}
}

// Positions returns the Signal / Position Repository's position
// operations.
func (c *Client) Positions() *PositionRepository {
	return &PositionRepository{
		positions:   c.collection("positions"),
		theoretical: c.collection("theoretical_positions"),
	}
}

// Strategies returns the strategy configuration store the archival
// package's strategy-sync pipeline diffs against.
func (c *Client) Strategies() *StrategyRepository {
	return &StrategyRepository{strategies: c.collection("strategies")}
}

// JobLocks returns the process-wide scheduled-job mutual-exclusion store.
func (c *Client) JobLocks() *JobLockRepository {
	return &JobLockRepository{col: c.collection("job_locks")}
}
