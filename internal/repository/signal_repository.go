package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aristath/cryptosignals/internal/domain"
)

// SignalRepository persists Signal documents, keyed by signal_id, plus the
// separate rejected/shadow-signal collection (spec.md §4.8).
type SignalRepository struct {
	signals  *mongo.Collection
	rejected *mongo.Collection
}

// Save upserts a signal by signal_id. Calling Save twice with the same
// signal is a no-op on the stored document (spec.md §8 idempotence).
func (r *SignalRepository) Save(ctx context.Context, s *domain.Signal) error {
	filter := bson.M{"signal_id": s.SignalID}
	_, err := r.signals.ReplaceOne(ctx, filter, s, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("repository: save signal %s: %w", s.SignalID, err)
	}
	return nil
}

// UpdateSignalAtomic applies only the non-nil fields of patch, matching
// the teacher's narrow-update style rather than replacing the whole
// document (spec.md §5: "update_signal_atomic accepts only the changed
// fields").
func (r *SignalRepository) UpdateSignalAtomic(ctx context.Context, signalID string, patch domain.SignalPatch) error {
	set := bson.M{}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.ExitReason != nil {
		set["exit_reason"] = *patch.ExitReason
	}
	if patch.SuggestedStop != nil {
		set["suggested_stop"] = *patch.SuggestedStop
	}
	if patch.TakeProfit3 != nil {
		set["take_profit_3"] = *patch.TakeProfit3
	}
	if patch.DiscordThreadID != nil {
		set["discord_thread_id"] = *patch.DiscordThreadID
	}
	if patch.LastNotifiedTP3 != nil {
		set["last_notified_tp3"] = *patch.LastNotifiedTP3
	}
	if len(set) == 0 {
		return nil
	}

	res, err := r.signals.UpdateOne(ctx, bson.M{"signal_id": signalID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("repository: update signal %s: %w", signalID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActiveSignals returns signals for symbol in WAITING, TP1_HIT, or
// TP2_HIT — the lifecycle advancer's candidate set for a tick.
func (r *SignalRepository) GetActiveSignals(ctx context.Context, symbol string) ([]domain.Signal, error) {
	filter := bson.M{
		"symbol": symbol,
		"status": bson.M{"$in": []domain.SignalStatus{
			domain.StatusWaiting, domain.StatusTP1Hit, domain.StatusTP2Hit,
		}},
	}
	cur, err := r.signals.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("repository: get active signals for %s: %w", symbol, err)
	}
	defer cur.Close(ctx)

	var out []domain.Signal
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("repository: decode active signals for %s: %w", symbol, err)
	}
	return out, nil
}

// GetMostRecentExit returns the creation time of the most recently exited
// (terminal) signal for symbol, feeding the cooldown policy. Returns the
// zero time and ErrNotFound when no prior exit exists.
func (r *SignalRepository) GetMostRecentExit(ctx context.Context, symbol string) (time.Time, error) {
	filter := bson.M{
		"symbol": symbol,
		"status": bson.M{"$in": []domain.SignalStatus{
			domain.StatusTP3Hit, domain.StatusInvalidated, domain.StatusExpired,
		}},
	}
	opts := options.FindOne().SetSort(bson.M{"created_at": -1})

	var s domain.Signal
	err := r.signals.FindOne(ctx, filter, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: get most recent exit for %s: %w", symbol, err)
	}
	return s.CreatedAt, nil
}

// SaveRejectedSignal writes a would-be signal a risk gate blocked, kept
// for filter tuning (spec.md §7 Risk-block policy).
func (r *SignalRepository) SaveRejectedSignal(ctx context.Context, rs *domain.RejectedSignal) error {
	_, err := r.rejected.InsertOne(ctx, rs)
	if err != nil {
		return fmt.Errorf("repository: save rejected signal %s: %w", rs.SignalID, err)
	}
	return nil
}

// GetRejectedSignals returns rejected signals not yet archived, bounded by
// limit — consumed by the rejected-signal archival pipeline.
func (r *SignalRepository) GetRejectedSignals(ctx context.Context, limit int64) ([]domain.RejectedSignal, error) {
	opts := options.Find().SetLimit(limit).SetSort(bson.M{"rejected_at": 1})
	cur, err := r.rejected.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("repository: get rejected signals: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.RejectedSignal
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("repository: decode rejected signals: %w", err)
	}
	return out, nil
}

// DeleteRejectedSignals removes archived rejected-signal rows by
// signal_id — the cleanup step of the archival framework, only called
// after a successful merge.
func (r *SignalRepository) DeleteRejectedSignals(ctx context.Context, signalIDs []string) error {
	if len(signalIDs) == 0 {
		return nil
	}
	_, err := r.rejected.DeleteMany(ctx, bson.M{"signal_id": bson.M{"$in": signalIDs}})
	if err != nil {
		return fmt.Errorf("repository: delete rejected signals: %w", err)
	}
	return nil
}

// GetExpiredSignals returns EXPIRED signals whose ValidUntil is at or
// before asOf, for the expired-signal archival pipeline.
func (r *SignalRepository) GetExpiredSignals(ctx context.Context, asOf time.Time, limit int64) ([]domain.Signal, error) {
	filter := bson.M{
		"status":      domain.StatusExpired,
		"valid_until": bson.M{"$lte": asOf},
	}
	opts := options.Find().SetLimit(limit)
	cur, err := r.signals.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("repository: get expired signals: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Signal
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("repository: decode expired signals: %w", err)
	}
	return out, nil
}

// DeleteSignals removes archived signal rows by signal_id.
func (r *SignalRepository) DeleteSignals(ctx context.Context, signalIDs []string) error {
	if len(signalIDs) == 0 {
		return nil
	}
	_, err := r.signals.DeleteMany(ctx, bson.M{"signal_id": bson.M{"$in": signalIDs}})
	if err != nil {
		return fmt.Errorf("repository: delete signals: %w", err)
	}
	return nil
}
