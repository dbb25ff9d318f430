package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// jobLockTTL bounds how long a held lock survives a crashed job before
// another scheduler run is allowed to reclaim it.
const jobLockTTL = 15 * time.Minute

// JobLockRepository provides scheduled-job mutual exclusion across
// process restarts (spec.md §4.8, §5): only one running instance of a
// named job at a time, even across multiple scheduler processes.
type JobLockRepository struct {
	col *mongo.Collection
}

// AcquireLock attempts to take the named lock. It returns true when the
// caller now holds it (either nobody held it, or the prior holder's lock
// expired), false when another holder is still within its TTL.
func (r *JobLockRepository) AcquireLock(ctx context.Context, jobName string) (bool, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"job_name": jobName,
		"$or": []bson.M{
			{"locked_until": bson.M{"$lte": now}},
			{"locked_until": bson.M{"$exists": false}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"job_name":     jobName,
			"locked_at":    now,
			"locked_until": now.Add(jobLockTTL),
		},
	}

	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("repository: acquire lock %s: %w", jobName, err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	// No existing lock row at all: try to insert one. A unique index on
	// job_name (created out-of-band) turns a race here into a duplicate-
	// key error, which just means the other racer won.
	_, err = r.col.InsertOne(ctx, bson.M{
		"job_name":     jobName,
		"locked_at":    now,
		"locked_until": now.Add(jobLockTTL),
	})
	if err == nil {
		return true, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	return false, fmt.Errorf("repository: acquire lock %s: %w", jobName, err)
}

// ReleaseLock frees the named lock early, letting the next scheduled run
// proceed without waiting out the full TTL.
func (r *JobLockRepository) ReleaseLock(ctx context.Context, jobName string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"job_name": jobName})
	if err != nil {
		return fmt.Errorf("repository: release lock %s: %w", jobName, err)
	}
	return nil
}
