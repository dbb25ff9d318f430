package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/aristath/cryptosignals/internal/domain"
)

func TestSignalRepository_Save_UpsertsBySignalID(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("upsert", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		repo := &SignalRepository{signals: mt.Coll}

		s := &domain.Signal{SignalID: "sig-1", Symbol: "BTC/USD", Status: domain.StatusWaiting}
		err := repo.Save(context.Background(), s)
		require.NoError(t, err)
	})
}

func TestSignalRepository_UpdateSignalAtomic_NoFieldsIsNoop(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("noop", func(mt *mtest.T) {
		repo := &SignalRepository{signals: mt.Coll}
		err := repo.UpdateSignalAtomic(context.Background(), "sig-1", domain.SignalPatch{})
		require.NoError(t, err)
	})
}

func TestSignalRepository_UpdateSignalAtomic_NotFoundWhenUnmatched(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("not found", func(mt *mtest.T) {
		mt.AddMockResponses(bson.D{
			{Key: "ok", Value: 1},
			{Key: "n", Value: 0},
			{Key: "nModified", Value: 0},
		})
		repo := &SignalRepository{signals: mt.Coll}
		status := domain.StatusTP1Hit
		err := repo.UpdateSignalAtomic(context.Background(), "missing", domain.SignalPatch{Status: &status})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSignalRepository_GetMostRecentExit_NotFound(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("not found", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "db.signals", mtest.FirstBatch))
		repo := &SignalRepository{signals: mt.Coll}

		_, err := repo.GetMostRecentExit(context.Background(), "AAPL")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSignalRepository_GetActiveSignals_DecodesBatch(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("decode", func(mt *mtest.T) {
		first := mtest.CreateCursorResponse(1, "db.signals", mtest.FirstBatch, bson.D{
			{Key: "signal_id", Value: "sig-1"},
			{Key: "symbol", Value: "BTC/USD"},
			{Key: "status", Value: string(domain.StatusWaiting)},
			{Key: "created_at", Value: time.Now()},
		})
		killCursors := mtest.CreateCursorResponse(0, "db.signals", mtest.NextBatch)
		mt.AddMockResponses(first, killCursors)

		repo := &SignalRepository{signals: mt.Coll}
		out, err := repo.GetActiveSignals(context.Background(), "BTC/USD")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "sig-1", out[0].SignalID)
	})
}
