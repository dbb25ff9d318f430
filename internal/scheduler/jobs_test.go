package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptosignals/internal/config"
	"github.com/aristath/cryptosignals/internal/domain"
)

type stubLocker struct {
	acquire bool
	err     error
	locked  []string
	unlocks []string
}

func (s *stubLocker) AcquireLock(ctx context.Context, jobName string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.locked = append(s.locked, jobName)
	return s.acquire, nil
}

func (s *stubLocker) ReleaseLock(ctx context.Context, jobName string) error {
	s.unlocks = append(s.unlocks, jobName)
	return nil
}

type stubSignalStore struct {
	active    []domain.Signal
	lastExit  time.Time
	saved     []*domain.Signal
	rejected  []*domain.RejectedSignal
	saveErr   error
	activeErr error
}

func (s *stubSignalStore) GetActiveSignals(ctx context.Context, symbol string) ([]domain.Signal, error) {
	if s.activeErr != nil {
		return nil, s.activeErr
	}
	return s.active, nil
}

func (s *stubSignalStore) GetMostRecentExit(ctx context.Context, symbol string) (time.Time, error) {
	return s.lastExit, nil
}

func (s *stubSignalStore) Save(ctx context.Context, sig *domain.Signal) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, sig)
	return nil
}

func (s *stubSignalStore) SaveRejectedSignal(ctx context.Context, rs *domain.RejectedSignal) error {
	s.rejected = append(s.rejected, rs)
	return nil
}

func (s *stubSignalStore) UpdateSignalAtomic(ctx context.Context, signalID string, patch domain.SignalPatch) error {
	return nil
}

type stubBarsProvider struct {
	bars []domain.Bar
	err  error
}

func (p *stubBarsProvider) GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.bars, nil
}

func TestSymbolLoopJob_SkipsSymbolWithActiveSignal(t *testing.T) {
	signals := &stubSignalStore{active: []domain.Signal{{Symbol: "BTC/USD"}}}
	bars := &stubBarsProvider{}
	cfg := &config.Config{CryptoSymbols: []string{"BTC/USD"}, DefaultCooldownSeconds: 3600}

	job := &SymbolLoopJob{
		Config:  cfg,
		Bars:    bars,
		Signals: signals,
		Locks:   &stubLocker{acquire: true},
		Log:     zerolog.Nop(),
	}
	job.processSymbol(context.Background(), "BTC/USD", domain.AssetClassCrypto)

	assert.Empty(t, signals.saved)
	assert.Empty(t, signals.rejected)
}

func TestSymbolLoopJob_RunSkipsWhenLockNotAcquired(t *testing.T) {
	locks := &stubLocker{acquire: false}
	cfg := &config.Config{CryptoSymbols: []string{"BTC/USD"}}
	job := NewSymbolLoopJob(cfg, &stubBarsProvider{}, &stubSignalStore{}, nil, nil, nil, nil, nil, locks, zerolog.Nop())

	err := job.Run()
	require.NoError(t, err)
	assert.Empty(t, locks.unlocks)
}

func TestArchivalJob_RunSkipsWhenLockNotAcquired(t *testing.T) {
	locks := &stubLocker{acquire: false}
	job := NewArchivalJob(nil, nil, locks, nil, zerolog.Nop())

	err := job.Run()
	require.NoError(t, err)
	assert.Empty(t, locks.unlocks)
}

func TestArchivalJob_Name(t *testing.T) {
	job := NewArchivalJob(nil, nil, &stubLocker{}, nil, zerolog.Nop())
	assert.Equal(t, "archive", job.Name())
}

func TestReconcileJob_Name(t *testing.T) {
	job := NewReconcileJob(nil, &stubLocker{}, nil, nil, zerolog.Nop())
	assert.Equal(t, "reconcile", job.Name())
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "42", itoa(42))
	assert.Equal(t, "-7", itoa(-7))
}
