package archival

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	extractResult   []any
	extractErr      error
	transformResult []Row
	transformErr    error
	mergeErr        error
	cleanupCalled   bool
	cleanupErr      error
}

func (f *fakePipeline) Name() string           { return "fake" }
func (f *fakePipeline) StagingTable() string   { return "stg_fake" }
func (f *fakePipeline) FactTable() string      { return "fact_fake" }
func (f *fakePipeline) IDColumn() string       { return "id" }
func (f *fakePipeline) Columns() []string      { return []string{"id", "value"} }
func (f *fakePipeline) Extract(ctx context.Context) ([]any, error) {
	return f.extractResult, f.extractErr
}
func (f *fakePipeline) Transform(ctx context.Context, records []any) ([]Row, error) {
	return f.transformResult, f.transformErr
}
func (f *fakePipeline) Cleanup(ctx context.Context, records []any, rows []Row) error {
	f.cleanupCalled = true
	return f.cleanupErr
}

func newTestEngine(t *testing.T) (*Engine, func()) {
	t.Helper()
	store, mock, err := newMockStore()
	require.NoError(t, err)
	return New(store, nil, zerolog.Nop()), func() { _ = mock }
}

func TestEngine_Run_SkipsWhenExtractEmpty(t *testing.T) {
	engine, cleanup := newTestEngine(t)
	defer cleanup()

	p := &fakePipeline{}
	require.NoError(t, engine.Run(context.Background(), p))
	assert.False(t, p.cleanupCalled, "cleanup must not run when there is nothing to archive")
}

func TestEngine_Run_ExtractErrorNeverCallsCleanup(t *testing.T) {
	engine, cleanup := newTestEngine(t)
	defer cleanup()

	p := &fakePipeline{extractErr: errors.New("boom")}
	err := engine.Run(context.Background(), p)
	require.Error(t, err)
	assert.False(t, p.cleanupCalled)
}

func TestEngine_Run_TransformErrorNeverCallsCleanup(t *testing.T) {
	engine, cleanup := newTestEngine(t)
	defer cleanup()

	p := &fakePipeline{extractResult: []any{1}, transformErr: errors.New("boom")}
	err := engine.Run(context.Background(), p)
	require.Error(t, err)
	assert.False(t, p.cleanupCalled)
}

func TestEngine_Run_MergeFailureNeverCallsCleanup(t *testing.T) {
	store, mock, err := newMockStore()
	require.NoError(t, err)

	mock.ExpectExec("TRUNCATE TABLE stg_fake").WillReturnResult(sqlmockResult())
	mock.ExpectExec("INSERT INTO stg_fake").WillReturnResult(sqlmockResult())
	mock.ExpectExec("MERGE INTO fact_fake").WillReturnError(errors.New("merge exploded"))

	engine := New(store, nil, zerolog.Nop())
	p := &fakePipeline{extractResult: []any{1}, transformResult: []Row{{"a", "b"}}}

	err = engine.Run(context.Background(), p)
	require.Error(t, err)
	assert.False(t, p.cleanupCalled, "cleanup must never run after a failed merge")
}

func TestEngine_Run_HappyPathCallsCleanupAfterMerge(t *testing.T) {
	store, mock, err := newMockStore()
	require.NoError(t, err)

	mock.ExpectExec("TRUNCATE TABLE stg_fake").WillReturnResult(sqlmockResult())
	mock.ExpectExec("INSERT INTO stg_fake").WillReturnResult(sqlmockResult())
	mock.ExpectExec("MERGE INTO fact_fake").WillReturnResult(sqlmockResult())

	engine := New(store, nil, zerolog.Nop())
	p := &fakePipeline{extractResult: []any{1}, transformResult: []Row{{"a", "b"}}}

	require.NoError(t, engine.Run(context.Background(), p))
	assert.True(t, p.cleanupCalled)
	require.NoError(t, mock.ExpectationsWereMet())
}
