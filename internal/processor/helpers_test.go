package processor

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"ca-indexer/internal/database/dbtest"
	"ca-indexer/internal/record"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockInvalidator struct {
	mock.Mock
}

func (m *mockInvalidator) OnRecordsChanged(ctx context.Context, uris []string) error {
	args := m.Called(ctx, uris)
	return args.Error(0)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, name string, payload any, priority int) error {
	args := m.Called(ctx, name, payload, priority)
	return args.Error(0)
}

type mockBlobs struct {
	mock.Mock
}

func (m *mockBlobs) FetchBlob(ctx context.Context, did, cid string) ([]byte, error) {
	args := m.Called(ctx, did, cid)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type testEnv struct {
	db          *gorm.DB
	engine      *Engine
	registry    *Registry
	invalidator *mockInvalidator
	queue       *mockQueue
}

func newTestEnv(t *testing.T, blobs BlobFetcher) *testEnv {
	t.Helper()
	db := dbtest.Open(t)

	validator, err := record.NewValidator()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := Deps{Logger: logger, Validator: validator}
	if blobs != nil {
		deps.Blobs = blobs
	}
	registry := NewRegistry(deps)

	inv := &mockInvalidator{}
	inv.On("OnRecordsChanged", mock.Anything, mock.Anything).Return(nil)
	q := &mockQueue{}
	q.On("Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	engine := NewEngine(db, registry, inv, q, logger, 0)
	engine.retryDelay = 0
	return &testEnv{db: db, engine: engine, registry: registry, invalidator: inv, queue: q}
}

func newInput(t *testing.T, did, collection, rkey, cid, raw string) Input {
	t.Helper()
	s, err := record.Parse([]byte(raw))
	require.NoError(t, err)
	return Input{
		Ref: Ref{
			URI:        record.BuildURI(did, collection, rkey),
			CID:        cid,
			AuthorDID:  did,
			Collection: collection,
			RKey:       rkey,
		},
		Record: s,
	}
}

func (e *testEnv) process(t *testing.T, collection string, inputs ...Input) {
	t.Helper()
	require.NoError(t, e.engine.Process(context.Background(), collection, inputs))
}

func (e *testEnv) delete(t *testing.T, collection string, uris ...string) {
	t.Helper()
	require.NoError(t, e.engine.Delete(context.Background(), collection, uris))
}

func (e *testEnv) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

// enqueued returns the job names passed to the queue so far
func (e *testEnv) enqueued() []string {
	var names []string
	for _, c := range e.queue.Calls {
		names = append(names, c.Arguments.String(1))
	}
	return names
}
