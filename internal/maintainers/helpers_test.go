package maintainers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"ca-indexer/internal/database/dbtest"
	"ca-indexer/internal/jobs"
	"ca-indexer/internal/models"
	"ca-indexer/internal/processor"
	"ca-indexer/internal/record"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	alice = "did:plc:alice"
	bob   = "did:plc:bob"
	carol = "did:plc:carol"
	dave  = "did:plc:dave"
)

type testEnv struct {
	db     *gorm.DB
	engine *processor.Engine
	queue  *jobs.Queue
	m      *Maintainers
	logger *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.Open(t)
	validator, err := record.NewValidator()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := processor.NewRegistry(processor.Deps{Logger: logger, Validator: validator})
	registry.Freeze()
	queue := jobs.NewQueue(db)
	return &testEnv{
		db:     db,
		engine: processor.NewEngine(db, registry, nil, queue, logger, 0),
		queue:  queue,
		m:      New(db, queue, logger, 2),
		logger: logger,
	}
}

// ingest runs one create or update through the processors and returns its uri
func (e *testEnv) ingest(t *testing.T, did, collection, rkey, cid, raw string) string {
	t.Helper()
	s, err := record.Parse([]byte(raw))
	require.NoError(t, err)
	in := processor.Input{
		Ref: processor.Ref{
			URI:        record.BuildURI(did, collection, rkey),
			CID:        cid,
			AuthorDID:  did,
			Collection: collection,
			RKey:       rkey,
		},
		Record: s,
	}
	require.NoError(t, e.engine.Process(context.Background(), collection, []processor.Input{in}))
	return in.URI
}

func (e *testEnv) clearJobs(t *testing.T) {
	t.Helper()
	require.NoError(t, e.db.Where("1 = 1").Delete(&models.Job{}).Error)
}

func (e *testEnv) content(t *testing.T, uri string) models.Content {
	t.Helper()
	var c models.Content
	require.NoError(t, e.db.First(&c, "uri = ?", uri).Error)
	return c
}

func (e *testEnv) interactions(t *testing.T, topicID string) []string {
	t.Helper()
	var uris []string
	require.NoError(t, e.db.Model(&models.TopicInteraction{}).
		Where("topic_id = ?", topicID).
		Order("record_id").
		Pluck("record_id", &uris).Error)
	return uris
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}
