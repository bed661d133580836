package processor

import (
	"context"
	"errors"
	"testing"

	"ca-indexer/internal/jobs"
	"ca-indexer/internal/models"
	"ca-indexer/internal/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	alice = "did:plc:alice"
	bob   = "did:plc:bob"
	carol = "did:plc:carol"
)

func TestProcessIdempotentReplay(t *testing.T) {
	env := newTestEnv(t, nil)

	first := newInput(t, alice, record.CollectionPost, "p1", "cid1", `{"text": "hola", "createdAt": "2024-05-01T12:00:00Z"}`)
	second := newInput(t, alice, record.CollectionPost, "p1", "cid2", `{"text": "chau", "createdAt": "2024-05-01T12:00:00Z"}`)
	env.process(t, record.CollectionPost, first)
	env.process(t, record.CollectionPost, first)
	env.process(t, record.CollectionPost, second)

	uri := first.URI
	assert.Equal(t, int64(1), env.count(t, &models.Record{}, "uri = ?", uri))
	assert.Equal(t, int64(1), env.count(t, &models.Content{}, "uri = ?", uri))
	assert.Equal(t, int64(1), env.count(t, &models.Post{}, "uri = ?", uri))
	assert.Equal(t, int64(1), env.count(t, &models.User{}, "did = ?", alice))

	var content models.Content
	require.NoError(t, env.db.First(&content, "uri = ?", uri).Error)
	require.NotNil(t, content.Text)
	assert.Equal(t, "chau", *content.Text)
	assert.Equal(t, "cid2", content.CID)
	assert.False(t, content.Edited)
	assert.Equal(t, 2024, content.CreatedAt.Year())

	var rec models.Record
	require.NoError(t, env.db.First(&rec, "uri = ?", uri).Error)
	assert.Equal(t, record.CollectionPost, rec.Collection)
	assert.Equal(t, "p1", rec.RKey)
	assert.Contains(t, string(rec.Record), "chau")
}

func TestProcessKeepsLastInputPerURI(t *testing.T) {
	env := newTestEnv(t, nil)

	env.process(t, record.CollectionPost,
		newInput(t, alice, record.CollectionPost, "p1", "cid1", `{"text": "uno"}`),
		newInput(t, alice, record.CollectionPost, "p1", "cid2", `{"text": "dos"}`),
	)

	var content models.Content
	require.NoError(t, env.db.First(&content).Error)
	assert.Equal(t, "dos", *content.Text)
}

func TestProcessDropsInvalidRecords(t *testing.T) {
	env := newTestEnv(t, nil)

	env.process(t, record.CollectionPost,
		newInput(t, alice, record.CollectionPost, "bad", "cid1", `{"langs": ["es"]}`),
		newInput(t, alice, record.CollectionPost, "good", "cid2", `{"text": "hola"}`),
	)

	assert.Equal(t, int64(1), env.count(t, &models.Record{}, ""))
	assert.Equal(t, int64(1), env.count(t, &models.Post{}, "uri = ?", record.BuildURI(alice, record.CollectionPost, "good")))
}

func TestProcessUnknownCollection(t *testing.T) {
	env := newTestEnv(t, nil)

	in := newInput(t, alice, "com.example.widget", "w1", "cid1", `{"anything": [1, 2, 3]}`)
	require.NoError(t, env.engine.Process(context.Background(), "com.example.widget", []Input{in}))

	assert.Equal(t, int64(1), env.count(t, &models.Record{}, "uri = ?", in.URI))
	assert.Equal(t, int64(0), env.count(t, &models.Content{}, ""))

	env.delete(t, "com.example.widget", in.URI)
	assert.Equal(t, int64(0), env.count(t, &models.Record{}, ""))
}

func TestProcessSideEffectsAfterCommit(t *testing.T) {
	env := newTestEnv(t, nil)

	in := newInput(t, alice, record.CollectionPost, "p1", "cid1", `{"text": "hola"}`)
	env.process(t, record.CollectionPost, in)

	env.invalidator.AssertCalled(t, "OnRecordsChanged", mock.Anything, []string{in.URI})
	assert.ElementsMatch(t, []string{jobs.UpdateReferences, jobs.UpdateEditedFlags, jobs.CreateNotifications}, env.enqueued())
}

func TestProcessSideEffectFailureKeepsRows(t *testing.T) {
	env := newTestEnv(t, nil)
	inv := &mockInvalidator{}
	inv.On("OnRecordsChanged", mock.Anything, mock.Anything).Return(errors.New("cache down"))
	env.engine.invalidator = inv

	in := newInput(t, alice, record.CollectionPost, "p1", "cid1", `{"text": "hola"}`)
	env.process(t, record.CollectionPost, in)

	inv.AssertNumberOfCalls(t, "OnRecordsChanged", DefaultMaxAttempts)
	assert.Equal(t, int64(1), env.count(t, &models.Post{}, ""))
}

type failingProcessor struct {
	base
	calls int
}

func (p *failingProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	return p.validate(ref, s, nil)
}

func (p *failingProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	p.calls++
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}
	fx.Invalidate(uriList(batch)...)
	return errors.New("lock timeout")
}

func TestProcessRetriesThenSkipsBatch(t *testing.T) {
	env := newTestEnv(t, nil)

	failing := &failingProcessor{}
	require.NoError(t, env.registry.Register("com.example.flaky",
		func(collection string, deps Deps) Processor {
			failing.base = base{collection: collection, deps: deps}
			return failing
		},
		newBaseDeleter))

	in := newInput(t, alice, "com.example.flaky", "f1", "cid1", `{}`)
	err := env.engine.Process(context.Background(), "com.example.flaky", []Input{in})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientStorage))
	assert.Equal(t, DefaultMaxAttempts, failing.calls)

	// Rolled back: no rows and no side effects.
	assert.Equal(t, int64(0), env.count(t, &models.Record{}, ""))
	env.invalidator.AssertNotCalled(t, "OnRecordsChanged", mock.Anything, mock.Anything)
}

func TestProcessChunksBatches(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.batchSize = 2

	var inputs []Input
	for _, rkey := range []string{"a", "b", "c", "d", "e"} {
		inputs = append(inputs, newInput(t, alice, record.CollectionPost, rkey, "cid-"+rkey, `{"text": "x"}`))
	}
	env.process(t, record.CollectionPost, inputs...)

	assert.Equal(t, int64(5), env.count(t, &models.Post{}, ""))
	env.invalidator.AssertNumberOfCalls(t, "OnRecordsChanged", 3)
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry(Deps{})
	r.Freeze()

	err := r.Register("com.example.late", newBaseProcessor, newBaseDeleter)
	assert.True(t, errors.Is(err, ErrRegistryFrozen))

	p, d := r.Lookup("com.example.late")
	assert.IsType(t, &baseProcessor{}, p)
	assert.IsType(t, baseDeleter{}, d)

	p, _ = r.Lookup(record.CollectionPost)
	assert.IsType(t, &postProcessor{}, p)
}

func TestSideEffectsDeduplicates(t *testing.T) {
	var fx SideEffects
	fx.Invalidate("a", "", "b", "a")
	fx.Invalidate("b", "c")
	fx.Enqueue(jobs.UpdateReferences, nil, jobs.PriorityNormal)

	assert.Equal(t, []string{"a", "b", "c"}, fx.URIs())
	assert.Equal(t, []string{jobs.UpdateReferences}, fx.Jobs())
}
