package processor

import (
	"errors"
	"fmt"
	"testing"

	"ca-indexer/internal/models"
	"ca-indexer/internal/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func likeInput(t *testing.T, author, rkey, subjectURI, subjectCID string) Input {
	raw := fmt.Sprintf(`{"subject": {"uri": %q, "cid": %q}}`, subjectURI, subjectCID)
	return newInput(t, author, record.CollectionLike, rkey, "cid-"+rkey, raw)
}

func likes(t *testing.T, env *testEnv, uri string) int {
	t.Helper()
	var c models.Content
	require.NoError(t, env.db.First(&c, "uri = ?", uri).Error)
	return c.UniqueLikesCount
}

func TestPostReplyAndQuote(t *testing.T) {
	env := newTestEnv(t, nil)

	parent := record.BuildURI(bob, record.CollectionPost, "root")
	quoted := record.BuildURI(carol, record.CollectionPost, "q")
	raw := fmt.Sprintf(`{
		"text": "respuesta @carol",
		"langs": ["es"],
		"reply": {"root": {"uri": %q, "cid": "rc"}, "parent": {"uri": %q, "cid": "pc"}},
		"embed": {"$type": "app.bsky.embed.record", "record": {"uri": %q, "cid": "qc"}},
		"facets": [{"index": {"byteStart": 11, "byteEnd": 17}, "features": [{"$type": "app.bsky.richtext.facet#mention", "did": "did:plc:dave"}]}]
	}`, parent, parent, quoted)
	in := newInput(t, alice, record.CollectionPost, "r1", "cid1", raw)
	env.process(t, record.CollectionPost, in)

	var post models.Post
	require.NoError(t, env.db.First(&post, "uri = ?", in.URI).Error)
	require.NotNil(t, post.ReplyToID)
	assert.Equal(t, parent, *post.ReplyToID)
	assert.Equal(t, "pc", *post.ReplyToCID)
	assert.Equal(t, parent, *post.RootID)
	require.NotNil(t, post.QuoteToID)
	assert.Equal(t, quoted, *post.QuoteToID)
	assert.Equal(t, []string{"es"}, []string(post.Langs))

	// Placeholder users for every referenced identity.
	for _, did := range []string{alice, bob, carol, "did:plc:dave"} {
		assert.Equal(t, int64(1), env.count(t, &models.User{}, "did = ?", did), did)
	}
	assert.Contains(t, env.enqueued(), "sync-referenced-records")
}

func TestArticleBlobText(t *testing.T) {
	blobs := &mockBlobs{}
	blobs.On("FetchBlob", mock.Anything, alice, "bafytext").Return([]byte("# Título\n\nUn *párrafo*."), nil)
	env := newTestEnv(t, blobs)

	raw := `{"title": "Nota", "format": "markdown", "text": {"$type": "blob", "ref": {"$link": "bafytext"}, "mimeType": "text/markdown", "size": 20}}`
	in := newInput(t, alice, record.CollectionArticle, "a1", "cid1", raw)
	env.process(t, record.CollectionArticle, in)

	var content models.Content
	require.NoError(t, env.db.First(&content, "uri = ?", in.URI).Error)
	require.NotNil(t, content.Text)
	assert.Equal(t, "# Título\n\nUn *párrafo*.", *content.Text)
	require.NotNil(t, content.PlainText)
	assert.Equal(t, "Título Un párrafo.", *content.PlainText)
	require.NotNil(t, content.TextBlobCID)
	assert.Equal(t, "bafytext", *content.TextBlobCID)

	var article models.Article
	require.NoError(t, env.db.First(&article, "uri = ?", in.URI).Error)
	assert.Equal(t, "Nota", article.Title)
}

func TestTopicVersionMissingBlobKeepsRecord(t *testing.T) {
	blobs := &mockBlobs{}
	blobs.On("FetchBlob", mock.Anything, alice, "bafygone").Return(nil, errors.New("not found"))
	env := newTestEnv(t, blobs)

	raw := `{
		"id": "Ley de Presupuesto",
		"text": {"$type": "blob", "ref": {"$link": "bafygone"}, "mimeType": "text/markdown"},
		"props": [{"name": "Categorías", "value": {"$type": "ar.cabildoabierto.wiki.topicVersion#stringListProp", "value": ["Economía"]}}]
	}`
	in := newInput(t, alice, record.CollectionTopicVersion, "v1", "cid1", raw)
	env.process(t, record.CollectionTopicVersion, in)

	blobs.AssertNumberOfCalls(t, "FetchBlob", DefaultMaxAttempts)

	var content models.Content
	require.NoError(t, env.db.First(&content, "uri = ?", in.URI).Error)
	assert.Nil(t, content.Text)

	var version models.TopicVersion
	require.NoError(t, env.db.First(&version, "uri = ?", in.URI).Error)
	assert.Equal(t, "Ley de Presupuesto", version.TopicID)
	assert.Equal(t, "Ley de Presupuesto", version.Title)
	assert.Equal(t, []string{"Economía"}, []string(version.Categories))
	assert.Equal(t, models.VersionPending, version.Status)
	assert.Equal(t, int64(1), env.count(t, &models.Topic{}, "id = ?", "Ley de Presupuesto"))
}

func TestTopicVersionUpdateKeepsStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	in := newInput(t, alice, record.CollectionTopicVersion, "v1", "cid1", `{"id": "Tema", "text": "uno"}`)
	env.process(t, record.CollectionTopicVersion, in)
	require.NoError(t, env.db.Model(&models.TopicVersion{}).Where("uri = ?", in.URI).Update("status", models.VersionAccepted).Error)

	env.process(t, record.CollectionTopicVersion, newInput(t, alice, record.CollectionTopicVersion, "v1", "cid2", `{"id": "Tema", "text": "dos"}`))

	var version models.TopicVersion
	require.NoError(t, env.db.First(&version, "uri = ?", in.URI).Error)
	assert.Equal(t, models.VersionAccepted, version.Status)
}

func TestLikeCountersCountDistinctAuthors(t *testing.T) {
	env := newTestEnv(t, nil)

	post := newInput(t, alice, record.CollectionPost, "p1", "pcid", `{"text": "hola"}`)
	env.process(t, record.CollectionPost, post)

	l1 := likeInput(t, bob, "l1", post.URI, "pcid")
	l2 := likeInput(t, carol, "l2", post.URI, "pcid")
	l3 := likeInput(t, bob, "l3", post.URI, "pcid")
	env.process(t, record.CollectionLike, l1, l2, l3)
	assert.Equal(t, 2, likes(t, env, post.URI))

	// Replay changes nothing.
	env.process(t, record.CollectionLike, l1, l2)
	assert.Equal(t, 2, likes(t, env, post.URI))

	// Bob still has l3 after l1 goes away.
	env.delete(t, record.CollectionLike, l1.URI)
	assert.Equal(t, 2, likes(t, env, post.URI))

	env.delete(t, record.CollectionLike, l3.URI)
	assert.Equal(t, 1, likes(t, env, post.URI))

	// Deleting twice does not decrement twice.
	env.delete(t, record.CollectionLike, l3.URI)
	assert.Equal(t, 1, likes(t, env, post.URI))

	env.delete(t, record.CollectionLike, l2.URI)
	assert.Equal(t, 0, likes(t, env, post.URI))
	assert.Equal(t, int64(0), env.count(t, &models.Reaction{}, ""))
}

func TestLikeMovedToAnotherSubject(t *testing.T) {
	env := newTestEnv(t, nil)

	p1 := newInput(t, alice, record.CollectionPost, "p1", "c1", `{"text": "uno"}`)
	p2 := newInput(t, alice, record.CollectionPost, "p2", "c2", `{"text": "dos"}`)
	env.process(t, record.CollectionPost, p1, p2)

	env.process(t, record.CollectionLike, likeInput(t, bob, "l1", p1.URI, "c1"))
	env.process(t, record.CollectionLike, likeInput(t, bob, "l1", p2.URI, "c2"))

	assert.Equal(t, 0, likes(t, env, p1.URI))
	assert.Equal(t, 1, likes(t, env, p2.URI))
}

func TestLikeBeforeSubjectIsCounted(t *testing.T) {
	env := newTestEnv(t, nil)

	subject := record.BuildURI(alice, record.CollectionPost, "p1")
	env.process(t, record.CollectionLike,
		likeInput(t, bob, "l1", subject, "pcid"),
		likeInput(t, carol, "l2", subject, "pcid"),
		likeInput(t, bob, "l3", subject, "pcid"),
	)
	assert.Equal(t, int64(0), env.count(t, &models.Content{}, "uri = ?", subject))

	post := newInput(t, alice, record.CollectionPost, "p1", "pcid", `{"text": "hola", "createdAt": "2020-01-01T00:00:00Z"}`)
	env.process(t, record.CollectionPost, post)
	assert.Equal(t, 2, likes(t, env, post.URI))

	// An update keeps the counters the reactions maintain.
	env.process(t, record.CollectionPost, newInput(t, alice, record.CollectionPost, "p1", "pcid2", `{"text": "chau", "createdAt": "2020-01-01T00:00:00Z"}`))
	assert.Equal(t, 2, likes(t, env, post.URI))

	env.delete(t, record.CollectionLike, likeInput(t, carol, "l2", subject, "pcid").URI)
	assert.Equal(t, 1, likes(t, env, post.URI))
}

func TestRejectBeforeVersionIsCounted(t *testing.T) {
	env := newTestEnv(t, nil)

	subject := record.BuildURI(alice, record.CollectionTopicVersion, "v1")
	raw := fmt.Sprintf(`{"subject": {"uri": %q, "cid": "vc"}}`, subject)
	env.process(t, record.CollectionVoteReject, newInput(t, bob, record.CollectionVoteReject, "r1", "rc", raw))

	env.process(t, record.CollectionTopicVersion, newInput(t, alice, record.CollectionTopicVersion, "v1", "vc", `{"id": "Tema", "text": "texto"}`))

	var c models.Content
	require.NoError(t, env.db.First(&c, "uri = ?", subject).Error)
	assert.Equal(t, 1, c.UniqueRejectsCount)
	assert.Equal(t, 0, c.UniqueAcceptsCount)
}

func TestRejectVoteStoresReason(t *testing.T) {
	env := newTestEnv(t, nil)

	version := newInput(t, alice, record.CollectionTopicVersion, "v1", "vc", `{"id": "Tema", "text": "texto"}`)
	env.process(t, record.CollectionTopicVersion, version)

	raw := fmt.Sprintf(`{"subject": {"uri": %q, "cid": "vc"}, "message": "Falta una fuente", "labels": ["sin-fuente"]}`, version.URI)
	vote := newInput(t, bob, record.CollectionVoteReject, "r1", "rc", raw)
	env.process(t, record.CollectionVoteReject, vote)

	var r models.Reaction
	require.NoError(t, env.db.First(&r, "uri = ?", vote.URI).Error)
	assert.Equal(t, models.ReactionReject, r.Type)
	require.NotNil(t, r.Reason)
	assert.Equal(t, "Falta una fuente", *r.Reason)
	assert.Equal(t, []string{"sin-fuente"}, []string(r.Labels))

	var c models.Content
	require.NoError(t, env.db.First(&c, "uri = ?", version.URI).Error)
	assert.Equal(t, 1, c.UniqueRejectsCount)
	assert.Contains(t, env.enqueued(), "update-topic-current-version")
}

func TestDeletePostRemovesOwnedRows(t *testing.T) {
	env := newTestEnv(t, nil)

	post := newInput(t, alice, record.CollectionPost, "p1", "pcid", `{"text": "hola"}`)
	env.process(t, record.CollectionPost, post)
	like := likeInput(t, bob, "l1", post.URI, "pcid")
	env.process(t, record.CollectionLike, like)

	require.NoError(t, env.db.Create(&models.TopicReference{ReferencingContentID: post.URI, ReferencedTopicID: "Tema", Type: "strong", Touched: 1}).Error)
	require.NoError(t, env.db.Create(&models.TopicInteraction{RecordID: post.URI, TopicID: "Tema", Touched: 1}).Error)

	env.delete(t, record.CollectionPost, post.URI)

	assert.Equal(t, int64(0), env.count(t, &models.Record{}, "uri = ?", post.URI))
	assert.Equal(t, int64(0), env.count(t, &models.Content{}, "uri = ?", post.URI))
	assert.Equal(t, int64(0), env.count(t, &models.Post{}, "uri = ?", post.URI))
	assert.Equal(t, int64(0), env.count(t, &models.Reaction{}, "subject_id = ?", post.URI))
	assert.Equal(t, int64(0), env.count(t, &models.TopicReference{}, "referencing_content_id = ?", post.URI))
	assert.Equal(t, int64(0), env.count(t, &models.TopicInteraction{}, "record_id = ?", post.URI))
	assert.Contains(t, env.enqueued(), "update-interactions")

	// The like's own record survives its subject.
	assert.Equal(t, int64(1), env.count(t, &models.Record{}, "uri = ?", like.URI))
}

func TestFollowAndDataset(t *testing.T) {
	env := newTestEnv(t, nil)

	follow := newInput(t, alice, record.CollectionFollow, "f1", "fc", `{"subject": "did:plc:bob", "createdAt": "2024-01-01T00:00:00Z"}`)
	env.process(t, record.CollectionFollow, follow)
	assert.Equal(t, int64(1), env.count(t, &models.Follow{}, "subject_did = ?", bob))
	assert.Equal(t, int64(1), env.count(t, &models.User{}, "did = ?", bob))

	ds := newInput(t, alice, record.CollectionDataset, "d1", "dc", `{
		"name": "Elecciones",
		"columns": [{"name": "provincia"}, {"name": "votos"}],
		"data": {"$type": "blob", "ref": {"$link": "bafydata"}, "mimeType": "text/csv"},
		"format": "csv"
	}`)
	env.process(t, record.CollectionDataset, ds)

	var row models.Dataset
	require.NoError(t, env.db.First(&row, "uri = ?", ds.URI).Error)
	assert.Equal(t, []string{"provincia", "votos"}, []string(row.Columns))
	require.NotNil(t, row.DataBlobCID)
	assert.Equal(t, "bafydata", *row.DataBlobCID)

	env.delete(t, record.CollectionFollow, follow.URI)
	env.delete(t, record.CollectionDataset, ds.URI)
	assert.Equal(t, int64(0), env.count(t, &models.Follow{}, ""))
	assert.Equal(t, int64(0), env.count(t, &models.Dataset{}, ""))
	assert.Equal(t, int64(0), env.count(t, &models.Record{}, ""))
}

func TestPlatformProfileLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	profile := newInput(t, alice, record.CollectionCAProfile, record.SelfKey, "pc", `{"createdAt": "2024-01-01T00:00:00Z"}`)
	env.process(t, record.CollectionCAProfile, profile)

	var user models.User
	require.NoError(t, env.db.First(&user, "did = ?", alice).Error)
	assert.True(t, user.InCA)

	require.NoError(t, env.db.Model(&models.User{}).Where("did = ?", alice).Update("has_access", true).Error)

	// Unrelated records never regress the flags.
	env.process(t, record.CollectionPost, newInput(t, alice, record.CollectionPost, "p1", "c1", `{"text": "hola"}`))
	require.NoError(t, env.db.First(&user, "did = ?", alice).Error)
	assert.True(t, user.InCA)
	assert.True(t, user.HasAccess)

	env.delete(t, record.CollectionCAProfile, profile.URI)
	require.NoError(t, env.db.First(&user, "did = ?", alice).Error)
	assert.False(t, user.InCA)
	assert.False(t, user.HasAccess)
}

func TestBskyProfile(t *testing.T) {
	env := newTestEnv(t, nil)

	raw := `{"displayName": "Alicia", "description": "hola", "avatar": {"$type": "blob", "ref": {"$link": "bafyavatar"}, "mimeType": "image/png"}}`
	profile := newInput(t, alice, record.CollectionBskyProfile, record.SelfKey, "pc", raw)
	env.process(t, record.CollectionBskyProfile, profile)

	var user models.User
	require.NoError(t, env.db.First(&user, "did = ?", alice).Error)
	require.NotNil(t, user.DisplayName)
	assert.Equal(t, "Alicia", *user.DisplayName)
	require.NotNil(t, user.AvatarCID)
	assert.Equal(t, "bafyavatar", *user.AvatarCID)

	env.delete(t, record.CollectionBskyProfile, profile.URI)
	require.NoError(t, env.db.First(&user, "did = ?", alice).Error)
	assert.Nil(t, user.DisplayName)
}
