package record

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name       string
		collection string
		raw        string
		valid      bool
	}{
		{"post", CollectionPost, `{"text": "hola", "createdAt": "2024-01-01T00:00:00Z"}`, true},
		{"post without text", CollectionPost, `{"createdAt": "2024-01-01T00:00:00Z"}`, false},
		{"post with bad reply", CollectionPost, `{"text": "x", "reply": {"root": {"uri": "nope", "cid": "c"}, "parent": {"uri": "nope", "cid": "c"}}}`, false},
		{"article inline text", CollectionArticle, `{"title": "T", "text": "cuerpo"}`, true},
		{"article blob text", CollectionArticle, `{"title": "T", "text": {"$type": "blob", "ref": {"$link": "bafytext"}, "mimeType": "text/plain", "size": 12}}`, true},
		{"article missing title", CollectionArticle, `{"text": "cuerpo"}`, false},
		{"like", CollectionLike, `{"subject": {"uri": "at://did:plc:a/app.bsky.feed.post/1", "cid": "bafy"}}`, true},
		{"like without cid", CollectionLike, `{"subject": {"uri": "at://did:plc:a/app.bsky.feed.post/1"}}`, false},
		{"follow", CollectionFollow, `{"subject": "did:plc:b"}`, true},
		{"follow bad subject", CollectionFollow, `{"subject": "bob"}`, false},
		{"dataset", CollectionDataset, `{"name": "d", "columns": [{"name": "a"}]}`, true},
		{"dataset without columns", CollectionDataset, `{"name": "d", "columns": []}`, false},
		{"topic version", CollectionTopicVersion, `{"id": "Ley de Alquileres", "text": "x"}`, true},
		{"unknown collection", "com.example.thing", `{"anything": 1}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(tt.raw))
			require.NoError(t, err)

			err = v.Validate(tt.collection, "at://did:plc:a/x/1", s)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestDecodeArticleText(t *testing.T) {
	s, err := Parse([]byte(`{"title": "T", "text": {"$type": "blob", "ref": {"$link": "bafytext"}, "mimeType": "text/plain"}}`))
	require.NoError(t, err)

	var a Article
	require.NoError(t, s.Decode(&a))
	require.NotNil(t, a.Text.Blob)
	assert.Nil(t, a.Text.Inline)
	assert.Equal(t, "bafytext", a.Text.Blob.CID)

	s, err = Parse([]byte(`{"title": "T", "text": "en línea"}`))
	require.NoError(t, err)
	var b Article
	require.NoError(t, s.Decode(&b))
	require.NotNil(t, b.Text.Inline)
	assert.Equal(t, "en línea", *b.Text.Inline)
}

func TestPostReferences(t *testing.T) {
	s, err := Parse([]byte(`{
		"text": "mirá @ana y el tema",
		"facets": [
			{"index": {"byteStart": 5, "byteEnd": 9}, "features": [{"$type": "app.bsky.richtext.facet#mention", "did": "did:plc:ana"}]},
			{"index": {"byteStart": 15, "byteEnd": 19}, "features": [{"$type": "ar.cabildoabierto.richtext.facet#topicMention", "id": "Inflación"}]},
			{"index": {"byteStart": 15, "byteEnd": 19}, "features": [{"$type": "ar.cabildoabierto.richtext.facet#topicMention", "id": "Inflación"}]}
		],
		"embed": {"$type": "app.bsky.embed.record", "record": {"uri": "at://did:plc:q/app.bsky.feed.post/9", "cid": "bafyq"}}
	}`))
	require.NoError(t, err)

	var p Post
	require.NoError(t, s.Decode(&p))
	assert.Equal(t, []string{"did:plc:ana"}, MentionedDIDs(p.Facets))
	assert.Equal(t, []string{"Inflación"}, TopicMentions(p.Facets))

	quote := p.QuotedRecord()
	require.NotNil(t, quote)
	assert.Equal(t, "at://did:plc:q/app.bsky.feed.post/9", quote.URI)
}

func TestTopicVersionProps(t *testing.T) {
	s, err := Parse([]byte(`{
		"id": "inflacion",
		"props": [
			{"name": "Título", "value": {"$type": "ar.cabildoabierto.wiki.topicVersion#stringProp", "value": "Inflación"}},
			{"name": "Categorías", "value": {"$type": "ar.cabildoabierto.wiki.topicVersion#stringListProp", "value": ["Economía"]}}
		]
	}`))
	require.NoError(t, err)

	var v TopicVersion
	require.NoError(t, s.Decode(&v))
	assert.Equal(t, "Inflación", v.Title())
	assert.Equal(t, []string{"Economía"}, v.Categories())

	assert.Equal(t, "otro", (&TopicVersion{ID: "otro"}).Title())
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Título Un párrafo con énfasis.", PlainText("# Título\n\nUn párrafo con *énfasis*.", FormatMarkdown))
	assert.Equal(t, "sin formato", PlainText("  sin   formato ", FormatPlain))
}
