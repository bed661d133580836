package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"ca-indexer/internal/jobs"
	"ca-indexer/internal/models"
	"ca-indexer/internal/record"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// postProcessor handles app.bsky.feed.post
type postProcessor struct {
	base
}

func newPostProcessor(collection string, deps Deps) Processor {
	return &postProcessor{base{collection: collection, deps: deps}}
}

func (p *postProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	var post record.Post
	v, err := p.validate(ref, s, &post)
	if err != nil {
		return v, err
	}
	v.Body = &post.Text
	return v, nil
}

func (p *postProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}

	contents := make([]models.Content, 0, len(batch))
	posts := make([]models.Post, 0, len(batch))
	var users, referenced []string
	for _, v := range batch {
		post := v.Value.(*record.Post)
		facets, err := marshalFacets(post.Facets)
		if err != nil {
			return fmt.Errorf("encode facets of %s: %w", v.URI, err)
		}
		contents = append(contents, models.Content{
			URI:        v.URI,
			CID:        v.CID,
			Text:       v.Body,
			PlainText:  v.Body,
			Format:     record.FormatPlain,
			SelfLabels: post.Labels.Vals(),
			Embeds:     jsonOrNil(post.Embed),
			Facets:     facets,
			CreatedAt:  v.CreatedAt,
		})

		row := models.Post{URI: v.URI, Langs: post.Langs}
		if r := post.Reply; r != nil {
			row.ReplyToID, row.ReplyToCID = ptr(r.Parent.URI), ptr(r.Parent.CID)
			row.RootID, row.RootCID = ptr(r.Root.URI), ptr(r.Root.CID)
			referenced = append(referenced, r.Parent.URI, r.Root.URI)
			fx.Invalidate(r.Parent.URI)
		}
		if q := post.QuotedRecord(); q != nil {
			row.QuoteToID, row.QuoteToCID = ptr(q.URI), ptr(q.CID)
			referenced = append(referenced, q.URI)
			fx.Invalidate(q.URI)
		}
		posts = append(posts, row)

		users = append(users, record.MentionedDIDs(post.Facets)...)
		fx.Invalidate(v.URI)
	}
	for _, uri := range referenced {
		users = append(users, record.DIDFromURI(uri))
	}

	if err := ensureUsers(tx, users...); err != nil {
		return err
	}
	if err := upsertContents(tx, contents); err != nil {
		return err
	}
	if err := upsertAll(tx, &posts, "uri"); err != nil {
		return fmt.Errorf("upsert posts: %w", err)
	}
	if err := syncMissing(tx, fx, referenced); err != nil {
		return err
	}

	uris := uriList(batch)
	fx.Enqueue(jobs.UpdateReferences, jobs.URIsPayload{URIs: uris}, jobs.PriorityNormal)
	fx.Enqueue(jobs.UpdateEditedFlags, jobs.URIsPayload{URIs: distinct(append(uris, referenced...))}, jobs.PriorityLow)
	fx.Enqueue(jobs.CreateNotifications, jobs.URIsPayload{URIs: uris}, jobs.PriorityNormal)
	return nil
}

// articleProcessor handles long-form articles, whose text may be a blob
type articleProcessor struct {
	base
}

func newArticleProcessor(collection string, deps Deps) Processor {
	return &articleProcessor{base{collection: collection, deps: deps}}
}

func (p *articleProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	var article record.Article
	v, err := p.validate(ref, s, &article)
	if err != nil {
		return v, err
	}
	v.Body = article.Text.Inline
	return v, nil
}

func (p *articleProcessor) Prepare(ctx context.Context, batch []Valid) []Valid {
	return p.resolveBodies(ctx, batch, func(v Valid) *record.BlobRef {
		return v.Value.(*record.Article).Text.Blob
	})
}

func (p *articleProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}

	contents := make([]models.Content, 0, len(batch))
	articles := make([]models.Article, 0, len(batch))
	var users []string
	for _, v := range batch {
		article := v.Value.(*record.Article)
		facets, err := marshalFacets(article.Facets)
		if err != nil {
			return fmt.Errorf("encode facets of %s: %w", v.URI, err)
		}
		format := formatOrDefault(article.Format)
		contents = append(contents, models.Content{
			URI:         v.URI,
			CID:         v.CID,
			Text:        v.Body,
			PlainText:   plainText(v.Body, format),
			TextBlobCID: blobCID(article.Text.Blob),
			Format:      format,
			SelfLabels:  article.Labels.Vals(),
			Embeds:      jsonOrNil(article.Embeds),
			Facets:      facets,
			CreatedAt:   v.CreatedAt,
		})
		articles = append(articles, models.Article{URI: v.URI, Title: article.Title})
		users = append(users, record.MentionedDIDs(article.Facets)...)
		fx.Invalidate(v.URI)
	}

	if err := ensureUsers(tx, users...); err != nil {
		return err
	}
	if err := upsertContents(tx, contents); err != nil {
		return err
	}
	if err := upsertAll(tx, &articles, "uri"); err != nil {
		return fmt.Errorf("upsert articles: %w", err)
	}

	fx.Enqueue(jobs.UpdateReferences, jobs.URIsPayload{URIs: uriList(batch)}, jobs.PriorityNormal)
	return nil
}

// topicVersionProcessor handles wiki topic versions. The version's status is
// owned by the acceptance maintainer and is never written here.
type topicVersionProcessor struct {
	base
}

func newTopicVersionProcessor(collection string, deps Deps) Processor {
	return &topicVersionProcessor{base{collection: collection, deps: deps}}
}

func (p *topicVersionProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	var version record.TopicVersion
	v, err := p.validate(ref, s, &version)
	if err != nil {
		return v, err
	}
	v.Body = version.Text.Inline
	return v, nil
}

func (p *topicVersionProcessor) Prepare(ctx context.Context, batch []Valid) []Valid {
	return p.resolveBodies(ctx, batch, func(v Valid) *record.BlobRef {
		return v.Value.(*record.TopicVersion).Text.Blob
	})
}

func (p *topicVersionProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}

	contents := make([]models.Content, 0, len(batch))
	versions := make([]models.TopicVersion, 0, len(batch))
	var topicIDs []string
	for _, v := range batch {
		version := v.Value.(*record.TopicVersion)
		facets, err := marshalFacets(version.Facets)
		if err != nil {
			return fmt.Errorf("encode facets of %s: %w", v.URI, err)
		}
		var props datatypes.JSON
		if len(version.Props) > 0 {
			raw, err := json.Marshal(version.Props)
			if err != nil {
				return fmt.Errorf("encode props of %s: %w", v.URI, err)
			}
			props = raw
		}
		format := formatOrDefault(version.Format)
		contents = append(contents, models.Content{
			URI:         v.URI,
			CID:         v.CID,
			Text:        v.Body,
			PlainText:   plainText(v.Body, format),
			TextBlobCID: blobCID(version.Text.Blob),
			Format:      format,
			Embeds:      jsonOrNil(version.Embeds),
			Facets:      facets,
			CreatedAt:   v.CreatedAt,
		})
		versions = append(versions, models.TopicVersion{
			URI:        v.URI,
			TopicID:    version.ID,
			Title:      version.Title(),
			Message:    version.Message,
			Props:      props,
			Categories: version.Categories(),
			Status:     models.VersionPending,
		})
		topicIDs = append(topicIDs, version.ID)
		fx.Invalidate(v.URI)
	}
	topicIDs = distinct(topicIDs)

	topics := make([]models.Topic, len(topicIDs))
	for i, id := range topicIDs {
		topics[i] = models.Topic{ID: id}
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&topics).Error; err != nil {
		return fmt.Errorf("ensure topics: %w", err)
	}
	if err := upsertContents(tx, contents); err != nil {
		return err
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uri"}},
		DoUpdates: clause.AssignmentColumns([]string{"topic_id", "title", "message", "props", "categories"}),
	}).Create(&versions).Error
	if err != nil {
		return fmt.Errorf("upsert topic versions: %w", err)
	}

	fx.Enqueue(jobs.UpdateTopicCurrentVersion, jobs.TopicsPayload{TopicIDs: topicIDs}, jobs.PriorityHigh)
	fx.Enqueue(jobs.UpdateReferences, jobs.URIsPayload{URIs: uriList(batch)}, jobs.PriorityNormal)
	fx.Enqueue(jobs.UpdateInteractions, jobs.TopicsPayload{TopicIDs: topicIDs}, jobs.PriorityLow)
	return nil
}

// resolveBodies fetches the blob text of records that carry no inline text.
// A blob that cannot be fetched leaves the body empty.
func (b base) resolveBodies(ctx context.Context, batch []Valid, blobOf func(Valid) *record.BlobRef) []Valid {
	if b.deps.Blobs == nil {
		return batch
	}
	for i := range batch {
		if batch[i].Body != nil {
			continue
		}
		blob := blobOf(batch[i])
		if blob == nil {
			continue
		}
		var data []byte
		err := retry(ctx, DefaultMaxAttempts, DefaultRetryDelay, func() error {
			var err error
			data, err = b.deps.Blobs.FetchBlob(ctx, batch[i].AuthorDID, blob.CID)
			return err
		})
		if err != nil {
			b.deps.logger().Warn("blob text unavailable", "uri", batch[i].URI, "cid", blob.CID, "error", err)
			continue
		}
		text := string(data)
		batch[i].Body = &text
	}
	return batch
}

func marshalFacets(facets []record.Facet) (datatypes.JSON, error) {
	if len(facets) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(facets)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func formatOrDefault(format string) string {
	if format == "" {
		return record.FormatMarkdown
	}
	return format
}

func plainText(body *string, format string) *string {
	if body == nil {
		return nil
	}
	return ptr(record.PlainText(*body, format))
}

func blobCID(blob *record.BlobRef) *string {
	if blob == nil {
		return nil
	}
	return ptr(blob.CID)
}
