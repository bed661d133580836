package maintainers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"ca-indexer/internal/jobs"
	"ca-indexer/internal/models"
	"ca-indexer/internal/record"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reference types
const (
	ReferenceMention = "mention"
	ReferenceEmbed   = "embed"
)

// References rebuilds topic_references from the facets and embeds of contents
type References struct {
	db       *gorm.DB
	queue    Enqueuer
	logger   *slog.Logger
	pageSize int
	now      func() time.Time
}

// NewReferences creates a new references maintainer
func NewReferences(db *gorm.DB, queue Enqueuer, logger *slog.Logger, pageSize int) *References {
	return &References{db: db, queue: queue, logger: logger, pageSize: pageSize, now: time.Now}
}

// Rebuild recomputes the references of the given contents and queues an
// interaction rebuild for every topic whose attribution may have changed
func (r *References) Rebuild(ctx context.Context, uris []string) error {
	var affected []string
	for _, chunk := range chunks(distinct(uris), r.pageSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		topics, err := r.rebuildChunk(ctx, chunk)
		if err != nil {
			return err
		}
		affected = append(affected, topics...)
	}
	affected = distinct(affected)
	if len(affected) == 0 || r.queue == nil {
		return nil
	}
	return r.queue.Enqueue(ctx, jobs.UpdateInteractions, jobs.TopicsPayload{TopicIDs: affected}, jobs.PriorityNormal)
}

// RebuildAll recomputes the references of every content
func (r *References) RebuildAll(ctx context.Context) error {
	return pages(ctx, r.db.WithContext(ctx).Model(&models.Content{}), "uri", r.pageSize, func(uris []string) error {
		return r.Rebuild(ctx, uris)
	})
}

func (r *References) rebuildChunk(ctx context.Context, uris []string) ([]string, error) {
	tag := r.now().UnixNano()
	var affected []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var contents []models.Content
		if err := tx.Select("uri", "facets", "embeds").Where("uri IN ?", uris).Find(&contents).Error; err != nil {
			return fmt.Errorf("load contents: %w", err)
		}

		var old []string
		err := tx.Model(&models.TopicReference{}).
			Distinct().
			Where("referencing_content_id IN ?", uris).
			Pluck("referenced_topic_id", &old).Error
		if err != nil {
			return fmt.Errorf("load references: %w", err)
		}

		rows, err := r.references(tx, contents, tag)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "referencing_content_id"}, {Name: "referenced_topic_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"type", "touched"}),
			}).Create(&rows).Error
			if err != nil {
				return fmt.Errorf("mark references: %w", err)
			}
		}
		err = tx.Where("referencing_content_id IN ? AND touched <> ?", uris, tag).
			Delete(&models.TopicReference{}).Error
		if err != nil {
			return fmt.Errorf("sweep references: %w", err)
		}

		threads, err := threadTopics(tx, uris)
		if err != nil {
			return err
		}

		affected = append(affected, old...)
		for _, row := range rows {
			affected = append(affected, row.ReferencedTopicID)
		}
		affected = append(affected, threads...)
		return nil
	})
	return affected, err
}

// references computes the reference rows of contents, a mention winning
// over an embed of the same topic
func (r *References) references(tx *gorm.DB, contents []models.Content, tag int64) ([]models.TopicReference, error) {
	type key struct{ content, topic string }
	kinds := make(map[key]string)
	var order []key
	set := func(k key, kind string) {
		if _, ok := kinds[k]; !ok {
			order = append(order, k)
			kinds[k] = kind
			return
		}
		if kind == ReferenceMention {
			kinds[k] = kind
		}
	}

	embedded := make(map[string][]string)
	var versionURIs []string
	for _, c := range contents {
		var facets []record.Facet
		if len(c.Facets) > 0 {
			if err := json.Unmarshal(c.Facets, &facets); err != nil {
				r.logger.Warn("unreadable facets", "uri", c.URI, "error", err)
			}
		}
		for _, id := range record.TopicMentions(facets) {
			set(key{c.URI, id}, ReferenceMention)
		}
		for _, uri := range embeddedVersions(c.Embeds) {
			embedded[c.URI] = append(embedded[c.URI], uri)
			versionURIs = append(versionURIs, uri)
		}
	}

	if len(versionURIs) > 0 {
		var versions []models.TopicVersion
		if err := tx.Select("uri", "topic_id").Where("uri IN ?", distinct(versionURIs)).Find(&versions).Error; err != nil {
			return nil, fmt.Errorf("load embedded versions: %w", err)
		}
		topicOf := make(map[string]string, len(versions))
		for _, v := range versions {
			topicOf[v.URI] = v.TopicID
		}
		for _, c := range contents {
			for _, uri := range embedded[c.URI] {
				if id, ok := topicOf[uri]; ok {
					set(key{c.URI, id}, ReferenceEmbed)
				}
			}
		}
	}

	rows := make([]models.TopicReference, 0, len(order))
	for _, k := range order {
		rows = append(rows, models.TopicReference{
			ReferencingContentID: k.content,
			ReferencedTopicID:    k.topic,
			Type:                 kinds[k],
			Touched:              tag,
		})
	}
	return rows, nil
}

// embeddedVersions returns the topic version URIs found anywhere in an embed
func embeddedVersions(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil
	}
	var out []string
	var walk func(any)
	walk = func(n any) {
		switch v := n.(type) {
		case map[string]any:
			if uri, ok := v["uri"].(string); ok && record.CollectionFromURI(uri) == record.CollectionTopicVersion {
				out = append(out, uri)
			}
			for _, child := range v {
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)
	return distinct(out)
}

// threadTopics returns the topics a set of contents may inherit through their
// thread, topics of the versions they reply to and of their parents, plus
// the topics they are attributed to now and may lose
func threadTopics(tx *gorm.DB, uris []string) ([]string, error) {
	var topics []string
	err := tx.Raw(`
		SELECT tv.topic_id FROM posts p JOIN topic_versions tv ON tv.uri = p.reply_to_id OR tv.uri = p.root_id WHERE p.uri IN @uris
		UNION
		SELECT ti.topic_id FROM posts p JOIN topic_interactions ti ON ti.record_id = p.reply_to_id WHERE p.uri IN @uris
		UNION
		SELECT ti.topic_id FROM topic_interactions ti WHERE ti.record_id IN @uris`,
		map[string]interface{}{"uris": uris}).Scan(&topics).Error
	if err != nil {
		return nil, fmt.Errorf("load thread topics: %w", err)
	}
	return topics, nil
}
