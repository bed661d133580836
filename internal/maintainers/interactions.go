package maintainers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ca-indexer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// threadQuery attributes records to a topic: contents that reference it,
// replies to its versions, and every reply below those, up to @depth levels
const threadQuery = `
WITH RECURSIVE seeds(uri) AS (
	SELECT referencing_content_id FROM topic_references WHERE referenced_topic_id = @topic
	UNION
	SELECT p.uri FROM posts p JOIN topic_versions tv ON tv.uri = p.reply_to_id WHERE tv.topic_id = @topic
),
thread(uri, depth) AS (
	SELECT uri, 0 FROM seeds
	UNION
	SELECT p.uri, t.depth + 1 FROM posts p JOIN thread t ON p.reply_to_id = t.uri WHERE t.depth < @depth
)
SELECT DISTINCT uri FROM thread`

// InteractionGraph rebuilds topic_interactions with a mark-and-sweep per topic
type InteractionGraph struct {
	db       *gorm.DB
	logger   *slog.Logger
	pageSize int
	now      func() time.Time
}

// NewInteractionGraph creates a new interaction graph maintainer
func NewInteractionGraph(db *gorm.DB, logger *slog.Logger, pageSize int) *InteractionGraph {
	return &InteractionGraph{db: db, logger: logger, pageSize: pageSize, now: time.Now}
}

// Rebuild recomputes the interactions of the given topics
func (g *InteractionGraph) Rebuild(ctx context.Context, topicIDs []string) error {
	for _, id := range distinct(topicIDs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.rebuildTopic(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RebuildAll recomputes the interactions of every topic
func (g *InteractionGraph) RebuildAll(ctx context.Context) error {
	start := time.Now()
	total := 0
	err := pages(ctx, g.db.WithContext(ctx).Model(&models.Topic{}), "id", g.pageSize, func(ids []string) error {
		total += len(ids)
		return g.Rebuild(ctx, ids)
	})
	if err != nil {
		return err
	}
	g.logger.Info("interaction graph rebuilt", "topics", total, "duration", time.Since(start))
	return nil
}

// RebuildDirty recomputes topics referenced or edited by content created since
func (g *InteractionGraph) RebuildDirty(ctx context.Context, since time.Time) error {
	var ids []string
	err := g.db.WithContext(ctx).Raw(`
		SELECT r.referenced_topic_id FROM topic_references r JOIN contents c ON c.uri = r.referencing_content_id WHERE c.created_at >= @since
		UNION
		SELECT tv.topic_id FROM topic_versions tv JOIN contents c ON c.uri = tv.uri WHERE c.created_at >= @since`,
		map[string]interface{}{"since": since}).Scan(&ids).Error
	if err != nil {
		return fmt.Errorf("find dirty topics: %w", err)
	}
	return g.Rebuild(ctx, ids)
}

func (g *InteractionGraph) rebuildTopic(ctx context.Context, topicID string) error {
	tag := g.now().UnixNano()
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var uris []string
		err := tx.Raw(threadQuery, map[string]interface{}{"topic": topicID, "depth": MaxThreadDepth}).Scan(&uris).Error
		if err != nil {
			return fmt.Errorf("traverse topic %s: %w", topicID, err)
		}

		for _, chunk := range chunks(uris, g.pageSize) {
			rows := make([]models.TopicInteraction, len(chunk))
			for i, uri := range chunk {
				rows[i] = models.TopicInteraction{RecordID: uri, TopicID: topicID, Touched: tag}
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "record_id"}, {Name: "topic_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"touched"}),
			}).Create(&rows).Error
			if err != nil {
				return fmt.Errorf("mark interactions of %s: %w", topicID, err)
			}
		}

		res := tx.Where("topic_id = ? AND touched <> ?", topicID, tag).Delete(&models.TopicInteraction{})
		if res.Error != nil {
			return fmt.Errorf("sweep interactions of %s: %w", topicID, res.Error)
		}
		g.logger.Debug("topic interactions rebuilt", "topic", topicID, "records", len(uris), "swept", res.RowsAffected)
		return nil
	})
}
