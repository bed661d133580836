package maintainers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"ca-indexer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Engagement reconciles per-content counters from the live reactions and
// replies, and recomputes topic popularity
type Engagement struct {
	db       *gorm.DB
	logger   *slog.Logger
	pageSize int
	now      func() time.Time
}

// NewEngagement creates a new engagement maintainer
func NewEngagement(db *gorm.DB, logger *slog.Logger, pageSize int) *Engagement {
	return &Engagement{db: db, logger: logger, pageSize: pageSize, now: time.Now}
}

func distinctAuthors(kind string) clause.Expr {
	return gorm.Expr("(SELECT COUNT(DISTINCT r.author_id) FROM reactions r WHERE r.subject_id = contents.uri AND r.type = ?)", kind)
}

// Popularity scores a content by its weighted engagement, decaying with a
// one day time constant
func Popularity(likes, reposts, replies int, age time.Duration) float64 {
	hours := math.Max(age.Hours(), 0)
	return float64(likes+2*reposts+replies) * math.Exp(-hours/24)
}

// Recompute reconciles the contents created within window and the popularity
// of every topic
func (e *Engagement) Recompute(ctx context.Context, window time.Duration) error {
	start := time.Now()
	now := e.now()
	since := now.Add(-window)

	total := 0
	query := e.db.WithContext(ctx).Model(&models.Content{}).Where("created_at >= ?", since)
	err := pages(ctx, query, "uri", e.pageSize, func(uris []string) error {
		total += len(uris)
		return e.recomputeContents(ctx, uris, now)
	})
	if err != nil {
		return err
	}
	if err := e.recomputeTopics(ctx, since); err != nil {
		return err
	}
	e.logger.Info("engagement recomputed", "contents", total, "window", window, "duration", time.Since(start))
	return nil
}

func (e *Engagement) recomputeContents(ctx context.Context, uris []string, now time.Time) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Content{}).Where("uri IN ?", uris).Updates(map[string]interface{}{
			"unique_likes_count":   distinctAuthors(models.ReactionLike),
			"unique_reposts_count": distinctAuthors(models.ReactionRepost),
			"unique_accepts_count": distinctAuthors(models.ReactionAccept),
			"unique_rejects_count": distinctAuthors(models.ReactionReject),
			"replies_count":        gorm.Expr("(SELECT COUNT(*) FROM posts p WHERE p.reply_to_id = contents.uri)"),
		}).Error
		if err != nil {
			return fmt.Errorf("reconcile counters: %w", err)
		}

		var contents []models.Content
		err = tx.Select("uri", "unique_likes_count", "unique_reposts_count", "replies_count", "created_at").
			Where("uri IN ?", uris).
			Find(&contents).Error
		if err != nil {
			return fmt.Errorf("load counters: %w", err)
		}
		for _, c := range contents {
			score := Popularity(c.UniqueLikesCount, c.UniqueRepostsCount, c.RepliesCount, now.Sub(c.CreatedAt))
			err := tx.Model(&models.Content{}).Where("uri = ?", c.URI).Update("relative_popularity", score).Error
			if err != nil {
				return fmt.Errorf("update popularity of %s: %w", c.URI, err)
			}
		}
		return nil
	})
}

// recomputeTopics sets each topic's popularity to the number of distinct
// authors of records attributed to it since the window start
func (e *Engagement) recomputeTopics(ctx context.Context, since time.Time) error {
	type row struct {
		TopicID string
		Authors int64
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []row
		err := tx.Raw(`
			SELECT ti.topic_id AS topic_id, COUNT(DISTINCT r.author_id) AS authors
			FROM topic_interactions ti JOIN records r ON r.uri = ti.record_id
			WHERE r.created_at >= ?
			GROUP BY ti.topic_id`, since).Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("count topic authors: %w", err)
		}

		err = tx.Model(&models.Topic{}).Where("popularity <> 0").Update("popularity", 0).Error
		if err != nil {
			return fmt.Errorf("reset topic popularity: %w", err)
		}
		for _, r := range rows {
			err := tx.Model(&models.Topic{}).Where("id = ?", r.TopicID).Update("popularity", float64(r.Authors)).Error
			if err != nil {
				return fmt.Errorf("update popularity of %s: %w", r.TopicID, err)
			}
		}
		return nil
	})
}
