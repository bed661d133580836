package maintainers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ca-indexer/internal/models"

	"gorm.io/gorm"
)

// TopicVersions settles the acceptance status of topic versions and the
// current version of their topics
type TopicVersions struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewTopicVersions creates a new topic versions maintainer
func NewTopicVersions(db *gorm.DB, logger *slog.Logger) *TopicVersions {
	return &TopicVersions{db: db, logger: logger}
}

// Accepted reports whether a version with the given vote counts is accepted
func Accepted(accepts, rejects int) bool {
	return rejects == 0 || accepts > rejects
}

type versionVotes struct {
	URI       string
	Accepts   int
	Rejects   int
	CreatedAt time.Time
}

// UpdateCurrent recomputes the given topics
func (v *TopicVersions) UpdateCurrent(ctx context.Context, topicIDs []string) error {
	for _, id := range distinct(topicIDs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := v.updateTopic(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAll recomputes every topic
func (v *TopicVersions) UpdateAll(ctx context.Context, pageSize int) error {
	return pages(ctx, v.db.WithContext(ctx).Model(&models.Topic{}), "id", pageSize, func(ids []string) error {
		return v.UpdateCurrent(ctx, ids)
	})
}

func (v *TopicVersions) updateTopic(ctx context.Context, topicID string) error {
	return v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var versions []versionVotes
		err := tx.Raw(`
			SELECT tv.uri AS uri,
				COALESCE(c.unique_accepts_count, 0) AS accepts,
				COALESCE(c.unique_rejects_count, 0) AS rejects,
				r.created_at AS created_at
			FROM topic_versions tv
			LEFT JOIN contents c ON c.uri = tv.uri
			LEFT JOIN records r ON r.uri = tv.uri
			WHERE tv.topic_id = ?
			ORDER BY r.created_at ASC, tv.uri ASC`, topicID).Scan(&versions).Error
		if err != nil {
			return fmt.Errorf("load versions of %s: %w", topicID, err)
		}

		var current *string
		var lastEdit *time.Time
		var accepted, rejected []string
		for i := range versions {
			ver := versions[i]
			if Accepted(ver.Accepts, ver.Rejects) {
				accepted = append(accepted, ver.URI)
				current = &versions[i].URI
			} else {
				rejected = append(rejected, ver.URI)
			}
			lastEdit = &versions[i].CreatedAt
		}

		if len(accepted) > 0 {
			err := tx.Model(&models.TopicVersion{}).Where("uri IN ?", accepted).Update("status", models.VersionAccepted).Error
			if err != nil {
				return fmt.Errorf("accept versions of %s: %w", topicID, err)
			}
		}
		if len(rejected) > 0 {
			err := tx.Model(&models.TopicVersion{}).Where("uri IN ?", rejected).Update("status", models.VersionRejected).Error
			if err != nil {
				return fmt.Errorf("reject versions of %s: %w", topicID, err)
			}
		}

		err = tx.Model(&models.Topic{}).Where("id = ?", topicID).Updates(map[string]interface{}{
			"current_version_id": current,
			"last_edit":          lastEdit,
		}).Error
		if err != nil {
			return fmt.Errorf("update topic %s: %w", topicID, err)
		}
		v.logger.Debug("topic current version updated", "topic", topicID, "versions", len(versions), "accepted", len(accepted))
		return nil
	})
}
