package processor

import (
	"context"
	"fmt"

	"ca-indexer/internal/jobs"
	"ca-indexer/internal/models"

	"gorm.io/gorm"
)

// contentDeleter removes a textual record and everything that exists only
// because of it, children before parents
type contentDeleter struct {
	projection any
}

func newContentDeleter(projection any) DeleteProcessorFactory {
	return func(string, Deps) DeleteProcessor {
		return &contentDeleter{projection: projection}
	}
}

func (d *contentDeleter) DeleteByURIs(ctx context.Context, tx *gorm.DB, uris []string, fx *SideEffects) error {
	return deleteContent(tx, uris, d.projection, fx)
}

// topicVersionDeleter also re-evaluates the current version of the topics
// that lost a version
type topicVersionDeleter struct{}

func newTopicVersionDeleter(string, Deps) DeleteProcessor {
	return topicVersionDeleter{}
}

func (topicVersionDeleter) DeleteByURIs(ctx context.Context, tx *gorm.DB, uris []string, fx *SideEffects) error {
	topicIDs, err := topicsOfVersions(tx, uris)
	if err != nil {
		return err
	}
	if err := deleteContent(tx, uris, &models.TopicVersion{}, fx); err != nil {
		return err
	}
	if len(topicIDs) > 0 {
		fx.Enqueue(jobs.UpdateTopicCurrentVersion, jobs.TopicsPayload{TopicIDs: topicIDs}, jobs.PriorityHigh)
		fx.Enqueue(jobs.UpdateInteractions, jobs.TopicsPayload{TopicIDs: topicIDs}, jobs.PriorityLow)
	}
	return nil
}

// projectionDeleter removes a projection row and its record
type projectionDeleter struct {
	projection any
}

func newProjectionDeleter(projection any) DeleteProcessorFactory {
	return func(string, Deps) DeleteProcessor {
		return &projectionDeleter{projection: projection}
	}
}

func (d *projectionDeleter) DeleteByURIs(ctx context.Context, tx *gorm.DB, uris []string, fx *SideEffects) error {
	if err := tx.Where("uri IN ?", uris).Delete(d.projection).Error; err != nil {
		return fmt.Errorf("delete projection: %w", err)
	}
	return deleteRecords(tx, uris)
}

func deleteContent(tx *gorm.DB, uris []string, projection any, fx *SideEffects) error {
	// Topics the records were attributed to need their graph rebuilt.
	var topicIDs []string
	if err := tx.Model(&models.TopicInteraction{}).Where("record_id IN ?", uris).Distinct().Pluck("topic_id", &topicIDs).Error; err != nil {
		return fmt.Errorf("find interacted topics: %w", err)
	}
	var referenced []string
	if err := tx.Model(&models.TopicReference{}).Where("referencing_content_id IN ?", uris).Distinct().Pluck("referenced_topic_id", &referenced).Error; err != nil {
		return fmt.Errorf("find referenced topics: %w", err)
	}

	steps := []struct {
		name  string
		model any
		where string
	}{
		{"topic interactions", &models.TopicInteraction{}, "record_id IN ?"},
		{"topic references", &models.TopicReference{}, "referencing_content_id IN ?"},
		{"reactions", &models.Reaction{}, "subject_id IN ?"},
		{"notifications", &models.Notification{}, "causer_uri IN ?"},
		{"projection", projection, "uri IN ?"},
		{"contents", &models.Content{}, "uri IN ?"},
	}
	for _, s := range steps {
		if err := tx.Where(s.where, uris).Delete(s.model).Error; err != nil {
			return fmt.Errorf("delete %s: %w", s.name, err)
		}
	}
	if err := deleteRecords(tx, uris); err != nil {
		return err
	}

	if topicIDs = distinct(append(topicIDs, referenced...)); len(topicIDs) > 0 {
		fx.Enqueue(jobs.UpdateInteractions, jobs.TopicsPayload{TopicIDs: topicIDs}, jobs.PriorityLow)
	}
	return nil
}
