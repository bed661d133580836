package processor

import (
	"context"
	"fmt"

	"ca-indexer/internal/jobs"
	"ca-indexer/internal/models"
	"ca-indexer/internal/record"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// counterColumns maps a reaction type to the content counter it drives
var counterColumns = map[string]string{
	models.ReactionLike:   "unique_likes_count",
	models.ReactionRepost: "unique_reposts_count",
	models.ReactionAccept: "unique_accepts_count",
	models.ReactionReject: "unique_rejects_count",
}

// reaction is the decoded form shared by likes, reposts and votes
type reaction struct {
	Subject record.StrongRef
	Reason  *string
	Labels  []string
}

// reactionProcessor handles likes, reposts and wiki votes. Counters count
// distinct authors: a second live reaction by the same author on the same
// subject leaves the counter unchanged.
type reactionProcessor struct {
	base
	kind string
}

func newReactionProcessor(kind string) ProcessorFactory {
	return func(collection string, deps Deps) Processor {
		return &reactionProcessor{base: base{collection: collection, deps: deps}, kind: kind}
	}
}

func (p *reactionProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	r := &reaction{}
	if p.kind == models.ReactionReject {
		var vote record.VoteReject
		v, err := p.validate(ref, s, &vote)
		if err != nil {
			return v, err
		}
		r.Subject, r.Reason, r.Labels = vote.Subject, nonEmpty(vote.Message), vote.Labels
		v.Value = r
		return v, p.checkSubject(ref, r)
	}

	var subject record.Subject
	v, err := p.validate(ref, s, &subject)
	if err != nil {
		return v, err
	}
	r.Subject = subject.Subject
	v.Value = r
	return v, p.checkSubject(ref, r)
}

func (p *reactionProcessor) checkSubject(ref Ref, r *reaction) error {
	if _, err := record.ParseURI(r.Subject.URI); err != nil {
		return &record.ValidationError{Collection: p.collection, URI: ref.URI, Err: err}
	}
	return nil
}

func (p *reactionProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}

	var existing []models.Reaction
	if err := tx.Where("uri IN ?", uriList(batch)).Find(&existing).Error; err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}
	byURI := make(map[string]models.Reaction, len(existing))
	for _, r := range existing {
		byURI[r.URI] = r
	}

	var subjects, dids []string
	for _, v := range batch {
		r := v.Value.(*reaction)
		row := models.Reaction{
			URI:        v.URI,
			Type:       p.kind,
			AuthorID:   v.AuthorDID,
			SubjectID:  r.Subject.URI,
			SubjectCID: r.Subject.CID,
			Reason:     r.Reason,
			Labels:     r.Labels,
		}
		subjects = append(subjects, row.SubjectID)
		dids = append(dids, record.DIDFromURI(row.SubjectID))
		fx.Invalidate(v.URI, row.SubjectID)

		if old, ok := byURI[v.URI]; ok {
			if old.SubjectID == row.SubjectID && old.Type == row.Type {
				err := tx.Model(&models.Reaction{}).Where("uri = ?", v.URI).Updates(map[string]interface{}{
					"subject_cid": row.SubjectCID,
					"reason":      row.Reason,
					"labels":      row.Labels,
				}).Error
				if err != nil {
					return fmt.Errorf("update reaction %s: %w", v.URI, err)
				}
				continue
			}
			// The record now points somewhere else: retract the old reaction first.
			if err := removeReaction(tx, old); err != nil {
				return err
			}
			subjects = append(subjects, old.SubjectID)
			fx.Invalidate(old.SubjectID)
		}
		if err := addReaction(tx, row); err != nil {
			return err
		}
	}

	if err := ensureUsers(tx, dids...); err != nil {
		return err
	}
	if err := syncMissing(tx, fx, subjects); err != nil {
		return err
	}

	subjects = distinct(subjects)
	fx.Enqueue(jobs.UpdateEditedFlags, jobs.URIsPayload{URIs: subjects}, jobs.PriorityLow)
	if p.kind == models.ReactionAccept || p.kind == models.ReactionReject {
		topicIDs, err := topicsOfVersions(tx, subjects)
		if err != nil {
			return err
		}
		if len(topicIDs) > 0 {
			fx.Enqueue(jobs.UpdateTopicCurrentVersion, jobs.TopicsPayload{TopicIDs: topicIDs}, jobs.PriorityHigh)
		}
		fx.Enqueue(jobs.CreateNotifications, jobs.URIsPayload{URIs: uriList(batch)}, jobs.PriorityNormal)
	}
	return nil
}

// addReaction inserts row and bumps the subject counter when the row is new
// and its author had no other live reaction of the type on the subject
func addReaction(tx *gorm.DB, row models.Reaction) error {
	others, err := countOthers(tx, row)
	if err != nil {
		return err
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("insert reaction %s: %w", row.URI, res.Error)
	}
	if res.RowsAffected == 0 || others > 0 {
		return nil
	}
	col := counterColumns[row.Type]
	err = tx.Model(&models.Content{}).Where("uri = ?", row.SubjectID).
		UpdateColumn(col, gorm.Expr(col+" + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("increment %s of %s: %w", col, row.SubjectID, err)
	}
	return nil
}

// removeReaction deletes row and lowers the subject counter when a row was
// actually removed and no other live reaction of its author remains
func removeReaction(tx *gorm.DB, row models.Reaction) error {
	res := tx.Where("uri = ?", row.URI).Delete(&models.Reaction{})
	if res.Error != nil {
		return fmt.Errorf("delete reaction %s: %w", row.URI, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	others, err := countOthers(tx, row)
	if err != nil {
		return err
	}
	if others > 0 {
		return nil
	}
	col := counterColumns[row.Type]
	err = tx.Model(&models.Content{}).Where("uri = ?", row.SubjectID).
		UpdateColumn(col, gorm.Expr("CASE WHEN "+col+" > 0 THEN "+col+" - 1 ELSE 0 END")).Error
	if err != nil {
		return fmt.Errorf("decrement %s of %s: %w", col, row.SubjectID, err)
	}
	return nil
}

func countOthers(tx *gorm.DB, row models.Reaction) (int64, error) {
	var n int64
	err := tx.Model(&models.Reaction{}).
		Where("author_id = ? AND subject_id = ? AND type = ? AND uri <> ?", row.AuthorID, row.SubjectID, row.Type, row.URI).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count reactions on %s: %w", row.SubjectID, err)
	}
	return n, nil
}

func topicsOfVersions(tx *gorm.DB, uris []string) ([]string, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	var ids []string
	err := tx.Model(&models.TopicVersion{}).Where("uri IN ?", uris).Distinct().Pluck("topic_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("find topics of versions: %w", err)
	}
	return ids, nil
}

// reactionDeleter retracts reactions, keeping counters in step
type reactionDeleter struct{}

func newReactionDeleter(string, Deps) DeleteProcessor {
	return reactionDeleter{}
}

func (reactionDeleter) DeleteByURIs(ctx context.Context, tx *gorm.DB, uris []string, fx *SideEffects) error {
	var rows []models.Reaction
	if err := tx.Where("uri IN ?", uris).Find(&rows).Error; err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}
	var votedVersions []string
	for _, r := range rows {
		if err := removeReaction(tx, r); err != nil {
			return err
		}
		fx.Invalidate(r.SubjectID)
		if r.Type == models.ReactionAccept || r.Type == models.ReactionReject {
			votedVersions = append(votedVersions, r.SubjectID)
		}
	}
	topicIDs, err := topicsOfVersions(tx, distinct(votedVersions))
	if err != nil {
		return err
	}
	if len(topicIDs) > 0 {
		fx.Enqueue(jobs.UpdateTopicCurrentVersion, jobs.TopicsPayload{TopicIDs: topicIDs}, jobs.PriorityHigh)
	}
	if err := tx.Where("causer_uri IN ?", uris).Delete(&models.Notification{}).Error; err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	return deleteRecords(tx, uris)
}
