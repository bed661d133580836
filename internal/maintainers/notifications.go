package maintainers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ca-indexer/internal/models"
	"ca-indexer/internal/record"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Notifications creates notification rows for platform users whose records
// were replied to, quoted, mentioned or voted on
type Notifications struct {
	db       *gorm.DB
	logger   *slog.Logger
	pageSize int
}

// NewNotifications creates a new notifications maintainer
func NewNotifications(db *gorm.DB, logger *slog.Logger, pageSize int) *Notifications {
	return &Notifications{db: db, logger: logger, pageSize: pageSize}
}

// target is a notification candidate before filtering
type target struct {
	UserID     string
	Type       string
	CauserURI  string
	SubjectURI *string
}

// Create notifies the users affected by the given causer records. Running it
// twice over the same records creates nothing new.
func (n *Notifications) Create(ctx context.Context, uris []string) error {
	created := int64(0)
	for _, chunk := range chunks(distinct(uris), n.pageSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		count, err := n.createChunk(ctx, chunk)
		if err != nil {
			return err
		}
		created += count
	}
	if created > 0 {
		n.logger.Info("notifications created", "count", created)
	}
	return nil
}

func (n *Notifications) createChunk(ctx context.Context, uris []string) (int64, error) {
	var created int64
	err := n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		targets, err := candidates(tx, uris)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return nil
		}

		users := make([]string, 0, len(targets))
		for _, t := range targets {
			users = append(users, t.UserID)
		}
		var platform []string
		err = tx.Model(&models.User{}).Where("did IN ? AND in_ca = ?", distinct(users), true).Pluck("did", &platform).Error
		if err != nil {
			return fmt.Errorf("load platform users: %w", err)
		}
		inCA := make(map[string]bool, len(platform))
		for _, did := range platform {
			inCA[did] = true
		}

		rows := make([]models.Notification, 0, len(targets))
		for _, t := range targets {
			if !inCA[t.UserID] || t.UserID == record.DIDFromURI(t.CauserURI) {
				continue
			}
			rows = append(rows, models.Notification{
				ID:         uuid.New(),
				UserID:     t.UserID,
				Type:       t.Type,
				CauserURI:  t.CauserURI,
				SubjectURI: t.SubjectURI,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "type"}, {Name: "causer_uri"}},
			DoNothing: true,
		}).Create(&rows)
		if res.Error != nil {
			return fmt.Errorf("insert notifications: %w", res.Error)
		}
		created = res.RowsAffected
		return nil
	})
	return created, err
}

// candidates collects every notification the causer records could produce
func candidates(tx *gorm.DB, uris []string) ([]target, error) {
	var out []target

	var posts []models.Post
	if err := tx.Where("uri IN ?", uris).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	for _, p := range posts {
		if p.ReplyToID != nil {
			out = append(out, target{
				UserID:     record.DIDFromURI(*p.ReplyToID),
				Type:       models.NotificationReply,
				CauserURI:  p.URI,
				SubjectURI: p.ReplyToID,
			})
		}
		if p.QuoteToID != nil {
			out = append(out, target{
				UserID:     record.DIDFromURI(*p.QuoteToID),
				Type:       models.NotificationQuote,
				CauserURI:  p.URI,
				SubjectURI: p.QuoteToID,
			})
		}
	}

	var contents []models.Content
	if err := tx.Select("uri", "facets").Where("uri IN ?", uris).Find(&contents).Error; err != nil {
		return nil, fmt.Errorf("load contents: %w", err)
	}
	for _, c := range contents {
		if len(c.Facets) == 0 {
			continue
		}
		var facets []record.Facet
		if err := json.Unmarshal(c.Facets, &facets); err != nil {
			continue
		}
		for _, did := range distinct(record.MentionedDIDs(facets)) {
			out = append(out, target{UserID: did, Type: models.NotificationMention, CauserURI: c.URI})
		}
	}

	var votes []models.Reaction
	err := tx.Where("uri IN ? AND type IN ?", uris, []string{models.ReactionAccept, models.ReactionReject}).Find(&votes).Error
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}
	for _, v := range votes {
		kind := models.NotificationVoteAccept
		if v.Type == models.ReactionReject {
			kind = models.NotificationVoteReject
		}
		subject := v.SubjectID
		out = append(out, target{
			UserID:     record.DIDFromURI(subject),
			Type:       kind,
			CauserURI:  v.URI,
			SubjectURI: &subject,
		})
	}

	filtered := out[:0]
	for _, t := range out {
		if t.UserID != "" {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}
