package processor

import (
	"context"
	"fmt"

	"ca-indexer/internal/models"
	"ca-indexer/internal/record"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// bskyProfileProcessor copies app.bsky.actor.profile display fields onto the user
type bskyProfileProcessor struct {
	base
}

func newBskyProfileProcessor(collection string, deps Deps) Processor {
	return &bskyProfileProcessor{base{collection: collection, deps: deps}}
}

func (p *bskyProfileProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	return p.validate(ref, s, &record.Profile{})
}

func (p *bskyProfileProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}
	users := make([]models.User, 0, len(batch))
	for _, v := range batch {
		if v.RKey != record.SelfKey {
			continue
		}
		profile := v.Value.(*record.Profile)
		users = append(users, models.User{
			DID:         v.AuthorDID,
			DisplayName: nonEmpty(profile.DisplayName),
			Description: nonEmpty(profile.Description),
			AvatarCID:   blobCID(profile.Avatar),
			BannerCID:   blobCID(profile.Banner),
		})
		fx.Invalidate(v.URI, v.AuthorDID)
	}
	if len(users) == 0 {
		return nil
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "did"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "description", "avatar_cid", "banner_cid", "updated_at"}),
	}).Create(&users).Error
	if err != nil {
		return fmt.Errorf("upsert profiles: %w", err)
	}
	return nil
}

// bskyProfileDeleter clears the display fields of the profile's author
type bskyProfileDeleter struct{}

func newBskyProfileDeleter(string, Deps) DeleteProcessor {
	return bskyProfileDeleter{}
}

func (bskyProfileDeleter) DeleteByURIs(ctx context.Context, tx *gorm.DB, uris []string, fx *SideEffects) error {
	dids := authorsOf(uris, record.SelfKey)
	if len(dids) > 0 {
		err := tx.Model(&models.User{}).Where("did IN ?", dids).Updates(map[string]interface{}{
			"display_name": nil,
			"description":  nil,
			"avatar_cid":   nil,
			"banner_cid":   nil,
		}).Error
		if err != nil {
			return fmt.Errorf("clear profiles: %w", err)
		}
		fx.Invalidate(dids...)
	}
	return deleteRecords(tx, uris)
}

// caProfileProcessor handles the platform profile, whose existence makes its
// author a platform user
type caProfileProcessor struct {
	base
}

func newCAProfileProcessor(collection string, deps Deps) Processor {
	return &caProfileProcessor{base{collection: collection, deps: deps}}
}

func (p *caProfileProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	return p.validate(ref, s, &record.CAProfile{})
}

func (p *caProfileProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}
	var dids []string
	for _, v := range batch {
		if v.RKey == record.SelfKey {
			dids = append(dids, v.AuthorDID)
		}
		fx.Invalidate(v.URI)
	}
	return MarkPlatformUsers(tx, dids...)
}

// caProfileDeleter revokes platform membership and access
type caProfileDeleter struct{}

func newCAProfileDeleter(string, Deps) DeleteProcessor {
	return caProfileDeleter{}
}

func (caProfileDeleter) DeleteByURIs(ctx context.Context, tx *gorm.DB, uris []string, fx *SideEffects) error {
	dids := authorsOf(uris, record.SelfKey)
	if len(dids) > 0 {
		err := tx.Model(&models.User{}).Where("did IN ?", dids).Updates(map[string]interface{}{
			"in_ca":      false,
			"has_access": false,
		}).Error
		if err != nil {
			return fmt.Errorf("revoke platform users: %w", err)
		}
		fx.Invalidate(dids...)
	}
	return deleteRecords(tx, uris)
}

// authorsOf returns the repository DIDs of uris with the given record key
func authorsOf(uris []string, rkey string) []string {
	var dids []string
	for _, uri := range uris {
		u, err := record.ParseURI(uri)
		if err != nil || u.RKey != rkey {
			continue
		}
		dids = append(dids, u.DID)
	}
	return distinct(dids)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
