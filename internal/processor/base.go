package processor

import (
	"context"
	"fmt"

	"ca-indexer/internal/jobs"
	"ca-indexer/internal/models"
	"ca-indexer/internal/record"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// base carries what every processor shares: its collection, schema
// validation and the clock
type base struct {
	collection string
	deps       Deps
}

func (b base) Collection() string {
	return b.collection
}

// validate checks the record against its schema and decodes it into v when v
// is not nil
func (b base) validate(ref Ref, s record.Structured, v any) (Valid, error) {
	if b.deps.Validator != nil {
		if err := b.deps.Validator.Validate(b.collection, ref.URI, s); err != nil {
			return Valid{}, err
		}
	}
	if v != nil {
		if err := s.Decode(v); err != nil {
			return Valid{}, &record.ValidationError{Collection: b.collection, URI: ref.URI, Err: err}
		}
	}
	return Valid{Ref: ref, Record: s, Value: v, CreatedAt: s.CreatedAt(b.deps.now())}, nil
}

// persistRecords writes the raw record rows and the authors' placeholder users.
// A record keeps the creation time of its first ingestion.
func (b base) persistRecords(tx *gorm.DB, batch []Valid) error {
	now := b.deps.now()
	rows := make([]models.Record, 0, len(batch))
	authors := make([]string, 0, len(batch))
	for _, v := range batch {
		raw, err := v.Record.JSON()
		if err != nil {
			return fmt.Errorf("encode record %s: %w", v.URI, err)
		}
		rows = append(rows, models.Record{
			URI:        v.URI,
			CID:        v.CID,
			AuthorID:   v.AuthorDID,
			Collection: b.collection,
			RKey:       v.RKey,
			CreatedAt:  v.CreatedAt,
			IndexedAt:  now,
			Record:     datatypes.JSON(raw),
		})
		authors = append(authors, v.AuthorDID)
	}
	if err := ensureUsers(tx, authors...); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uri"}},
		DoUpdates: clause.AssignmentColumns([]string{"cid", "author_id", "collection", "rkey", "indexed_at", "record"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert records: %w", err)
	}
	return nil
}

// baseProcessor keeps only the raw record row
type baseProcessor struct {
	base
}

func newBaseProcessor(collection string, deps Deps) Processor {
	return &baseProcessor{base{collection: collection, deps: deps}}
}

func (p *baseProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	return p.validate(ref, s, nil)
}

func (p *baseProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}
	for _, v := range batch {
		fx.Invalidate(v.URI)
	}
	return nil
}

// baseDeleter removes only the raw record row
type baseDeleter struct{}

func newBaseDeleter(string, Deps) DeleteProcessor {
	return baseDeleter{}
}

func (baseDeleter) DeleteByURIs(ctx context.Context, tx *gorm.DB, uris []string, fx *SideEffects) error {
	return deleteRecords(tx, uris)
}

// ensureUsers inserts placeholder users for dids not seen before
func ensureUsers(tx *gorm.DB, dids ...string) error {
	dids = distinct(dids)
	if len(dids) == 0 {
		return nil
	}
	rows := make([]models.User, len(dids))
	for i, did := range dids {
		rows[i] = models.User{DID: did}
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("ensure users: %w", err)
	}
	return nil
}

// MarkPlatformUsers upserts users with the in-platform flag set
func MarkPlatformUsers(tx *gorm.DB, dids ...string) error {
	dids = distinct(dids)
	if len(dids) == 0 {
		return nil
	}
	rows := make([]models.User, len(dids))
	for i, did := range dids {
		rows[i] = models.User{DID: did, InCA: true}
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "did"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"in_ca": true}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("mark platform users: %w", err)
	}
	return nil
}

// upsertContents writes content rows without touching counters or the
// edited flag, which belong to the reactions and the maintainers. Rows seen
// for the first time take their counters from reactions and replies that
// arrived before them.
func upsertContents(tx *gorm.DB, rows []models.Content) error {
	if len(rows) == 0 {
		return nil
	}
	uris := make([]string, len(rows))
	for i, r := range rows {
		uris[i] = r.URI
	}
	var existing []string
	if err := tx.Model(&models.Content{}).Where("uri IN ?", uris).Pluck("uri", &existing).Error; err != nil {
		return fmt.Errorf("find contents: %w", err)
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uri"}},
		DoUpdates: clause.AssignmentColumns([]string{"cid", "text", "plain_text", "text_blob_cid", "format", "self_labels", "embeds", "facets"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert contents: %w", err)
	}

	fresh := without(distinct(uris), existing)
	if len(fresh) == 0 {
		return nil
	}
	err = tx.Model(&models.Content{}).Where("uri IN ?", fresh).UpdateColumns(map[string]interface{}{
		"unique_likes_count":   liveAuthors(models.ReactionLike),
		"unique_reposts_count": liveAuthors(models.ReactionRepost),
		"unique_accepts_count": liveAuthors(models.ReactionAccept),
		"unique_rejects_count": liveAuthors(models.ReactionReject),
		"replies_count":        gorm.Expr("(SELECT COUNT(*) FROM posts p WHERE p.reply_to_id = contents.uri)"),
	}).Error
	if err != nil {
		return fmt.Errorf("seed counters: %w", err)
	}
	return nil
}

func liveAuthors(kind string) clause.Expr {
	return gorm.Expr("(SELECT COUNT(DISTINCT r.author_id) FROM reactions r WHERE r.subject_id = contents.uri AND r.type = ?)", kind)
}

// upsertAll writes projection rows, replacing every column on conflict
func upsertAll(tx *gorm.DB, rows any, key string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: key}},
		UpdateAll: true,
	}).Create(rows).Error
}

func deleteRecords(tx *gorm.DB, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	if err := tx.Where("uri IN ?", uris).Delete(&models.Record{}).Error; err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

// syncMissing queues a fetch for referenced records that are not indexed yet
func syncMissing(tx *gorm.DB, fx *SideEffects, uris []string) error {
	uris = distinct(uris)
	if len(uris) == 0 {
		return nil
	}
	var found []string
	if err := tx.Model(&models.Record{}).Where("uri IN ?", uris).Pluck("uri", &found).Error; err != nil {
		return fmt.Errorf("find referenced records: %w", err)
	}
	if missing := without(uris, found); len(missing) > 0 {
		fx.Enqueue(jobs.SyncReferencedRecords, jobs.URIsPayload{URIs: missing}, jobs.PriorityLow)
	}
	return nil
}

// without returns the values not in drop, keeping their order
func without(values, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, v := range drop {
		skip[v] = true
	}
	var out []string
	for _, v := range values {
		if !skip[v] {
			out = append(out, v)
		}
	}
	return out
}

func uriList(batch []Valid) []string {
	out := make([]string, len(batch))
	for i, v := range batch {
		out[i] = v.URI
	}
	return out
}

func jsonOrNil(raw []byte) datatypes.JSON {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return datatypes.JSON(raw)
}

func ptr[T any](v T) *T {
	return &v
}
