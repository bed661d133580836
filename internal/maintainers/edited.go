package maintainers

import (
	"context"
	"fmt"
	"log/slog"

	"ca-indexer/internal/models"

	"gorm.io/gorm"
)

// editedExpr is true when some live reaction or post points at a version of
// the content other than its current one
const editedExpr = `(
	EXISTS (SELECT 1 FROM reactions r WHERE r.subject_id = contents.uri AND r.subject_cid <> '' AND r.subject_cid <> contents.cid)
	OR EXISTS (SELECT 1 FROM posts p WHERE p.reply_to_id = contents.uri AND p.reply_to_cid IS NOT NULL AND p.reply_to_cid <> contents.cid)
	OR EXISTS (SELECT 1 FROM posts p WHERE p.root_id = contents.uri AND p.root_cid IS NOT NULL AND p.root_cid <> contents.cid)
	OR EXISTS (SELECT 1 FROM posts p WHERE p.quote_to_id = contents.uri AND p.quote_to_cid IS NOT NULL AND p.quote_to_cid <> contents.cid)
)`

// EditedFlags recomputes contents.edited
type EditedFlags struct {
	db       *gorm.DB
	logger   *slog.Logger
	pageSize int
}

// NewEditedFlags creates a new edited flags maintainer
func NewEditedFlags(db *gorm.DB, logger *slog.Logger, pageSize int) *EditedFlags {
	return &EditedFlags{db: db, logger: logger, pageSize: pageSize}
}

// Recompute sets the edited flag of the given contents
func (e *EditedFlags) Recompute(ctx context.Context, uris []string) error {
	for _, chunk := range chunks(distinct(uris), e.pageSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := e.db.WithContext(ctx).
			Model(&models.Content{}).
			Where("uri IN ?", chunk).
			Update("edited", gorm.Expr(editedExpr)).Error
		if err != nil {
			return fmt.Errorf("recompute edited flags: %w", err)
		}
	}
	return nil
}

// RecomputeAll sets the edited flag of every content
func (e *EditedFlags) RecomputeAll(ctx context.Context) error {
	total := 0
	err := pages(ctx, e.db.WithContext(ctx).Model(&models.Content{}), "uri", e.pageSize, func(uris []string) error {
		total += len(uris)
		return e.Recompute(ctx, uris)
	})
	if err != nil {
		return err
	}
	e.logger.Info("edited flags recomputed", "contents", total)
	return nil
}
