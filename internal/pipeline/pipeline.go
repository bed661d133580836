package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ca-indexer/internal/models"
	"ca-indexer/internal/processor"
	"ca-indexer/internal/record"

	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// DefaultPagesPerSecond throttles reprocessing reads
const DefaultPagesPerSecond = 20

// Pipeline is the entry point used by the mirror and the reprocessing driver
type Pipeline struct {
	db         *gorm.DB
	engine     *processor.Engine
	dispatcher *Dispatcher
	logger     *slog.Logger
	pageSize   int
	limiter    *rate.Limiter
}

// New creates a new pipeline
func New(db *gorm.DB, engine *processor.Engine, logger *slog.Logger, pageSize int) *Pipeline {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Pipeline{
		db:         db,
		engine:     engine,
		dispatcher: NewDispatcher(db, engine, logger),
		logger:     logger,
		pageSize:   pageSize,
		limiter:    rate.NewLimiter(rate.Limit(DefaultPagesPerSecond), 1),
	}
}

// Submit applies a batch of stream events. Failures are logged per group.
func (p *Pipeline) Submit(ctx context.Context, events []Event) {
	p.dispatcher.Dispatch(ctx, events)
}

// Reprocess replays every stored record of collection through its current
// processor in creation order. Garbled payloads are skipped.
func (p *Pipeline) Reprocess(ctx context.Context, collection string) error {
	start := time.Now()
	offset, total, skipped := 0, 0, 0

	p.logger.Info("reprocessing collection", "collection", collection, "page_size", p.pageSize)
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		var rows []models.Record
		err := p.db.WithContext(ctx).
			Where("collection = ?", collection).
			Order("created_at ASC, uri ASC").
			Offset(offset).
			Limit(p.pageSize).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("load %s records at offset %d: %w", collection, offset, err)
		}

		inputs := make([]processor.Input, 0, len(rows))
		for _, row := range rows {
			s, err := record.Parse(row.Record)
			if err != nil {
				p.logger.Warn("skipping garbled record", "collection", collection, "uri", row.URI, "error", err)
				skipped++
				continue
			}
			inputs = append(inputs, processor.Input{
				Ref: processor.Ref{
					URI:        row.URI,
					CID:        row.CID,
					AuthorDID:  row.AuthorID,
					Collection: row.Collection,
					RKey:       row.RKey,
				},
				Record: s,
			})
		}
		if len(inputs) > 0 {
			if err := p.engine.Process(ctx, collection, inputs); err != nil {
				p.logger.Error("reprocess page failed", "collection", collection, "offset", offset, "error", err)
			}
		}

		total += len(rows)
		if len(rows) < p.pageSize {
			break
		}
		offset += len(rows)
	}

	p.logger.Info("reprocessing finished",
		"collection", collection,
		"records", total,
		"skipped", skipped,
		"duration", time.Since(start))
	return nil
}
