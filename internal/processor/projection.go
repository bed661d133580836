package processor

import (
	"context"
	"fmt"

	"ca-indexer/internal/models"
	"ca-indexer/internal/record"

	"gorm.io/gorm"
)

// datasetProcessor handles dataset records; the data itself stays in its blob
type datasetProcessor struct {
	base
}

func newDatasetProcessor(collection string, deps Deps) Processor {
	return &datasetProcessor{base{collection: collection, deps: deps}}
}

func (p *datasetProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	return p.validate(ref, s, &record.Dataset{})
}

func (p *datasetProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}
	rows := make([]models.Dataset, 0, len(batch))
	for _, v := range batch {
		ds := v.Value.(*record.Dataset)
		columns := make([]string, 0, len(ds.Columns))
		for _, c := range ds.Columns {
			columns = append(columns, c.Name)
		}
		rows = append(rows, models.Dataset{
			URI:         v.URI,
			Name:        ds.Name,
			Description: ds.Description,
			Columns:     columns,
			DataBlobCID: blobCID(ds.Data),
			DataFormat:  ds.Format,
		})
		fx.Invalidate(v.URI)
	}
	if err := upsertAll(tx, &rows, "uri"); err != nil {
		return fmt.Errorf("upsert datasets: %w", err)
	}
	return nil
}

// followProcessor handles app.bsky.graph.follow
type followProcessor struct {
	base
}

func newFollowProcessor(collection string, deps Deps) Processor {
	return &followProcessor{base{collection: collection, deps: deps}}
}

func (p *followProcessor) Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error) {
	return p.validate(ref, s, &record.Follow{})
}

func (p *followProcessor) Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error {
	if err := p.persistRecords(tx, batch); err != nil {
		return err
	}
	rows := make([]models.Follow, 0, len(batch))
	subjects := make([]string, 0, len(batch))
	for _, v := range batch {
		f := v.Value.(*record.Follow)
		rows = append(rows, models.Follow{URI: v.URI, SubjectDID: f.Subject})
		subjects = append(subjects, f.Subject)
		fx.Invalidate(v.URI)
	}
	if err := ensureUsers(tx, subjects...); err != nil {
		return err
	}
	if err := upsertAll(tx, &rows, "uri"); err != nil {
		return fmt.Errorf("upsert follows: %w", err)
	}
	return nil
}
