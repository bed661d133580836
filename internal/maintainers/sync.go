package maintainers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ca-indexer/internal/bluesky"
	"ca-indexer/internal/models"
	"ca-indexer/internal/pipeline"
	"ca-indexer/internal/record"

	"gorm.io/gorm"
)

// RecordGetter reads a single record from its repository
type RecordGetter interface {
	GetRecord(ctx context.Context, uri string) (*bluesky.RecordResponse, error)
}

// Submitter feeds events to the ingestion pipeline
type Submitter interface {
	Submit(ctx context.Context, events []pipeline.Event)
}

// ReferencedRecords fetches records that indexed content points at but that
// never arrived on the stream, and ingests them as creates
type ReferencedRecords struct {
	db        *gorm.DB
	getter    RecordGetter
	submitter Submitter
	logger    *slog.Logger
}

// NewReferencedRecords creates a new referenced records maintainer
func NewReferencedRecords(db *gorm.DB, getter RecordGetter, submitter Submitter, logger *slog.Logger) *ReferencedRecords {
	return &ReferencedRecords{db: db, getter: getter, submitter: submitter, logger: logger}
}

// Sync fetches and ingests the given records that are not indexed yet
func (s *ReferencedRecords) Sync(ctx context.Context, uris []string) error {
	uris = distinct(uris)
	if len(uris) == 0 {
		return nil
	}
	var known []string
	if err := s.db.WithContext(ctx).Model(&models.Record{}).Where("uri IN ?", uris).Pluck("uri", &known).Error; err != nil {
		return fmt.Errorf("load known records: %w", err)
	}
	indexed := make(map[string]bool, len(known))
	for _, uri := range known {
		indexed[uri] = true
	}

	var events []pipeline.Event
	for _, uri := range uris {
		if indexed[uri] {
			continue
		}
		parsed, err := record.ParseURI(uri)
		if err != nil {
			s.logger.Warn("skipping malformed referenced uri", "uri", uri, "error", err)
			continue
		}
		resp, err := s.getter.GetRecord(ctx, uri)
		if errors.Is(err, bluesky.ErrRecordNotFound) {
			s.logger.Debug("referenced record not found", "uri", uri)
			continue
		}
		if err != nil {
			return fmt.Errorf("get record %s: %w", uri, err)
		}
		events = append(events, pipeline.Event{
			DID:  parsed.DID,
			Kind: pipeline.KindCommit,
			Commit: &pipeline.Commit{
				Operation:  pipeline.OpCreate,
				Collection: parsed.Collection,
				RKey:       parsed.RKey,
				Record:     resp.Value,
				CID:        resp.CID,
			},
		})
	}
	if len(events) == 0 {
		return nil
	}
	s.submitter.Submit(ctx, events)
	s.logger.Info("referenced records synced", "count", len(events))
	return nil
}
