// Package maintainers recomputes derived state that no single record upsert
// can keep current: topic interaction and reference graphs, edited flags,
// engagement counters, topic acceptance and notifications.
//
// Maintainers are independent and idempotent. They run in no particular
// order relative to each other, so derived rows are eventually consistent:
// readers see the last computed values until the next run lands.
package maintainers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"ca-indexer/internal/jobs"

	"gorm.io/gorm"
)

// MaxThreadDepth bounds the reply chains followed by the interaction graph
const MaxThreadDepth = 50

// DefaultEngagementWindow scopes engagement recomputation to recent content
const DefaultEngagementWindow = 30 * 24 * time.Hour

// Enqueuer queues follow-up jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, priority int) error
}

// Maintainers groups every derived-state maintainer
type Maintainers struct {
	Interactions  *InteractionGraph
	References    *References
	Edited        *EditedFlags
	Engagement    *Engagement
	Versions      *TopicVersions
	Notifications *Notifications

	// Sync is optional; without it referenced records are only indexed when
	// they arrive on the stream.
	Sync *ReferencedRecords

	pageSize int
}

// New creates every maintainer over db
func New(db *gorm.DB, queue Enqueuer, logger *slog.Logger, pageSize int) *Maintainers {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Maintainers{
		Interactions:  NewInteractionGraph(db, logger, pageSize),
		References:    NewReferences(db, queue, logger, pageSize),
		Edited:        NewEditedFlags(db, logger, pageSize),
		Engagement:    NewEngagement(db, logger, pageSize),
		Versions:      NewTopicVersions(db, logger),
		Notifications: NewNotifications(db, logger, pageSize),
		pageSize:      pageSize,
	}
}

// Register binds the maintainers to their job names
func (m *Maintainers) Register(r *jobs.Runner) {
	r.Handle(jobs.UpdateInteractions, topicsHandler(m.Interactions.Rebuild))
	r.Handle(jobs.UpdateReferences, urisHandler(m.References.Rebuild))
	r.Handle(jobs.UpdateEditedFlags, urisHandler(m.Edited.Recompute))
	r.Handle(jobs.UpdateTopicCurrentVersion, topicsHandler(m.Versions.UpdateCurrent))
	r.Handle(jobs.CreateNotifications, urisHandler(m.Notifications.Create))
	r.Handle(jobs.UpdateEngagement, func(ctx context.Context, _ json.RawMessage) error {
		return m.Engagement.Recompute(ctx, DefaultEngagementWindow)
	})
	if m.Sync != nil {
		r.Handle(jobs.SyncReferencedRecords, urisHandler(m.Sync.Sync))
	}
}

// Tasks lists the full-table maintenance runs by name
var Tasks = []string{"interactions", "references", "edited", "engagement", "topics"}

// Task returns the full-table run named name
func (m *Maintainers) Task(name string) (func(context.Context) error, bool) {
	switch name {
	case "interactions":
		return m.Interactions.RebuildAll, true
	case "references":
		return m.References.RebuildAll, true
	case "edited":
		return m.Edited.RecomputeAll, true
	case "engagement":
		return func(ctx context.Context) error {
			return m.Engagement.Recompute(ctx, DefaultEngagementWindow)
		}, true
	case "topics":
		return func(ctx context.Context) error {
			return m.Versions.UpdateAll(ctx, m.pageSize)
		}, true
	}
	return nil, false
}

func urisHandler(fn func(context.Context, []string) error) jobs.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p jobs.URIsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return fn(ctx, p.URIs)
	}
}

func topicsHandler(fn func(context.Context, []string) error) jobs.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p jobs.TopicsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return fn(ctx, p.TopicIDs)
	}
}

// pages runs fn over the values of column selected by query, one page at a
// time, until a page comes back short
func pages(ctx context.Context, query *gorm.DB, column string, pageSize int, fn func([]string) error) error {
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		var values []string
		err := query.Session(&gorm.Session{}).
			Order(column).
			Offset(offset).
			Limit(pageSize).
			Pluck(column, &values).Error
		if err != nil {
			return fmt.Errorf("page %s at offset %d: %w", column, offset, err)
		}
		if len(values) > 0 {
			if err := fn(values); err != nil {
				return err
			}
		}
		if len(values) < pageSize {
			return nil
		}
	}
}

// chunks splits values into slices of at most size elements
func chunks(values []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(values); start += size {
		out = append(out, values[start:min(start+size, len(values))])
	}
	return out
}

func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
