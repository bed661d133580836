// Package pipeline routes batches of commit events to the collection
// processors and replays stored records through them.
package pipeline

import (
	"context"
	"log/slog"

	"ca-indexer/internal/processor"
	"ca-indexer/internal/record"

	"gorm.io/gorm"
)

// Dispatcher classifies commit events and hands each group to the engine
type Dispatcher struct {
	db     *gorm.DB
	engine *processor.Engine
	logger *slog.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(db *gorm.DB, engine *processor.Engine, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{db: db, engine: engine, logger: logger}
}

type group struct {
	collection string
	inputs     []processor.Input
	uris       []string
}

// Dispatch applies a batch of events. Events for distinct records are grouped
// by collection; a record that appears more than once starts a new segment so
// its mutations apply in arrival order. Errors are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) {
	commits := make([]Event, 0, len(events))
	var platform []string
	for _, e := range events {
		if !e.IsCommit() {
			continue
		}
		switch e.Commit.Operation {
		case OpCreate, OpUpdate, OpDelete:
		default:
			d.logger.Warn("ignoring commit with unknown operation", "operation", e.Commit.Operation, "uri", e.URI())
			continue
		}
		if e.IsPlatformProfile() {
			platform = append(platform, e.DID)
		}
		commits = append(commits, e)
	}
	if len(platform) > 0 {
		if err := processor.MarkPlatformUsers(d.db.WithContext(ctx), platform...); err != nil {
			d.logger.Error("failed to mark platform users", "users", len(platform), "error", err)
		}
	}

	for _, seg := range segments(commits) {
		if ctx.Err() != nil {
			return
		}
		d.dispatchSegment(ctx, seg)
	}
}

// dispatchSegment runs creates and updates before deletes; no record occurs
// twice within a segment
func (d *Dispatcher) dispatchSegment(ctx context.Context, events []Event) {
	var upserts, deletes []*group
	upsertIdx := make(map[string]*group)
	deleteIdx := make(map[string]*group)

	for _, e := range events {
		c := e.Commit
		if c.Operation == OpDelete {
			g := groupFor(&deletes, deleteIdx, c.Collection)
			g.uris = append(g.uris, e.URI())
			continue
		}
		s, err := record.Parse(c.Record)
		if err != nil {
			d.logger.Warn("dropping unparseable record", "collection", c.Collection, "uri", e.URI(), "error", err)
			continue
		}
		g := groupFor(&upserts, upsertIdx, c.Collection)
		g.inputs = append(g.inputs, processor.Input{
			Ref: processor.Ref{
				URI:        e.URI(),
				CID:        c.CID,
				AuthorDID:  e.DID,
				Collection: c.Collection,
				RKey:       c.RKey,
			},
			Record: s,
		})
	}

	for _, g := range upserts {
		if err := d.engine.Process(ctx, g.collection, g.inputs); err != nil {
			d.logger.Error("batch failed", "collection", g.collection, "records", len(g.inputs), "error", err)
		}
	}
	for _, g := range deletes {
		if err := d.engine.Delete(ctx, g.collection, g.uris); err != nil {
			d.logger.Error("delete batch failed", "collection", g.collection, "records", len(g.uris), "error", err)
		}
	}
}

func groupFor(groups *[]*group, idx map[string]*group, collection string) *group {
	if g, ok := idx[collection]; ok {
		return g
	}
	g := &group{collection: collection}
	idx[collection] = g
	*groups = append(*groups, g)
	return g
}

// segments splits events in arrival order so that no uri repeats inside a segment
func segments(events []Event) [][]Event {
	var out [][]Event
	var current []Event
	seen := make(map[string]bool)
	for _, e := range events {
		uri := e.URI()
		if seen[uri] {
			out = append(out, current)
			current = nil
			seen = make(map[string]bool)
		}
		seen[uri] = true
		current = append(current, e)
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}
