package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Default batching and retry policy
const (
	DefaultBatchSize   = 500
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 200 * time.Millisecond
)

// Engine runs processors over batches: validation, chunked transactional
// persistence with retries, then post-commit side effects
type Engine struct {
	db          *gorm.DB
	registry    *Registry
	invalidator Invalidator
	queue       Enqueuer
	logger      *slog.Logger

	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
}

// NewEngine creates a new processing engine. A nil invalidator or queue
// disables that side effect.
func NewEngine(db *gorm.DB, registry *Registry, invalidator Invalidator, queue Enqueuer, logger *slog.Logger, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		db:          db,
		registry:    registry,
		invalidator: invalidator,
		queue:       queue,
		logger:      logger,
		batchSize:   batchSize,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
	}
}

// Process validates and persists create/update inputs for one collection.
// Invalid records are logged and dropped; a chunk whose transaction keeps
// failing is skipped and reported in the returned error.
func (e *Engine) Process(ctx context.Context, collection string, inputs []Input) error {
	p, _ := e.registry.Lookup(collection)

	inputs = lastPerURI(inputs)
	valid := make([]Valid, 0, len(inputs))
	for _, in := range inputs {
		v, err := p.Validate(ctx, in.Ref, in.Record)
		if err != nil {
			e.logger.Warn("dropping invalid record", "collection", collection, "uri", in.URI, "error", err)
			continue
		}
		valid = append(valid, v)
	}
	if len(valid) == 0 {
		return nil
	}
	if prep, ok := p.(Preparer); ok {
		valid = prep.Prepare(ctx, valid)
	}

	var errs []error
	for start := 0; start < len(valid); start += e.batchSize {
		chunk := valid[start:min(start+e.batchSize, len(valid))]
		fx, err := e.transact(ctx, func(tx *gorm.DB, fx *SideEffects) error {
			return p.Persist(ctx, tx, chunk, fx)
		})
		if err != nil {
			e.logger.Error("failed to persist batch", "collection", collection, "records", len(chunk), "error", err)
			errs = append(errs, fmt.Errorf("persist %s: %w", collection, err))
			continue
		}
		e.flush(ctx, fx)
	}
	return errors.Join(errs...)
}

// Delete removes the rows owned by uris of one collection
func (e *Engine) Delete(ctx context.Context, collection string, uris []string) error {
	_, dp := e.registry.Lookup(collection)

	uris = distinct(uris)
	var errs []error
	for start := 0; start < len(uris); start += e.batchSize {
		chunk := uris[start:min(start+e.batchSize, len(uris))]
		fx, err := e.transact(ctx, func(tx *gorm.DB, fx *SideEffects) error {
			fx.Invalidate(chunk...)
			return dp.DeleteByURIs(ctx, tx, chunk, fx)
		})
		if err != nil {
			e.logger.Error("failed to delete batch", "collection", collection, "records", len(chunk), "error", err)
			errs = append(errs, fmt.Errorf("delete %s: %w", collection, err))
			continue
		}
		e.flush(ctx, fx)
	}
	return errors.Join(errs...)
}

// transact runs fn in a transaction, retrying with a doubling delay. Each
// attempt starts from empty side effects so a rolled back attempt leaves none.
func (e *Engine) transact(ctx context.Context, fn func(tx *gorm.DB, fx *SideEffects) error) (*SideEffects, error) {
	var fx *SideEffects
	err := retry(ctx, e.maxAttempts, e.retryDelay, func() error {
		fx = &SideEffects{}
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(tx, fx)
		})
		if err != nil && ctx.Err() == nil {
			e.logger.Warn("transaction failed", "error", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrTransientStorage, e.maxAttempts, err)
	}
	return fx, nil
}

// flush delivers committed side effects. Failures are logged; the rows they
// describe are already durable.
func (e *Engine) flush(ctx context.Context, fx *SideEffects) {
	if uris := fx.URIs(); len(uris) > 0 && e.invalidator != nil {
		err := retry(ctx, e.maxAttempts, e.retryDelay, func() error {
			return e.invalidator.OnRecordsChanged(ctx, uris)
		})
		if err != nil {
			e.logger.Error("cache invalidation failed", "uris", len(uris), "error", err)
		}
	}
	if e.queue == nil {
		return
	}
	for _, j := range fx.jobs {
		err := retry(ctx, e.maxAttempts, e.retryDelay, func() error {
			return e.queue.Enqueue(ctx, j.name, j.payload, j.priority)
		})
		if err != nil {
			e.logger.Error("failed to enqueue job", "job", j.name, "error", err)
		}
	}
}

// lastPerURI keeps the last input of every uri, in order of last appearance
func lastPerURI(inputs []Input) []Input {
	last := make(map[string]int, len(inputs))
	for i, in := range inputs {
		last[in.URI] = i
	}
	if len(last) == len(inputs) {
		return inputs
	}
	out := make([]Input, 0, len(last))
	for i, in := range inputs {
		if last[in.URI] == i {
			out = append(out, in)
		}
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
