package processor

import (
	"errors"
	"fmt"

	"ca-indexer/internal/models"
	"ca-indexer/internal/record"
)

// ErrRegistryFrozen is returned by Register once the registry is frozen
var ErrRegistryFrozen = errors.New("processor registry is frozen")

// ProcessorFactory builds the Processor of a collection
type ProcessorFactory func(collection string, deps Deps) Processor

// DeleteProcessorFactory builds the DeleteProcessor of a collection
type DeleteProcessorFactory func(collection string, deps Deps) DeleteProcessor

// Registry maps collection NSIDs to their processors. It is built once at
// startup and is read-only after Freeze; Register must not race with Lookup.
type Registry struct {
	deps    Deps
	frozen  bool
	procs   map[string]Processor
	deletes map[string]DeleteProcessor
}

// NewRegistry creates a registry with the processors of every indexed collection
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:    deps,
		procs:   make(map[string]Processor),
		deletes: make(map[string]DeleteProcessor),
	}

	r.mustRegister(record.CollectionPost, newPostProcessor, newContentDeleter(&models.Post{}))
	r.mustRegister(record.CollectionArticle, newArticleProcessor, newContentDeleter(&models.Article{}))
	r.mustRegister(record.CollectionTopicVersion, newTopicVersionProcessor, newTopicVersionDeleter)
	r.mustRegister(record.CollectionDataset, newDatasetProcessor, newProjectionDeleter(&models.Dataset{}))
	r.mustRegister(record.CollectionFollow, newFollowProcessor, newProjectionDeleter(&models.Follow{}))
	r.mustRegister(record.CollectionLike, newReactionProcessor(models.ReactionLike), newReactionDeleter)
	r.mustRegister(record.CollectionRepost, newReactionProcessor(models.ReactionRepost), newReactionDeleter)
	r.mustRegister(record.CollectionVoteAccept, newReactionProcessor(models.ReactionAccept), newReactionDeleter)
	r.mustRegister(record.CollectionVoteReject, newReactionProcessor(models.ReactionReject), newReactionDeleter)
	r.mustRegister(record.CollectionBskyProfile, newBskyProfileProcessor, newBskyProfileDeleter)
	r.mustRegister(record.CollectionCAProfile, newCAProfileProcessor, newCAProfileDeleter)
	return r
}

// Register adds or replaces the processors of a collection
func (r *Registry) Register(collection string, pf ProcessorFactory, df DeleteProcessorFactory) error {
	if r.frozen {
		return fmt.Errorf("register %s: %w", collection, ErrRegistryFrozen)
	}
	if pf == nil || df == nil {
		return fmt.Errorf("register %s: nil factory", collection)
	}
	r.procs[collection] = pf(collection, r.deps)
	r.deletes[collection] = df(collection, r.deps)
	return nil
}

func (r *Registry) mustRegister(collection string, pf ProcessorFactory, df DeleteProcessorFactory) {
	if err := r.Register(collection, pf, df); err != nil {
		panic(err)
	}
}

// Freeze makes the registry immutable
func (r *Registry) Freeze() {
	r.frozen = true
}

// Lookup returns the processors of collection. Unknown collections get the
// base processors, which only keep the raw record row.
func (r *Registry) Lookup(collection string) (Processor, DeleteProcessor) {
	p, ok := r.procs[collection]
	if !ok {
		p = newBaseProcessor(collection, r.deps)
	}
	d, ok := r.deletes[collection]
	if !ok {
		d = newBaseDeleter(collection, r.deps)
	}
	return p, d
}

// Collections returns the registered collection NSIDs
func (r *Registry) Collections() []string {
	out := make([]string, 0, len(r.procs))
	for c := range r.procs {
		out = append(out, c)
	}
	return out
}
