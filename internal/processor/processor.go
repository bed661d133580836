// Package processor turns validated records into relational rows. Every
// collection has a Processor that validates and persists create/update events
// and a DeleteProcessor that removes the rows a record owns.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ca-indexer/internal/record"

	"gorm.io/gorm"
)

// ErrTransientStorage is returned when a batch transaction keeps failing after
// every retry attempt
var ErrTransientStorage = errors.New("transient storage error")

// Invalidator is notified of records whose cached reads are stale
type Invalidator interface {
	OnRecordsChanged(ctx context.Context, uris []string) error
}

// Enqueuer queues named background jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, priority int) error
}

// BlobFetcher downloads blob bytes by content hash from the author's repository
type BlobFetcher interface {
	FetchBlob(ctx context.Context, did, cid string) ([]byte, error)
}

// Ref identifies one version of a record
type Ref struct {
	URI        string
	CID        string
	AuthorDID  string
	Collection string
	RKey       string
}

// Input is a record waiting to be validated
type Input struct {
	Ref
	Record record.Structured
}

// Valid is a record that passed validation
type Valid struct {
	Ref
	Record    record.Structured
	CreatedAt time.Time

	// Value holds the typed record decoded by the collection's processor.
	Value any

	// Body is the resolved text of records whose text may live in a blob.
	Body *string
}

// Processor validates and persists create/update events of one collection
type Processor interface {
	Collection() string
	Validate(ctx context.Context, ref Ref, s record.Structured) (Valid, error)
	Persist(ctx context.Context, tx *gorm.DB, batch []Valid, fx *SideEffects) error
}

// Preparer is implemented by processors that resolve external data, such as
// blob text bodies, before the persistence transaction starts
type Preparer interface {
	Prepare(ctx context.Context, batch []Valid) []Valid
}

// DeleteProcessor removes every row owned by the given records
type DeleteProcessor interface {
	DeleteByURIs(ctx context.Context, tx *gorm.DB, uris []string, fx *SideEffects) error
}

// Deps are the collaborators shared by the processors of a registry
type Deps struct {
	Logger    *slog.Logger
	Validator *record.Validator
	Blobs     BlobFetcher
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
