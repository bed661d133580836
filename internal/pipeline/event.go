package pipeline

import (
	"encoding/json"
	"time"

	"ca-indexer/internal/record"
)

// Event kinds
const (
	KindCommit   = "commit"
	KindIdentity = "identity"
	KindAccount  = "account"
)

// Commit operations
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event is one message of the upstream commit stream
type Event struct {
	DID      string    `json:"did"`
	TimeUS   int64     `json:"time_us"`
	Kind     string    `json:"kind"`
	Commit   *Commit   `json:"commit,omitempty"`
	Account  *Account  `json:"account,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
}

// Commit is a single record mutation
type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid"`
}

// Account is an account status change
type Account struct {
	Active bool      `json:"active"`
	DID    string    `json:"did"`
	Seq    int64     `json:"seq"`
	Time   time.Time `json:"time"`
}

// Identity is a handle or DID document change
type Identity struct {
	DID    string    `json:"did"`
	Handle string    `json:"handle"`
	Seq    int64     `json:"seq"`
	Time   time.Time `json:"time"`
}

// IsCommit reports whether the event carries a record mutation
func (e *Event) IsCommit() bool {
	return e.Kind == KindCommit && e.Commit != nil
}

// URI returns the record URI of a commit event
func (e *Event) URI() string {
	if e.Commit == nil {
		return ""
	}
	return record.BuildURI(e.DID, e.Commit.Collection, e.Commit.RKey)
}

// IsPlatformProfile reports whether the event creates or updates the
// platform profile of its author
func (e *Event) IsPlatformProfile() bool {
	return e.IsCommit() &&
		e.Commit.Operation != OpDelete &&
		e.Commit.Collection == record.CollectionCAProfile &&
		e.Commit.RKey == record.SelfKey
}
