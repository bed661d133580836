package record

import (
	"fmt"
	"strings"
)

// Collection NSIDs indexed by the pipeline
const (
	CollectionPost         = "app.bsky.feed.post"
	CollectionLike         = "app.bsky.feed.like"
	CollectionRepost       = "app.bsky.feed.repost"
	CollectionFollow       = "app.bsky.graph.follow"
	CollectionBskyProfile  = "app.bsky.actor.profile"
	CollectionCAProfile    = "ar.cabildoabierto.actor.caProfile"
	CollectionArticle      = "ar.cabildoabierto.feed.article"
	CollectionDataset      = "ar.cabildoabierto.data.dataset"
	CollectionTopicVersion = "ar.cabildoabierto.wiki.topicVersion"
	CollectionVoteAccept   = "ar.cabildoabierto.wiki.voteAccept"
	CollectionVoteReject   = "ar.cabildoabierto.wiki.voteReject"
)

// SelfKey is the record key of singleton records such as profiles
const SelfKey = "self"

// BuildURI returns the AT-URI for a record in the given repository
func BuildURI(did, collection, rkey string) string {
	return fmt.Sprintf("at://%s/%s/%s", did, collection, rkey)
}

// URI is a parsed AT-URI
type URI struct {
	DID        string
	Collection string
	RKey       string
}

// String returns the canonical at:// form
func (u URI) String() string {
	return BuildURI(u.DID, u.Collection, u.RKey)
}

// ParseURI splits an at:// URI into its authority, collection and record key
func ParseURI(uri string) (URI, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return URI{}, fmt.Errorf("invalid at-uri %q: missing scheme", uri)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return URI{}, fmt.Errorf("invalid at-uri %q: expected did/collection/rkey", uri)
	}
	return URI{DID: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// DIDFromURI returns the repository DID of uri, or "" when uri is malformed
func DIDFromURI(uri string) string {
	u, err := ParseURI(uri)
	if err != nil {
		return ""
	}
	return u.DID
}

// CollectionFromURI returns the collection of uri, or "" when uri is malformed
func CollectionFromURI(uri string) string {
	u, err := ParseURI(uri)
	if err != nil {
		return ""
	}
	return u.Collection
}
