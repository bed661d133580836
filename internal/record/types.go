package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StrongRef references a specific version of a record
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef contains references to the parent and root of a reply chain
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// Facet annotates a byte range of a text
type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features"`
}

// ByteSlice represents a byte range
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// Feature is a single facet feature: link, mention, tag or topic mention
type Feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
	Tag  string `json:"tag,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Facet feature types
const (
	FeatureMention      = "app.bsky.richtext.facet#mention"
	FeatureLink         = "app.bsky.richtext.facet#link"
	FeatureTopicMention = "ar.cabildoabierto.richtext.facet#topicMention"
)

// Embed types that reference other records
const (
	EmbedRecord          = "app.bsky.embed.record"
	EmbedRecordWithMedia = "app.bsky.embed.recordWithMedia"
)

// SelfLabels is the com.atproto.label.defs#selfLabels shape
type SelfLabels struct {
	Values []struct {
		Val string `json:"val"`
	} `json:"values"`
}

// Vals returns the label values
func (l *SelfLabels) Vals() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.Values))
	for _, v := range l.Values {
		if v.Val != "" {
			out = append(out, v.Val)
		}
	}
	return out
}

// Post is an app.bsky.feed.post record
type Post struct {
	Text   string          `json:"text"`
	Langs  []string        `json:"langs,omitempty"`
	Reply  *ReplyRef       `json:"reply,omitempty"`
	Facets []Facet         `json:"facets,omitempty"`
	Embed  json.RawMessage `json:"embed,omitempty"`
	Labels *SelfLabels     `json:"labels,omitempty"`
}

// QuotedRecord returns the record quoted by the post embed, if any
func (p *Post) QuotedRecord() *StrongRef {
	if len(p.Embed) == 0 {
		return nil
	}
	var embed struct {
		Type   string          `json:"$type"`
		Record json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(p.Embed, &embed); err != nil || len(embed.Record) == 0 {
		return nil
	}
	switch embed.Type {
	case EmbedRecord:
		var ref StrongRef
		if err := json.Unmarshal(embed.Record, &ref); err != nil || ref.URI == "" {
			return nil
		}
		return &ref
	case EmbedRecordWithMedia:
		var inner struct {
			Record StrongRef `json:"record"`
		}
		if err := json.Unmarshal(embed.Record, &inner); err != nil || inner.Record.URI == "" {
			return nil
		}
		return &inner.Record
	}
	return nil
}

// MentionedDIDs returns the identities mentioned through facets
func MentionedDIDs(facets []Facet) []string {
	var dids []string
	for _, f := range facets {
		for _, feat := range f.Features {
			if feat.Type == FeatureMention && feat.DID != "" {
				dids = append(dids, feat.DID)
			}
		}
	}
	return dids
}

// TopicMentions returns the distinct topic ids mentioned through facets
func TopicMentions(facets []Facet) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, f := range facets {
		for _, feat := range f.Features {
			if feat.Type == FeatureTopicMention && feat.ID != "" && !seen[feat.ID] {
				seen[feat.ID] = true
				ids = append(ids, feat.ID)
			}
		}
	}
	return ids
}

// Text is a record body that is either inline or stored in a blob
type Text struct {
	Inline *string
	Blob   *BlobRef
}

// UnmarshalJSON accepts a JSON string or a normalized blob node
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t.Inline = &s
		return nil
	}
	var blob BlobRef
	if err := json.Unmarshal(data, &blob); err != nil {
		return fmt.Errorf("text: %w", err)
	}
	if blob.CID == "" {
		return fmt.Errorf("text: %w", ErrInvalidBlobReference)
	}
	t.Blob = &blob
	return nil
}

// MarshalJSON writes the inline string or the blob node
func (t Text) MarshalJSON() ([]byte, error) {
	switch {
	case t.Inline != nil:
		return json.Marshal(*t.Inline)
	case t.Blob != nil:
		return json.Marshal(t.Blob)
	default:
		return []byte("null"), nil
	}
}

// Article is an ar.cabildoabierto.feed.article record
type Article struct {
	Title  string          `json:"title"`
	Text   Text            `json:"text"`
	Format string          `json:"format,omitempty"`
	Facets []Facet         `json:"facets,omitempty"`
	Embeds json.RawMessage `json:"embeds,omitempty"`
	Labels *SelfLabels     `json:"labels,omitempty"`
}

// TopicProp is a named property of a topic version
type TopicProp struct {
	Name  string `json:"name"`
	Value struct {
		Type  string          `json:"$type"`
		Value json.RawMessage `json:"value"`
	} `json:"value"`
}

// Topic property names
const (
	PropTitle      = "Título"
	PropCategories = "Categorías"
)

// TopicVersion is an ar.cabildoabierto.wiki.topicVersion record
type TopicVersion struct {
	ID      string          `json:"id"`
	Text    Text            `json:"text"`
	Format  string          `json:"format,omitempty"`
	Message string          `json:"message,omitempty"`
	Props   []TopicProp     `json:"props,omitempty"`
	Facets  []Facet         `json:"facets,omitempty"`
	Embeds  json.RawMessage `json:"embeds,omitempty"`
}

// Title returns the topic title property, defaulting to the topic id
func (v *TopicVersion) Title() string {
	for _, p := range v.Props {
		if p.Name != PropTitle {
			continue
		}
		var s string
		if err := json.Unmarshal(p.Value.Value, &s); err == nil && s != "" {
			return s
		}
	}
	return v.ID
}

// Categories returns the topic categories property
func (v *TopicVersion) Categories() []string {
	for _, p := range v.Props {
		if p.Name != PropCategories {
			continue
		}
		var cats []string
		if err := json.Unmarshal(p.Value.Value, &cats); err == nil {
			return cats
		}
	}
	return nil
}

// DatasetColumn describes one column of a dataset
type DatasetColumn struct {
	Name string `json:"name"`
}

// Dataset is an ar.cabildoabierto.data.dataset record
type Dataset struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Columns     []DatasetColumn `json:"columns"`
	Data        *BlobRef        `json:"data,omitempty"`
	Format      string          `json:"format,omitempty"`
}

// Follow is an app.bsky.graph.follow record
type Follow struct {
	Subject string `json:"subject"`
}

// Subject is the shape shared by likes, reposts and acceptance votes
type Subject struct {
	Subject StrongRef `json:"subject"`
}

// VoteReject is an ar.cabildoabierto.wiki.voteReject record
type VoteReject struct {
	Subject StrongRef `json:"subject"`
	Message string    `json:"message,omitempty"`
	Labels  []string  `json:"labels,omitempty"`
}

// Profile is an app.bsky.actor.profile record
type Profile struct {
	DisplayName string   `json:"displayName,omitempty"`
	Description string   `json:"description,omitempty"`
	Avatar      *BlobRef `json:"avatar,omitempty"`
	Banner      *BlobRef `json:"banner,omitempty"`
}

// CAProfile is an ar.cabildoabierto.actor.caProfile record
type CAProfile struct {
	CreatedAt string `json:"createdAt,omitempty"`
}
