package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidBlobReference is returned when a blob node has no resolvable CID link
var ErrInvalidBlobReference = errors.New("invalid blob reference")

// BlobRef is the normalized form of a blob node inside a record
type BlobRef struct {
	Type     string `json:"$type"`
	CID      string `json:"cid"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Structured is a record payload whose blob nodes have been resolved into BlobRef
// shaped maps. Every other node is a structural copy of the raw payload.
type Structured map[string]any

// Parse decodes a raw record payload and normalizes every blob node it contains.
func Parse(raw []byte) (Structured, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty record payload")
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	out, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	return Structured(out.(map[string]any)), nil
}

func normalize(node any) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if isBlob(n) {
			return resolveBlob(n)
		}
		out := make(map[string]any, len(n))
		for k, v := range n {
			nv, err := normalize(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			nv, err := normalize(v)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = nv
		}
		return out, nil
	default:
		return node, nil
	}
}

// isBlob reports whether a node is tagged as a blob, including the legacy
// untyped {cid, mimeType} shape.
func isBlob(n map[string]any) bool {
	if t, ok := n["$type"].(string); ok {
		return t == "blob"
	}
	_, hasCID := n["cid"].(string)
	_, hasMime := n["mimeType"].(string)
	return hasCID && hasMime
}

func resolveBlob(n map[string]any) (map[string]any, error) {
	var cid string
	if ref, ok := n["ref"].(map[string]any); ok {
		cid, _ = ref["$link"].(string)
	}
	if cid == "" {
		if _, typed := n["$type"]; !typed {
			cid, _ = n["cid"].(string)
		}
	}
	if cid == "" {
		return nil, ErrInvalidBlobReference
	}

	blob := map[string]any{
		"$type": "blob",
		"cid":   cid,
	}
	if mime, ok := n["mimeType"].(string); ok && mime != "" {
		blob["mimeType"] = mime
	}
	if size, ok := n["size"].(float64); ok && size > 0 {
		blob["size"] = int64(size)
	}
	return blob, nil
}

// Type returns the $type tag of the record, if any
func (s Structured) Type() string {
	t, _ := s["$type"].(string)
	return t
}

// CreatedAt returns the record's own createdAt, falling back to fallback when
// it is missing or unparseable.
func (s Structured) CreatedAt(fallback time.Time) time.Time {
	raw, _ := s["createdAt"].(string)
	if raw == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999Z0700", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

// JSON encodes the normalized record
func (s Structured) JSON() ([]byte, error) {
	return json.Marshal(map[string]any(s))
}

// Decode copies the normalized record into a typed record struct
func (s Structured) Decode(v any) error {
	data, err := s.JSON()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
