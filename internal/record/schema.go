package record

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://schemas.cabildoabierto.ar/"

var schemaFiles = map[string]string{
	CollectionPost:         "post.json",
	CollectionArticle:      "article.json",
	CollectionTopicVersion: "topicVersion.json",
	CollectionDataset:      "dataset.json",
	CollectionFollow:       "follow.json",
	CollectionLike:         "subject.json",
	CollectionRepost:       "subject.json",
	CollectionVoteAccept:   "subject.json",
	CollectionVoteReject:   "voteReject.json",
	CollectionBskyProfile:  "profile.json",
	CollectionCAProfile:    "caProfile.json",
}

// ValidationError reports a record that does not match its collection shape
type ValidationError struct {
	Collection string
	URI        string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s record %s: %v", e.Collection, e.URI, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validator checks structured records against the embedded collection schemas
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every embedded collection schema
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBase+e.Name(), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
	}

	compiled := make(map[string]*jsonschema.Schema)
	schemas := make(map[string]*jsonschema.Schema, len(schemaFiles))
	for collection, file := range schemaFiles {
		sch, ok := compiled[file]
		if !ok {
			sch, err = c.Compile(schemaBase + file)
			if err != nil {
				return nil, fmt.Errorf("compile schema %s: %w", file, err)
			}
			compiled[file] = sch
		}
		schemas[collection] = sch
	}
	return &Validator{schemas: schemas}, nil
}

// Validate checks s against the schema of collection. Collections without a
// schema are accepted as-is.
func (v *Validator) Validate(collection, uri string, s Structured) error {
	sch, ok := v.schemas[collection]
	if !ok {
		return nil
	}
	data, err := s.JSON()
	if err != nil {
		return &ValidationError{Collection: collection, URI: uri, Err: err}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ValidationError{Collection: collection, URI: uri, Err: err}
	}
	if err := sch.Validate(inst); err != nil {
		return &ValidationError{Collection: collection, URI: uri, Err: err}
	}
	return nil
}
