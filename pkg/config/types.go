package config

import (
	"fmt"
	"strings"

	"github.com/netfence/netfence/pkg/engine"
	"github.com/netfence/netfence/pkg/registry"
)

// APIVersion is the document schema version this loader accepts.
const APIVersion = "netfence.io/v1"

// Bundle is the result of one load: the object inventory, the policy
// documents, and every problem found on the way.
type Bundle struct {
	// Objects is the loaded registry inventory.
	Objects registry.Objects

	// Policies are the loaded network policy documents.
	Policies []*engine.NetworkPolicy

	// SourceFiles are the YAML files that were read, in walk order.
	SourceFiles []string

	// Errors lists every document that failed schema or struct
	// validation. The bundle still carries the documents that loaded.
	Errors []ValidationError
}

// Err folds the collected validation errors into a single structural
// error, or returns nil when the bundle is clean.
func (b *Bundle) Err() error {
	if len(b.Errors) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(b.Errors))
	for _, e := range b.Errors {
		msgs = append(msgs, e.String())
	}
	return engine.NewRunError(engine.ErrCodeValidation,
		fmt.Sprintf("%d invalid document(s):\n  %s", len(b.Errors), strings.Join(msgs, "\n  ")),
		nil)
}

// ValidationError locates one rejected document.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file"`

	// Document is the zero-based document index within the file.
	Document int `json:"document"`

	// Kind is the declared kind, when one could be read.
	Kind string `json:"kind,omitempty"`

	// Name is the declared metadata.name, when one could be read.
	Name string `json:"name,omitempty"`

	// Message is the underlying schema or decode error.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	loc := fmt.Sprintf("%s[%d]", e.File, e.Document)
	if e.Kind != "" && e.Name != "" {
		loc = fmt.Sprintf("%s (%s/%s)", loc, e.Kind, e.Name)
	} else if e.Kind != "" {
		loc = fmt.Sprintf("%s (%s)", loc, e.Kind)
	}
	return loc + ": " + e.Message
}
