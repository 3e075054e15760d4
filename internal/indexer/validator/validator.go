// Package validator checks documents before they reach the index writer
// and reports every offending field at once.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
)

const (
	maxIDLength      = 255
	maxCommentLength = 64 * 1024
	maxFields        = 32
	maxFieldLength   = 4096
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// Unwrap lets callers match validation failures with
// errors.Is(err, apperrors.ErrInvalidInput).
func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

// ValidateDocument checks the id, comment and extra fields of doc. An empty
// comment is allowed: the document is stored but matches no search.
func ValidateDocument(doc index.Document) error {
	errs := make(map[string]string)

	id := strings.TrimSpace(doc.ID)
	switch {
	case id == "":
		errs["id"] = "id is required"
	case id != doc.ID:
		errs["id"] = "id must not have surrounding whitespace"
	case len(id) > maxIDLength:
		errs["id"] = fmt.Sprintf("id must be at most %d bytes", maxIDLength)
	case !utf8.ValidString(id):
		errs["id"] = "id must be valid UTF-8"
	}

	if len(doc.Comment) > maxCommentLength {
		errs["comment"] = fmt.Sprintf("comment must be at most %d bytes", maxCommentLength)
	} else if !utf8.ValidString(doc.Comment) {
		errs["comment"] = "comment must be valid UTF-8"
	}

	if len(doc.Fields) > maxFields {
		errs["fields"] = fmt.Sprintf("at most %d extra fields are allowed", maxFields)
	}
	for k, v := range doc.Fields {
		if k == "" {
			errs["fields"] = "field names must not be empty"
			continue
		}
		if len(v) > maxFieldLength {
			errs["fields."+k] = fmt.Sprintf("must be at most %d bytes", maxFieldLength)
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateID checks an id on its own, as used by deletions.
func ValidateID(id string) error {
	return ValidateDocument(index.Document{ID: id})
}
