package validator

import (
	"strings"
	"testing"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name   string
		doc    index.Document
		fields []string
	}{
		{"valid", index.Document{ID: "12", Comment: "Très bon accueil"}, nil},
		{"empty comment allowed", index.Document{ID: "12"}, nil},
		{"missing id", index.Document{Comment: "x"}, []string{"id"}},
		{"blank id", index.Document{ID: "  ", Comment: "x"}, []string{"id"}},
		{"padded id", index.Document{ID: " 12", Comment: "x"}, []string{"id"}},
		{"long id", index.Document{ID: strings.Repeat("a", 256)}, []string{"id"}},
		{"long comment", index.Document{ID: "1", Comment: strings.Repeat("a", maxCommentLength+1)}, []string{"comment"}},
		{"invalid utf8", index.Document{ID: "1", Comment: "\xff\xfe"}, []string{"comment"}},
		{"long field", index.Document{ID: "1", Fields: map[string]string{"restaurant": strings.Repeat("r", maxFieldLength+1)}}, []string{"fields.restaurant"}},
		{"several", index.Document{Comment: "\xff"}, []string{"id", "comment"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}
			assert.Len(t, verr.Fields, len(tt.fields))
		})
	}
}

func TestValidationErrorMessageIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"id": "id is required", "comment": "too long"}}
	assert.Equal(t, "comment: too long; id: id is required", err.Error())
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("42"))
	assert.ErrorIs(t, ValidateID(""), apperrors.ErrInvalidInput)
}
