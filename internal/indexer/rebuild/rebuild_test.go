package rebuild

import (
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	rows [][2]any
	pos  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	*dest[0].(*string) = row[0].(string)
	ns := dest[1].(*sql.NullString)
	if row[1] == nil {
		*ns = sql.NullString{}
	} else {
		*ns = sql.NullString{String: row[1].(string), Valid: true}
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func collect(docs *[]index.Document) func(index.Document) error {
	return func(d index.Document) error {
		*docs = append(*docs, d)
		return nil
	}
}

func TestScanDocuments(t *testing.T) {
	rows := &fakeRows{rows: [][2]any{
		{"1", "Super service, bon prix"},
		{"2", nil},
		{"", "orphan"},
		{"3", "Trop cher"},
	}}
	var docs []index.Document
	n, skipped, err := scanDocuments(rows, collect(&docs), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []index.Document{
		{ID: "1", Comment: "Super service, bon prix"},
		{ID: "2", Comment: ""},
		{ID: "3", Comment: "Trop cher"},
	}, docs)
}

func TestScanDocumentsStopsOnCallbackError(t *testing.T) {
	rows := &fakeRows{rows: [][2]any{{"1", "a"}, {"2", "b"}}}
	stop := errors.New("stop")
	calls := 0
	_, _, err := scanDocuments(rows, func(index.Document) error {
		calls++
		return stop
	}, slog.Default())
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestScanDocumentsReportsIterationError(t *testing.T) {
	rows := &fakeRows{err: errors.New("connection reset")}
	_, _, err := scanDocuments(rows, func(index.Document) error { return nil }, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWithQuery(t *testing.T) {
	src := NewSource(nil)
	assert.Equal(t, DefaultQuery, src.query)

	q := "SELECT id::text, comment FROM evaluation WHERE restaurant_id = 3"
	assert.Same(t, src, src.WithQuery(q))
	assert.Equal(t, q, src.query)
}
