// Package rebuild reads evaluation comments back from PostgreSQL so the
// index can be rebuilt from the primary store.
package rebuild

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/validator"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
)

// DefaultQuery selects every evaluation in id order. Ids are read as text
// whatever their column type.
const DefaultQuery = `SELECT id::text, comment FROM evaluation ORDER BY id`

// TxRunner is satisfied by *postgres.Client.
type TxRunner interface {
	ReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// Source streams documents out of one SQL query. The query must return
// the document id and the comment, in that order.
type Source struct {
	db     TxRunner
	query  string
	logger *slog.Logger
}

func NewSource(db TxRunner) *Source {
	return &Source{
		db:     db,
		query:  DefaultQuery,
		logger: logger.WithComponent("rebuild-source"),
	}
}

// WithQuery replaces the selection query.
func (s *Source) WithQuery(q string) *Source {
	s.query = q
	return s
}

// Documents calls fn for every row inside a single read-only transaction.
// Rows that fail validation are logged and skipped. An error from fn stops
// the scan and is returned.
func (s *Source) Documents(ctx context.Context, fn func(index.Document) error) error {
	return s.db.ReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.query)
		if err != nil {
			return fmt.Errorf("querying evaluations: %w", err)
		}
		defer rows.Close()
		n, skipped, err := scanDocuments(rows, fn, s.logger)
		if err != nil {
			return err
		}
		s.logger.Info("evaluations scanned", "documents", n, "skipped", skipped)
		return nil
	})
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanDocuments(rows rowScanner, fn func(index.Document) error, log *slog.Logger) (n, skipped int, err error) {
	for rows.Next() {
		var (
			id      string
			comment sql.NullString
		)
		if err := rows.Scan(&id, &comment); err != nil {
			return n, skipped, fmt.Errorf("scanning evaluation row: %w", err)
		}
		doc := index.Document{ID: id, Comment: comment.String}
		if err := validator.ValidateDocument(doc); err != nil {
			log.Warn("skipping invalid evaluation", "doc_id", id, "error", err)
			skipped++
			continue
		}
		if err := fn(doc); err != nil {
			return n, skipped, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, skipped, fmt.Errorf("iterating evaluations: %w", err)
	}
	return n, skipped, nil
}
