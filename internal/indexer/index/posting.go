// Package index holds the postings model shared by the writer, the segment
// format and the query engine, plus the in-memory buffer of uncommitted
// documents.
package index

// Posting records that a term occurs Frequency times in the document with
// ordinal Ord. Ordinals are assigned in insertion order and never reused,
// so they double as the tie-breaker for equal scores.
type Posting struct {
	Ord       uint32 `json:"o"`
	Frequency uint32 `json:"f"`
}

// PostingList is sorted by Ord ascending.
type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}

// Document is what callers hand to the writer.
type Document struct {
	ID      string
	Comment string
	Fields  map[string]string
}

// StoredDoc is the retrievable side of a document: its external id, raw
// comment, extra fields and analysed length (number of kept terms).
type StoredDoc struct {
	Ord     uint32            `json:"o"`
	ID      string            `json:"id"`
	Comment string            `json:"c"`
	Fields  map[string]string `json:"x,omitempty"`
	Length  uint32            `json:"l"`
}
