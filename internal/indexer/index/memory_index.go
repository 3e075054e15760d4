package index

import (
	"sort"
	"sync"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/tokenizer"
)

// MemoryIndex buffers analysed documents until the next commit turns them
// into a segment.
type MemoryIndex struct {
	mu       sync.RWMutex
	analyzer *tokenizer.Analyzer
	index    map[string]map[uint32]uint32
	docs     map[uint32]StoredDoc
	size     int64
}

func NewMemoryIndex(analyzer *tokenizer.Analyzer) *MemoryIndex {
	return &MemoryIndex{
		analyzer: analyzer,
		index:    make(map[string]map[uint32]uint32),
		docs:     make(map[uint32]StoredDoc),
	}
}

// AddDocument analyses doc.Comment and records it under ord.
func (m *MemoryIndex) AddDocument(ord uint32, doc Document) StoredDoc {
	tokens := m.analyzer.Tokenize(doc.Comment)

	termFreq := make(map[string]uint32, len(tokens))
	for _, token := range tokens {
		termFreq[token.Term]++
	}
	stored := StoredDoc{
		Ord:     ord,
		ID:      doc.ID,
		Comment: doc.Comment,
		Fields:  copyFields(doc.Fields),
		Length:  uint32(len(tokens)),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for term, freq := range termFreq {
		postings, exists := m.index[term]
		if !exists {
			postings = make(map[uint32]uint32)
			m.index[term] = postings
		}
		postings[ord] = freq
		m.size += int64(len(term) + 16)
	}
	m.docs[ord] = stored
	m.size += int64(len(doc.ID) + len(doc.Comment) + 64)
	return stored
}

// RemoveDocument drops a buffered document. Terms left without postings
// are removed.
func (m *MemoryIndex) RemoveDocument(ord uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[ord]; !ok {
		return false
	}
	delete(m.docs, ord)
	for term, postings := range m.index {
		if _, ok := postings[ord]; !ok {
			continue
		}
		delete(postings, ord)
		if len(postings) == 0 {
			delete(m.index, term)
		}
	}
	return true
}

func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedPostings(m.index[term])
}

// Snapshot returns the buffered terms sorted by term, each with postings
// sorted by ordinal.
func (m *MemoryIndex) Snapshot() []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, postings := range m.index {
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: sortedPostings(postings),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// Docs returns the buffered stored documents sorted by ordinal.
func (m *MemoryIndex) Docs() []StoredDoc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]StoredDoc, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Ord < docs[j].Ord
	})
	return docs
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[uint32]uint32)
	m.docs = make(map[uint32]StoredDoc)
	m.size = 0
}

func sortedPostings(postings map[uint32]uint32) PostingList {
	if len(postings) == 0 {
		return nil
	}
	result := make(PostingList, 0, len(postings))
	for ord, freq := range postings {
		result = append(result, Posting{Ord: ord, Frequency: freq})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Ord < result[j].Ord
	})
	return result
}

func copyFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
