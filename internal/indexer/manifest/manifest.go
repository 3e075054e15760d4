// Package manifest records which segments and tombstones make up each
// committed generation of the index.
//
// A commit writes MANIFEST-<generation> and then replaces CURRENT with that
// file name. Replacing CURRENT is the commit point: a reader that loads
// CURRENT sees either the previous generation or the new one, never a mix.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	"github.com/RoaringBitmap/roaring/v2"
)

const (
	CurrentFileName = "CURRENT"
	FilePrefix      = "MANIFEST-"
)

// ErrNotFound is returned by Load when the directory holds no index.
var ErrNotFound = errors.New("no committed index generation")

// Manifest describes one generation.
type Manifest struct {
	Generation    uint64
	CreatedAt     time.Time
	NextOrd       uint32
	NextSegmentID uint64
	Segments      []SegmentInfo
	// Deleted holds the ordinals of documents removed from the segments
	// listed above.
	Deleted *roaring.Bitmap
}

// SegmentInfo describes a single segment.
type SegmentInfo struct {
	ID       uint64
	Name     string
	DocCount uint32
	MinOrd   uint32
	MaxOrd   uint32
	Size     int64
}

// New returns the manifest of an empty index.
func New() *Manifest {
	return &Manifest{
		NextOrd:       1,
		NextSegmentID: 1,
		Deleted:       roaring.New(),
	}
}

// Clone returns a deep copy the writer can mutate while the original stays
// published.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Segments = append([]SegmentInfo(nil), m.Segments...)
	c.Deleted = m.Deleted.Clone()
	return &c
}

// TotalDocs counts documents in all segments, deleted ones included.
func (m *Manifest) TotalDocs() uint64 {
	var n uint64
	for _, s := range m.Segments {
		n += uint64(s.DocCount)
	}
	return n
}

// LiveDocs counts searchable documents.
func (m *Manifest) LiveDocs() uint64 {
	return m.TotalDocs() - m.Deleted.GetCardinality()
}

// LiveInSegment counts the non-deleted documents of s.
func (m *Manifest) LiveInSegment(s SegmentInfo) uint64 {
	deleted := m.Deleted.Rank(s.MaxOrd)
	if s.MinOrd > 0 {
		deleted -= m.Deleted.Rank(s.MinOrd - 1)
	}
	return uint64(s.DocCount) - deleted
}

// FileName returns the manifest file name of generation gen.
func FileName(gen uint64) string {
	return fmt.Sprintf("%s%06d", FilePrefix, gen)
}

// ParseFileName extracts the generation from a manifest file name.
func ParseFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, FilePrefix) {
		return 0, false
	}
	gen, err := strconv.ParseUint(strings.TrimPrefix(name, FilePrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// Store loads and saves manifests in a directory.
type Store struct {
	dir directory.Directory
	now func() time.Time
}

func NewStore(dir directory.Directory) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Load reads the generation CURRENT points to.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	current, err := s.dir.ReadFile(ctx, CurrentFileName)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", CurrentFileName, err)
	}
	name := strings.TrimSpace(string(current))
	if _, ok := ParseFileName(name); !ok {
		return nil, fmt.Errorf("%s points to invalid manifest %q", CurrentFileName, name)
	}
	return s.LoadFile(ctx, name)
}

// LoadFile reads a specific manifest file.
func (s *Store) LoadFile(ctx context.Context, name string) (*Manifest, error) {
	data, err := s.dir.ReadFile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", name, err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", name, err)
	}
	return m, nil
}

// Current returns the generation CURRENT points to without decoding the
// manifest, which makes it cheap enough to call before every search.
func (s *Store) Current(ctx context.Context) (uint64, error) {
	current, err := s.dir.ReadFile(ctx, CurrentFileName)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("reading %s: %w", CurrentFileName, err)
	}
	gen, ok := ParseFileName(strings.TrimSpace(string(current)))
	if !ok {
		return 0, fmt.Errorf("%s points to invalid manifest %q", CurrentFileName, current)
	}
	return gen, nil
}

// Save writes m under its generation and then points CURRENT at it.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	m.CreatedAt = s.now().UTC()
	data, err := Encode(m)
	if err != nil {
		return err
	}
	name := FileName(m.Generation)
	if err := s.dir.WriteFile(ctx, name, data); err != nil {
		return fmt.Errorf("writing manifest %s: %w", name, err)
	}
	if err := s.dir.WriteFile(ctx, CurrentFileName, []byte(name)); err != nil {
		return fmt.Errorf("publishing %s: %w", name, err)
	}
	return nil
}

// Delete removes the manifest file of generation gen.
func (s *Store) Delete(ctx context.Context, gen uint64) error {
	return s.dir.Remove(ctx, FileName(gen))
}
