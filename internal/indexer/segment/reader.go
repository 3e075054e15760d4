package segment

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
)

// Reader serves term lookups and stored documents from one segment. The
// dictionary and stored documents are loaded at open; postings are read
// from the file on demand.
//
// Readers are reference counted. OpenReader returns a reader holding one
// reference; the file handle is closed when the last reference is dropped.
type Reader struct {
	blob    directory.Blob
	name    string
	header  Header
	footer  Footer
	dict    []DictEntry
	docs    []index.StoredDoc
	refs    atomic.Int32
	onClose func(name string)
}

// OpenReader opens and validates segment name.
func OpenReader(ctx context.Context, dir directory.Directory, name string) (*Reader, error) {
	blob, err := dir.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("opening segment %s: %w", name, err)
	}
	r, err := load(blob, name)
	if err != nil {
		blob.Close()
		return nil, err
	}
	r.refs.Store(1)
	return r, nil
}

func load(blob directory.Blob, name string) (*Reader, error) {
	size := blob.Size()
	if size < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("%w: segment %s truncated (%d bytes)", apperrors.ErrCorrupt, name, size)
	}
	hb := make([]byte, HeaderSize)
	if _, err := blob.ReadAt(hb, 0); err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", name, err)
	}
	header := Header{
		Magic:        binary.LittleEndian.Uint32(hb[0:4]),
		Version:      binary.LittleEndian.Uint32(hb[4:8]),
		TermCount:    binary.LittleEndian.Uint32(hb[8:12]),
		DocCount:     binary.LittleEndian.Uint32(hb[12:16]),
		DictOffset:   int64(binary.LittleEndian.Uint64(hb[16:24])),
		DictSize:     int64(binary.LittleEndian.Uint64(hb[24:32])),
		PostOffset:   int64(binary.LittleEndian.Uint64(hb[32:40])),
		PostSize:     int64(binary.LittleEndian.Uint64(hb[40:48])),
		StoredOffset: int64(binary.LittleEndian.Uint64(hb[48:56])),
		StoredSize:   int64(binary.LittleEndian.Uint64(hb[56:64])),
	}
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: segment %s has bad magic bytes %x", apperrors.ErrCorrupt, name, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: segment %s has unsupported version %d", apperrors.ErrCorrupt, name, header.Version)
	}
	body := size - int64(FooterSize)
	for _, span := range [][2]int64{
		{header.PostOffset, header.PostSize},
		{header.DictOffset, header.DictSize},
		{header.StoredOffset, header.StoredSize},
	} {
		if span[0] < int64(HeaderSize) || span[1] < 0 || span[0]+span[1] > body {
			return nil, fmt.Errorf("%w: segment %s has out of range block [%d,+%d)", apperrors.ErrCorrupt, name, span[0], span[1])
		}
	}

	fb := make([]byte, FooterSize)
	if _, err := blob.ReadAt(fb, body); err != nil {
		return nil, fmt.Errorf("reading footer of %s: %w", name, err)
	}
	footer := Footer{
		DictCRC:   binary.LittleEndian.Uint32(fb[0:4]),
		PostCRC:   binary.LittleEndian.Uint32(fb[4:8]),
		StoredCRC: binary.LittleEndian.Uint32(fb[8:12]),
		Codec:     Codec(binary.LittleEndian.Uint32(fb[12:16])),
		DocCount:  binary.LittleEndian.Uint32(fb[16:20]),
		CreatedAt: int64(binary.LittleEndian.Uint64(fb[24:32])),
	}

	dictBytes, err := readChecked(blob, name, "dictionary", header.DictOffset, header.DictSize, footer.DictCRC)
	if err != nil {
		return nil, err
	}
	if _, err := readChecked(blob, name, "postings", header.PostOffset, header.PostSize, footer.PostCRC); err != nil {
		return nil, err
	}
	storedBytes, err := readChecked(blob, name, "stored documents", header.StoredOffset, header.StoredSize, footer.StoredCRC)
	if err != nil {
		return nil, err
	}

	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("%w: parsing dictionary of %s: %v", apperrors.ErrCorrupt, name, err)
	}
	raw, err := footer.Codec.decodeBlock(storedBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %s: %v", apperrors.ErrCorrupt, name, err)
	}
	var docs []index.StoredDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("%w: parsing stored documents of %s: %v", apperrors.ErrCorrupt, name, err)
	}
	if uint32(len(docs)) != header.DocCount || footer.DocCount != header.DocCount {
		return nil, fmt.Errorf("%w: segment %s holds %d documents, header says %d", apperrors.ErrCorrupt, name, len(docs), header.DocCount)
	}

	return &Reader{
		blob:   blob,
		name:   name,
		header: header,
		footer: footer,
		dict:   dict,
		docs:   docs,
	}, nil
}

func readChecked(blob directory.Blob, name, what string, off, size int64, want uint32) ([]byte, error) {
	buf := make([]byte, size)
	if size > 0 {
		if _, err := blob.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("reading %s of %s: %w", what, name, err)
		}
	}
	if got := crc32.ChecksumIEEE(buf); got != want {
		return nil, fmt.Errorf("%w: %s checksum mismatch in %s (%08x != %08x)", apperrors.ErrCorrupt, what, name, got, want)
	}
	return buf, nil
}

// Search returns the postings of term sorted by ordinal, or nil.
func (r *Reader) Search(term string) (index.PostingList, error) {
	entry, ok := r.lookup(term)
	if !ok {
		return nil, nil
	}
	return r.readPostings(entry)
}

// DocFreq is the number of documents of this segment containing term,
// deleted ones included.
func (r *Reader) DocFreq(term string) int {
	entry, ok := r.lookup(term)
	if !ok {
		return 0
	}
	return entry.DocFreq
}

func (r *Reader) lookup(term string) (DictEntry, bool) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return DictEntry{}, false
	}
	return r.dict[idx], true
}

func (r *Reader) readPostings(entry DictEntry) (index.PostingList, error) {
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.blob.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings of %q in %s: %w", entry.Term, r.name, err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("%w: parsing postings of %q in %s: %v", apperrors.ErrCorrupt, entry.Term, r.name, err)
	}
	return postings, nil
}

// ForEachTerm visits every term in dictionary order.
func (r *Reader) ForEachTerm(fn func(term string, postings index.PostingList) error) error {
	for _, entry := range r.dict {
		postings, err := r.readPostings(entry)
		if err != nil {
			return err
		}
		if err := fn(entry.Term, postings); err != nil {
			return err
		}
	}
	return nil
}

// Doc returns the stored document with ordinal ord.
func (r *Reader) Doc(ord uint32) (index.StoredDoc, bool) {
	idx := sort.Search(len(r.docs), func(i int) bool {
		return r.docs[i].Ord >= ord
	})
	if idx >= len(r.docs) || r.docs[idx].Ord != ord {
		return index.StoredDoc{}, false
	}
	return r.docs[idx], true
}

// Docs returns all stored documents sorted by ordinal. Callers must not
// modify the slice.
func (r *Reader) Docs() []index.StoredDoc {
	return r.docs
}

func (r *Reader) Name() string {
	return r.name
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Codec() Codec {
	return r.footer.Codec
}

func (r *Reader) Size() int64 {
	return r.blob.Size()
}

func (r *Reader) CreatedAt() time.Time {
	return time.Unix(r.footer.CreatedAt, 0).UTC()
}

// OnClose registers a callback run once the last reference is dropped.
func (r *Reader) OnClose(fn func(name string)) {
	r.onClose = fn
}

// IncRef adds a reference. It fails if the reader is already closed.
func (r *Reader) IncRef() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// DecRef drops a reference and closes the file after the last one.
func (r *Reader) DecRef() error {
	n := r.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return fmt.Errorf("segment %s released too many times", r.name)
	}
	err := r.blob.Close()
	if r.onClose != nil {
		r.onClose(r.name)
	}
	return err
}

// RefCount is exposed for tests and stats.
func (r *Reader) RefCount() int32 {
	return r.refs.Load()
}
