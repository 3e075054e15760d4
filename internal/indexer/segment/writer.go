package segment

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
)

const (
	namePrefix = "seg_"
	nameSuffix = ".spdx"
)

// Name returns the file name of segment id.
func Name(id uint64) string {
	return fmt.Sprintf("%s%012d%s", namePrefix, id, nameSuffix)
}

// IsSegmentFile reports whether name looks like a segment file.
func IsSegmentFile(name string) bool {
	return strings.HasPrefix(name, namePrefix) && strings.HasSuffix(name, nameSuffix)
}

// Header is the 64-byte header written at the start of every segment.
//
//	[0:4] magic  [4:8] version  [8:12] terms  [12:16] docs
//	[16:24] dict offset  [24:32] dict size
//	[32:40] postings offset  [40:48] postings size
//	[48:56] stored offset  [56:64] stored size
type Header struct {
	Magic        uint32
	Version      uint32
	TermCount    uint32
	DocCount     uint32
	DictOffset   int64
	DictSize     int64
	PostOffset   int64
	PostSize     int64
	StoredOffset int64
	StoredSize   int64
}

// Footer trails the file.
//
//	[0:4] dict crc  [4:8] postings crc  [8:12] stored crc  [12:16] codec
//	[16:20] docs  [20:24] reserved  [24:32] created at (unix seconds)
type Footer struct {
	DictCRC   uint32
	PostCRC   uint32
	StoredCRC uint32
	Codec     Codec
	DocCount  uint32
	CreatedAt int64
}

// DictEntry locates a term's postings relative to the postings block.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// Info describes a written segment.
type Info struct {
	Name      string
	DocCount  uint32
	TermCount uint32
	MinOrd    uint32
	MaxOrd    uint32
	Size      int64
}

// Writer serialises term entries and stored documents into segment files.
type Writer struct {
	dir   directory.Directory
	codec Codec
	now   func() time.Time
}

func NewWriter(dir directory.Directory, codec Codec) *Writer {
	return &Writer{dir: dir, codec: codec, now: time.Now}
}

// Write creates segment name. Entries must be sorted by term and docs by
// ordinal; a document whose comment had no indexable term appears only in
// docs.
func (w *Writer) Write(ctx context.Context, name string, entries []index.TermEntry, docs []index.StoredDoc) (Info, error) {
	data, info, err := w.encode(entries, docs)
	if err != nil {
		return Info{}, err
	}
	if err := w.dir.WriteFile(ctx, name, data); err != nil {
		return Info{}, fmt.Errorf("writing segment %s: %w", name, err)
	}
	info.Name = name
	return info, nil
}

func (w *Writer) encode(entries []index.TermEntry, docs []index.StoredDoc) ([]byte, Info, error) {
	if len(docs) == 0 {
		return nil, Info{}, fmt.Errorf("cannot write empty segment")
	}
	for i := 1; i < len(docs); i++ {
		if docs[i].Ord <= docs[i-1].Ord {
			return nil, Info{}, fmt.Errorf("stored docs not sorted by ordinal at %d", i)
		}
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(docs)*128)

	postStart := int64(len(buf))
	dict := make([]DictEntry, 0, len(entries))
	for i, entry := range entries {
		if i > 0 && entry.Term <= entries[i-1].Term {
			return nil, Info{}, fmt.Errorf("terms not sorted at %q", entry.Term)
		}
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return nil, Info{}, fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: int64(len(buf)) - postStart,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		buf = append(buf, postingsData...)
	}
	postSize := int64(len(buf)) - postStart

	dictStart := int64(len(buf))
	dictData, err := json.Marshal(dict)
	if err != nil {
		return nil, Info{}, fmt.Errorf("marshaling dictionary: %w", err)
	}
	buf = append(buf, dictData...)

	storedStart := int64(len(buf))
	storedRaw, err := json.Marshal(docs)
	if err != nil {
		return nil, Info{}, fmt.Errorf("marshaling stored documents: %w", err)
	}
	storedData, err := w.codec.encodeBlock(storedRaw)
	if err != nil {
		return nil, Info{}, err
	}
	buf = append(buf, storedData...)

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(buf[postStart:postStart+postSize]))
	binary.LittleEndian.PutUint32(footer[8:12], crc32.ChecksumIEEE(storedData))
	binary.LittleEndian.PutUint32(footer[12:16], uint32(w.codec))
	binary.LittleEndian.PutUint32(footer[16:20], uint32(len(docs)))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(w.now().Unix()))
	buf = append(buf, footer...)

	h := buf[:HeaderSize]
	binary.LittleEndian.PutUint32(h[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(h[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(h[8:12], uint32(len(entries)))
	binary.LittleEndian.PutUint32(h[12:16], uint32(len(docs)))
	binary.LittleEndian.PutUint64(h[16:24], uint64(dictStart))
	binary.LittleEndian.PutUint64(h[24:32], uint64(len(dictData)))
	binary.LittleEndian.PutUint64(h[32:40], uint64(postStart))
	binary.LittleEndian.PutUint64(h[40:48], uint64(postSize))
	binary.LittleEndian.PutUint64(h[48:56], uint64(storedStart))
	binary.LittleEndian.PutUint64(h[56:64], uint64(len(storedData)))

	return buf, Info{
		DocCount:  uint32(len(docs)),
		TermCount: uint32(len(entries)),
		MinOrd:    docs[0].Ord,
		MaxOrd:    docs[len(docs)-1].Ord,
		Size:      int64(len(buf)),
	}, nil
}
