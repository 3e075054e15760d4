package manifest

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/RoaringBitmap/roaring/v2"
)

const (
	binaryMagic   uint32 = 0x45564958 // "EVIX"
	binaryVersion uint32 = 1
	headerSize           = 16
)

// Encode serialises m.
//
//	Magic (4) Version (4) CRC32 of payload (4) PayloadLength (4)
//	Payload:
//	  Generation (8) CreatedAt unix nanos (8) NextOrd (4) NextSegmentID (8)
//	  NumSegments (4)
//	    ID (8) DocCount (4) MinOrd (4) MaxOrd (4) Size (8) NameLen (2) Name
//	  DeletedLen (4) Deleted (roaring portable format)
func Encode(m *Manifest) ([]byte, error) {
	deleted := m.Deleted
	if deleted == nil {
		deleted = roaring.New()
	}
	deleted.RunOptimize()
	bitmap, err := deleted.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialising deleted set: %w", err)
	}

	pb := newPayloadBuffer(make([]byte, 0, 48+len(m.Segments)*64+len(bitmap)))
	pb.writeUint64(m.Generation)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint32(m.NextOrd)
	pb.writeUint64(m.NextSegmentID)
	pb.writeUint32(uint32(len(m.Segments)))
	for _, s := range m.Segments {
		pb.writeUint64(s.ID)
		pb.writeUint32(s.DocCount)
		pb.writeUint32(s.MinOrd)
		pb.writeUint32(s.MaxOrd)
		pb.writeUint64(uint64(s.Size))
		pb.writeString(s.Name)
	}
	pb.writeBytes(bitmap)
	if pb.err != nil {
		return nil, pb.err
	}

	out := make([]byte, headerSize, headerSize+len(pb.buf))
	binary.LittleEndian.PutUint32(out[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(out[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(out[8:12], crc32.ChecksumIEEE(pb.buf))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(pb.buf)))
	return append(out, pb.buf...), nil
}

// Decode parses the output of Encode.
func Decode(data []byte) (*Manifest, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: manifest truncated", apperrors.ErrCorrupt)
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid manifest magic %x", apperrors.ErrCorrupt, magic)
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != binaryVersion {
		return nil, fmt.Errorf("%w: unsupported manifest version %d", apperrors.ErrCorrupt, version)
	}
	checksum := binary.LittleEndian.Uint32(data[8:12])
	length := binary.LittleEndian.Uint32(data[12:16])
	payload := data[headerSize:]
	if uint32(len(payload)) != length {
		return nil, fmt.Errorf("%w: manifest payload is %d bytes, header says %d", apperrors.ErrCorrupt, len(payload), length)
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("%w: manifest checksum mismatch", apperrors.ErrCorrupt)
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{}
	m.Generation = pb.readUint64()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64())).UTC()
	m.NextOrd = pb.readUint32()
	m.NextSegmentID = pb.readUint64()
	n := pb.readUint32()
	if pb.err == nil && int(n) > len(payload) {
		return nil, fmt.Errorf("%w: manifest lists %d segments", apperrors.ErrCorrupt, n)
	}
	m.Segments = make([]SegmentInfo, n)
	for i := range m.Segments {
		m.Segments[i].ID = pb.readUint64()
		m.Segments[i].DocCount = pb.readUint32()
		m.Segments[i].MinOrd = pb.readUint32()
		m.Segments[i].MaxOrd = pb.readUint32()
		m.Segments[i].Size = int64(pb.readUint64())
		m.Segments[i].Name = pb.readString()
	}
	bitmap := pb.readBytes()
	if pb.err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCorrupt, pb.err)
	}
	m.Deleted = roaring.New()
	if err := m.Deleted.UnmarshalBinary(bitmap); err != nil {
		return nil, fmt.Errorf("%w: deleted set: %v", apperrors.ErrCorrupt, err)
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) writeBytes(b []byte) {
	p.writeUint32(uint32(len(b)))
	p.buf = append(p.buf, b...)
}

func (p *payloadBuffer) take(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *payloadBuffer) readUint64() uint64 {
	b := p.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (p *payloadBuffer) readUint32() uint32 {
	b := p.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (p *payloadBuffer) readString() string {
	b := p.take(2)
	if b == nil {
		return ""
	}
	return string(p.take(int(binary.LittleEndian.Uint16(b))))
}

func (p *payloadBuffer) readBytes() []byte {
	b := p.take(4)
	if b == nil {
		return nil
	}
	return p.take(int(binary.LittleEndian.Uint32(b)))
}
