// Package tracklog implements the track-run binary log codec and the
// derivation of fuzzer-private Cond enrichment (taint offsets, probe
// bytes, state) from a parsed log.
package tracklog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/cispa/ampfuzz/internal/cond"
)

// RecordTag discriminates one wire record.
type RecordTag byte

const (
	TagTag RecordTag = iota
	TagMagicBytes
	TagCond
	TagLoad
)

// ErrMalformed is returned by Reader.Next when a record's framing doesn't
// parse; the caller should stop reading and keep whatever it already has.
var ErrMalformed = errors.New("tracklog: malformed record")

// TagRecord is the byte-range set of a taint label.
type TagRecord struct {
	Lb  uint32
	Tag []cond.TagSeg
}

// MagicBytesRecord is the probe bytes observed for the i-th cond produced
// so far (1-indexed on the wire, per the original log format).
type MagicBytesRecord struct {
	I     uint64
	Bytes0 []byte
	Bytes1 []byte
}

// CondRecord carries one CondBase as emitted by the track-runtime.
type CondRecord struct {
	Cond cond.CondBase
}

// LoadRecord is a library path the target loaded, used to pull in
// build-time CFG sidecars (<path>.targets.json).
type LoadRecord struct {
	Path string
}

// Record is the tagged union of one decoded entry; exactly one of the
// pointer fields is non-nil.
type Record struct {
	Tag        *TagRecord
	MagicBytes *MagicBytesRecord
	Cond       *CondRecord
	Load       *LoadRecord
}

// Writer emits length-prefixed, tag-discriminated track-log records.
// Production logs are written by the (out-of-scope) target runtime; this
// exists so the fuzzer-side codec can be tested and so offline tooling
// can synthesize fixtures.
type Writer struct {
	w   io.Writer
	le  binary.ByteOrder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, le: binary.LittleEndian}
}

func (w *Writer) writeU32(v uint32) error {
	var b [4]byte
	w.le.PutUint32(b[:], v)
	_, err := w.w.Write(b[:])
	return err
}

func (w *Writer) writeU64(v uint64) error {
	var b [8]byte
	w.le.PutUint64(b[:], v)
	_, err := w.w.Write(b[:])
	return err
}

func (w *Writer) writeBytes(b []byte) error {
	if err := w.writeU32(uint32(len(b))); err != nil {
		return err
	}
	_, err := w.w.Write(b)
	return err
}

func (w *Writer) WriteTag(lb uint32, tag []cond.TagSeg) error {
	if _, err := w.w.Write([]byte{byte(TagTag)}); err != nil {
		return err
	}
	if err := w.writeU32(lb); err != nil {
		return err
	}
	if err := w.writeU32(uint32(len(tag))); err != nil {
		return err
	}
	for _, seg := range tag {
		if err := w.writeU32(seg.Begin); err != nil {
			return err
		}
		if err := w.writeU32(seg.End); err != nil {
			return err
		}
		sign := byte(0)
		if seg.Sign {
			sign = 1
		}
		if _, err := w.w.Write([]byte{sign}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) WriteMagicBytes(i uint64, bytes0, bytes1 []byte) error {
	if _, err := w.w.Write([]byte{byte(TagMagicBytes)}); err != nil {
		return err
	}
	if err := w.writeU64(i); err != nil {
		return err
	}
	if err := w.writeBytes(bytes0); err != nil {
		return err
	}
	return w.writeBytes(bytes1)
}

func (w *Writer) WriteCond(c cond.CondBase) error {
	if _, err := w.w.Write([]byte{byte(TagCond)}); err != nil {
		return err
	}
	wire, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.w.Write(wire)
	return err
}

func (w *Writer) WriteLoad(path string) error {
	if _, err := w.w.Write([]byte{byte(TagLoad)}); err != nil {
		return err
	}
	return w.writeBytes([]byte(path))
}

// Reader decodes a track-log stream one record at a time.
type Reader struct {
	r  *bufio.Reader
	le binary.ByteOrder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), le: binary.LittleEndian}
}

func (r *Reader) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		// readFull only runs after a tag byte, so running out of input
		// here, even at a field boundary, is always mid-record.
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, ErrMalformed
		}
		return nil, err
	}
	return buf, nil
}

func (r *Reader) readU32() (uint32, error) {
	buf, err := r.readFull(4)
	if err != nil {
		return 0, err
	}
	return r.le.Uint32(buf), nil
}

func (r *Reader) readU64() (uint64, error) {
	buf, err := r.readFull(8)
	if err != nil {
		return 0, err
	}
	return r.le.Uint64(buf), nil
}

func (r *Reader) readBytes() ([]byte, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	return r.readFull(int(n))
}

// Next decodes the next record. Returns io.EOF at a clean record
// boundary, or ErrMalformed if the stream ends mid-record or carries an
// unknown tag byte.
func (r *Reader) Next() (*Record, error) {
	tagByte, err := r.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, ErrMalformed
	}

	switch RecordTag(tagByte) {
	case TagTag:
		lb, err := r.readU32()
		if err != nil {
			return nil, err
		}
		count, err := r.readU32()
		if err != nil {
			return nil, err
		}
		segs := make([]cond.TagSeg, 0, count)
		for i := uint32(0); i < count; i++ {
			begin, err := r.readU32()
			if err != nil {
				return nil, err
			}
			end, err := r.readU32()
			if err != nil {
				return nil, err
			}
			signByte, err := r.readFull(1)
			if err != nil {
				return nil, err
			}
			segs = append(segs, cond.TagSeg{Begin: begin, End: end, Sign: signByte[0] != 0})
		}
		return &Record{Tag: &TagRecord{Lb: lb, Tag: segs}}, nil

	case TagMagicBytes:
		i, err := r.readU64()
		if err != nil {
			return nil, err
		}
		b0, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		b1, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		return &Record{MagicBytes: &MagicBytesRecord{I: i, Bytes0: b0, Bytes1: b1}}, nil

	case TagCond:
		wire, err := r.readFull(cond.BaseSize)
		if err != nil {
			return nil, err
		}
		var base cond.CondBase
		if err := base.UnmarshalBinary(wire); err != nil {
			return nil, ErrMalformed
		}
		return &Record{Cond: &CondRecord{Cond: base}}, nil

	case TagLoad:
		pathBytes, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		return &Record{Load: &LoadRecord{Path: string(pathBytes)}}, nil

	default:
		return nil, ErrMalformed
	}
}
