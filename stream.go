package segwire

import (
	"io"

	"github.com/pkg/errors"

	ibinary "github.com/segwire/segwire/internal/binary"
)

// WriteMessage encodes msg in the unpacked stream framing (§4.D): a
// segment_count_minus_one word, one word count per segment, padding to an
// 8-byte boundary, then the segments themselves back to back.
func WriteMessage(w io.Writer, msg *Message) (int64, error) {
	n := msg.NumSegments()
	if n <= 0 {
		return 0, errors.New("segwire: message has no segments")
	}

	headerLen := 4 + 4*int(n)
	padded := headerLen
	if padded%8 != 0 {
		padded += 4
	}
	header := make([]byte, padded)
	ibinary.Put(header[0:4], uint32(n-1))

	segs := make([][]byte, n)
	for i := int64(0); i < n; i++ {
		seg, err := msg.Segment(SegmentID(i))
		if err != nil {
			return 0, err
		}
		segs[i] = seg.Data()
		ibinary.Put(header[4+4*i:8+4*i], uint32(seg.Len()))
	}

	var total int64
	nw, err := w.Write(header)
	total += int64(nw)
	if err != nil {
		return total, err
	}
	for _, sd := range segs {
		nw, err := w.Write(sd)
		total += int64(nw)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadMessage decodes a message from the unpacked stream framing, rejecting
// segment counts above defaultMaxStreamSegments to bound work spent on
// adversarial input before a single byte of content is touched (§4.A, §4.D).
func ReadMessage(r io.Reader, opts ReaderOptions) (*Message, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, errors.Wrap(ErrUnexpectedEOF, "reading segment count")
	}
	segCount := uint64(ibinary.Get[uint32](head[:])) + 1
	if segCount > defaultMaxStreamSegments {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%d segments exceeds limit %d", segCount, defaultMaxStreamSegments)
	}

	wcBuf := make([]byte, 4*segCount)
	if _, err := io.ReadFull(r, wcBuf); err != nil {
		return nil, errors.Wrap(ErrUnexpectedEOF, "reading segment word counts")
	}
	wordCounts := make([]uint32, segCount)
	for i := range wordCounts {
		wordCounts[i] = ibinary.Get[uint32](wcBuf[4*i:])
	}

	if headerLen := 4 + 4*int(segCount); headerLen%8 != 0 {
		var pad [4]byte
		if _, err := io.ReadFull(r, pad[:]); err != nil {
			return nil, errors.Wrap(ErrUnexpectedEOF, "reading header padding")
		}
	}

	segs := make([][]byte, segCount)
	for i, wc := range wordCounts {
		buf := make([]byte, int64(wc)*8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrap(ErrUnexpectedEOF, "reading segment data")
		}
		segs[i] = buf
	}
	return NewReaderMessage(segs, opts)
}
