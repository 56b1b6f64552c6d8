// Package packed implements the byte-level RLE codec layered on top of the
// unpacked stream framing (§4.E): a tag byte per word selecting which of its
// eight bytes are non-zero, a run-length byte collapsing consecutive
// all-zero words, and a second run-length byte collapsing consecutive
// "dense" words that aren't worth tagging individually.
package packed

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/segwire/segwire"
)

// Pack compresses data, which must be a whole number of 8-byte words, using
// the packed encoding.
func Pack(data []byte) ([]byte, error) {
	if len(data)%8 != 0 {
		return nil, errors.New("segwire/packed: input is not a whole number of words")
	}
	out := make([]byte, 0, len(data))
	words := len(data) / 8
	for i := 0; i < words; {
		word := data[i*8 : i*8+8]
		var tag byte
		for b := 0; b < 8; b++ {
			if word[b] != 0 {
				tag |= 1 << uint(b)
			}
		}
		out = append(out, tag)

		switch tag {
		case 0x00:
			run := 0
			for run < 255 && i+1+run < words && isZeroWord(data[(i+1+run)*8:(i+2+run)*8]) {
				run++
			}
			out = append(out, byte(run))
			i += 1 + run

		case 0xFF:
			out = append(out, word...)
			run := 0
			for run < 255 && i+1+run < words && !isZeroWord(data[(i+1+run)*8:(i+2+run)*8]) {
				run++
			}
			out = append(out, byte(run))
			out = append(out, data[(i+1)*8:(i+1+run)*8]...)
			i += 1 + run

		default:
			for b := 0; b < 8; b++ {
				if word[b] != 0 {
					out = append(out, word[b])
				}
			}
			i++
		}
	}
	return out, nil
}

func isZeroWord(w []byte) bool {
	for _, b := range w {
		if b != 0 {
			return false
		}
	}
	return true
}

// Unpack reverses Pack, returning the original whole-word byte stream.
func Unpack(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)*2)
	i := 0
	for i < len(data) {
		tag := data[i]
		i++

		switch tag {
		case 0x00:
			if i >= len(data) {
				return nil, errors.Wrap(segwire.ErrUnexpectedEOF, "packed: missing zero-run count")
			}
			run := int(data[i])
			i++
			out = append(out, make([]byte, 8*(1+run))...)

		case 0xFF:
			if i+8 > len(data) {
				return nil, errors.Wrap(segwire.ErrIncompleteWord, "packed: truncated literal word")
			}
			out = append(out, data[i:i+8]...)
			i += 8
			if i >= len(data) {
				return nil, errors.Wrap(segwire.ErrUnexpectedEOF, "packed: missing raw-run count")
			}
			run := int(data[i])
			i++
			need := 8 * run
			if i+need > len(data) {
				return nil, errors.Wrap(segwire.ErrUnexpectedEOF, "packed: truncated raw run")
			}
			out = append(out, data[i:i+need]...)
			i += need

		default:
			var word [8]byte
			for b := 0; b < 8; b++ {
				if tag&(1<<uint(b)) != 0 {
					if i >= len(data) {
						return nil, errors.Wrap(segwire.ErrIncompleteWord, "packed: truncated tagged word")
					}
					word[b] = data[i]
					i++
				}
			}
			out = append(out, word[:]...)
		}
	}
	return out, nil
}

// PackMessage frames msg in the unpacked stream format and then packs the
// result, the representation used on the wire and by files with a .capnpp-
// style packed extension.
func PackMessage(msg *segwire.Message) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := segwire.WriteMessage(&buf, msg); err != nil {
		return nil, err
	}
	return Pack(buf.Bytes())
}

// UnpackMessage reverses PackMessage.
func UnpackMessage(data []byte, opts segwire.ReaderOptions) (*segwire.Message, error) {
	raw, err := Unpack(data)
	if err != nil {
		return nil, err
	}
	return segwire.ReadMessage(bytes.NewReader(raw), opts)
}
