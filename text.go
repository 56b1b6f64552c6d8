package segwire

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Text and Data are both backed by a byte list; Text additionally carries a
// mandatory trailing NUL not counted in the returned string's length (§4.C),
// matching the wire convention that lets a Text field be handed to C code
// unmodified.

// stringView returns a string sharing storage with b, avoiding a copy. b
// must not be mutated for as long as the returned string is live, which
// holds here since callers only ever view freshly-decoded segment bytes.
func stringView(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// Text reads the string field at pointer slot i, sharing storage with the
// underlying segment.
func (r StructReader) Text(i uint16) (string, error) {
	lr, err := r.ListAt(i)
	if err != nil {
		return "", err
	}
	if !lr.IsValid() {
		return "", nil
	}
	b, err := lr.Bytes()
	if err != nil {
		return "", err
	}
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", errors.Wrap(ErrInvalidPointerTag, "text field missing NUL terminator")
	}
	return stringView(b[:len(b)-1]), nil
}

// SetText allocates a byte list of len(s)+1 and writes s followed by a NUL.
func (b StructBuilder) SetText(i uint16, s string) error {
	lb, err := b.InitListAt(i, SizeByte, uint32(len(s)+1), ObjectSize{})
	if err != nil {
		return err
	}
	dst, err := lb.Bytes()
	if err != nil {
		return err
	}
	copy(dst, s)
	dst[len(s)] = 0
	return nil
}

// Data reads the raw byte field at pointer slot i, sharing storage with the
// underlying segment. Unlike Text, no NUL terminator is expected.
func (r StructReader) Data(i uint16) ([]byte, error) {
	lr, err := r.ListAt(i)
	if err != nil {
		return nil, err
	}
	if !lr.IsValid() {
		return nil, nil
	}
	return lr.Bytes()
}

// SetData allocates a byte list sized to d and copies it in.
func (b StructBuilder) SetData(i uint16, d []byte) error {
	lb, err := b.InitListAt(i, SizeByte, uint32(len(d)), ObjectSize{})
	if err != nil {
		return err
	}
	dst, err := lb.Bytes()
	if err != nil {
		return err
	}
	copy(dst, d)
	return nil
}
