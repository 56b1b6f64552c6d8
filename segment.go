package segwire

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Segment is a per-message, bounds-checked view over one of an Arena's
// backing byte slices. Builder operations grow the underlying arena and
// refresh the view; reader operations never mutate it.
type Segment struct {
	id   SegmentID
	msg  *Message
	data []byte
}

// ID returns the segment's index within its message.
func (s *Segment) ID() SegmentID { return s.id }

// Len reports the segment's length in words.
func (s *Segment) Len() Words { return Words(len(s.data) / 8) }

// Data returns the segment's raw bytes. Callers must not retain or mutate
// the slice beyond the message's lifetime.
func (s *Segment) Data() []byte { return s.data }

func (s *Segment) refresh() error {
	d, err := s.msg.Arena.Data(s.id)
	if err != nil {
		return err
	}
	s.data = d
	return nil
}

// bytesAt returns the n bytes starting at byte offset off, bounds-checked
// against the segment's current length.
func (s *Segment) bytesAt(off int64, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > int64(len(s.data)) {
		return nil, errors.Wrapf(ErrOutOfBounds, "segment %d: byte range [%d:%d) len=%d", s.id, off, off+n, len(s.data))
	}
	return s.data[off : off+n], nil
}

// Message is an ordered, indexed collection of segments plus an implicit
// root pointer at word 0 of segment 0 (§3).
type Message struct {
	Arena Arena

	capTable CapTable

	opts       ReaderOptions
	rlimit     atomic.Uint64
	rlimitOnce sync.Once

	mu   sync.Mutex
	segs map[SegmentID]*Segment
}

// NewMessage creates an empty, writable message backed by arena and
// allocates its root pointer word, returning the first segment.
func NewMessage(arena Arena) (*Message, *Segment, error) {
	m := &Message{Arena: arena, segs: map[SegmentID]*Segment{}}
	seg, err := m.Segment(0)
	if err != nil {
		return nil, nil, err
	}
	if seg.Len() == 0 {
		if _, _, err := m.Arena.Allocate(1, 0); err != nil {
			return nil, nil, err
		}
		if err := seg.refresh(); err != nil {
			return nil, nil, err
		}
	}
	return m, seg, nil
}

// NewReaderMessage wraps already-decoded segments (e.g. from the stream or
// packed codec) as a read-only message.
func NewReaderMessage(segs [][]byte, opts ReaderOptions) (*Message, error) {
	if len(segs) == 0 {
		return nil, errors.Wrap(ErrMessageTooLarge, "message has no segments")
	}
	m := &Message{Arena: FromSegments(segs), opts: opts, segs: map[SegmentID]*Segment{}}
	return m, nil
}

// Segment returns the segment with the given id, fetching and caching its
// current bytes from the arena.
func (m *Message) Segment(id SegmentID) (*Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.segs[id]; ok {
		if err := s.refresh(); err != nil {
			return nil, err
		}
		return s, nil
	}
	d, err := m.Arena.Data(id)
	if err != nil {
		return nil, err
	}
	s := &Segment{id: id, msg: m, data: d}
	m.segs[id] = s
	return s, nil
}

// NumSegments returns the number of segments currently in the message.
func (m *Message) NumSegments() int64 { return m.Arena.NumSegments() }

// CapTable returns the message-scoped capability table (§4.F), populated by
// the RPC layer.
func (m *Message) CapTable() *CapTable { return &m.capTable }

func (m *Message) initReadLimit() {
	m.rlimit.Store(m.opts.traversalLimit())
}

// chargeTraversal deducts sz words from the remaining traversal budget,
// returning ErrTraversalLimitExceeded on underflow (§4.A, §8).
func (m *Message) chargeTraversal(sz Words) error {
	m.rlimitOnce.Do(m.initReadLimit)
	for {
		cur := m.rlimit.Load()
		if uint64(sz) > cur {
			return ErrTraversalLimitExceeded
		}
		if m.rlimit.CompareAndSwap(cur, cur-uint64(sz)) {
			return nil
		}
	}
}

func (m *Message) depthLimit() uint {
	return m.opts.depthLimit()
}

// allocate reserves sz words, preferring segment pref, and returns the
// Segment the allocation landed in together with the word address within
// it. Allocation failure is fatal to the caller per §4.A/§7 (out-of-memory
// is the only failure mode and producers never see it for in-bounds
// requests), so this only returns an error for arena-level bugs.
func (m *Message) allocate(sz Words, pref SegmentID) (*Segment, Address, error) {
	id, addr, err := m.Arena.Allocate(sz, pref)
	if err != nil {
		return nil, 0, err
	}
	seg, err := m.Segment(id)
	if err != nil {
		return nil, 0, err
	}
	return seg, addr, nil
}

// rootLoc returns the message's root pointer location: segment 0, word 0.
func (m *Message) rootLoc() (*Segment, Address, error) {
	seg, err := m.Segment(0)
	if err != nil {
		return nil, 0, err
	}
	if seg.Len() < 1 {
		return nil, 0, errors.New("segwire: segment 0 is empty, no root pointer")
	}
	return seg, 0, nil
}

// RootStruct reads the message's root pointer as a struct, per §3 ("the
// root pointer is a struct pointer or null").
func (m *Message) RootStruct() (StructReader, error) {
	seg, addr, err := m.rootLoc()
	if err != nil {
		return StructReader{}, err
	}
	return readStruct(seg, addr, m.depthLimit())
}

// NewRootStruct allocates a new struct of the given size and installs it as
// the message's root.
func (m *Message) NewRootStruct(sz ObjectSize) (StructBuilder, error) {
	seg, addr, err := m.rootLoc()
	if err != nil {
		return StructBuilder{}, err
	}
	return initStructField(seg, addr, sz)
}
