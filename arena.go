package segwire

import "github.com/pkg/errors"

// SegmentID identifies a segment within a message.
type SegmentID uint32

// Address is a word offset within a single segment.
type Address uint32

// Words counts 8-byte words, the unit every size and offset in the wire
// format is expressed in.
type Words uint32

// Bytes returns the number of bytes w words occupies.
func (w Words) Bytes() int64 { return int64(w) * 8 }

// ObjectSize describes the data and pointer section sizes of a struct, in
// words.
type ObjectSize struct {
	DataWords uint16
	PtrWords  uint16
}

// Total returns the combined word count of the data and pointer sections.
func (o ObjectSize) Total() Words { return Words(o.DataWords) + Words(o.PtrWords) }

// GrowthPolicy controls how a builder arena sizes new segments once the
// current one runs out of room.
type GrowthPolicy uint8

const (
	// FixedGrowth allocates every new segment at the arena's configured
	// first-segment size (or the requested size, whichever is larger).
	FixedGrowth GrowthPolicy = iota
	// DoublingGrowth allocates each new segment at double the size of the
	// previous one (or the requested size, whichever is larger).
	DoublingGrowth
)

// BuilderOptions configures a builder-side arena.
type BuilderOptions struct {
	// FirstSegmentWords is the size, in words, of the first segment. Zero
	// selects a small default.
	FirstSegmentWords Words
	// Growth selects the schedule for sizing segments beyond the first.
	Growth GrowthPolicy
}

func (o BuilderOptions) firstSize() Words {
	if o.FirstSegmentWords == 0 {
		return 1024
	}
	return o.FirstSegmentWords
}

// Arena owns the segments backing a Message and knows how to grow them.
// A read-only arena (constructed by FromSegments) rejects
// Allocate with ErrReadOnlyArena; it exists purely so Message can treat
// builder and reader arenas uniformly.
type Arena interface {
	// NumSegments reports how many segments currently exist.
	NumSegments() int64
	// Data returns the raw bytes of segment id. Its length is always a
	// multiple of 8.
	Data(id SegmentID) ([]byte, error)
	// Allocate reserves sz words, preferring (but not requiring) segment
	// pref. It returns the segment the words landed in and the word
	// address within that segment where the allocation begins. Returned
	// words are always zeroed.
	Allocate(sz Words, pref SegmentID) (SegmentID, Address, error)
}

// ErrInvalidSegmentID is returned by Arena.Data when asked for a segment
// outside [0, NumSegments()).
var ErrInvalidSegmentID = errors.New("segwire: invalid segment id")

// ErrReadOnlyArena is returned by Allocate on an arena built from existing
// bytes for reading.
var ErrReadOnlyArena = errors.New("segwire: arena is read-only")

// singleSegmentArena is a builder arena with exactly one segment that grows
// by reallocating its backing slice.
type singleSegmentArena struct {
	data   []byte
	growth GrowthPolicy
}

// SingleSegment returns a builder arena that keeps the whole message in one
// growable segment. If initial is non-empty it seeds the arena with
// existing content for mutation (its length must already be a multiple of
// 8).
func SingleSegment(opts BuilderOptions, initial []byte) (Arena, error) {
	if len(initial)%8 != 0 {
		return nil, errors.New("segwire: segment length must be a multiple of 8")
	}
	a := &singleSegmentArena{data: initial, growth: opts.Growth}
	if a.data == nil {
		a.data = make([]byte, 0, opts.firstSize().Bytes())
	}
	return a, nil
}

func (a *singleSegmentArena) NumSegments() int64 { return 1 }

func (a *singleSegmentArena) Data(id SegmentID) ([]byte, error) {
	if id != 0 {
		return nil, ErrInvalidSegmentID
	}
	return a.data, nil
}

func (a *singleSegmentArena) Allocate(sz Words, _ SegmentID) (SegmentID, Address, error) {
	addr := Address(len(a.data) / 8)
	need := len(a.data) + int(sz.Bytes())
	if need > cap(a.data) {
		newCap := growCap(cap(a.data), need, a.growth)
		grown := make([]byte, len(a.data), newCap)
		copy(grown, a.data)
		a.data = grown
	}
	a.data = a.data[:need]
	return 0, addr, nil
}

func growCap(oldCap, need int, g GrowthPolicy) int {
	switch g {
	case DoublingGrowth:
		c := oldCap
		if c == 0 {
			c = 64
		}
		for c < need {
			c *= 2
		}
		return c
	default: // FixedGrowth
		if need > oldCap {
			// Grow to the next multiple of the original cap, or the need
			// itself if the arena started empty.
			step := oldCap
			if step == 0 {
				step = 1024
			}
			c := oldCap
			for c < need {
				c += step
			}
			return c
		}
		return oldCap
	}
}

// multiSegmentArena is a builder arena that creates new segments instead of
// growing existing ones once the preferred segment is full.
type multiSegmentArena struct {
	segs       [][]byte
	firstWords Words
	growth     GrowthPolicy
}

// MultiSegment returns a builder arena that allocates additional segments
// (rather than growing one in place) once the preferred segment is full.
// initial seeds pre-existing segments for mutation.
func MultiSegment(opts BuilderOptions, initial [][]byte) (Arena, error) {
	for _, s := range initial {
		if len(s)%8 != 0 {
			return nil, errors.New("segwire: segment length must be a multiple of 8")
		}
	}
	a := &multiSegmentArena{firstWords: opts.firstSize(), growth: opts.Growth}
	a.segs = append(a.segs, initial...)
	if len(a.segs) == 0 {
		a.segs = append(a.segs, make([]byte, 0, a.firstWords.Bytes()))
	}
	return a, nil
}

func (a *multiSegmentArena) NumSegments() int64 { return int64(len(a.segs)) }

func (a *multiSegmentArena) Data(id SegmentID) ([]byte, error) {
	if int(id) >= len(a.segs) {
		return nil, ErrInvalidSegmentID
	}
	return a.segs[id], nil
}

func (a *multiSegmentArena) Allocate(sz Words, pref SegmentID) (SegmentID, Address, error) {
	if int(pref) < len(a.segs) {
		seg := a.segs[pref]
		need := len(seg) + int(sz.Bytes())
		if need <= cap(seg) {
			addr := Address(len(seg) / 8)
			a.segs[pref] = seg[:need]
			return pref, addr, nil
		}
	}
	// Preferred segment can't fit it: create a new segment sized to the
	// greater of the request and the growth schedule.
	var newCap int
	switch a.growth {
	case DoublingGrowth:
		newCap = int(a.firstWords.Bytes())
		if len(a.segs) > 0 {
			newCap = cap(a.segs[len(a.segs)-1]) * 2
		}
	default:
		newCap = int(a.firstWords.Bytes())
	}
	if needed := int(sz.Bytes()); needed > newCap {
		newCap = needed
	}
	id := SegmentID(len(a.segs))
	a.segs = append(a.segs, make([]byte, sz.Bytes(), newCap))
	return id, 0, nil
}

// readOnlyArena wraps already-framed segments (e.g. decoded off the wire)
// for reading. Allocate always fails.
type readOnlyArena struct {
	segs [][]byte
}

// FromSegments builds a read-only arena over already-decoded segments, as
// produced by the stream deserializer or the packed codec.
func FromSegments(segs [][]byte) Arena {
	return &readOnlyArena{segs: segs}
}

func (a *readOnlyArena) NumSegments() int64 { return int64(len(a.segs)) }

func (a *readOnlyArena) Data(id SegmentID) ([]byte, error) {
	if int(id) >= len(a.segs) {
		return nil, ErrInvalidSegmentID
	}
	return a.segs[id], nil
}

func (a *readOnlyArena) Allocate(Words, SegmentID) (SegmentID, Address, error) {
	return 0, 0, ErrReadOnlyArena
}
