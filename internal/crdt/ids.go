package crdt

import "fmt"

// ID is the globally unique, totally ordered identifier carried by every
// inserted element: the replica's origin tag plus its monotonically
// increasing local sequence number.
type ID struct {
	Origin string `json:"origin"`
	Seq    uint64 `json:"seq"`
}

// The zero ID addresses the document root.
func (id ID) IsZero() bool {
	return id.Origin == "" && id.Seq == 0
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Origin, id.Seq)
}

// CompareIDs is the deterministic tie-break for concurrent inserts at the
// same position: origin tag first, sequence second. Every replica agrees on
// it without communication.
func CompareIDs(a, b ID) int {
	switch {
	case a.Origin < b.Origin:
		return -1
	case a.Origin > b.Origin:
		return 1
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

// Position is a dense order key among siblings. Keys are generated between
// neighbors, so an insert never shifts existing elements.
type Position []uint32

// posBase is the exclusive upper bound for a single digit.
const posBase = 1 << 16

// ComparePositions orders positions digit-wise; a strict prefix sorts first.
func ComparePositions(a, b Position) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// PositionBetween returns a key strictly between left and right. Empty left
// means the low fence, empty right the high fence. Midpoints are chosen
// deterministically, so two replicas inserting at the same logical spot
// produce the same key and fall back to the ID tie-break.
//
// Digit 0 is reserved as the low sentinel: a generated key never ends in 0,
// which keeps "strict prefix sorts first" compatible with inserting before
// any existing key.
func PositionBetween(left, right Position) Position {
	var out Position
	lefts, rights := left, right
	for {
		l := int64(0)
		if len(lefts) > 0 {
			l = int64(lefts[0])
		}
		r := int64(posBase)
		if len(rights) > 0 {
			r = int64(rights[0])
		}

		if r-l > 1 {
			return append(out, uint32(l+(r-l)/2))
		}

		// No room at this depth: keep the floor digit and descend.
		out = append(out, uint32(l))
		if len(lefts) > 0 {
			lefts = lefts[1:]
		}
		if r == l {
			// Equal digits: both fences still constrain deeper levels.
			if len(rights) > 0 {
				rights = rights[1:]
			}
		} else {
			// Strictly below the right fence already.
			rights = nil
		}
	}
}
