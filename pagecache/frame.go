package pagecache

import (
	"container/list"
	"sync"

	"knowstore/gate"
)

// PageSize is the fixed unit of cache I/O, identical to the Gate's page
// size — the cache never operates on partial pages at the Gate boundary.
const PageSize = gate.PageSize

// NotFound is the sentinel file-page-index meaning "this frame is vacant".
const NotFound uint64 = ^uint64(0)

// state is a frame's CLEAN/DIRTY classification.
type state int

const (
	clean state = iota
	dirty
)

// frame is one slot of the buffer pool: the unit of residency and
// eviction. A frame is either vacant (filePageNo == NotFound, state ==
// clean) or bound to exactly one file page. frameIndex is stable for the
// frame's lifetime; elem is the frame's node handle in the recency list,
// valid only while the frame is resident (nil while vacant).
type frame struct {
	mu         sync.RWMutex
	frameIndex int
	filePageNo uint64
	state      state
	available  int
	data       [PageSize]byte
	elem       *list.Element
}
