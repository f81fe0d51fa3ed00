package centrifuge

import "sync/atomic"

// commandIDs hands out command ids. Zero is reserved for pushes and is never returned.
type commandIDs struct {
	last atomic.Uint32
}

func newCommandIDs() *commandIDs {
	return &commandIDs{}
}

// next returns the next id for which inUse reports false. inUse may be nil.
func (ids *commandIDs) next(inUse func(uint32) bool) uint32 {
	for {
		id := ids.last.Add(1)
		if id == 0 {
			// wrapped
			continue
		}
		if inUse != nil && inUse(id) {
			continue
		}
		return id
	}
}
