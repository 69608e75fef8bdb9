package hipo

// holdingArea buffers built records in memory while the disk is full: the
// writer clones a slot's built record bytes here and releases the original
// ring slot immediately so the producer is never blocked on a full disk.
// A simple in-memory FIFO — the resource that's exhausted here is disk
// space itself, so spilling this queue to disk would be self-defeating.
type holdingArea struct {
	items []heldRecord
}

type heldRecord struct {
	buf        []byte
	eventCount uint32
}

func newHoldingArea() *holdingArea {
	return &holdingArea{}
}

// Stash clones buf (the slot's GetBinaryBuffer contents, which will be
// reused by the ring once the slot is released) and queues it for replay.
func (h *holdingArea) Stash(buf []byte, eventCount uint32) {
	clone := make([]byte, len(buf))
	copy(clone, buf)
	h.items = append(h.items, heldRecord{buf: clone, eventCount: eventCount})
}

// Drain returns and clears every held record, in stash order.
func (h *holdingArea) Drain() []heldRecord {
	items := h.items
	h.items = nil
	return items
}

func (h *holdingArea) Len() int { return len(h.items) }
