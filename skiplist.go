package ratchetcore

import "container/list"

const defaultSkippedKeyCap = 50

// skippedKeyID identifies one skipped message key by the DH ratchet epoch
// it belongs to (the raw bytes of the sender's ratchet public key for that
// epoch) and the message index within that epoch's chain.
type skippedKeyID struct {
	ratchetPublic string
	n             uint32
}

type skippedEntry struct {
	id  skippedKeyID
	key [32]byte
}

// skippedKeyCache is the ordered FIFO cache of message keys that arrived
// out of order: a DH ratchet or chain advance that skips message indices
// stashes the skipped keys here so a late-arriving message can still be
// decrypted. It evicts the oldest entry, by insertion order, once it is at
// capacity — never by hash or by ratchet epoch age, just insertion order.
type skippedKeyCache struct {
	cap   int
	order *list.List
	index map[skippedKeyID]*list.Element
}

func newSkippedKeyCache(cap int) *skippedKeyCache {
	if cap <= 0 {
		cap = defaultSkippedKeyCap
	}
	return &skippedKeyCache{
		cap:   cap,
		order: list.New(),
		index: make(map[skippedKeyID]*list.Element),
	}
}

// store inserts a skipped message key, evicting the oldest entry if the
// cache is already at capacity. Re-storing an existing id moves it to the
// back without changing the eviction count.
func (c *skippedKeyCache) store(ratchetPublic [32]byte, n uint32, key [32]byte, sink Sink) {
	id := skippedKeyID{ratchetPublic: string(ratchetPublic[:]), n: n}
	if el, ok := c.index[id]; ok {
		c.order.Remove(el)
		delete(c.index, id)
	}
	el := c.order.PushBack(skippedEntry{id: id, key: key})
	c.index[id] = el

	for c.order.Len() > c.cap {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(skippedEntry).id)
		countSkippedKeyEviction(sink)
	}
}

// consume removes and returns a skipped message key, if present.
func (c *skippedKeyCache) consume(ratchetPublic [32]byte, n uint32) ([32]byte, bool) {
	id := skippedKeyID{ratchetPublic: string(ratchetPublic[:]), n: n}
	el, ok := c.index[id]
	if !ok {
		return [32]byte{}, false
	}
	c.order.Remove(el)
	delete(c.index, id)
	return el.Value.(skippedEntry).key, true
}

func (c *skippedKeyCache) len() int {
	return c.order.Len()
}
