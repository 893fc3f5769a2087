package cache

import (
	"encoding/binary"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/hashtable"
)

// Reserved records. ROOT anchors the LRU ring, METADATA holds the
// capacity and the counters.
var (
	rootKey     = []byte{0x00}
	metadataKey = []byte{0x01}
)

const (
	rootID     recstore.ID = 1
	metadataID recstore.ID = 2
	reserved               = 2
)

// entrySize is the hash value of every record:
//
//	entry:    [next u32][prev u32][modified unix-nano i64][pad 8]
//	metadata: [max entries u32][pad 4][fetches u64][hits u64]
const entrySize = 24

type entry []byte

func (e entry) next() recstore.ID      { return binary.LittleEndian.Uint32(e[0:]) }
func (e entry) prev() recstore.ID      { return binary.LittleEndian.Uint32(e[4:]) }
func (e entry) modified() int64        { return int64(binary.LittleEndian.Uint64(e[8:])) }
func (e entry) setNext(id recstore.ID) { binary.LittleEndian.PutUint32(e[0:], id) }
func (e entry) setPrev(id recstore.ID) { binary.LittleEndian.PutUint32(e[4:], id) }
func (e entry) setModified(ns int64)   { binary.LittleEndian.PutUint64(e[8:], uint64(ns)) }

func (e entry) maxEntries() uint32     { return binary.LittleEndian.Uint32(e[0:]) }
func (e entry) fetches() uint64        { return binary.LittleEndian.Uint64(e[8:]) }
func (e entry) hits() uint64           { return binary.LittleEndian.Uint64(e[16:]) }
func (e entry) setMaxEntries(n uint32) { binary.LittleEndian.PutUint32(e[0:], n) }
func (e entry) addFetch()              { binary.LittleEndian.PutUint64(e[8:], e.fetches()+1) }
func (e entry) addHit()                { binary.LittleEndian.PutUint64(e[16:], e.hits()+1) }

// ring is a doubly linked list threaded through the hash values by ID,
// anchored at rootID. The front is the most recently used entry.
type ring struct {
	keys *hashtable.Table
}

func (r ring) update(id recstore.ID, fn func(e entry)) error {
	return r.keys.Update(id, func(v []byte) { fn(entry(v)) })
}

func (r ring) links(id recstore.ID) (next, prev recstore.ID, err error) {
	err = r.keys.View(id, func(v []byte) {
		next, prev = entry(v).next(), entry(v).prev()
	})
	return next, prev, err
}

// unlink removes id from the ring. Its own links are left stale.
func (r ring) unlink(id recstore.ID) error {
	next, prev, err := r.links(id)
	if err != nil {
		return err
	}
	if err := r.update(prev, func(e entry) { e.setNext(next) }); err != nil {
		return err
	}
	return r.update(next, func(e entry) { e.setPrev(prev) })
}

func (r ring) pushFront(id recstore.ID) error {
	head, _, err := r.links(rootID)
	if err != nil {
		return err
	}
	if err := r.update(id, func(e entry) {
		e.setNext(head)
		e.setPrev(rootID)
	}); err != nil {
		return err
	}
	if err := r.update(head, func(e entry) { e.setPrev(id) }); err != nil {
		return err
	}
	return r.update(rootID, func(e entry) { e.setNext(id) })
}

// back returns the least recently used entry, or recstore.NilID.
func (r ring) back() (recstore.ID, error) {
	_, prev, err := r.links(rootID)
	if err != nil || prev == rootID {
		return recstore.NilID, err
	}
	return prev, nil
}

// order returns the entries from most to least recently used.
func (r ring) order() ([]recstore.ID, error) {
	var ids []recstore.ID
	id, _, err := r.links(rootID)
	for err == nil && id != rootID {
		ids = append(ids, id)
		id, _, err = r.links(id)
	}
	return ids, err
}
