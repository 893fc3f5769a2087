package cache

import (
	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/resource"
)

// valueStore keeps cached values by record ID. *blob.Store is the
// persistent implementation.
type valueStore interface {
	Put(id uint32, value []byte) error
	Get(id uint32) ([]byte, bool, error)
	Delete(id uint32) error
	Close() error
}

// memoryValues keeps values on the heap, charged against a resource
// controller.
type memoryValues struct {
	m  map[recstore.ID][]byte
	rc *resource.Controller
}

func newMemoryValues(rc *resource.Controller) *memoryValues {
	return &memoryValues{m: make(map[recstore.ID][]byte), rc: rc}
}

// Put charges only the growth over the value it replaces.
func (v *memoryValues) Put(id uint32, value []byte) error {
	delta := int64(len(value) - len(v.m[id]))
	if delta > 0 {
		if err := v.rc.AcquireMemory(delta); err != nil {
			return err
		}
	} else {
		v.rc.ReleaseMemory(-delta)
	}
	v.m[id] = append([]byte{}, value...)
	return nil
}

func (v *memoryValues) Get(id uint32) ([]byte, bool, error) {
	b, ok := v.m[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, b...), true, nil
}

func (v *memoryValues) Delete(id uint32) error {
	if old, ok := v.m[id]; ok {
		v.rc.ReleaseMemory(int64(len(old)))
		delete(v.m, id)
	}
	return nil
}

func (v *memoryValues) Close() error {
	for id := range v.m {
		v.Delete(id)
	}
	return nil
}
