package array

import (
	"context"
	"sync"

	"github.com/hupe1980/recstore"
)

// queue is the per-process half of a FlagQueue table. Head, tail and
// capacity live in the table header; waiters and the unblock request do
// not.
//
// Head and tail run over 1..2*cap so that a full ring (head-tail == cap)
// differs from an empty one (head == tail).
type queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	unblock bool
	closed  bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func queueSize(head, tail, capacity uint64) uint64 {
	if head < tail {
		return 2*capacity + head - tail
	}
	return head - tail
}

func queuePos(v, capacity uint64) uint64 {
	if v > capacity {
		return v - capacity
	}
	return v
}

func queueNext(v, capacity uint64) uint64 {
	return v%(2*capacity) + 1
}

func (t *Table) requireQueue(op string) error {
	if t.queue == nil {
		return recstore.Errorf(recstore.ErrOperationNotSupported, op, "<%s> is not a queue", t.displayPath())
	}
	return nil
}

// Push adds a record and calls fn with its ID and zeroed value slot. When
// the queue is full the oldest record is dropped. fn may be nil; it must
// not call back into the table.
func (t *Table) Push(fn func(id recstore.ID, value []byte)) (recstore.ID, error) {
	const op = "array.Push"
	if err := t.requireQueue(op); err != nil {
		return recstore.NilID, err
	}
	q := t.queue
	q.mu.Lock()
	defer q.mu.Unlock()

	t.mu.Lock()
	if err := t.check(op); err != nil {
		t.mu.Unlock()
		return recstore.NilID, err
	}
	h := t.s.hdr
	capacity := uint64(h.Uint32(hdrQueueCap))
	head, tail := h.Uint64(hdrQueueHead), h.Uint64(hdrQueueTail)
	if queuePos(head, capacity) == capacity {
		h.PutUint32(hdrCurrRec, 0)
	}
	id, v, err := t.add(op)
	if err != nil {
		t.mu.Unlock()
		return recstore.NilID, err
	}
	if fn != nil {
		fn(id, v)
	}
	if queueSize(head, tail, capacity) == capacity {
		h.PutUint64(hdrQueueTail, queueNext(tail, capacity))
	}
	h.PutUint64(hdrQueueHead, queueNext(head, capacity))
	t.mu.Unlock()

	q.cond.Signal()
	return id, nil
}

// Pull takes the oldest record and calls fn with its ID and value. The
// record itself stays in the table until it is overwritten.
//
// With block set, Pull waits for a Push. It returns recstore.NilID and a
// nil error when the queue is empty and block is false, or when Unblock
// was called while waiting. A done ctx ends the wait with ctx.Err().
func (t *Table) Pull(ctx context.Context, block bool, fn func(id recstore.ID, value []byte)) (recstore.ID, error) {
	const op = "array.Pull"
	if err := t.requireQueue(op); err != nil {
		return recstore.NilID, err
	}
	q := t.queue
	q.mu.Lock()
	defer q.mu.Unlock()

	if block && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}

	q.unblock = false
	for {
		id, err := t.pullOne(op, fn)
		if err != nil || id != recstore.NilID {
			return id, err
		}
		if !block || q.unblock || q.closed {
			return recstore.NilID, nil
		}
		if err := ctx.Err(); err != nil {
			return recstore.NilID, err
		}
		q.cond.Wait()
	}
}

func (t *Table) pullOne(op string, fn func(recstore.ID, []byte)) (recstore.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(op); err != nil {
		return recstore.NilID, err
	}
	h := t.s.hdr
	capacity := uint64(h.Uint32(hdrQueueCap))
	head, tail := h.Uint64(hdrQueueHead), h.Uint64(hdrQueueTail)
	if queueSize(head, tail, capacity) == 0 {
		return recstore.NilID, nil
	}
	tail = queueNext(tail, capacity)
	h.PutUint64(hdrQueueTail, tail)
	id := recstore.ID(queuePos(tail, capacity))
	if fn != nil {
		v, err := t.value(op, id)
		if err != nil {
			return recstore.NilID, err
		}
		fn(id, v)
	}
	return id, nil
}

// Unblock wakes every blocked Pull, which then returns without a record.
func (t *Table) Unblock() error {
	if err := t.requireQueue("array.Unblock"); err != nil {
		return err
	}
	q := t.queue
	q.mu.Lock()
	q.unblock = true
	q.cond.Broadcast()
	q.mu.Unlock()
	return nil
}

// QueueSize returns the number of records waiting to be pulled.
func (t *Table) QueueSize() (uint32, error) {
	const op = "array.QueueSize"
	if err := t.requireQueue(op); err != nil {
		return 0, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(op); err != nil {
		return 0, err
	}
	h := t.s.hdr
	return uint32(queueSize(h.Uint64(hdrQueueHead), h.Uint64(hdrQueueTail), uint64(h.Uint32(hdrQueueCap)))), nil
}

// QueueCapacity returns the queue bound.
func (t *Table) QueueCapacity() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.queue == nil || t.check("array.QueueCapacity") != nil {
		return 0
	}
	return t.s.hdr.Uint32(hdrQueueCap)
}
