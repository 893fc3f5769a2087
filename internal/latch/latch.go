// Package latch implements the counted advisory lock word stored in table
// headers.
//
// A Word points at four bytes that may live in ordinary memory or inside a
// shared file mapping. Acquisition increments the word and succeeds when the
// previous value was zero; otherwise it undoes the increment and retries.
// Because the word is shared, processes mapping the same header exclude
// each other as long as they all go through the latch.
package latch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
	"unsafe"
)

// ErrTimeout is returned when the lock could not be taken within the timeout.
var ErrTimeout = errors.New("latch: lock timeout")

// DefaultWait is the sleep between two acquisition attempts.
const DefaultWait = time.Millisecond

// collisionReport is how many consecutive collisions pass between two
// collision reports.
const collisionReport = 1000000

// Observer receives collision reports. Either callback may be nil.
type Observer struct {
	Collision func(ctx context.Context, collisions int, timeout int)
	Timeout   func(ctx context.Context, collisions int, timeout int)
}

// Word is a counted lock word.
type Word struct {
	p    *uint32
	wait time.Duration
	obs  Observer
}

// New returns a Word backed by the first four bytes of b, which must be
// 4-byte aligned.
func New(b []byte, obs Observer) Word {
	return Word{
		p:    (*uint32)(unsafe.Pointer(&b[0])),
		wait: DefaultWait,
		obs:  obs,
	}
}

// WithWait returns a copy of w that sleeps d between attempts.
func (w Word) WithWait(d time.Duration) Word {
	w.wait = d
	return w
}

// Acquire takes the lock.
//
// timeout counts attempts: 0 tries once, a negative value retries until the
// lock is free or ctx is done, N gives up after N attempts.
func (w Word) Acquire(ctx context.Context, timeout int) error {
	for n := 0; ; n++ {
		if atomic.AddUint32(w.p, 1) == 1 {
			if n >= collisionReport && w.obs.Collision != nil {
				w.obs.Collision(ctx, n, timeout)
			}
			return nil
		}
		atomic.AddUint32(w.p, ^uint32(0))

		if timeout == 0 || (timeout > 0 && n+1 >= timeout) {
			if w.obs.Timeout != nil {
				w.obs.Timeout(ctx, n+1, timeout)
			}
			return ErrTimeout
		}
		if n > 0 && n%collisionReport == 0 && w.obs.Collision != nil {
			w.obs.Collision(ctx, n, timeout)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(w.wait)
	}
}

// Release drops the lock.
func (w Word) Release() {
	atomic.AddUint32(w.p, ^uint32(0))
}

// Clear forcibly resets the word. It is used to recover a lock left behind
// by a crashed holder.
func (w Word) Clear() {
	atomic.StoreUint32(w.p, 0)
}

// Held returns the current counter value.
func (w Word) Held() uint32 {
	return atomic.LoadUint32(w.p)
}
