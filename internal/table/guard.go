package table

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/latch"
)

// Guard couples the header lock word with the truncation flag of one table
// handle.
type Guard struct {
	hdr         Header
	lockOff     int
	truncOff    int
	path        string
	logger      *recstore.Logger
	word        latch.Word
	invalidated atomic.Bool
}

// NewGuard returns a guard over the lock word at lockOff and the truncated
// flag at truncOff of hdr.
func NewGuard(hdr Header, lockOff, truncOff int, path string, logger *recstore.Logger) *Guard {
	g := &Guard{
		hdr:      hdr,
		lockOff:  lockOff,
		truncOff: truncOff,
		path:     path,
		logger:   logger,
	}
	g.word = latch.New(hdr[lockOff:lockOff+4], latch.Observer{
		Collision: logger.LogLockCollision,
		Timeout:   logger.LogLockTimeout,
	})
	return g
}

// Check fails with a file-corrupt error once any handle has truncated the
// table. The failure is sticky for this handle.
func (g *Guard) Check(op string) error {
	if g.invalidated.Load() || g.hdr.LoadFlag(g.truncOff) {
		g.invalidated.Store(true)
		return recstore.Errorf(recstore.ErrFileCorrupt, op,
			"<%s> is truncated, please unmap or reopen the database", g.path)
	}
	return nil
}

// MarkTruncated raises the shared truncated flag.
func (g *Guard) MarkTruncated() {
	g.hdr.StoreFlag(g.truncOff, true)
}

// Lock takes the header lock. See latch.Word.Acquire for timeout.
func (g *Guard) Lock(ctx context.Context, op string, timeout int) error {
	if err := g.Check(op); err != nil {
		return err
	}
	if err := g.word.Acquire(ctx, timeout); err != nil {
		if errors.Is(err, latch.ErrTimeout) {
			return recstore.Errorf(recstore.ErrDeadlockAvoided, op, "lock timeout on <%s>", g.path)
		}
		return err
	}
	return nil
}

// Unlock releases the header lock.
func (g *Guard) Unlock() {
	g.word.Release()
}

// ClearLock forcibly resets the header lock.
func (g *Guard) ClearLock() {
	g.word.Clear()
}

// IsLocked reports whether the header lock is held by anyone.
func (g *Guard) IsLocked() bool {
	return g.word.Held() != 0
}
