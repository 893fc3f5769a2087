package array

import "github.com/hupe1980/recstore"

// Cursor iterates live records between two bounds.
//
// A cursor does not pin the table: records added or deleted while iterating
// may or may not be observed.
type Cursor struct {
	t    *Table
	curr int64
	tail int64
	dir  int64
	rest int
	id   recstore.ID
	err  error
}

// Cursor opens a cursor over [lower, upper]. A zero bound is open. GT and LT
// make the bounds exclusive, Descending reverses the order. The first
// offset matching records are skipped; limit < 0 means no limit.
func (t *Table) Cursor(lower, upper recstore.ID, offset, limit int, flags recstore.CursorFlags) (*Cursor, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check("array.Cursor"); err != nil {
		return nil, err
	}

	top := int64(t.s.hdr.Uint32(hdrMaxRec))
	lo, hi := int64(1), top
	if lower != recstore.NilID {
		lo = int64(lower)
		if flags&recstore.GT != 0 {
			lo++
		}
	}
	if upper != recstore.NilID {
		hi = int64(upper)
		if flags&recstore.LT != 0 {
			hi--
		}
		hi = min(hi, top)
	}

	c := &Cursor{t: t, rest: limit}
	if flags&recstore.Descending != 0 {
		c.dir, c.curr, c.tail = -1, hi+1, lo
	} else {
		c.dir, c.curr, c.tail = 1, lo-1, hi
	}
	for ; offset > 0; offset-- {
		if c.advance() == recstore.NilID {
			break
		}
	}
	return c, nil
}

// advance must be called with t.mu held.
func (c *Cursor) advance() recstore.ID {
	for {
		next := c.curr + c.dir
		if (c.dir > 0 && next > c.tail) || (c.dir < 0 && next < c.tail) {
			return recstore.NilID
		}
		c.curr = next
		if c.t.exists(recstore.ID(next)) {
			return recstore.ID(next)
		}
	}
}

// Next moves to the next record. It returns false at the end or on error;
// see Err.
func (c *Cursor) Next() bool {
	if c.rest == 0 || c.err != nil {
		return false
	}
	c.t.mu.RLock()
	defer c.t.mu.RUnlock()
	if c.err = c.t.check("array.Cursor.Next"); c.err != nil {
		return false
	}
	c.id = c.advance()
	if c.id == recstore.NilID {
		c.rest = 0
		return false
	}
	if c.rest > 0 {
		c.rest--
	}
	return true
}

// ID returns the current record.
func (c *Cursor) ID() recstore.ID {
	return c.id
}

// Value returns a copy of the current record's value.
func (c *Cursor) Value() ([]byte, error) {
	return c.t.Value(c.id)
}

// SetValue updates the current record's value.
func (c *Cursor) SetValue(value []byte, mode recstore.SetMode) error {
	return c.t.SetValue(c.id, value, mode)
}

// Delete deletes the current record.
func (c *Cursor) Delete() error {
	return c.t.DeleteByID(c.id)
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}
