package hashtable

import "github.com/hupe1980/recstore"

// Cursor iterates live records in ID order between two keys.
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

// Cursor opens a cursor over the IDs from the record of minKey to the
// record of maxKey. A nil key is an open bound, and a key that does not
// exist yields an empty cursor. GT and LT make the bounds exclusive,
// Descending reverses the order. The first offset records are skipped;
// limit < 0 means no limit.
func (t *Table) Cursor(minKey, maxKey []byte, offset, limit int, flags recstore.CursorFlags) (*Cursor, error) {
	const op = "hashtable.Cursor"
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(op); err != nil {
		return nil, err
	}

	c := &Cursor{t: t, rest: limit, dir: 1}
	lo, hi := int64(1), int64(t.s.hdr.Uint32(hdrCurrRec))
	if minKey != nil {
		p, err := t.get(op, minKey)
		if err != nil {
			return nil, err
		}
		if p.id == recstore.NilID {
			c.rest = 0
			return c, nil
		}
		lo = int64(p.id)
		if flags&recstore.GT != 0 {
			lo++
		}
	}
	if maxKey != nil {
		p, err := t.get(op, maxKey)
		if err != nil {
			return nil, err
		}
		if p.id == recstore.NilID {
			c.rest = 0
			return c, nil
		}
		hi = int64(p.id)
		if flags&recstore.LT != 0 {
			hi--
		}
	}

	if flags&recstore.Descending != 0 {
		c.dir, c.curr, c.tail = -1, hi+1, lo
	} else {
		c.curr, c.tail = lo-1, hi
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
	if c.err = c.t.check("hashtable.Cursor.Next"); c.err != nil {
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

// Key returns a copy of the current record's key.
func (c *Cursor) Key() ([]byte, error) {
	return c.t.Key(c.id)
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
