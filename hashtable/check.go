package hashtable

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hupe1980/recstore"
)

// Check writes a dump of the table header to w and verifies that the
// bitmap agrees with the entry count.
func (t *Table) Check(w io.Writer) error {
	const op = "hashtable.Check"
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(op); err != nil {
		return err
	}
	h := t.s.hdr
	live := t.ids().GetCardinality()

	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "path:\t%s\n", t.displayPath())
	fmt.Fprintf(tw, "layout:\t%s\n", t.l.kind)
	fmt.Fprintf(tw, "flags:\t%#x\n", h.Uint32(hdrFlags))
	fmt.Fprintf(tw, "key_size:\t%d\n", h.Uint32(hdrKeySize))
	fmt.Fprintf(tw, "value_size:\t%d\n", h.Uint32(hdrValueSize))
	fmt.Fprintf(tw, "entry_size:\t%d\n", h.Uint32(hdrEntrySize))
	fmt.Fprintf(tw, "max_offset:\t%d\n", h.Uint32(hdrMaxOffset))
	fmt.Fprintf(tw, "idx_offset:\t%d\n", h.Uint32(hdrIdxOffset))
	fmt.Fprintf(tw, "n_entries:\t%d\n", h.Uint32(hdrNEntries))
	fmt.Fprintf(tw, "n_garbages:\t%d\n", h.Uint32(hdrNGarbages))
	fmt.Fprintf(tw, "curr_rec:\t%d\n", h.Uint32(hdrCurrRec))
	fmt.Fprintf(tw, "lock:\t%d\n", h.Uint32(hdrLock))
	if t.l.isVar() {
		fmt.Fprintf(tw, "curr_key:\t%d\n", h.Uint64(t.keyCursorOffset()))
		fmt.Fprintf(tw, "max_total_key_size:\t%d\n", t.maxTotalKeySize())
	}
	fmt.Fprintf(tw, "bitmap_entries:\t%d\n", live)
	if err := tw.Flush(); err != nil {
		return recstore.Wrap(recstore.ErrIO, op, err)
	}
	if live != uint64(h.Uint32(hdrNEntries)) {
		return recstore.Errorf(recstore.ErrFileCorrupt, op,
			"bitmap holds %d records, header counts %d", live, h.Uint32(hdrNEntries))
	}
	return nil
}
