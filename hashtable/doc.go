// Package hashtable implements the hash table: byte keys mapped to
// monotonically assigned IDs, each with a fixed-size value.
//
// The index is an open-addressing table of IDs probed with an odd stride,
// so a power-of-two index visits every slot. It doubles once live entries
// and tombstones fill half of it. Keys are fixed-size, or variable-size
// with short keys stored inline in the entry and longer ones in a key
// arena of 4 MiB segments.
//
// A table lives either in process memory or in a memory-mapped segment
// file. Persistent tables keep two index halves and flip between them on
// resize.
//
//	t, _ := hashtable.Create("", 0, 8, hashtable.FlagKeyVarSize)
//	id, _, added, err := t.Add([]byte("alpha"))
//	err = t.SetValue(id, one, recstore.Incr)
package hashtable
