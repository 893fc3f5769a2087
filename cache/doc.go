// Package cache implements an LRU cache of byte values on top of the
// hash table.
//
// Every key is a record of a variable-key hash table. Its value holds the
// LRU links, as record IDs, and the modification time. Two reserved
// records anchor the ring (ROOT) and keep the capacity and the fetch and
// hit counters (METADATA). A memory cache keeps values on the heap; a
// persistent cache keeps them in a blob file next to the keys, optionally
// compressed:
//
//	c, err := cache.Open(ctx, "/var/lib/app/cache", cache.WithCodec(cache.CodecZSTD))
//	_ = c.Update(ctx, []byte("select ..."), result)
//	v, hit, err := c.Fetch(ctx, []byte("select ..."))
//
// Init, Default and Shutdown manage a process-wide default cache.
package cache
