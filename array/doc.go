// Package array implements the record table: fixed-size values addressed by
// a monotonically assigned ID, with deleted IDs recycled through a garbage
// list threaded through the values themselves.
//
// A table lives either in process memory (segmented arrays) or in a
// memory-mapped segment file. Both backings share the header layout, so
// they behave the same.
//
// Tables created with FlagQueue additionally act as a bounded FIFO:
// Push overwrites the oldest record once the capacity is reached, and
// Pull can block until a record arrives or Unblock is called.
//
//	q, _ := array.Create("", 8, array.FlagQueue, array.WithQueueCapacity(1024))
//	q.Push(func(id recstore.ID, v []byte) { binary.LittleEndian.PutUint64(v, job) })
//	id, err := q.Pull(ctx, true, func(id recstore.ID, v []byte) { ... })
package array
