// Package recstore provides embedded record storage for Go: ID-addressed
// record tables, key-to-ID hash tables and an LRU record cache, each
// available in process memory or backed by memory-mapped files.
//
// # Packages
//
//	array      fixed-size records addressed by ID, with an optional FIFO queue
//	hashtable  keys mapped to stable IDs with a per-key value
//	cache      LRU cache of byte values with optional staleness checks
//	resource   memory and IO budgets shared by tables and caches
//
// This package holds the pieces shared by all of them: record IDs, cursor
// flags, the error kinds, the logger and the metrics hooks.
//
// # Quick Start
//
//	tbl, _ := hashtable.Create("", 0, 8, hashtable.FlagKeyVarSize)
//	id, _, _, _ := tbl.Add([]byte("alice"))
//	_ = tbl.SetValue(id, counter, recstore.Incr)
//
//	c, _ := cache.Open(ctx, "/var/cache/app/results", cache.WithMaxEntries(1000))
//	if v, hit, _ := c.Fetch(ctx, key); !hit {
//		_ = c.Update(ctx, key, compute())
//	}
//
// # Errors
//
// Every operation returns an *Error whose kind matches one of the Err*
// sentinels with errors.Is:
//
//	if errors.Is(err, recstore.ErrDeadlockAvoided) {
//		// retry later
//	}
//
// CodeOf maps an error to a stable numeric Code, and LastError returns the
// most recent error recorded in the process.
//
// # Persistence
//
// A persistent table is a single file of 4 MiB segments that are mapped
// on demand. Several handles, even in different processes, may open the
// same file; Lock serializes writers and Truncate invalidates all other
// handles, which then fail with ErrFileCorrupt until reopened.
package recstore
