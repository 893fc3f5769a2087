// Package fs abstracts the file system under persistent tables so tests
// can inject failures.
//
// [File] is an open file that can be truncated, synced and memory-mapped;
// [FileSystem] opens, removes and stats files. [LocalFS] is backed by the
// os package and is the [Default]. [FaultyFS] wraps another FileSystem and
// fails calls that match a rule, for example a segment file that cannot
// grow past its first segment:
//
//	ffs := fs.NewFaultyFS(nil)
//	f := fs.NoFault
//	f.FailTruncateAbove = 1 << 20
//	ffs.AddRule(".keys", f)
//
//	tbl, err := hashtable.Create(path+".keys", 0, 8, hashtable.FlagKeyVarSize,
//		hashtable.WithFileSystem(ffs))
//
// Calls take no context.Context: local file operations are not
// interruptible.
package fs
