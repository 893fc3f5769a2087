// Package segio manages memory-mapped, segment-structured files.
//
// A file holds a header area followed by fixed-size segments:
//
//	+--------------------------+  0
//	| descriptor (magic, type, |
//	| array specs, checksum)   |
//	| segment count            |
//	| segment map              |
//	| user header              |
//	+--------------------------+  header area size (64 KiB multiple)
//	| physical segment 0       |
//	| physical segment 1       |
//	| ...                      |
//	+--------------------------+
//
// The file is divided into logical arrays, each with an element width
// (log2 of the element size) and a maximum segment count. Element e of
// array a lives at byte e<<w of that array's logical address space.
// Logical segments are assigned physical segments on first write and
// recorded in the segment map, so sparse arrays (such as the two halves of
// a hash index) only cost disk space for the segments they touch.
//
// Mappings are shared: every handle on the same file sees header and
// segment writes of every other handle. Segment allocation is serialized
// within a handle; callers that share a file between handles must hold
// their table's advisory lock while growing it.
package segio
