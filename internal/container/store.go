package container

// Store is an ID-addressed store of fixed-size elements. SegmentedArray is
// the in-memory implementation; persistent tables use segment-mapped files.
type Store interface {
	// At returns the element for id, allocating storage if needed.
	At(id uint32) ([]byte, error)
	// Get returns the element for id or nil if its storage does not exist.
	Get(id uint32) []byte
}

// BitStore is an ID-addressed bitmap.
type BitStore interface {
	Test(bit uint32) bool
	Set(bit uint32, on bool) error
}

var (
	_ Store    = (*SegmentedArray)(nil)
	_ BitStore = (*Bitmap)(nil)
)
