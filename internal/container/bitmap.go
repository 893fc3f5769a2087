package container

// Bitmap is a segmented bitmap. Bit b lives in byte (b>>3)+1 of a
// byte-element SegmentedArray, so it grows with the same block scheme.
type Bitmap struct {
	bytes *SegmentedArray
}

// NewBitmap creates an empty bitmap.
func NewBitmap(opts ...Option) *Bitmap {
	return &Bitmap{bytes: NewSegmentedArray(1, opts...)}
}

func bytePos(bit uint32) (uint32, byte) {
	return (bit >> 3) + 1, 1 << (bit & 7)
}

// Test reports whether bit is set. It never allocates.
func (b *Bitmap) Test(bit uint32) bool {
	id, mask := bytePos(bit)
	p := b.bytes.Get(id)
	return p != nil && p[0]&mask != 0
}

// Put returns the current value of bit, allocating its byte if needed.
func (b *Bitmap) Put(bit uint32) (bool, error) {
	id, mask := bytePos(bit)
	p, err := b.bytes.At(id)
	if err != nil {
		return false, err
	}
	return p[0]&mask != 0, nil
}

// Set sets or clears bit, allocating its byte if needed.
func (b *Bitmap) Set(bit uint32, on bool) error {
	_, err := b.Swap(bit, on)
	return err
}

// Swap sets bit to on and returns its previous value.
func (b *Bitmap) Swap(bit uint32, on bool) (bool, error) {
	id, mask := bytePos(bit)
	p, err := b.bytes.At(id)
	if err != nil {
		return false, err
	}
	old := p[0]&mask != 0
	if on {
		p[0] |= mask
	} else {
		p[0] &^= mask
	}
	return old, nil
}

// Reserved returns the number of bytes held by allocated blocks.
func (b *Bitmap) Reserved() int64 {
	return b.bytes.Reserved()
}

// Close frees every block.
func (b *Bitmap) Close() {
	b.bytes.Close()
}
