package recstore

// ID addresses a record within a table. Zero is never a valid record.
type ID = uint32

const (
	// NilID is the invalid record ID.
	NilID ID = 0

	// MaxID is the largest record ID a table hands out.
	MaxID ID = 0xffffffff - 8
)

// CursorFlags controls cursor direction and bound inclusion.
type CursorFlags uint32

const (
	// Ascending iterates from the lower to the upper bound (the default).
	Ascending CursorFlags = 0
	// Descending iterates from the upper to the lower bound.
	Descending CursorFlags = 1 << 0
	// GT excludes the lower bound.
	GT CursorFlags = 1 << 1
	// LT excludes the upper bound.
	LT CursorFlags = 1 << 2
)

// SetMode selects how SetValue combines the new value with the stored one.
type SetMode int

const (
	// Set overwrites the stored value.
	Set SetMode = iota
	// Incr adds the new value to a 4- or 8-byte integer value.
	Incr
	// Decr subtracts the new value from a 4- or 8-byte integer value.
	Decr
)

func (m SetMode) String() string {
	switch m {
	case Set:
		return "set"
	case Incr:
		return "incr"
	case Decr:
		return "decr"
	}
	return "unknown"
}
