package segio

// File types of the tables built on segment files.
const (
	TypeArray Type = 1
	TypeHash  Type = 2
	TypeBlob  Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeArray:
		return "array"
	case TypeHash:
		return "hash"
	case TypeBlob:
		return "blob"
	}
	return "unknown"
}
