package object

// Kind identifies the concrete type of an Object.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindUint64
	KindDouble
	KindDate
	KindString
	KindData
	KindUUID
	KindArray
	KindDictionary
	KindFileHandle
	KindSharedMemory
	KindSendHandle
	KindReceiveHandle
	KindError
)

var kindNames = [...]string{
	KindNull:          "null",
	KindBool:          "bool",
	KindInt64:         "int64",
	KindUint64:        "uint64",
	KindDouble:        "double",
	KindDate:          "date",
	KindString:        "string",
	KindData:          "data",
	KindUUID:          "uuid",
	KindArray:         "array",
	KindDictionary:    "dictionary",
	KindFileHandle:    "fd",
	KindSharedMemory:  "shmem",
	KindSendHandle:    "send",
	KindReceiveHandle: "receive",
	KindError:         "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// IsHandle reports whether values of kind k travel out of band.
func (k Kind) IsHandle() bool {
	switch k {
	case KindFileHandle, KindSharedMemory, KindSendHandle, KindReceiveHandle:
		return true
	}
	return false
}
