package codec

import "mini-xpc/object"

// Type tags on the wire.
const (
	TypeNull          uint32 = 0x01000
	TypeBool          uint32 = 0x02000
	TypeInt64         uint32 = 0x03000
	TypeUint64        uint32 = 0x04000
	TypeDouble        uint32 = 0x05000
	TypePointer       uint32 = 0x06000
	TypeDate          uint32 = 0x07000
	TypeData          uint32 = 0x08000
	TypeString        uint32 = 0x09000
	TypeUUID          uint32 = 0x0a000
	TypeFileHandle    uint32 = 0x0b000
	TypeSharedMemory  uint32 = 0x0c000
	TypeSendHandle    uint32 = 0x0d000
	TypeArray         uint32 = 0x0e000
	TypeDictionary    uint32 = 0x0f000
	TypeError         uint32 = 0x10000
	TypeConnection    uint32 = 0x11000
	TypeEndpoint      uint32 = 0x12000
	TypeSerializer    uint32 = 0x13000
	TypePipe          uint32 = 0x14000
	TypeReceiveHandle uint32 = 0x15000
	TypeBundle        uint32 = 0x16000
	TypeService       uint32 = 0x17000
	TypeServiceInst   uint32 = 0x18000
	TypeActivity      uint32 = 0x19000
	TypeFileTransfer  uint32 = 0x1a000
)

// TagOf returns the wire tag for kind, or false if the kind cannot be
// encoded.
func TagOf(kind object.Kind) (uint32, bool) {
	switch kind {
	case object.KindNull:
		return TypeNull, true
	case object.KindBool:
		return TypeBool, true
	case object.KindInt64:
		return TypeInt64, true
	case object.KindUint64:
		return TypeUint64, true
	case object.KindDouble:
		return TypeDouble, true
	case object.KindDate:
		return TypeDate, true
	case object.KindString:
		return TypeString, true
	case object.KindData:
		return TypeData, true
	case object.KindUUID:
		return TypeUUID, true
	case object.KindArray:
		return TypeArray, true
	case object.KindDictionary:
		return TypeDictionary, true
	case object.KindFileHandle:
		return TypeFileHandle, true
	case object.KindSharedMemory:
		return TypeSharedMemory, true
	case object.KindSendHandle:
		return TypeSendHandle, true
	case object.KindReceiveHandle:
		return TypeReceiveHandle, true
	case object.KindError:
		return 0, false
	}
	return 0, false
}

// handleKind maps a handle tag to its kind.
func handleKind(tag uint32) (object.Kind, bool) {
	switch tag {
	case TypeFileHandle:
		return object.KindFileHandle, true
	case TypeSharedMemory:
		return object.KindSharedMemory, true
	case TypeSendHandle:
		return object.KindSendHandle, true
	case TypeReceiveHandle:
		return object.KindReceiveHandle, true
	}
	return 0, false
}

// reserved reports whether tag names a type that exists in the format but
// has no encoding here.
func reserved(tag uint32) bool {
	switch tag {
	case TypePointer, TypeError, TypeConnection, TypeEndpoint, TypeSerializer,
		TypePipe, TypeBundle, TypeService, TypeServiceInst, TypeActivity, TypeFileTransfer:
		return true
	}
	return false
}
