package refmap

import (
	"math/bits"
	"unsafe"

	"github.com/spaolacci/murmur3"
)

type hashFunc func(unsafe.Pointer, uintptr) uintptr
type equalFunc func(unsafe.Pointer, unsafe.Pointer) bool

// StringHasher hashes string keys with 64-bit murmur3.
// Pass it to NewMapWithHasher when the runtime hasher is not wanted,
// e.g. when hashes must be reproducible across processes for a given seed.
func StringHasher(key string, seed uintptr) uintptr {
	return uintptr(murmur3.Sum64WithSeed([]byte(key), uint32(seed)))
}

// mix spreads a raw key hash so that both the high bits (segment
// selection) and the low bits (bucket selection) depend on every input bit.
// Integer keys hash to themselves, so without it small keys would all land
// in segment zero.
func mix(h uintptr) uint32 {
	v := uint32(h)
	if bits.UintSize == 64 {
		v ^= uint32(uint64(h) >> 32)
	}
	v += (v << 15) ^ 0xffffcd7d
	v ^= v >> 10
	v += v << 3
	v ^= v >> 6
	v += (v << 2) + (v << 14)
	return v ^ (v >> 16)
}

// calcShift returns the smallest shift such that 1<<shift >= min(n, limit).
func calcShift(n, limit int) uint {
	var shift uint
	for v := 1; v < n && v < limit; v <<= 1 {
		shift++
	}
	return shift
}

func defaultHasher[K comparable, V any]() (keyHash hashFunc, valEqual equalFunc) {
	keyHash, valEqual = defaultHasherUsingBuiltIn[K, V]()

	switch any(*new(K)).(type) {
	case uint, int, uintptr:
		return func(value unsafe.Pointer, _ uintptr) uintptr {
			return *(*uintptr)(value)
		}, valEqual

	case uint64, int64:
		if bits.UintSize == 32 {
			return func(value unsafe.Pointer, _ uintptr) uintptr {
				v := *(*uint64)(value)
				return uintptr(v) ^ uintptr(v>>32)
			}, valEqual
		}
		return func(value unsafe.Pointer, _ uintptr) uintptr {
			return uintptr(*(*uint64)(value))
		}, valEqual

	case uint32, int32:
		return func(value unsafe.Pointer, _ uintptr) uintptr {
			return uintptr(*(*uint32)(value))
		}, valEqual

	case uint16, int16:
		return func(value unsafe.Pointer, _ uintptr) uintptr {
			return uintptr(*(*uint16)(value))
		}, valEqual

	case uint8, int8:
		return func(value unsafe.Pointer, _ uintptr) uintptr {
			return uintptr(*(*uint8)(value))
		}, valEqual

	default:
		return keyHash, valEqual
	}
}

// defaultHasherUsingBuiltIn obtains Go's built-in hash and equality functions
// for the specified types from the runtime map type descriptor.
// valEqual is nil when V is not comparable.
//
// Notes:
//   - This implementation relies on Go's internal type representation
//   - It should be verified for compatibility with each Go version upgrade
func defaultHasherUsingBuiltIn[K comparable, V any]() (keyHash hashFunc, valEqual equalFunc) {
	var m map[K]V
	mapType := iTypeOf(m).MapType()
	return mapType.Hasher, mapType.Elem.Equal
}

type iTFlag uint8
type iKind uint8
type iNameOff int32
type iTypeOff int32

type iType struct {
	Size_       uintptr
	PtrBytes    uintptr
	Hash        uint32
	TFlag       iTFlag
	Align_      uint8
	FieldAlign_ uint8
	Kind_       iKind
	// function for comparing objects of this type
	// (ptr to object A, ptr to object B) -> ==?
	Equal     func(unsafe.Pointer, unsafe.Pointer) bool
	GCData    *byte
	Str       iNameOff
	PtrToThis iTypeOff
}

func (t *iType) MapType() *iMapType {
	return (*iMapType)(unsafe.Pointer(t))
}

type iMapType struct {
	iType
	Key   *iType
	Elem  *iType
	Group *iType
	// function for hashing keys (ptr to key, seed) -> hash
	Hasher func(unsafe.Pointer, uintptr) uintptr
}

func iTypeOf(a any) *iType {
	eface := *(*iEmptyInterface)(unsafe.Pointer(&a))
	return (*iType)(noescape(unsafe.Pointer(eface.Type)))
}

type iEmptyInterface struct {
	Type *iType
	Data unsafe.Pointer
}

// noescape hides a pointer from escape analysis. It is the identity
// function but escape analysis doesn't think the output depends on the
// input.
// USE CAREFULLY!
//
//go:nosplit
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
