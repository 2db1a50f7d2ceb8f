package varint

import (
	"golang.org/x/exp/constraints"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaxSize is the maximum size in bytes of a single encoded integer.
const MaxSize = 10

// AppendForward appends an integer value to a byte slice using a
// variable length encoding, which can be read back in a forward parsing
// manner.
//
// Values are stored in groups of seven bits, least significant group
// first, with the top bit of every byte acting as a continuation flag.
// Signed values are zigzag converted prior to encoding, so that small
// negative values remain small on the wire.
func AppendForward[T constraints.Integer](dst []byte, value T) []byte {
	var v uint64
	if isSigned[T]() {
		// Zigzag conversion, storing the sign in the lowest bit.
		sv := int64(value)
		v = uint64(sv<<1) ^ uint64(sv>>63)
	} else {
		v = uint64(value)
	}
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// ConsumeForward reads an integer that was appended by AppendForward
// from the start of a byte slice. It returns the decoded value and the
// number of bytes consumed. Truncated, oversized or out of range input
// yields an error.
func ConsumeForward[T constraints.Integer](src []byte) (T, int, error) {
	var v uint64
	for i := 0; i < len(src) && i < MaxSize; i++ {
		b := src[i]
		if i == MaxSize-1 && b > 0x01 {
			var bad T
			return bad, 0, status.Error(codes.InvalidArgument, "Variable length integer exceeds 64 bits")
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			value, ok := convertInteger[T](v)
			if !ok {
				var bad T
				return bad, 0, status.Error(codes.InvalidArgument, "Variable length integer exceeds the range of the result type")
			}
			return value, i + 1, nil
		}
	}
	var bad T
	return bad, 0, status.Error(codes.InvalidArgument, "Variable length integer is truncated")
}

func isSigned[T constraints.Integer]() bool {
	var minusOne T = 0
	minusOne--
	return minusOne < 0
}

func convertInteger[T constraints.Integer](v uint64) (T, bool) {
	if isSigned[T]() {
		// Undo the zigzag conversion.
		sv := int64(v>>1) ^ -int64(v&1)
		value := T(sv)
		if int64(value) != sv {
			return 0, false
		}
		return value, true
	}
	value := T(v)
	if uint64(value) != v {
		return 0, false
	}
	return value, true
}
