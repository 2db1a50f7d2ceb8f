package simplelzw

import (
	"encoding/binary"
	"math/bits"

	"github.com/bonsaibuild/bonsai/pkg/encoding/varint"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// This package implements a simplified Lempel-Ziv-Welch coder. Unlike
// the LZW variants used by GIF and TIFF it never caps the code space
// and never emits reset codes, so compressor and decompressor state
// grow with the input. That rules out streaming use, but it keeps the
// format fully deterministic: the same input yields the same bytes on
// every implementation, which is what stored cache entries need so
// they can be compared and deduplicated by content.

const (
	// Width of one input symbol and of a packed code. A table slot
	// packs (prefix code, symbol, assigned code) into 64 bits,
	// which caps codes at 28 bits.
	symbolWidth  = 8
	maxCodeWidth = (64 - symbolWidth) / 2

	// Codes up to and including lastLiteralCode denote single input
	// bytes. Dynamically assigned codes start directly above.
	lastLiteralCode = 1<<symbolWidth - 1
)

// prefixTable maps (prefix code, next symbol) keys to assigned codes.
// Slots hold key<<maxCodeWidth|code packed into a uint64; zero marks an
// empty slot, which no valid entry can collide with because assigned
// codes are always greater than lastLiteralCode.
type prefixTable struct {
	slots []uint64
	mask  uint64
}

func newPrefixTable(size int) prefixTable {
	return prefixTable{
		slots: make([]uint64, size),
		mask:  uint64(size - 1),
	}
}

func hashKey(key uint64) uint64 {
	return key>>symbolWidth ^ key
}

func (pt *prefixTable) lookup(key uint64) (uint64, bool) {
	for h := hashKey(key); ; h++ {
		slot := pt.slots[h&pt.mask]
		if slot == 0 {
			return 0, false
		}
		if slot>>maxCodeWidth == key {
			return slot & (1<<maxCodeWidth - 1), true
		}
	}
}

func (pt *prefixTable) insert(key, code uint64) {
	for h := hashKey(key); ; h++ {
		if pt.slots[h&pt.mask] == 0 {
			pt.slots[h&pt.mask] = key<<maxCodeWidth | code
			return
		}
	}
}

// grow rehashes into a larger table once the number of assigned codes
// would push the load factor too high. size must be a power of two.
func (pt *prefixTable) grow(size int) {
	if len(pt.slots) >= size {
		return
	}
	grown := newPrefixTable(size)
	for _, slot := range pt.slots {
		if slot != 0 {
			grown.insert(slot>>maxCodeWidth, slot&(1<<maxCodeWidth-1))
		}
	}
	*pt = grown
}

// Compress returns the compressed form of data, prefixed with the
// decompressed size so that Decompress can allocate its output buffer
// up front.
func Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	out := varint.AppendForward(nil, uint32(len(data)))

	table := newPrefixTable(1 << 12)
	highestCode := uint64(lastLiteralCode)
	codeWidth := symbolWidth

	var pending uint64
	pendingBits := 0
	current := uint64(data[0])
	for _, symbol := range data[1:] {
		// Extend the current prefix if the dictionary already
		// contains it with the next symbol appended.
		key := current<<symbolWidth | uint64(symbol)
		if code, ok := table.lookup(key); ok {
			current = code
			continue
		}

		pending |= current << pendingBits
		pendingBits += codeWidth
		if pendingBits >= 32 {
			out = binary.LittleEndian.AppendUint32(out, uint32(pending))
			pending >>= 32
			pendingBits -= 32
		}

		// Assign the next code to the extended prefix. Codes
		// widen as their count crosses a power of two, and the
		// table grows along with them.
		highestCode++
		if width := bits.Len64(highestCode); width != codeWidth {
			if width > maxCodeWidth {
				return nil, status.Errorf(codes.InvalidArgument, "Data requires more than %d codes to compress", uint64(1)<<maxCodeWidth)
			}
			table.grow(int(highestCode) * 4)
			codeWidth = width
		}
		table.insert(key, highestCode)
		current = uint64(symbol)
	}

	pending |= current << pendingBits
	pendingBits += codeWidth
	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], pending)
	return append(out, tail[:(pendingBits+7)/8]...), nil
}

// MaybeCompress compresses data, falling back to storing it literally
// when compression would make it larger. Literal storage is marked by a
// decompressed size of zero in the header.
func MaybeCompress(data []byte) ([]byte, error) {
	compressed, err := Compress(data)
	if err != nil {
		return nil, err
	}
	if len(compressed) > len(data) {
		return append(varint.AppendForward(nil, uint32(0)), data...), nil
	}
	return compressed, nil
}

// Decompress reverses Compress and MaybeCompress. maximumSizeBytes
// bounds the size of the decompressed output, so that a corrupted or
// hostile header cannot force an arbitrarily large allocation.
func Decompress(data []byte, maximumSizeBytes uint32) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	decompressedSize, n, err := varint.ConsumeForward[uint32](data)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "Invalid decompressed size in header")
	}
	data = data[n:]
	if decompressedSize == 0 {
		// Stored literally.
		if uint64(len(data)) > uint64(maximumSizeBytes) {
			return nil, status.Errorf(codes.InvalidArgument, "Decompressed data is %d bytes in size, which exceeds the permitted maximum of %d bytes", len(data), maximumSizeBytes)
		}
		return data, nil
	}
	if decompressedSize > maximumSizeBytes {
		return nil, status.Errorf(codes.InvalidArgument, "Decompressed data is %d bytes in size, which exceeds the permitted maximum of %d bytes", decompressedSize, maximumSizeBytes)
	}

	// The number of stored codes follows from the size of the
	// compressed payload: every code is exactly as wide as the
	// highest code assigned before it was written.
	remainingBits := len(data) * 8
	highestCode := lastLiteralCode
	for {
		codeWidth := bits.Len(uint(highestCode))
		codesUntilWider := 1<<codeWidth - highestCode
		bitsUntilWider := codeWidth * codesUntilWider
		if remainingBits < bitsUntilWider {
			codeCount := remainingBits / codeWidth
			remainingBits -= codeCount * codeWidth
			highestCode += codeCount
			break
		}
		remainingBits -= bitsUntilWider
		highestCode = 1 << codeWidth
	}
	if trailingBytes := remainingBits / 8; trailingBytes > 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Compressed input contains %d unnecessary trailing bytes", trailingBytes)
	}

	// For every code, the offset at which its output started.
	// offsets[k+1]-offsets[k] is the length of the k-th code's
	// output, which is how back references reconstruct prefixes.
	offsets := make([]uint32, 0, highestCode-lastLiteralCode)
	decompressed := make([]byte, 0, decompressedSize)

	var pending uint64
	pendingBits := 0
	for i := lastLiteralCode; i < highestCode; i++ {
		codeWidth := bits.Len(uint(i))
		if pendingBits < codeWidth {
			if len(data) >= 4 {
				pending |= uint64(binary.LittleEndian.Uint32(data)) << pendingBits
				pendingBits += 32
				data = data[4:]
			} else {
				for _, b := range data {
					pending |= uint64(b) << pendingBits
					pendingBits += 8
				}
				data = nil
			}
		}
		code := pending & (1<<codeWidth - 1)
		pending >>= codeWidth
		pendingBits -= codeWidth

		offsets = append(offsets, uint32(len(decompressed)))
		if code <= lastLiteralCode {
			decompressed = append(decompressed, byte(code))
		} else if index := code - lastLiteralCode; index < uint64(len(offsets)) {
			// A back reference expands to the output of an
			// earlier code plus the byte that followed it.
			first, last := offsets[index-1], offsets[index]
			decompressed = append(decompressed, decompressed[first:last]...)
			decompressed = append(decompressed, decompressed[last])
		} else {
			return nil, status.Errorf(codes.InvalidArgument, "Input contains unexpected code %d", code)
		}
		if uint64(len(decompressed)) > uint64(decompressedSize) {
			return nil, status.Errorf(codes.InvalidArgument, "Size of decompressed output exceeds size in header of %d bytes, with %d of %d codes processed", decompressedSize, i-lastLiteralCode, highestCode-lastLiteralCode)
		}
	}

	if pending != 0 {
		return nil, status.Error(codes.InvalidArgument, "Trailing bits are not zero")
	}
	if uint64(len(decompressed)) != uint64(decompressedSize) {
		return nil, status.Errorf(codes.InvalidArgument, "Size of decompressed output is %d bytes, which differs from size in header of %d bytes", len(decompressed), decompressedSize)
	}
	return decompressed, nil
}
