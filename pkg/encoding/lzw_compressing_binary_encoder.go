package encoding

import (
	"github.com/bonsaibuild/bonsai/pkg/compress/simplelzw"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type lzwCompressingBinaryEncoder struct {
	maximumDecodedSizeBytes uint32
}

// NewLZWCompressingBinaryEncoder creates a BinaryEncoder that
// compresses data using a simplified LZW scheme. Compression is
// deterministic, so that identical inputs yield identical encoded
// output. The size bound is enforced on both sides: decoding rejects
// oversized headers, and encoding refuses input that the decoder would
// be unable to hand back.
func NewLZWCompressingBinaryEncoder(maximumDecodedSizeBytes uint32) BinaryEncoder {
	return &lzwCompressingBinaryEncoder{
		maximumDecodedSizeBytes: maximumDecodedSizeBytes,
	}
}

func (be *lzwCompressingBinaryEncoder) EncodeBinary(in []byte) ([]byte, error) {
	if uint64(len(in)) > uint64(be.maximumDecodedSizeBytes) {
		return nil, status.Errorf(codes.InvalidArgument, "Data is %d bytes in size, which exceeds the permitted maximum of %d bytes", len(in), be.maximumDecodedSizeBytes)
	}
	return simplelzw.MaybeCompress(in)
}

func (be *lzwCompressingBinaryEncoder) DecodeBinary(in []byte) ([]byte, error) {
	return simplelzw.Decompress(in, be.maximumDecodedSizeBytes)
}
