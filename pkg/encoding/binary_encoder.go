package encoding

// BinaryEncoder applies a reversible transformation to binary data,
// such as compression. Cache entries are passed through an encoder
// before they are written to disk and through the inverse after they
// are read back.
//
// Empty input must encode to empty output, as callers treat empty data
// as the absence of a value.
type BinaryEncoder interface {
	EncodeBinary(in []byte) ([]byte, error)
	DecodeBinary(in []byte) ([]byte, error)
}

type chainedBinaryEncoder struct {
	encoders []BinaryEncoder
}

// NewChainedBinaryEncoder creates a BinaryEncoder that applies a series
// of encoders in order, and their inverses in reverse order. Chaining
// zero encoders yields the identity transformation.
func NewChainedBinaryEncoder(encoders ...BinaryEncoder) BinaryEncoder {
	if len(encoders) == 1 {
		return encoders[0]
	}
	return &chainedBinaryEncoder{
		encoders: encoders,
	}
}

func (be *chainedBinaryEncoder) EncodeBinary(in []byte) ([]byte, error) {
	for _, encoder := range be.encoders {
		var err error
		in, err = encoder.EncodeBinary(in)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

func (be *chainedBinaryEncoder) DecodeBinary(in []byte) ([]byte, error) {
	for i := len(be.encoders); i > 0; i-- {
		var err error
		in, err = be.encoders[i-1].DecodeBinary(in)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}
