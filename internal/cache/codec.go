package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec compresses cache payloads. Implementations must be safe for
// concurrent use.
type Codec interface {
	Compress(src []byte) []byte
	Decompress(src []byte) ([]byte, error)
	Close()
}

// Sealer encrypts cache payloads. *crypt.Sealer satisfies it.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// zstdCodec uses stateless EncodeAll/DecodeAll, which are safe to call
// from many goroutines at once.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCodec builds the default zstd codec.
func NewZstdCodec() (Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("new zstd decoder: %w", err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (z *zstdCodec) Compress(src []byte) []byte {
	return z.enc.EncodeAll(src, make([]byte, 0, len(src)))
}

func (z *zstdCodec) Decompress(src []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (z *zstdCodec) Close() {
	z.enc.Close()
	z.dec.Close()
}
