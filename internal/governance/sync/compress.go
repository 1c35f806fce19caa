package sync

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressExt and legacyExt are the two extensions a reader must accept,
// per the design's "Readers must tolerate both the compressed extension
// and a plain .json extension."
const (
	compressExt = "json.zst"
	legacyExt   = "json"
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func getEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil)
	})
	return encoder, encoderErr
}

func getDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil)
	})
	return decoder, decoderErr
}

func compress(data []byte) ([]byte, error) {
	enc, err := getEncoder()
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	return enc.EncodeAll(data, nil), nil
}

// decompress decodes zstd-compressed data, falling back to treating the
// bytes as raw payload if decoding fails, supporting legacy plain-JSON
// uploads that were never compressed.
func decompress(data []byte) []byte {
	dec, err := getDecoder()
	if err != nil {
		return data
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return data
	}
	return out
}
