// Package snapshot provides the rewind snapshot stores: a zstd-compressed
// in-memory store for live sessions and a SQLite store for sessions that
// must survive the process.
package snapshot

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// EncodeAll and DecodeAll are safe for concurrent use, so one pair serves every store.
func initCodec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

func compress(blob []byte) ([]byte, error) {
	if err := initCodec(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	return encoder.EncodeAll(blob, make([]byte, 0, len(blob)/4)), nil
}

func decompress(blob []byte) ([]byte, error) {
	if err := initCodec(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	out, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
