package network

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// maxMessageSize is the maximum allowed message size once decompressed (4 MB).
	maxMessageSize = 4 << 20

	// headerSize is the length prefix plus the flags byte.
	headerSize = 5

	// compressThreshold is the payload size above which frames are zstd-compressed.
	compressThreshold = 2 << 10
)

const (
	flagPlain byte = 0
	flagZstd  byte = 1
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// codec returns the shared zstd encoder and decoder. EncodeAll and DecodeAll are
// safe for concurrent use.
func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}

		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxMessageSize))
	})

	return encoder, decoder, codecErr
}

// writeMessage writes one frame.
// Format: [4 bytes big-endian body length] [1 byte flags] [body]
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	flags, body := flagPlain, data

	if len(data) > compressThreshold {
		enc, _, err := codec()
		if err != nil {
			return fmt.Errorf("zstd codec:\n%w", err)
		}

		if compressed := enc.EncodeAll(data, nil); len(compressed) < len(data) {
			flags, body = flagZstd, compressed
		}
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(body)))
	header[4] = flags

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header:\n%w", err)
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body:\n%w", err)
	}

	return nil
}

// readMessage reads one frame and returns the decompressed payload.
func readMessage(r io.Reader) ([]byte, error) {
	var header [headerSize]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read header:\n%w", err)
	}

	length := binary.BigEndian.Uint32(header[:4])
	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxMessageSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body:\n%w", err)
	}

	switch header[4] {
	case flagPlain:
		return body, nil
	case flagZstd:
		_, dec, err := codec()
		if err != nil {
			return nil, fmt.Errorf("zstd codec:\n%w", err)
		}

		data, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress:\n%w", err)
		}

		if len(data) > maxMessageSize {
			return nil, fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
		}

		return data, nil
	default:
		return nil, fmt.Errorf("unknown frame flags %#x", header[4])
	}
}
