package cache

import (
	"bytes"
	"io"
	"sync"

	"github.com/andybalholm/brotli"

	"github.com/saiset-co/sai-cache/types"
)

const compressedMarker byte = 0x01

type compressor struct {
	minSize int
	writers sync.Pool
}

func newCompressor(config *types.CompressionConfig) *compressor {
	level := config.Level
	if level <= 0 || level > brotli.BestCompression {
		level = 4
	}

	minSize := config.MinSize
	if minSize <= 0 {
		minSize = 1024
	}

	return &compressor{
		minSize: minSize,
		writers: sync.Pool{
			New: func() interface{} {
				return brotli.NewWriterLevel(nil, level)
			},
		},
	}
}

// compress returns the original payload whenever compression is not
// worth it: below the size threshold, on encoder failure, or when the
// compressed form ends up no smaller.
func (c *compressor) compress(data []byte) []byte {
	if len(data) < c.minSize {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 1)
	buf.WriteByte(compressedMarker)

	writer := c.writers.Get().(*brotli.Writer)
	writer.Reset(&buf)

	_, writeErr := writer.Write(data)
	closeErr := writer.Close()
	c.writers.Put(writer)

	if writeErr != nil || closeErr != nil {
		return data
	}

	if buf.Len() >= len(data) {
		return data
	}

	return buf.Bytes()
}

// decompress inspects the marker byte written by compress. Serialized
// values are JSON and never begin with the marker, so bare payloads pass
// through untouched. Entries written while compression was enabled stay
// readable after it is turned off.
func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0] != compressedMarker {
		return data, nil
	}

	reader := brotli.NewReader(bytes.NewReader(data[1:]))
	return io.ReadAll(reader)
}
