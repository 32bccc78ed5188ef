package cache

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

func TestCompressorRoundTrip(t *testing.T) {
	c := newCompressor(&types.CompressionConfig{Enabled: true, MinSize: 64, Level: 4})

	payload := bytes.Repeat([]byte("compress me please "), 40)
	compressed := c.compress(payload)

	require.NotEqual(t, payload, compressed)
	assert.Equal(t, compressedMarker, compressed[0])
	assert.Less(t, len(compressed), len(payload))

	restored, err := decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestCompressorBelowThreshold(t *testing.T) {
	c := newCompressor(&types.CompressionConfig{Enabled: true, MinSize: 1024, Level: 4})

	payload := []byte("small")
	assert.Equal(t, payload, c.compress(payload))
}

func TestCompressorIncompressible(t *testing.T) {
	c := newCompressor(&types.CompressionConfig{Enabled: true, MinSize: 64, Level: 4})

	// Random bytes cannot shrink, so the original wins.
	payload := make([]byte, 2048)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	assert.Equal(t, payload, c.compress(payload))
}

func TestDecompressPassthrough(t *testing.T) {
	plain := []byte(`{"already":"plain"}`)

	restored, err := decompress(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, restored)
}

func TestDecompressCorrupt(t *testing.T) {
	_, err := decompress([]byte{compressedMarker, 0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}

func TestCompressorPooledWriters(t *testing.T) {
	c := newCompressor(&types.CompressionConfig{Enabled: true, MinSize: 16, Level: 4})

	first := bytes.Repeat([]byte("abc "), 100)
	second := bytes.Repeat([]byte("xyz "), 100)

	restored, err := decompress(c.compress(first))
	require.NoError(t, err)
	assert.Equal(t, first, restored)

	restored, err = decompress(c.compress(second))
	require.NoError(t, err)
	assert.Equal(t, second, restored)
}
