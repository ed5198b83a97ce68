package backend

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("compiled kernel state "), 200)

	blob, err := EncodeCache(payload)
	require.NoError(t, err)
	require.Less(t, len(blob), len(payload), "repetitive payload should compress")

	got, err := DecodeCache(blob)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestCacheIncompressiblePayload(t *testing.T) {
	// Short high-entropy payloads defeat lz4 and are stored raw.
	payload := []byte{0x01, 0xfe, 0x42, 0x99, 0x7a, 0x03, 0xd5, 0x60}

	blob, err := EncodeCache(payload)
	require.NoError(t, err)

	got, err := DecodeCache(blob)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestCacheEmptyPayload(t *testing.T) {
	blob, err := EncodeCache(nil)
	require.NoError(t, err)
	got, err := DecodeCache(blob)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCacheRejectsCorruption(t *testing.T) {
	blob, err := EncodeCache([]byte("some runtime state worth caching"))
	require.NoError(t, err)

	bad := append([]byte(nil), blob...)
	bad[0] = 'X'
	_, err = DecodeCache(bad)
	require.ErrorIs(t, err, ErrCacheMagic)

	bad = append([]byte(nil), blob...)
	bad[4] = 99
	_, err = DecodeCache(bad)
	require.ErrorIs(t, err, ErrCacheVersion)

	bad = append([]byte(nil), blob...)
	bad[20] ^= 0xff // inside the checksum
	_, err = DecodeCache(bad)
	require.ErrorIs(t, err, ErrCacheChecksum)

	_, err = DecodeCache(blob[:10])
	require.ErrorIs(t, err, ErrCacheTooShort)
}

func TestCacheRejectsAbsurdSizeField(t *testing.T) {
	blob, err := EncodeCache(bytes.Repeat([]byte("state "), 64))
	require.NoError(t, err)

	// A valid header with a bogus uncompressed size must be rejected
	// before it drives an allocation.
	bad := append([]byte(nil), blob...)
	binary.LittleEndian.PutUint64(bad[8:16], 1<<62)
	require.NotPanics(t, func() {
		_, err = DecodeCache(bad)
	})
	require.ErrorIs(t, err, ErrCacheSize)
}
