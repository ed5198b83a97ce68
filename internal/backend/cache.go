package backend

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Cache blob layout, little-endian:
//
//	[4]  magic "KLNC"
//	[4]  version
//	[8]  uncompressed payload size
//	[32] sha256 of the uncompressed payload
//	[..] lz4 block-compressed payload
const (
	cacheMagic   = "KLNC"
	cacheVersion = 1
	cacheHeader  = 4 + 4 + 8 + sha256.Size
)

// Cache codec errors.
var (
	ErrCacheMagic    = errors.New("cache blob has invalid magic bytes")
	ErrCacheVersion  = errors.New("cache blob has unsupported version")
	ErrCacheChecksum = errors.New("cache blob checksum mismatch")
	ErrCacheTooShort = errors.New("cache blob truncated")
	ErrCacheSize     = errors.New("cache blob size field out of range")
)

// An lz4 block cannot expand past this ratio, so a size field beyond
// it is corruption and must not drive an allocation.
const maxCacheExpansion = 255

// EncodeCache wraps payload into a self-verifying compressed blob
// suitable for Runtime.GetCache.
func EncodeCache(payload []byte) ([]byte, error) {
	blob := make([]byte, cacheHeader, cacheHeader+lz4.CompressBlockBound(len(payload)))
	copy(blob[0:4], cacheMagic)
	binary.LittleEndian.PutUint32(blob[4:8], cacheVersion)
	binary.LittleEndian.PutUint64(blob[8:16], uint64(len(payload)))
	sum := sha256.Sum256(payload)
	copy(blob[16:16+sha256.Size], sum[:])

	dst := make([]byte, lz4.CompressBlockBound(len(payload)))
	var c lz4.Compressor
	n, err := c.CompressBlock(payload, dst)
	if err != nil {
		return nil, fmt.Errorf("compress cache payload: %w", err)
	}
	// Incompressible payloads are stored raw; the size field tells the
	// decoder which case it is looking at, so compressed output the
	// same length as the payload must also go raw.
	if n == 0 || n >= len(payload) {
		return append(blob, payload...), nil
	}
	return append(blob, dst[:n]...), nil
}

// DecodeCache verifies and unwraps a blob produced by EncodeCache.
func DecodeCache(blob []byte) ([]byte, error) {
	if len(blob) < cacheHeader {
		return nil, ErrCacheTooShort
	}
	if string(blob[0:4]) != cacheMagic {
		return nil, ErrCacheMagic
	}
	if v := binary.LittleEndian.Uint32(blob[4:8]); v != cacheVersion {
		return nil, fmt.Errorf("%w: %d", ErrCacheVersion, v)
	}
	size := binary.LittleEndian.Uint64(blob[8:16])
	body := blob[cacheHeader:]
	if size > uint64(len(body))*maxCacheExpansion {
		return nil, fmt.Errorf("%w: %d", ErrCacheSize, size)
	}

	var payload []byte
	if uint64(len(body)) == size {
		payload = body
	} else {
		payload = make([]byte, size)
		n, err := lz4.UncompressBlock(body, payload)
		if err != nil {
			return nil, fmt.Errorf("decompress cache payload: %w", err)
		}
		if uint64(n) != size {
			return nil, ErrCacheTooShort
		}
	}

	sum := sha256.Sum256(payload)
	if string(sum[:]) != string(blob[16:16+sha256.Size]) {
		return nil, ErrCacheChecksum
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
