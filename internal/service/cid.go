package service

import (
	"encoding/base32"
	"strings"
)

// CIDv1 prefix for a raw-leaves block addressed by sha2-256:
// version 1, multicodec raw (0x55), multihash sha2-256 (0x12) of 32 bytes.
var cidV1RawSHA256Prefix = []byte{0x01, 0x55, 0x12, 0x20}

var cidBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ContentCID returns the base32 CIDv1 ("bafkrei...") for a sha256 digest of
// a single-block raw file.
func ContentCID(digest []byte) string {
	buf := make([]byte, 0, len(cidV1RawSHA256Prefix)+len(digest))
	buf = append(buf, cidV1RawSHA256Prefix...)
	buf = append(buf, digest...)
	return "b" + strings.ToLower(cidBase32.EncodeToString(buf))
}
