// Package canonhash produces the canonical SHA-256 digests used for manifest
// and bundle hashing. Serialization is RFC 8785 (JCS): keys sorted
// lexicographically at every depth, no HTML escaping, deterministic number
// formatting, so any third party re-serializing the same logical object
// reproduces the digest byte for byte.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

const Prefix = "sha256:"

// Sum canonicalizes v and returns "sha256:"+hex over the canonical bytes.
// Non-finite numbers and cyclic values fail fast with ErrSerialization
// rather than producing a non-deterministic hash.
func Sum(v any) (hash string, canonical []byte, err error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}
	canonical, err = jcs.Transform(b)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}
	sum := sha256.Sum256(canonical)
	return Prefix + hex.EncodeToString(sum[:]), canonical, nil
}

// SumBytes hashes raw bytes (a media blob, a TSA token) with the same prefix
// convention.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:])
}

func SumString(s string) string { return SumBytes([]byte(s)) }

// HexDigest strips the "sha256:" prefix, yielding the bare lowercase hex the
// timestamp authority expects.
func HexDigest(hash string) string {
	return strings.TrimPrefix(strings.TrimSpace(hash), Prefix)
}
