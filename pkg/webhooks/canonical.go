// Package webhooks verifies and fingerprints artifact-completion
// notifications from call providers (recording finished, transcription
// completed, and so on). Every accepted delivery is hashed over its body,
// its canonical headers, and the full request envelope, so the receipt row
// is itself evidence of what arrived.
package webhooks

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// CanonicalizeHeaders lower-cases and trims header names and values, sorts
// values within a key and keys across the map, and renders a deterministic
// JSON object. Two deliveries differing only in header order or casing hash
// identically.
func CanonicalizeHeaders(h http.Header) (canonicalJSON []byte, canonical map[string][]string, err error) {
	canonical = make(map[string][]string, len(h))
	for k, vs := range h {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		values := canonical[key]
		for _, v := range vs {
			values = append(values, strings.TrimSpace(v))
		}
		sort.Strings(values)
		canonical[key] = values
	}

	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, nil, err
		}
		vb, err := json.Marshal(canonical[k])
		if err != nil {
			return nil, nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')

	return b.Bytes(), canonical, nil
}

// RequestHashes fingerprints one delivery. The envelope is
// method\npath\ncanonical-headers\nbody, hashed as a unit.
func RequestHashes(method, path string, headersCanonicalJSON, rawBody []byte) (rawBodySHA, headersSHA, requestSHA string) {
	rawBodySHA = hashHex(rawBody)
	headersSHA = hashHex(headersCanonicalJSON)

	envelope := make([]byte, 0, len(method)+len(path)+len(headersCanonicalJSON)+len(rawBody)+3)
	envelope = append(envelope, method...)
	envelope = append(envelope, '\n')
	envelope = append(envelope, path...)
	envelope = append(envelope, '\n')
	envelope = append(envelope, headersCanonicalJSON...)
	envelope = append(envelope, '\n')
	envelope = append(envelope, rawBody...)
	requestSHA = hashHex(envelope)
	return rawBodySHA, headersSHA, requestSHA
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
