// Package rfc3161 builds DER-encoded RFC 3161 TimeStampReq messages and
// submits them to a timestamp authority. The evidence service normally talks
// to a JSON proxy in front of the TSA; this package is the direct-mode path
// for deployments that point at a raw RFC 3161 endpoint.
package rfc3161

import (
	"bytes"
	"context"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	mediaTypeQuery = "application/timestamp-query"
	mediaTypeReply = "application/timestamp-reply"
)

var oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm algorithmIdentifier
	HashedMessage []byte
}

type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	CertReq        bool                  `asn1:"optional"`
}

// BuildRequestFromHash accepts a digest in either bare-hex or "sha256:"+hex
// form and returns the DER TimeStampReq for it.
func BuildRequestFromHash(targetHash, policyOID string) ([]byte, error) {
	hashHex := strings.TrimSpace(targetHash)
	hashHex = strings.TrimPrefix(hashHex, "sha256:")
	digest, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("invalid target hash: %w", err)
	}
	return BuildRequest(digest, policyOID)
}

// BuildRequest assembles a version-1 TimeStampReq over a SHA-256 digest with
// certReq set, optionally pinned to a policy OID.
func BuildRequest(digest []byte, policyOID string) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	req := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{
				Algorithm: oidSHA256,
				Parameters: asn1.RawValue{
					Class: asn1.ClassUniversal,
					Tag:   asn1.TagNull,
				},
			},
			HashedMessage: digest,
		},
		CertReq: true,
	}
	if p := strings.TrimSpace(policyOID); p != "" {
		oid, err := parseOID(p)
		if err != nil {
			return nil, err
		}
		req.ReqPolicy = oid
	}
	return asn1.Marshal(req)
}

type Client struct {
	HTTPClient *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{HTTPClient: httpClient}
}

// Submit posts a DER TimeStampReq and returns the raw reply body. The body is
// the DER TimeStampResp; callers store it as the opaque trust token and hash
// it for tamper detection rather than parsing it.
func (c *Client) Submit(ctx context.Context, tsaURL string, reqDER []byte) (token []byte, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tsaURL, bytes.NewReader(reqDER))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mediaTypeQuery)
	httpReq.Header.Set("Accept", mediaTypeReply)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tsa_http_status_%d", resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("tsa_empty_response")
	}
	return body, nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid policy oid %q", s)
	}
	out := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid policy oid %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}
