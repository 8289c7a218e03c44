// Package tsa acquires trusted timestamps for evidence bundles. The client
// speaks JSON to a timestamp-authority proxy, or raw RFC 3161 DER when
// pointed directly at a TSA. The worker runs detached from the
// bundle-creation request: nothing here can fail a caller.
package tsa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adrper79-dot/callmonitor/pkg/anchor/rfc3161"
	"github.com/adrper79-dot/callmonitor/pkg/canonhash"
	"github.com/adrper79-dot/callmonitor/pkg/config"
	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

// errTransient marks failures worth retrying within one attempt window:
// network errors and 5xx/429 responses. Everything else (malformed
// responses, 4xx) is permanent for this request.
var errTransient = errors.New("transient tsa failure")

func IsTransient(err error) bool { return errors.Is(err, errTransient) }

type Client struct {
	mode      string
	endpoint  string
	policyOID string
	http      *http.Client
	direct    *rfc3161.Client
}

func NewClient(cfg config.TSA, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		mode:      cfg.Mode,
		endpoint:  cfg.Endpoint,
		policyOID: cfg.PolicyOID,
		http:      httpClient,
		direct:    rfc3161.NewClient(httpClient),
	}
}

// Timestamp obtains a trusted timestamp over a bundle hash. The result
// includes token_hash, a SHA-256 over the decoded token bytes, so the stored
// token blob is tamper-evident on its own.
func (c *Client) Timestamp(ctx context.Context, bundleHash string) (domain.TSAResult, error) {
	if c.mode == config.TSAModeDirect {
		return c.timestampDirect(ctx, bundleHash)
	}
	return c.timestampProxy(ctx, bundleHash)
}

type proxyRequest struct {
	HashHex       string `json:"hash_hex"`
	HashAlgorithm string `json:"hash_algorithm"`
}

type proxyResponse struct {
	TSAURL      string `json:"tsa_url"`
	Timestamp   string `json:"timestamp"`
	PolicyOID   string `json:"policy_oid"`
	Serial      string `json:"serial"`
	TokenBase64 string `json:"token_base64"`
}

func (c *Client) timestampProxy(ctx context.Context, bundleHash string) (domain.TSAResult, error) {
	body, err := json.Marshal(proxyRequest{
		HashHex:       canonhash.HexDigest(bundleHash),
		HashAlgorithm: "sha256",
	})
	if err != nil {
		return domain.TSAResult{}, fmt.Errorf("%w: encode request: %v", domain.ErrExternalService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.TSAResult{}, fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.TSAResult{}, fmt.Errorf("%w: %w: %v", domain.ErrExternalService, errTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.TSAResult{}, fmt.Errorf("%w: %w: read response: %v", domain.ErrExternalService, errTransient, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return domain.TSAResult{}, fmt.Errorf("%w: %w: tsa_proxy_status_%d", domain.ErrExternalService, errTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.TSAResult{}, fmt.Errorf("%w: tsa_proxy_status_%d", domain.ErrExternalService, resp.StatusCode)
	}

	var pr proxyResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return domain.TSAResult{}, fmt.Errorf("%w: malformed proxy response: %v", domain.ErrExternalService, err)
	}
	if pr.TokenBase64 == "" || pr.Timestamp == "" {
		return domain.TSAResult{}, fmt.Errorf("%w: proxy response missing token or timestamp", domain.ErrExternalService)
	}
	token, err := base64.StdEncoding.DecodeString(pr.TokenBase64)
	if err != nil {
		return domain.TSAResult{}, fmt.Errorf("%w: undecodable token: %v", domain.ErrExternalService, err)
	}

	return domain.TSAResult{
		URL:         pr.TSAURL,
		Timestamp:   pr.Timestamp,
		PolicyOID:   pr.PolicyOID,
		Serial:      pr.Serial,
		TokenBase64: pr.TokenBase64,
		TokenHash:   canonhash.SumBytes(token),
	}, nil
}

func (c *Client) timestampDirect(ctx context.Context, bundleHash string) (domain.TSAResult, error) {
	der, err := rfc3161.BuildRequestFromHash(bundleHash, c.policyOID)
	if err != nil {
		return domain.TSAResult{}, fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	token, err := c.direct.Submit(ctx, c.endpoint, der)
	if err != nil {
		// Direct-mode HTTP failures are retried like proxy ones.
		return domain.TSAResult{}, fmt.Errorf("%w: %w: %v", domain.ErrExternalService, errTransient, err)
	}
	return domain.TSAResult{
		URL:         c.endpoint,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		PolicyOID:   c.policyOID,
		TokenBase64: base64.StdEncoding.EncodeToString(token),
		TokenHash:   canonhash.SumBytes(token),
	}, nil
}
