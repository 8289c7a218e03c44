package rfc3161

import (
	"context"
	"encoding/asn1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildRequestFromHashAcceptsPrefixedDigest(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	req, err := BuildRequestFromHash("sha256:"+digest, "1.2.3.4")
	if err != nil {
		t.Fatalf("BuildRequestFromHash error: %v", err)
	}
	if len(req) == 0 {
		t.Fatalf("expected non-empty DER request")
	}

	var decoded timeStampReq
	if _, err := asn1.Unmarshal(req, &decoded); err != nil {
		t.Fatalf("re-decode DER: %v", err)
	}
	if decoded.Version != 1 {
		t.Fatalf("expected version 1, got %d", decoded.Version)
	}
	if got := hex.EncodeToString(decoded.MessageImprint.HashedMessage); got != digest {
		t.Fatalf("imprint mismatch: %s", got)
	}
	if decoded.ReqPolicy.String() != "1.2.3.4" {
		t.Fatalf("policy mismatch: %s", decoded.ReqPolicy)
	}
}

func TestBuildRequestRejectsShortDigest(t *testing.T) {
	if _, err := BuildRequest([]byte{0x01, 0x02}, ""); err == nil {
		t.Fatalf("expected error for short digest")
	}
}

func TestBuildRequestRejectsBadPolicyOID(t *testing.T) {
	digest := make([]byte, 32)
	if _, err := BuildRequest(digest, "not-an-oid"); err == nil {
		t.Fatalf("expected error for malformed oid")
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	fixedToken := []byte{0x30, 0x03, 0x01, 0x01, 0xff}
	tsa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/timestamp-query" {
			t.Errorf("unexpected content type %q", got)
		}
		w.Header().Set("Content-Type", "application/timestamp-reply")
		_, _ = w.Write(fixedToken)
	}))
	defer tsa.Close()

	digest := make([]byte, 32)
	reqDER, err := BuildRequest(digest, "")
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	c := NewClient(tsa.Client())
	token, err := c.Submit(context.Background(), tsa.URL, reqDER)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if hex.EncodeToString(token) != hex.EncodeToString(fixedToken) {
		t.Fatalf("token mismatch")
	}
}

func TestSubmitSurfacesHTTPFailure(t *testing.T) {
	tsa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer tsa.Close()

	digest := make([]byte, 32)
	reqDER, _ := BuildRequest(digest, "")
	c := NewClient(tsa.Client())
	if _, err := c.Submit(context.Background(), tsa.URL, reqDER); err == nil {
		t.Fatalf("expected error on HTTP 500")
	} else if !strings.Contains(err.Error(), "tsa_http_status_500") {
		t.Fatalf("unexpected error: %v", err)
	}
}
