package webhooks

import (
	"net/http"
	"testing"
)

func TestCanonicalizeHeadersOrderInsensitive(t *testing.T) {
	a := http.Header{}
	a.Add("X-Event-Id", "evt_1")
	a.Add("Content-Type", "application/json")

	b := http.Header{}
	b.Add("content-type", " application/json ")
	b.Add("x-event-id", "evt_1")

	ja, _, err := CanonicalizeHeaders(a)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	jb, _, err := CanonicalizeHeaders(b)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(ja) != string(jb) {
		t.Fatalf("canonical forms differ: %s vs %s", ja, jb)
	}
}

func TestCanonicalizeHeadersSortsValues(t *testing.T) {
	h := http.Header{}
	h.Add("X-Multi", "b")
	h.Add("X-Multi", "a")
	j, canonical, err := CanonicalizeHeaders(h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := canonical["x-multi"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("values not sorted: %v", got)
	}
	if string(j) != `{"x-multi":["a","b"]}` {
		t.Fatalf("unexpected canonical json: %s", j)
	}
}

func TestRequestHashesEnvelopeSensitivity(t *testing.T) {
	headers := []byte(`{"x-event-id":["evt_1"]}`)
	body := []byte(`{"recording_id":"rec_1"}`)

	_, _, h1 := RequestHashes("POST", "/webhooks/acme/tok", headers, body)
	_, _, h2 := RequestHashes("POST", "/webhooks/acme/tok", headers, body)
	if h1 != h2 {
		t.Fatalf("expected stable request hash")
	}

	_, _, h3 := RequestHashes("POST", "/webhooks/acme/other", headers, body)
	if h1 == h3 {
		t.Fatalf("expected path change to change the request hash")
	}

	b1, _, _ := RequestHashes("POST", "/p", headers, body)
	b2, _, _ := RequestHashes("POST", "/p", headers, []byte(`{"recording_id":"rec_2"}`))
	if b1 == b2 {
		t.Fatalf("expected body change to change the body hash")
	}
}
