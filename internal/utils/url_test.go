package utils

import "testing"

func TestLinkHost(t *testing.T) {
	tests := []struct {
		raw  string
		host string
		ok   bool
	}{
		{raw: "https://Example.com/path?utm_source=test&x=1", host: "example.com", ok: true},
		{raw: "HTTP://www.Example.com:8080/", host: "example.com", ok: true},
		{raw: "https://user:pw@evil.example/login", host: "evil.example", ok: true},
		{raw: "https://bücher.example/", host: "xn--bcher-kva.example", ok: true},
		{raw: "https://example.org).", host: "example.org", ok: true},
		{raw: "https:///nohost", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			host, ok := LinkHost(tt.raw)
			if ok != tt.ok || host != tt.host {
				t.Fatalf("LinkHost(%q) = %q, %t; want %q, %t", tt.raw, host, ok, tt.host, tt.ok)
			}
		})
	}
}

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs("look HTTPS://a.example/x and http://b.example too, not ftp://c.example")
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %v", urls)
	}
	if urls := ExtractURLs("no links here"); len(urls) != 0 {
		t.Fatalf("expected none, got %v", urls)
	}
}

func TestHostAllowed(t *testing.T) {
	allow := map[string]struct{}{"good.com": {}}
	if !HostAllowed("good.com", allow) {
		t.Fatalf("expected exact host allowed")
	}
	if !HostAllowed("cdn.Good.com", allow) {
		t.Fatalf("expected subdomain allowed")
	}
	if !HostAllowed("www.good.com", allow) {
		t.Fatalf("expected www host allowed")
	}
	if HostAllowed("notgood.com", allow) {
		t.Fatalf("did not expect suffix without dot to match")
	}
	if HostAllowed("bad.com", allow) {
		t.Fatalf("did not expect bad.com allowed")
	}
}
