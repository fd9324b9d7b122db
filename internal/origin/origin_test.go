package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		name       string
		in         string
		normalized string
		host       string
		ok         bool
	}{
		{name: "lowercases and drops default port", in: "HTTPS://Example.COM:443", normalized: "https://example.com", host: "example.com", ok: true},
		{name: "keeps non-default port", in: "http://localhost:5173", normalized: "http://localhost:5173", host: "localhost:5173", ok: true},
		{name: "allows trailing slash", in: "http://localhost:5173/", normalized: "http://localhost:5173", host: "localhost:5173", ok: true},
		{name: "ipv6 literal", in: "http://[::1]:8080", normalized: "http://[::1]:8080", host: "[::1]:8080", ok: true},
		{name: "null origin", in: "null", normalized: "null", host: "", ok: true},
		{name: "empty", in: "   "},
		{name: "other scheme", in: "ftp://example.com"},
		{name: "path", in: "https://example.com/path"},
		{name: "query", in: "https://example.com/?q=1"},
		{name: "empty query", in: "https://example.com?"},
		{name: "credentials", in: "https://user@example.com"},
		{name: "fragment", in: "https://example.com/#frag"},
		{name: "port zero", in: "https://example.com:0"},
		{name: "port out of range", in: "https://example.com:70000"},
		{name: "list of origins", in: "https://a.example.com,https://b.example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, host, ok := NormalizeHeader(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok=%v, want %v (normalized=%q)", ok, tc.ok, normalized)
			}
			if !ok {
				return
			}
			if normalized != tc.normalized || host != tc.host {
				t.Fatalf("got (%q, %q), want (%q, %q)", normalized, host, tc.normalized, tc.host)
			}
		})
	}
}

func TestIsAllowed(t *testing.T) {
	t.Run("default is same host:port only", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("https://app.example.com")
		if !IsAllowed(normalized, host, "app.example.com", nil) {
			t.Fatalf("expected same-host to be allowed")
		}
		if !IsAllowed(normalized, host, "app.example.com:443", nil) {
			t.Fatalf("expected default port to be equivalent")
		}
		if IsAllowed(normalized, host, "app.example.com:8443", nil) {
			t.Fatalf("expected different port to be rejected")
		}
		if IsAllowed(normalized, host, "evil.example.com", nil) {
			t.Fatalf("expected different host to be rejected")
		}
	})

	t.Run("allows star", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("https://app.example.com")
		if !IsAllowed(normalized, host, "whatever:1234", []string{"*"}) {
			t.Fatalf("expected * to allow any origin")
		}
	})

	t.Run("allows explicit origin", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("https://app.example.com")
		if !IsAllowed(normalized, host, "signal.example.com", []string{"https://app.example.com"}) {
			t.Fatalf("expected explicit origin to be allowed")
		}
		if IsAllowed(normalized, host, "signal.example.com", []string{"https://other.example.com"}) {
			t.Fatalf("expected non-matching origin to be rejected")
		}
	})

	t.Run("null origin only when listed", func(t *testing.T) {
		normalized, host, _ := NormalizeHeader("null")
		if IsAllowed(normalized, host, "signal.example.com", nil) {
			t.Fatalf("null origin must not match same-host policy")
		}
		if !IsAllowed(normalized, host, "signal.example.com", []string{"null"}) {
			t.Fatalf("expected null origin to be allowed when configured")
		}
	})
}

func TestCheckRequest(t *testing.T) {
	cases := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{name: "no origin header", host: "signal.example.com", want: true},
		{name: "same host", origin: "http://signal.example.com", host: "signal.example.com", want: true},
		{name: "cross origin", origin: "http://evil.example.com", host: "signal.example.com", want: false},
		{name: "allow list", origin: "http://app.example.com", host: "signal.example.com", allowed: []string{"http://app.example.com"}, want: true},
		{name: "malformed origin", origin: "http://app.example.com/path", host: "signal.example.com", allowed: []string{"*"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://"+tc.host+"/ws/signal/room/", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			if got := CheckRequest(r, tc.allowed); got != tc.want {
				t.Fatalf("CheckRequest=%v, want %v", got, tc.want)
			}
		})
	}
}
