package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		name       string
		in         string
		normalized string
		host       string
	}{
		{"drops default https port", "HTTPS://Example.COM:443", "https://example.com", "example.com"},
		{"keeps non-default port", "http://localhost:5173/", "http://localhost:5173", "localhost:5173"},
		{"ipv6 literal", "http://[::1]:8080", "http://[::1]:8080", "[::1]:8080"},
		{"null origin", "null", "null", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, host, ok := NormalizeHeader(tc.in)
			if !ok {
				t.Fatalf("NormalizeHeader(%q) ok=false", tc.in)
			}
			if normalized != tc.normalized || host != tc.host {
				t.Fatalf("NormalizeHeader(%q)=(%q,%q), want (%q,%q)", tc.in, normalized, host, tc.normalized, tc.host)
			}
		})
	}

	t.Run("rejects malformed origins", func(t *testing.T) {
		bad := []string{
			"",
			"   ",
			"ftp://example.com",
			"https://example.com/path",
			"https://example.com/?q=1",
			"https://example.com?",
			"https://user@example.com",
			"https://example.com/#frag",
			"https://example.com:0",
			"https://example.com:70000",
			"https://example.com,https://evil.example.com",
		}
		for _, in := range bad {
			if _, _, ok := NormalizeHeader(in); ok {
				t.Fatalf("expected ok=false for %q", in)
			}
		}
	})
}

func TestPolicy(t *testing.T) {
	t.Run("default is same host only", func(t *testing.T) {
		p, err := NewPolicy(nil)
		if err != nil {
			t.Fatalf("NewPolicy: %v", err)
		}
		if _, ok := p.Check("https://app.example.com", "app.example.com"); !ok {
			t.Fatalf("expected same host to be allowed")
		}
		if _, ok := p.Check("https://app.example.com", "app.example.com:443"); !ok {
			t.Fatalf("expected explicit default port to match")
		}
		if _, ok := p.Check("http://app.example.com", "app.example.com:8080"); ok {
			t.Fatalf("expected different port to be rejected")
		}
		if _, ok := p.Check("null", "app.example.com"); ok {
			t.Fatalf("expected null origin to be rejected by default")
		}
	})

	t.Run("star allows anything well formed", func(t *testing.T) {
		p, err := NewPolicy([]string{"*"})
		if err != nil {
			t.Fatalf("NewPolicy: %v", err)
		}
		if _, ok := p.Check("https://elsewhere.example", "relay.example.com"); !ok {
			t.Fatalf("expected * to allow any origin")
		}
		if _, ok := p.Check("not an origin", "relay.example.com"); ok {
			t.Fatalf("expected malformed origin to be rejected even with *")
		}
	})

	t.Run("explicit list", func(t *testing.T) {
		p, err := NewPolicy([]string{"HTTPS://App.Example.com:443", "null"})
		if err != nil {
			t.Fatalf("NewPolicy: %v", err)
		}
		if got, ok := p.Check("https://app.example.com", "relay.example.com"); !ok || got != "https://app.example.com" {
			t.Fatalf("Check=(%q,%v), want allowed", got, ok)
		}
		if _, ok := p.Check("null", "relay.example.com"); !ok {
			t.Fatalf("expected configured null origin to be allowed")
		}
		if _, ok := p.Check("https://other.example.com", "relay.example.com"); ok {
			t.Fatalf("expected unlisted origin to be rejected")
		}
	})

	t.Run("rejects invalid entries", func(t *testing.T) {
		if _, err := NewPolicy([]string{"https://example.com/path"}); err == nil {
			t.Fatalf("expected error")
		}
	})
}
