package urlutil

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strip default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strip default http port", "http://example.com:80/a", "http://example.com/a"},
		{"keep explicit port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"strip trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"bare root collapses", "https://example.com/", "https://example.com"},
		{"drop fragment", "https://example.com/a#section", "https://example.com/a"},
		{"keep query", "https://example.com/a?b=1", "https://example.com/a?b=1"},
		{"sort query params", "https://example.com/a?z=2&a=1", "https://example.com/a?a=1&z=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.in)
			if err != nil {
				t.Fatalf("Normalize(%q) error = %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"ftp://example.com/file",
		"javascript:void(0)",
		"not a url at all\x7f://",
		"https://",
		"",
	} {
		if _, err := Normalize(raw); err == nil {
			t.Fatalf("Normalize(%q) expected error", raw)
		}
	}
}

func TestHostname(t *testing.T) {
	t.Parallel()

	if got := Hostname("https://Shop.Example.com:8443/x"); got != "shop.example.com" {
		t.Fatalf("Hostname = %q", got)
	}
	if got := Hostname("::bad::"); got != "" {
		t.Fatalf("expected empty hostname for invalid url, got %q", got)
	}
}
