package normalize

import "testing"

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Path",
			want: "https://example.com/Path",
		},
		{
			name: "strips default https port",
			in:   "https://example.com:443/path",
			want: "https://example.com/path",
		},
		{
			name: "keeps non-default port",
			in:   "https://example.com:8443/path",
			want: "https://example.com:8443/path",
		},
		{
			name: "strips fragment",
			in:   "https://example.com/path#section",
			want: "https://example.com/path",
		},
		{
			name: "strips trailing slash on non-root path",
			in:   "https://example.com/path/",
			want: "https://example.com/path",
		},
		{
			name: "keeps root path as single slash",
			in:   "https://example.com",
			want: "https://example.com/",
		},
		{
			name: "drops tracking query params",
			in:   "https://example.com/search?q=cats&utm_source=newsletter&sessionid=abc",
			want: "https://example.com/search?q=cats",
		},
		{
			name: "sorts allowlisted query params",
			in:   "https://example.com/x?sort=asc&q=cats",
			want: "https://example.com/x?q=cats&sort=asc",
		},
		{
			name: "trims surrounding whitespace",
			in:   "  https://example.com/path  ",
			want: "https://example.com/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := URL(tt.in)
			if err != nil {
				t.Fatalf("URL(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("URL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestURL_InvalidInput(t *testing.T) {
	_, err := URL("://not a url")
	if err == nil {
		t.Error("expected an error for a malformed URL")
	}
}

func TestSelector(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"div > p", "div > p"},
		{"div  >p", "div > p"},
		{"  .btn.primary  ", ".btn.primary"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Selector(tt.in); got != tt.want {
			t.Errorf("Selector(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContext(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Mobile", "mobile"},
		{"  logged-in  ", "logged-in"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Context(tt.in); got != tt.want {
			t.Errorf("Context(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	key, err := New("HTTPS://Example.com/path/?utm_source=x&q=Cats", "div  >  p", "Mobile")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if key.URL != "https://example.com/path?q=Cats" {
		t.Errorf("URL = %q", key.URL)
	}
	if key.Selector != "div > p" {
		t.Errorf("Selector = %q", key.Selector)
	}
	if key.Context != "mobile" {
		t.Errorf("Context = %q", key.Context)
	}
}

func TestKey_StringAndHash(t *testing.T) {
	k1 := Key{URL: "https://example.com/", Selector: "div", Context: "mobile"}
	k2 := Key{URL: "https://example.com/", Selector: "div", Context: "mobile"}
	k3 := Key{URL: "https://example.com/", Selector: "span", Context: "mobile"}

	if k1.String() != k2.String() {
		t.Error("identical keys should produce identical strings")
	}
	if k1.Hash() != k2.Hash() {
		t.Error("identical keys should produce identical hashes")
	}
	if k1.Hash() == k3.Hash() {
		t.Error("different keys should produce different hashes")
	}
	if len(k1.Hash()) != 64 {
		t.Errorf("expected a 64-char hex sha256 digest, got length %d", len(k1.Hash()))
	}
}
