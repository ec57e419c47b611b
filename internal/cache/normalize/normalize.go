// Package normalize derives stable cache-key identity from a URL, an
// optional selector, and a context tag.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// defaultPorts maps scheme to the port that is implicit and therefore
// stripped during normalization.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// contentQueryAllowlist lists query parameters that affect page content and
// therefore must survive normalization; everything else (tracking params,
// session tokens, cache busters) is dropped.
var contentQueryAllowlist = map[string]bool{
	"page":   true,
	"q":      true,
	"query":  true,
	"id":     true,
	"sort":   true,
	"filter": true,
	"lang":   true,
}

// Key is the normalized identity of a cache entry.
type Key struct {
	URL      string
	Selector string
	Context  string
}

// String renders the key's canonical textual form.
func (k Key) String() string {
	return k.URL + "|" + k.Selector + "|" + k.Context
}

// Hash returns a fixed-length digest of the key suitable for use as a map
// or remote-KV key.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// URL normalizes a page URL for cache-key purposes: lowercases scheme and
// host, strips the default port for the scheme, strips the fragment, sorts
// and filters the query string down to content-relevant parameters, and
// removes a trailing slash from an otherwise-root path.
func URL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && defaultPorts[scheme] != port {
		host = host + ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}

	query := filteredQuery(u.Query())

	normalized := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: query,
	}
	return normalized.String(), nil
}

func filteredQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if contentQueryAllowlist[strings.ToLower(k)] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := url.Values{}
	for _, k := range keys {
		vals := append([]string(nil), values[k]...)
		sort.Strings(vals)
		out[k] = vals
	}
	return out.Encode()
}

// Selector normalizes a CSS/XPath selector string: trims whitespace and
// collapses internal whitespace runs, so "div  >p" and "div > p" map to the
// same cache key.
func Selector(raw string) string {
	fields := strings.Fields(raw)
	return strings.Join(fields, " ")
}

// Context normalizes a free-form context tag (e.g. "mobile", "logged-in").
func Context(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// New builds a normalized Key from raw inputs.
func New(rawURL, rawSelector, rawContext string) (Key, error) {
	u, err := URL(rawURL)
	if err != nil {
		return Key{}, err
	}
	return Key{
		URL:      u,
		Selector: Selector(rawSelector),
		Context:  Context(rawContext),
	}, nil
}
