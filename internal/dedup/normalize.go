package dedup

import (
	"net/url"
	"slices"
	"sort"
	"strings"
)

// Tracking parameters stripped before comparison
var trackingParams = []string{
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_term",
	"utm_content",
	"fbclid",
	"gclid",
	"ref",
	"source",
	"mc_cid",
	"mc_eid",
}

// Normalize canonicalizes a URL for equality comparison. Scheme (http/https),
// host case, a leading "www.", ports, one trailing slash, tracking
// parameters, query order and the fragment are all ignored. Input that is not
// an absolute hierarchical URL comes back lowercased.
func Normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(raw)
	}

	// http and https are treated as the same resource
	u.Scheme = "https"

	u.RawQuery = cleanQuery(u.RawQuery)
	u.ForceQuery = false

	// Remove one trailing slash from a non-root path
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = u.Path[:len(u.Path)-1]
		if strings.HasSuffix(u.RawPath, "/") {
			u.RawPath = u.RawPath[:len(u.RawPath)-1]
		}
	}
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	// Lowercase the host, drop "www." and any port
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}

// cleanQuery drops tracking parameters from a raw query and orders the rest
// by key. Pairs are kept exactly as written, so ones url.ParseQuery rejects
// (a ';' or a bad escape) still tell URLs apart.
func cleanQuery(raw string) string {
	type pair struct {
		key, text string
	}
	var kept []pair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		rawKey, _, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			key = rawKey
		}
		if slices.Contains(trackingParams, key) {
			continue
		}
		kept = append(kept, pair{key: key, text: part})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].key < kept[j].key })

	parts := make([]string, len(kept))
	for i, p := range kept {
		parts[i] = p.text
	}
	return strings.Join(parts, "&")
}
