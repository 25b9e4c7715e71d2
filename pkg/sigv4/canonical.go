// Package sigv4 verifies AWS Signature Version 4 signed HTTP requests
// against a known secret key, reproducing the canonicalization rules
// that S3 client libraries apply when signing a request.
package sigv4

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// queryPair is one (key, value) entry from the raw query string. Query
// parameters are modeled as an ordered multimap rather than url.Values
// because canonical query string construction depends on a stable sort
// by key and on retaining blank values, both of which url.Values erases.
type queryPair struct {
	key   string
	value string
}

// parseRawQuery parses a raw query string into ordered pairs, preserving
// blank values and duplicate keys.
func parseRawQuery(raw string) []queryPair {
	if raw == "" {
		return nil
	}

	pairs := make([]queryPair, 0, strings.Count(raw, "&")+1)
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}

		var key, value string
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			key, value = part[:idx], part[idx+1:]
		} else {
			key = part
		}

		k, err := url.QueryUnescape(key)
		if err != nil {
			k = key
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			v = value
		}

		pairs = append(pairs, queryPair{key: k, value: v})
	}

	return pairs
}

// canonicalQueryString sorts the query pairs by key (stable, so
// duplicate keys retain their relative order) and rejoins them as
// "k=v" pairs separated by "&".
func canonicalQueryString(raw string) string {
	pairs := parseRawQuery(raw)
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].key < pairs[j].key
	})

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.key+"="+p.value)
	}
	return strings.Join(parts, "&")
}

// canonicalHeaders builds the canonical header block for exactly the
// headers named in signedHeaders (a ";"-joined, lowercased list),
// sorted by lowercased header name, one "name:value" line per header.
func canonicalHeaders(header http.Header, signedHeaders string) string {
	names := strings.Split(signedHeaders, ";")
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, strings.ToLower(name)+":"+headerValue(header, name))
	}
	return strings.Join(lines, "\n")
}

// headerValue looks up a header case-insensitively and returns it
// exactly as delivered, without additional trimming.
func headerValue(header http.Header, name string) string {
	return header.Get(name)
}

// canonicalRequest reassembles the canonical request string that the
// client hashed and signed.
func canonicalRequest(method, uriPath, rawQuery string, header http.Header, signedHeaders, payloadHash string) string {
	decodedPath, err := url.PathUnescape(uriPath)
	if err != nil {
		decodedPath = uriPath
	}

	return strings.Join([]string{
		strings.ToUpper(method),
		decodedPath,
		canonicalQueryString(rawQuery),
		canonicalHeaders(header, signedHeaders),
		"",
		strings.ToLower(signedHeaders),
		payloadHash,
	}, "\n")
}
