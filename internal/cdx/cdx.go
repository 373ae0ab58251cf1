// Package cdx builds CDXJ index lines from written WARC records and
// appends them to the ordered key–member set, and canonicalizes URLs into
// SURT-like urlkeys so a dedup resolver can do exact-key lex range lookups.
package cdx

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Entry is one CDX record: the fields a CDXJ line's JSON payload carries.
type Entry struct {
	URL      string `json:"url"`
	Mime     string `json:"mime"`
	Status   int    `json:"status,omitempty"`
	Digest   string `json:"digest"`
	Length   int64  `json:"length"`
	Offset   int64  `json:"offset"`
	Filename string `json:"filename"`
}

// TimestampLayout is the 14-digit CDX timestamp format: YYYYMMDDHHMMSS.
const TimestampLayout = "20060102150405"

// Line renders a full CDXJ line: "<urlkey> <timestamp> {json}".
func Line(urlkey, timestamp string, e Entry) (string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("cdx: marshal entry: %w", err)
	}
	return urlkey + " " + timestamp + " " + string(payload), nil
}

// ParseLine splits a CDXJ line back into its urlkey, timestamp, and decoded
// entry, for DedupResolver's lookup comparisons.
func ParseLine(line string) (urlkey, timestamp string, e Entry, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", Entry{}, fmt.Errorf("cdx: malformed line: %q", line)
	}
	if err := json.Unmarshal([]byte(parts[2]), &e); err != nil {
		return "", "", Entry{}, fmt.Errorf("cdx: unmarshal entry: %w", err)
	}
	return parts[0], parts[1], e, nil
}

// CanonicalizeURL reduces an absolute URL to a SURT-style urlkey: the host
// with labels reversed and comma-joined, a closing paren, then the path and
// a sorted query string. The scheme and any port are dropped, so URLs that
// differ only in those share a urlkey. Other SURT rules (www-prefix
// folding, session-id stripping) are not implemented — only the
// exact-match canonicalization a lex range lookup needs.
func CanonicalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("cdx: parse url %q: %w", raw, err)
	}
	host := strings.ToLower(u.Hostname())
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	key := strings.Join(labels, ",") + ")"

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key += path

	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			vs := values[k]
			sort.Strings(vs)
			for _, v := range vs {
				pairs = append(pairs, k+"="+v)
			}
		}
		key += "?" + strings.Join(pairs, "&")
	}
	return key, nil
}

// ExactRange returns the half-open lex range ["[urlkey", "(urlkey~") that
// bounds every CDXJ line for an exact urlkey match.
func ExactRange(urlkey string) (start, end string) {
	return "[" + urlkey, "(" + urlkey + "~"
}

// FormatTimestamp renders t as a 14-digit CDX timestamp in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a 14-digit CDX timestamp into the UTC time it names.
func ParseTimestamp(ts string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, ts, time.UTC)
}
