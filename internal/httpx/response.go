package httpx

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/markb/warcrecorder/internal/netx"
)

// Response is a parsed HTTP/1.x status line and header block, with no body:
// there is no writer side either — the core never synthesizes or serves a
// response of its own, only recovers metadata from one already captured on
// the wire (see ParseResponseHead, used by the CDX indexer to pull status
// and MIME out of a stored response/revisit record).
type Response struct {
	Proto      string // e.g. "HTTP/1.1"
	StatusCode int    // e.g. 200
	Status     string // e.g. "OK"
	Header     Header
}

// ParseResponseHead parses a status line and header block off r, stopping at
// the blank line that ends the header section. It never reads a body: the
// caller is expected to already hold the body bytes separately (they were
// teed and digested as they arrived), so this exists purely to recover
// structured metadata from bytes already on disk or in memory.
func ParseResponseHead(r *netx.CRLFFastReader, limits ParseLimits) (*Response, error) {
	line, _, err := r.ReadLine(limits.MaxLineBytes)
	if err != nil {
		return nil, fmt.Errorf("httpx: read status line: %w", err)
	}
	proto, status, reason, err := parseStatusLine(string(line))
	if err != nil {
		return nil, err
	}

	h := make(Header)
	if err := ParseHeaders(r, h, limits); err != nil {
		return nil, fmt.Errorf("httpx: parse response headers: %w", err)
	}

	return &Response{Proto: proto, StatusCode: status, Status: reason, Header: h}, nil
}

// parseStatusLine parses "HTTP/x.y NNN Reason-Phrase". The reason phrase may
// be empty (some servers omit it entirely).
func parseStatusLine(line string) (proto string, status int, reason string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("httpx: malformed status line: %q", line)
	}
	if !strings.HasPrefix(parts[0], "HTTP/") {
		return "", 0, "", fmt.Errorf("httpx: invalid protocol: %q", parts[0])
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("httpx: invalid status code: %q", parts[1])
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return parts[0], n, reason, nil
}
