package httpx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/markb/warcrecorder/internal/netx"
)

// requestLine models the first line of an HTTP/1.x request.
type requestLine struct {
	Method     string
	RequestURI string
	Proto      string
	ProtoMajor int
	ProtoMinor int
}

// String returns the serialized form of the request line.
func (r requestLine) String() string {
	return fmt.Sprintf("%s %s %s", r.Method, r.RequestURI, r.Proto)
}

// Request represents a parsed HTTP/1.x request line plus headers. It never
// carries a body: the only consumer, the capture Host-header refinement in
// internal/capture, needs nothing past the header block.
type Request struct {
	requestLine
	URL           *URL
	Header        Header
	Host          string
	ContentLength int64
	ctx           context.Context
}

// ParseLimits controls how many bytes can be read from a request line or headers.
type ParseLimits struct {
	MaxLineBytes   int
	MaxHeaderBytes int
}

// ParseRequest reads the request line and header block from r. Host comes
// from the request-target when it is absolute-form; otherwise it falls back
// to the Host header, the same precedence an origin server applies.
// ContentLength is populated from the Content-Length header when present and
// well-formed, and is -1 otherwise.
func ParseRequest(r *netx.CRLFFastReader, limits ParseLimits) (*Request, error) {
	line, _, err := r.ReadLine(limits.MaxLineBytes)
	if err != nil {
		return nil, fmt.Errorf("read request line: %w", err)
	}
	if len(line) == 0 {
		return nil, errors.New("empty request line")
	}

	rl, err := parseRequestLine(string(line))
	if err != nil {
		return nil, err
	}

	u, err := ParseRequestURI(rl.RequestURI)
	if err != nil {
		return nil, err
	}

	h := make(Header)
	if err := ParseHeaders(r, h, limits); err != nil {
		return nil, fmt.Errorf("parse headers: %w", err)
	}

	req := &Request{
		requestLine:   rl,
		URL:           u,
		Header:        h,
		ContentLength: -1,
		ctx:           context.Background(),
	}

	if u.Host != "" {
		req.Host = strings.ToLower(u.Host)
	} else if host := h.Get("Host"); host != "" {
		req.Host = strings.ToLower(host)
	}

	if cl := h.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil && n >= 0 {
			req.ContentLength = n
		}
	}

	return req, nil
}

// parseRequestWithContext is the context-aware variant used in later stages.
func parseRequestWithContext(ctx context.Context, r *netx.CRLFFastReader, limits ParseLimits) (*Request, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	req, err := ParseRequest(r, limits)
	if err != nil {
		return nil, err
	}
	req.ctx = ctx
	return req, nil
}

// ParseFirstLine parses a raw, CRLF-stripped request line of the form
// "METHOD SP Request-URI SP HTTP/x.y" and resolves the request-target into
// a URL. Exported for callers (such as the capture recorder) that only see
// the first fragment of a request and need the target URL without building
// a full Request.
func ParseFirstLine(line string) (method string, u *URL, err error) {
	rl, err := parseRequestLine(line)
	if err != nil {
		return "", nil, err
	}
	u, err = ParseRequestURI(rl.RequestURI)
	if err != nil {
		return "", nil, err
	}
	return rl.Method, u, nil
}

// parseRequestLine parses "METHOD SP Request-URI SP HTTP/x.y".
func parseRequestLine(line string) (rl requestLine, err error) {
	// Be tolerant of multiple spaces or tabs.
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return rl, fmt.Errorf("malformed request line: %q", line)
	}

	method := parts[0]
	target := parts[1]
	proto := parts[2]

	if len(method) == 0 || len(method) > 20 {
		return rl, fmt.Errorf("invalid method: %q", method)
	}
	for _, c := range method {
		if c < 'A' || c > 'Z' {
			return rl, fmt.Errorf("method must be uppercase Aâ€“Z: %q", method)
		}
	}

	if !strings.HasPrefix(proto, "HTTP/") {
		return rl, fmt.Errorf("invalid protocol: %q", proto)
	}
	ver := strings.TrimPrefix(proto, "HTTP/")
	dot := strings.IndexByte(ver, '.')
	if dot < 0 {
		return rl, fmt.Errorf("invalid HTTP version: %q", proto)
	}
	major, err1 := strconv.Atoi(ver[:dot])
	minor, err2 := strconv.Atoi(ver[dot+1:])
	if err1 != nil || err2 != nil {
		return rl, fmt.Errorf("invalid HTTP version numbers: %q", proto)
	}

	rl = requestLine{
		Method:     method,
		RequestURI: target,
		Proto:      proto,
		ProtoMajor: major,
		ProtoMinor: minor,
	}
	return rl, nil
}

// Context returns the request's context.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context replaced by ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ctx = ctx
	return &cp
}

// String returns a human-readable representation of the request line.
func (r *Request) String() string {
	if r == nil {
		return "<nil request>"
	}
	return r.requestLine.String()
}
