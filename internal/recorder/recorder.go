// Package recorder implements the per-transaction tee'd accumulator: it
// mirrors request and response bytes into spill buffers while keeping
// running digests, and hands itself to a Sink exactly once, at transaction
// close.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markb/warcrecorder/internal/digest"
	"github.com/markb/warcrecorder/internal/httpx"
	"github.com/markb/warcrecorder/internal/spill"
)

// Sink is invoked exactly once, from Finish, with the Recorder's final
// state. Implementations build and persist WARC records (see
// internal/sink).
type Sink interface {
	Emit(ctx context.Context, rec *Recorder) error
}

// Recorder accumulates one HTTP transaction's bytes and digests. A Recorder
// is owned by exactly one goroutine from creation to Finish and must not be
// shared across goroutines.
type Recorder struct {
	ctx  context.Context
	sink Sink

	url             string
	urlScheme       string
	urlPath         string
	urlQuery        string
	urlHostFromHint bool // true if url's host came from the dial-address fallback, not the request line
	targetIP        string

	reqBuf  *spill.Buffer
	respBuf *spill.Buffer

	reqBlockDigest     *digest.Digester
	respBlockDigest    *digest.Digester
	respPayloadDigest  *digest.Digester
	payloadOffset      int64
	payloadOffsetKnown bool

	reqDone    bool // true once the first request fragment has set url
	finished   bool
	incomplete bool
	now        time.Time

	// spillDir is passed through to spill buffers created lazily.
	spillDir string
	memCap   int64
}

// New returns a Recorder that tees into spillDir-backed buffers and reports
// to sink when finished.
func New(ctx context.Context, sink Sink, spillDir string, memCap int64) *Recorder {
	return &Recorder{
		ctx:               ctx,
		sink:              sink,
		reqBuf:            spill.New(spillDir, memCap),
		respBuf:           spill.New(spillDir, memCap),
		reqBlockDigest:    digest.New(),
		respBlockDigest:   digest.New(),
		respPayloadDigest: digest.New(),
		spillDir:          spillDir,
		memCap:            memCap,
	}
}

// URL returns the canonical absolute URL, set after the first request
// fragment is parsed. Empty before that.
func (r *Recorder) URL() string { return r.url }

// TargetIP returns the captured peer address, or "" if not yet resolved.
func (r *Recorder) TargetIP() string { return r.targetIP }

// RequestBuf returns the accumulated request bytes buffer.
func (r *Recorder) RequestBuf() *spill.Buffer { return r.reqBuf }

// ResponseBuf returns the accumulated response bytes buffer.
func (r *Recorder) ResponseBuf() *spill.Buffer { return r.respBuf }

// RequestBlockDigest returns "sha1:..." over every request byte appended.
func (r *Recorder) RequestBlockDigest() string { return r.reqBlockDigest.Finalize() }

// ResponseBlockDigest returns "sha1:..." over every response byte appended
// (status line + headers + body).
func (r *Recorder) ResponseBlockDigest() string { return r.respBlockDigest.Finalize() }

// ResponsePayloadDigest returns "sha1:..." over response body bytes only.
func (r *Recorder) ResponsePayloadDigest() string { return r.respPayloadDigest.Finalize() }

// PayloadOffset returns the byte offset in ResponseBuf at which the payload
// begins. It is 0 until the first payload byte has been seen.
func (r *Recorder) PayloadOffset() int64 { return r.payloadOffset }

// Incomplete reports whether MarkIncomplete was called.
func (r *Recorder) Incomplete() bool { return r.incomplete }

// Now returns the wall-clock time Finish was called with.
func (r *Recorder) Now() time.Time { return r.now }

// OnRequestBytes tees request bytes (headers and body) into the request
// buffer and digest. The first fragment of the first call is parsed as the
// request line to derive the canonical URL; scheme and host are combined
// with whatever request-target form is present.
func (r *Recorder) OnRequestBytes(p []byte, scheme, hostHint string) error {
	if r.finished {
		return nil
	}
	if !r.reqDone {
		if err := r.deriveURL(p, scheme, hostHint); err != nil {
			return fmt.Errorf("recorder: parse request line: %w", err)
		}
		r.reqDone = true
	}
	if _, err := r.reqBuf.Write(p); err != nil {
		return err
	}
	r.reqBlockDigest.Write(p) //nolint:errcheck
	return nil
}

func (r *Recorder) deriveURL(p []byte, scheme, hostHint string) error {
	nl := -1
	for i, b := range p {
		if b == '\n' {
			nl = i
			break
		}
	}
	line := p
	if nl >= 0 {
		line = p[:nl]
	}
	for len(line) > 0 && (line[len(line)-1] == '\r' || line[len(line)-1] == '\n') {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return errors.New("empty request line")
	}

	_, u, err := httpx.ParseFirstLine(string(line))
	if err != nil {
		return err
	}
	host := u.Host
	r.urlHostFromHint = host == ""
	if host == "" {
		host = hostHint
	}
	sch := u.Scheme
	if sch == "" {
		sch = scheme
	}

	r.urlScheme = sch
	r.urlPath = u.Path
	r.urlQuery = u.RawQuery
	r.buildURL(host)
	return nil
}

func (r *Recorder) buildURL(host string) {
	r.url = r.urlScheme + "://" + host + r.urlPath
	if r.urlQuery != "" {
		r.url += "?" + r.urlQuery
	}
}

// RefineHostFromHeader rebuilds the recorded URL's host from the request's
// actual Host header, for origin-form requests whose request line carried
// only a path and so fell back to the raw dial address. A no-op once the
// URL already has an authoritative host (absolute-form request line) or
// once Finish has latched.
func (r *Recorder) RefineHostFromHeader(host string) {
	if r.finished || !r.reqDone || !r.urlHostFromHint || host == "" {
		return
	}
	r.buildURL(host)
}

// OnPeerResolved captures the peer IP once, after the connection is
// established.
func (r *Recorder) OnPeerResolved(addr string) {
	if r.finished {
		return
	}
	r.targetIP = addr
}

// OnResponseHeaderBytes tees response status-line/header bytes into the
// response buffer and both response digests (payload digest is unaffected
// until the first body byte arrives).
func (r *Recorder) OnResponseHeaderBytes(p []byte) error {
	if r.finished {
		return nil
	}
	if _, err := r.respBuf.Write(p); err != nil {
		return err
	}
	r.respBlockDigest.Write(p) //nolint:errcheck
	return nil
}

// OnResponseBodyBytes tees response body bytes into the response buffer,
// the block digest, and the payload digest. The first call fixes
// PayloadOffset at the buffer's current length.
func (r *Recorder) OnResponseBodyBytes(p []byte) error {
	if r.finished {
		return nil
	}
	if !r.payloadOffsetKnown {
		r.payloadOffset = r.respBuf.Tell()
		r.payloadOffsetKnown = true
	}
	if _, err := r.respBuf.Write(p); err != nil {
		return err
	}
	r.respBlockDigest.Write(p)   //nolint:errcheck
	r.respPayloadDigest.Write(p) //nolint:errcheck
	return nil
}

// MarkIncomplete latches the Recorder as incomplete: Finish will discard
// its buffers without emitting any record.
func (r *Recorder) MarkIncomplete() {
	r.incomplete = true
}

// Finish is idempotent: the first call records now and, unless the
// Recorder is incomplete, invokes the Sink exactly once. Later calls are
// no-ops. Sink errors are returned to the caller (typically the capture
// interceptor, which drops them); they must never propagate into the HTTP
// caller's read loop.
func (r *Recorder) Finish(now time.Time) error {
	if r.finished {
		return nil
	}
	r.finished = true
	r.now = now

	if r.incomplete {
		r.closeBuffers()
		return nil
	}

	err := r.sink.Emit(r.ctx, r)
	r.closeBuffers()
	return err
}

func (r *Recorder) closeBuffers() {
	r.reqBuf.Close()  //nolint:errcheck
	r.respBuf.Close() //nolint:errcheck
}
