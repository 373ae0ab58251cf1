package capture

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"

	"github.com/markb/warcrecorder/internal/httpx"
	"github.com/markb/warcrecorder/internal/netx"
	"github.com/markb/warcrecorder/internal/recorder"
)

// requestHeaderLimits bounds the request-line/header re-parse
// hostFromHeader performs; requests this far out of spec are already
// rejected by the origin server, so generous limits are fine here.
var requestHeaderLimits = httpx.ParseLimits{MaxLineBytes: 8192, MaxHeaderBytes: 65536}

// requestHeaderFieldLimits bounds field count and per-field size on top of
// requestHeaderLimits' byte caps, via the same validation the teacher's
// httpx package ships for exactly this purpose.
var requestHeaderFieldLimits = httpx.HeaderLimits{
	MaxFields:           256,
	MaxKeyBytes:         256,
	MaxValueBytes:       8192,
	MaxTotalValuesBytes: 65536,
}

// hostFromHeader parses a complete request head (request line through the
// blank line ending the headers) and returns its Host header, used to
// refine the Recorder's URL for origin-form requests where the request
// line itself carries no host. A request head that fails validation (too
// many fields, an oversized value, an invalid character) yields no
// refinement rather than an error: the byte-level tee has already
// committed these bytes to the Recorder, so the worst outcome here is a
// stale URL, not a lost capture.
func hostFromHeader(head []byte) string {
	req, err := httpx.ParseRequest(netx.NewCRLFFastReader(bytes.NewReader(head)), requestHeaderLimits)
	if err != nil {
		return ""
	}
	if err := httpx.ValidateHeader(req.Header, requestHeaderFieldLimits); err != nil {
		return ""
	}
	return req.Header.Get("Host")
}

// headerBodySplit is the CRLFCRLF sequence marking the end of an HTTP
// status line and headers, before any body bytes.
var headerBodySplit = []byte("\r\n\r\n")

// responseSplitter buffers response bytes until the header/body boundary
// is found, then routes everything before it to OnResponseHeaderBytes and
// everything after to OnResponseBodyBytes, done incrementally so large
// response bodies never need to sit fully in memory first.
type responseSplitter struct {
	rec     *recorder.Recorder
	pending []byte
	headerDone bool
}

func newResponseSplitter(rec *recorder.Recorder) *responseSplitter {
	return &responseSplitter{rec: rec}
}

func (s *responseSplitter) feed(p []byte) error {
	if s.headerDone {
		return s.rec.OnResponseBodyBytes(p)
	}

	s.pending = append(s.pending, p...)
	idx := bytes.Index(s.pending, headerBodySplit)
	if idx < 0 {
		return nil
	}

	header := s.pending[:idx+len(headerBodySplit)]
	body := s.pending[idx+len(headerBodySplit):]
	if err := s.rec.OnResponseHeaderBytes(header); err != nil {
		return err
	}
	s.headerDone = true
	s.pending = nil
	if len(body) > 0 {
		return s.rec.OnResponseBodyBytes(body)
	}
	return nil
}

// respTee is the io.Writer side of io.TeeReader(conn, respTee): every Read
// off the connection is mirrored here before being returned to the caller.
type respTee struct {
	splitter *responseSplitter
}

func (t *respTee) Write(p []byte) (int, error) {
	if err := t.splitter.feed(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// reqTee is one leg of io.MultiWriter(reqTee, conn): it runs first so a
// request-line parse error blocks the real write to the wire instead of
// only being noticed afterward. It also buffers bytes until the request's
// header block is complete, then re-parses it to pull out the Host header
// and refine the Recorder's URL beyond what the request line alone gives.
type reqTee struct {
	rec              *recorder.Recorder
	scheme, hostHint string

	pending    []byte
	headerDone bool
}

func (t *reqTee) Write(p []byte) (int, error) {
	if err := t.rec.OnRequestBytes(p, t.scheme, t.hostHint); err != nil {
		return 0, err
	}
	t.captureHost(p)
	return len(p), nil
}

func (t *reqTee) captureHost(p []byte) {
	if t.headerDone {
		return
	}
	t.pending = append(t.pending, p...)
	idx := bytes.Index(t.pending, headerBodySplit)
	if idx < 0 {
		return
	}
	t.headerDone = true
	head := t.pending[:idx+len(headerBodySplit)]
	t.rec.RefineHostFromHeader(hostFromHeader(head))
	t.pending = nil
}

// recordingConn wraps a net.Conn, teeing its Read/Write traffic into a
// Recorder, and finishes that Recorder exactly once when the connection is
// closed. io.TeeReader/io.MultiWriter already tee synchronously inline with
// each Read/Write, so no pipe-and-goroutine plumbing is needed.
type recordingConn struct {
	net.Conn
	io.Reader
	io.Writer

	rec      *recorder.Recorder
	maxDrain int64
	finishMu sync.Once
}

func wrapConnection(c net.Conn, rec *recorder.Recorder, scheme, hostHint string, maxDrain int64) net.Conn {
	return &recordingConn{
		Conn:     c,
		Reader:   io.TeeReader(c, &respTee{splitter: newResponseSplitter(rec)}),
		Writer:   io.MultiWriter(&reqTee{rec: rec, scheme: scheme, hostHint: hostHint}, c),
		rec:      rec,
		maxDrain: maxDrain,
	}
}

func (c *recordingConn) Read(b []byte) (int, error) {
	n, err := c.Reader.Read(b)
	if err != nil && err != io.EOF {
		// A transport error during read marks the Recorder incomplete; the
		// error itself still propagates to the caller.
		c.rec.MarkIncomplete()
	}
	return n, err
}

func (c *recordingConn) Write(b []byte) (int, error) {
	n, err := c.Writer.Write(b)
	if err != nil {
		c.rec.MarkIncomplete()
	}
	return n, err
}

// drainDeadline bounds how long Close waits for the remainder of an
// in-flight response while draining it, so an abandoned-but-still-open
// connection cannot stall teardown.
const drainDeadline = 2 * time.Second

// Close drains whatever the caller left unread (the §9 "tee'd streams"
// redesign: a transport decorator drains the remainder on close rather
// than losing it), then finishes the Recorder (idempotent, and guarded
// here too so a duplicate Close never double-invokes the sink) before
// closing the underlying connection.
func (c *recordingConn) Close() error {
	c.drainRemainder()
	c.finishMu.Do(func() {
		if err := c.rec.Finish(time.Now().UTC()); err != nil {
			// Sink errors must never propagate into the HTTP caller's
			// close path. The sink logs its own write failures; any other
			// error is dropped here.
			_ = err
		}
	})
	return c.Conn.Close()
}

// drainRemainder reads and tees whatever response bytes the caller never
// consumed, bounded by maxDrain and drainDeadline, so a response closed
// early by the caller still lands in the Recorder in full when the peer
// already sent it. An already-incomplete Recorder is past saving and is
// left alone.
func (c *recordingConn) drainRemainder() {
	if c.rec.Incomplete() || c.maxDrain <= 0 {
		return
	}
	c.Conn.SetReadDeadline(time.Now().Add(drainDeadline)) //nolint:errcheck
	buf := make([]byte, 32*1024)
	var drained int64
	for drained < c.maxDrain {
		n, err := c.Reader.Read(buf)
		drained += int64(n)
		if err != nil {
			return
		}
	}
	// The cap was reached with the stream still open: what the Recorder
	// holds is a truncated response, so it is discarded rather than emitted.
	c.rec.MarkIncomplete()
}
