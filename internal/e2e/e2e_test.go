// Package e2e wires capture, recorder, warc, cdx, dedup, and sink together
// against real httptest servers, exercising full request/response round
// trips that no single package's unit tests cover on their own.
package e2e

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/markb/warcrecorder/internal/capture"
	"github.com/markb/warcrecorder/internal/cdx"
	"github.com/markb/warcrecorder/internal/dedup"
	"github.com/markb/warcrecorder/internal/recorder"
	"github.com/markb/warcrecorder/internal/sink"
	"github.com/markb/warcrecorder/internal/spill"
	"github.com/markb/warcrecorder/internal/store"
	"github.com/markb/warcrecorder/internal/warc"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func newHarness(t *testing.T) (s store.OrderedSet, ps *sink.PerRecordSink, transport *capture.Transport, factory capture.Factory) {
	t.Helper()
	dir := t.TempDir()
	s = store.NewMemorySet()
	indexer := cdx.NewIndexer(s, "", nil)
	resolver := dedup.NewResolver(s, nil)
	ps = sink.NewPerRecordSink(dir, resolver, indexer, nil)
	transport = capture.NewTransport()
	factory = func(ctx context.Context) *recorder.Recorder {
		return recorder.New(ctx, ps, dir, spill.DefaultMemCap)
	}
	return s, ps, transport, factory
}

// A single recorded GET through the capture transport is built, written,
// and indexed: exactly one CDXJ line (the response's) lands in the store.
func TestS1SingleGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello\n")) //nolint:errcheck
	}))
	defer srv.Close()

	s, ps, transport, factory := newHarness(t)
	_ = ps
	ctx := capture.WithScope(context.Background(), factory)

	resp, err := capture.Fetch(ctx, transport, http.MethodGet, srv.URL+"/", nil)
	if err != nil {
		t.Fatal(err)
	}
	io.ReadAll(resp.Body) //nolint:errcheck
	resp.Body.Close()

	waitUntil(t, func() bool {
		lines, _ := s.Range(context.Background(), cdx.DefaultNamespace)
		return len(lines) == 1
	})
}

// A second capture of a payload already indexed produces a revisit record
// whose payload digest matches the first capture's.
func TestS2DedupHitProducesRevisit(t *testing.T) {
	body := "repeated-payload\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body)) //nolint:errcheck
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := store.NewMemorySet()
	indexer := cdx.NewIndexer(s, "", nil)
	resolver := dedup.NewResolver(s, nil)
	builder := warc.NewBuilder(resolver)

	capture1 := recorder.New(context.Background(), recorderSinkFunc(func(ctx context.Context, rec *recorder.Recorder) error {
		res, err := builder.Build(ctx, rec)
		if err != nil {
			return err
		}
		return placeAndIndex(ctx, dir, "first", indexer, res)
	}), dir, 0)
	drive(t, capture1, srv, body)

	lines, err := s.Range(context.Background(), cdx.DefaultNamespace)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d CDXJ lines after first capture, want 1", len(lines))
	}

	var firstDigest string
	capture1Again := recorder.New(context.Background(), recorderSinkFunc(func(ctx context.Context, rec *recorder.Recorder) error {
		firstDigest = rec.ResponsePayloadDigest()
		return nil
	}), dir, 0)
	driveRequestOnly(t, capture1Again)

	var revisit *warc.Record
	capture2 := recorder.New(context.Background(), recorderSinkFunc(func(ctx context.Context, rec *recorder.Recorder) error {
		res, err := builder.Build(ctx, rec)
		if err != nil {
			return err
		}
		revisit = res.Records[0]
		return placeAndIndex(ctx, dir, "second", indexer, res)
	}), dir, 0)
	drive(t, capture2, srv, body)

	if revisit == nil || revisit.Type != warc.TypeRevisit {
		t.Fatalf("expected a revisit record, got %+v", revisit)
	}
	if revisit.PayloadDigest == "" || revisit.PayloadDigest != firstDigest {
		t.Fatalf("revisit payload digest = %q, want %q", revisit.PayloadDigest, firstDigest)
	}
}

// A connection reset partway through a Content-Length body, driven through
// the real capture.Transport (not Recorder.MarkIncomplete called directly),
// leaves the sink's store and the per-record directory both empty.
func TestS3IncompleteTransportDiscardsCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("response writer does not support hijacking")
		}
		conn, bufrw, err := hj.Hijack()
		if err != nil {
			t.Fatal(err)
		}
		bufrw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n") //nolint:errcheck
		bufrw.WriteString("short")                                        //nolint:errcheck
		bufrw.Flush()                                                     //nolint:errcheck

		// Force an RST instead of a clean FIN: a graceful close reads back
		// as a plain io.EOF, which recordingConn.Read treats as an
		// ordinary stream end rather than a transport failure. A reset
		// mid-body is what an actually broken transport looks like.
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetLinger(0) //nolint:errcheck
		}
		conn.Close()
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := store.NewMemorySet()
	indexer := cdx.NewIndexer(s, "", nil)
	resolver := dedup.NewResolver(s, nil)
	ps := sink.NewPerRecordSink(dir, resolver, indexer, nil)
	transport := capture.NewTransport()
	factory := func(ctx context.Context) *recorder.Recorder {
		return recorder.New(ctx, ps, dir, spill.DefaultMemCap)
	}
	ctx := capture.WithScope(context.Background(), factory)

	resp, err := capture.Fetch(ctx, transport, http.MethodGet, srv.URL+"/", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr == nil {
		t.Fatal("expected a read error from the reset connection, got nil")
	}

	time.Sleep(100 * time.Millisecond)

	lines, err := s.Range(context.Background(), cdx.DefaultNamespace)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no CDX lines for an incomplete capture, got %d", len(lines))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no WARC files for an incomplete capture, got %v", entries)
	}
}

// driveRequestOnly feeds rec a request and a response carrying the same
// body TestS2 serves (the headers differ), just to recompute the expected
// payload digest without re-running the HTTP server or re-driving the
// Builder.
func driveRequestOnly(t *testing.T, rec *recorder.Recorder) {
	t.Helper()
	if err := rec.OnRequestBytes([]byte("GET / HTTP/1.1\r\n\r\n"), "http", "example.com"); err != nil {
		t.Fatal(err)
	}
	if err := rec.OnResponseHeaderBytes([]byte("HTTP/1.1 200 OK\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	if err := rec.OnResponseBodyBytes([]byte("repeated-payload\n")); err != nil {
		t.Fatal(err)
	}
	if err := rec.Finish(time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
}

// drive performs one GET against srv directly through the Recorder's
// byte-level API, bypassing capture.Transport — used where the test needs
// to inspect the Recorder/Builder output directly rather than going through
// an HTTP round trip.
func drive(t *testing.T, rec *recorder.Recorder, srv *httptest.Server, wantBody string) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(respBody) != wantBody {
		t.Fatalf("server body = %q, want %q", respBody, wantBody)
	}

	reqLine := "GET / HTTP/1.1\r\nHost: " + resp.Request.URL.Host + "\r\n\r\n"
	if err := rec.OnRequestBytes([]byte(reqLine), "http", resp.Request.URL.Host); err != nil {
		t.Fatal(err)
	}
	header := "HTTP/1.1 200 OK\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n"
	if err := rec.OnResponseHeaderBytes([]byte(header)); err != nil {
		t.Fatal(err)
	}
	if err := rec.OnResponseBodyBytes(respBody); err != nil {
		t.Fatal(err)
	}
	if err := rec.Finish(time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
}

type recorderSinkFunc func(ctx context.Context, rec *recorder.Recorder) error

func (f recorderSinkFunc) Emit(ctx context.Context, rec *recorder.Recorder) error { return f(ctx, rec) }

func placeAndIndex(ctx context.Context, dir, label string, indexer *cdx.Indexer, res *warc.Result) error {
	if res.Skipped {
		return nil
	}
	for i, r := range res.Records {
		var buf bytes.Buffer
		if _, err := r.WriteTo(&buf); err != nil {
			return err
		}
		indexer.IndexRecord(ctx, r, int64(i), int64(buf.Len()), label+".warc")
	}
	return nil
}

// A multi-megabyte body forces the spill buffer to overflow to disk, and
// the resulting WARC record still decodes byte-identically.
func TestS4LargeBodySpillsAndRoundTrips(t *testing.T) {
	payload := make([]byte, 4<<20)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}

	sinkCh := make(chan *warc.Result, 1)
	dedupResolver := dedup.NewResolver(store.NewMemorySet(), nil)
	builder := warc.NewBuilder(dedupResolver)

	rec := recorder.New(context.Background(), recorderSinkFunc(func(ctx context.Context, r *recorder.Recorder) error {
		res, err := builder.Build(ctx, r)
		if err != nil {
			return err
		}
		sinkCh <- res
		return nil
	}), t.TempDir(), 16<<10) // tiny mem cap forces a spill well before 4MiB

	if err := rec.OnRequestBytes([]byte("GET /big HTTP/1.1\r\nHost: example.com\r\n\r\n"), "http", "example.com"); err != nil {
		t.Fatal(err)
	}
	header := []byte("HTTP/1.1 200 OK\r\n\r\n")
	if err := rec.OnResponseHeaderBytes(header); err != nil {
		t.Fatal(err)
	}
	if err := rec.OnResponseBodyBytes(payload); err != nil {
		t.Fatal(err)
	}
	if err := rec.Finish(time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	res := <-sinkCh
	resp := res.Records[0]
	if !bytes.Equal(resp.Body[len(header):], payload) {
		t.Fatal("spilled response body does not round-trip byte-identically")
	}

	var gz bytes.Buffer
	w := newGzipMember(t, &gz)
	if _, err := resp.WriteTo(w); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	gr, err := gzip.NewReader(&gz)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(decoded, payload) {
		t.Fatal("decoded gzip member does not contain the original payload")
	}
}

func newGzipMember(t *testing.T, dst io.Writer) *gzip.Writer {
	t.Helper()
	w, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

// Indexing an injected metadata record appends exactly one CDX line
// carrying its URL and content type.
func TestS5MetadataInjection(t *testing.T) {
	s := store.NewMemorySet()
	indexer := cdx.NewIndexer(s, "", nil)

	rec := warc.BuildMetadata(time.Now().UTC(), "metadata://x", "application/json", []byte("{}"))
	indexer.IndexRecord(context.Background(), rec, 0, int64(len(rec.Bytes())), "meta.warc.gz")

	lines, err := s.Range(context.Background(), cdx.DefaultNamespace)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d CDXJ lines, want 1", len(lines))
	}
	_, _, entry, err := cdx.ParseLine(lines[0])
	if err != nil {
		t.Fatal(err)
	}
	if entry.URL != "metadata://x" || entry.Mime != "application/json" {
		t.Fatalf("entry = %+v", entry)
	}
}

// A WithoutScope call nested inside an active scope performs a GET whose
// bytes appear in no Recorder, and capture resumes afterward.
func TestS6ScopeIsolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	s, _, transport, factory := newHarness(t)
	outer := capture.WithScope(context.Background(), factory)

	// Nested, unrecorded call.
	inner := capture.WithoutScope(outer)
	resp, err := capture.Fetch(inner, transport, http.MethodGet, srv.URL+"/side", nil)
	if err != nil {
		t.Fatal(err)
	}
	io.ReadAll(resp.Body) //nolint:errcheck
	resp.Body.Close()

	time.Sleep(50 * time.Millisecond)
	if lines, _ := s.Range(context.Background(), cdx.DefaultNamespace); len(lines) != 0 {
		t.Fatalf("expected the WithoutScope call to record nothing, got %d lines", len(lines))
	}

	// Capture resumes under the outer (unmodified) scope.
	resp2, err := capture.Fetch(outer, transport, http.MethodGet, srv.URL+"/main", nil)
	if err != nil {
		t.Fatal(err)
	}
	io.ReadAll(resp2.Body) //nolint:errcheck
	resp2.Body.Close()

	waitUntil(t, func() bool {
		lines, _ := s.Range(context.Background(), cdx.DefaultNamespace)
		return len(lines) == 1
	})
}
