package cdx

import (
	"context"
	"testing"
	"time"

	"github.com/markb/warcrecorder/internal/store"
	"github.com/markb/warcrecorder/internal/warc"
)

func TestIndexerAppendsResponseButNotRequest(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemorySet()
	ix := NewIndexer(s, "", nil)

	resp := &warc.Record{
		Type:          warc.TypeResponse,
		ID:            "<urn:uuid:1>",
		Date:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TargetURI:     "http://example.com/",
		PayloadDigest: "sha1:XYZ",
		ContentType:   "application/http; msgtype=response",
		Body:          []byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<html></html>"),
	}
	req := &warc.Record{
		Type:      warc.TypeRequest,
		ID:        "<urn:uuid:2>",
		Date:      resp.Date,
		TargetURI: "http://example.com/",
		Body:      []byte("GET / HTTP/1.1\r\n\r\n"),
	}

	ix.IndexRecord(ctx, resp, 0, 100, "out.warc.gz")
	ix.IndexRecord(ctx, req, 100, 50, "out.warc.gz")

	lines, err := s.Range(ctx, DefaultNamespace)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d CDXJ lines, want 1: %v", len(lines), lines)
	}

	_, _, entry, err := ParseLine(lines[0])
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != 200 || entry.Mime != "text/html" || entry.Digest != "sha1:XYZ" {
		t.Fatalf("entry = %+v", entry)
	}
}
