package cdx

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"

	"github.com/markb/warcrecorder/internal/httpx"
	"github.com/markb/warcrecorder/internal/netx"
	"github.com/markb/warcrecorder/internal/store"
	"github.com/markb/warcrecorder/internal/warc"
)

// parseLimits bounds the re-parse of a WARC record's response head;
// records this large are already well past anything a real server sends.
var parseLimits = httpx.ParseLimits{MaxLineBytes: 8192, MaxHeaderBytes: 65536}

// DefaultNamespace is the ordered-set key CDXJ lines are appended under.
const DefaultNamespace = "warc:cdxj"

// Indexer appends one CDXJ line per indexable WARC record to an
// OrderedSet. Only response, revisit, and metadata records carry entries —
// request records have no payload digest or MIME/status to index.
type Indexer struct {
	store     store.OrderedSet
	namespace string
	log       *logrus.Entry
}

// NewIndexer returns an Indexer appending under namespace (DefaultNamespace
// if empty).
func NewIndexer(s store.OrderedSet, namespace string, log *logrus.Logger) *Indexer {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if log == nil {
		log = logrus.New()
	}
	return &Indexer{store: s, namespace: namespace, log: log.WithField("component", "cdx")}
}

// Indexable reports whether rec is a type the indexer emits a CDXJ line
// for.
func Indexable(t warc.Type) bool {
	switch t {
	case warc.TypeResponse, warc.TypeRevisit, warc.TypeMetadata:
		return true
	default:
		return false
	}
}

// IndexRecord builds and appends one CDXJ line for rec, which was just
// written at [offset, offset+length) in filename. Store errors are logged
// and swallowed: the WARC record is already safely on disk and recoverable
// by an offline reindex.
func (ix *Indexer) IndexRecord(ctx context.Context, rec *warc.Record, offset, length int64, filename string) {
	if !Indexable(rec.Type) {
		return
	}

	urlkey, err := CanonicalizeURL(rec.TargetURI)
	if err != nil {
		ix.log.WithError(err).WithField("url", rec.TargetURI).Warn("cdx: canonicalize url failed, skipping entry")
		return
	}

	status, mime := parseStatusAndMime(rec)
	entry := Entry{
		URL:      rec.TargetURI,
		Mime:     mime,
		Status:   status,
		Digest:   digestForEntry(rec),
		Length:   length,
		Offset:   offset,
		Filename: filename,
	}

	line, err := Line(urlkey, FormatTimestamp(rec.Date), entry)
	if err != nil {
		ix.log.WithError(err).Warn("cdx: render CDXJ line failed, skipping entry")
		return
	}

	if err := ix.store.Append(ctx, ix.namespace, line); err != nil {
		ix.log.WithError(err).WithField("url", rec.TargetURI).Warn("cdx: append to ordered set failed")
	}
}

// digestForEntry prefers the payload digest (what DedupResolver compares
// against) and falls back to the block digest for records without one,
// e.g. metadata.
func digestForEntry(rec *warc.Record) string {
	if rec.PayloadDigest != "" {
		return rec.PayloadDigest
	}
	return rec.BlockDigest
}

// parseStatusAndMime reads the HTTP status line and Content-Type header out
// of a response/revisit record's block, via the same httpx/netx parsing the
// capture side uses on the way in. Revisit bodies are headers-only, so this
// works identically for both.
func parseStatusAndMime(rec *warc.Record) (status int, mime string) {
	if rec.Type != warc.TypeResponse && rec.Type != warc.TypeRevisit {
		return 0, rec.ContentType
	}
	resp, err := httpx.ParseResponseHead(netx.NewCRLFFastReader(bytes.NewReader(rec.Body)), parseLimits)
	if err != nil {
		return 0, ""
	}
	return resp.StatusCode, resp.Header.Get("Content-Type")
}
