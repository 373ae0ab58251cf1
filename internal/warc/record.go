// Package warc builds well-formed WARC 1.0 records (response, request,
// revisit, metadata) from a finished recorder.Recorder.
package warc

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Type is the WARC-Type header value.
type Type string

const (
	TypeResponse Type = "response"
	TypeRequest  Type = "request"
	TypeRevisit  Type = "revisit"
	TypeMetadata Type = "metadata"
	TypeWarcinfo Type = "warcinfo"
)

// RevisitProfile is the only revisit profile this core emits: identical
// payload digest, uri-agnostic.
const RevisitProfile = "http://netpreserve.org/warc/1.0/revisit/uri-agnostic-identical-payload-digest"

// Record is one WARC record, ready to be serialized by WriteTo. Fields left
// empty are omitted from the wire headers.
type Record struct {
	Type          Type
	ID            string // "<urn:uuid:...>"
	Date          time.Time
	TargetURI     string
	IPAddress     string
	ConcurrentTo  string // another record's ID, already "<urn:uuid:...>"
	BlockDigest   string
	PayloadDigest string

	Profile           string
	RefersToTargetURI string
	RefersToDate      string

	ContentType string
	Body        []byte
}

// NewRecordID mints a fresh "<urn:uuid:...>" record identifier. Uniqueness
// is required, ordering is not, so a random v4 UUID is sufficient.
func NewRecordID() string {
	return "<urn:uuid:" + uuid.NewString() + ">"
}

// FormatDate renders t as the second-precision UTC timestamp WARC-Date and
// WARC-Refers-To-Date require: "YYYY-MM-DDThh:mm:ssZ".
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// header is one wire header line, name first.
type header struct {
	name  string
	value string
}

// headers returns this record's headers in the fixed emission order,
// extended (after WARC-Payload-Digest) with the revisit-only fields. Empty
// values are dropped.
func (r *Record) headers() []header {
	all := []header{
		{"WARC-Type", string(r.Type)},
		{"WARC-Record-ID", r.ID},
		{"WARC-Date", FormatDate(r.Date)},
		{"WARC-Target-URI", r.TargetURI},
		{"WARC-IP-Address", r.IPAddress},
		{"WARC-Concurrent-To", r.ConcurrentTo},
		{"WARC-Block-Digest", r.BlockDigest},
		{"WARC-Payload-Digest", r.PayloadDigest},
		{"WARC-Profile", r.Profile},
		{"WARC-Refers-To-Target-URI", r.RefersToTargetURI},
		{"WARC-Refers-To-Date", r.RefersToDate},
		{"Content-Type", r.ContentType},
		{"Content-Length", fmt.Sprintf("%d", len(r.Body))},
	}
	out := all[:0:0]
	for _, h := range all {
		if h.value == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}

// WriteTo serializes the record as "WARC/1.0\r\n" + headers + CRLF + body +
// CRLFCRLF.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.WriteString("WARC/1.0\r\n")
	for _, h := range r.headers() {
		buf.WriteString(h.name)
		buf.WriteString(": ")
		buf.WriteString(h.value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	buf.WriteString("\r\n\r\n")
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Bytes returns the fully serialized record.
func (r *Record) Bytes() []byte {
	var buf bytes.Buffer
	r.WriteTo(&buf) //nolint:errcheck
	return buf.Bytes()
}
