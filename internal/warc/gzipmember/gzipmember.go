// Package gzipmember writes WARC records as independent gzip members: each
// Writer flushes a complete gzip stream per record so records remain
// individually seekable and decodable without replaying earlier members.
package gzipmember

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// Writer wraps an underlying sink and deflates everything written to it as
// a single gzip member. Create a fresh Writer per WARC record.
type Writer struct {
	gz *gzip.Writer
}

// New returns a Writer that deflates into dst at best compression.
func New(dst io.Writer) *Writer {
	gz, _ := gzip.NewWriterLevel(dst, gzip.BestCompression)
	return &Writer{gz: gz}
}

// Write deflates p into the current gzip member.
func (w *Writer) Write(p []byte) (int, error) {
	return w.gz.Write(p)
}

// Finish flushes the gzip footer, completing exactly one gzip member in the
// underlying sink. The Writer must not be reused after Finish; construct a
// new one for the next record.
func (w *Writer) Finish() error {
	return w.gz.Close()
}
