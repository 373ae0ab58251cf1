package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/markb/warcrecorder/internal/cdx"
	"github.com/markb/warcrecorder/internal/recorder"
	"github.com/markb/warcrecorder/internal/warc"
)

// FileSink appends every record as its own gzip member onto one growing
// WARC file, serialized by a mutex so concurrent Emit calls never interleave
// writes or race on the running offset.
type FileSink struct {
	base
	mu       sync.Mutex
	f        *os.File
	offset   int64
	filename string
}

// NewFileSink opens (creating if needed) path for append and returns a Sink
// writing every record there.
func NewFileSink(path string, dedup warc.Dedup, indexer *cdx.Indexer, log *logrus.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sink: stat %s: %w", path, err)
	}
	s := &FileSink{f: f, offset: info.Size(), filename: filepath.Base(path)}
	s.base = newBase(warc.NewBuilder(dedup), indexer, s, log)
	return s, nil
}

// Emit implements recorder.Sink.
func (s *FileSink) Emit(ctx context.Context, rec *recorder.Recorder) error {
	return s.base.Emit(ctx, rec)
}

func (s *FileSink) place(_ context.Context, m member) (placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.f.Write(m.bytes)
	if err != nil {
		return placement{}, err
	}
	p := placement{offset: s.offset, length: int64(n), filename: s.filename}
	s.offset += int64(n)
	return p, nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	return s.f.Close()
}
