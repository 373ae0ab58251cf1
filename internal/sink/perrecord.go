package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/markb/warcrecorder/internal/cdx"
	"github.com/markb/warcrecorder/internal/recorder"
	"github.com/markb/warcrecorder/internal/warc"
)

// PerRecordSink writes every record to its own "<uuid>.warc.gz" file under
// dir.
type PerRecordSink struct {
	base
	dir string
}

// NewPerRecordSink returns a Sink writing one file per record under dir.
func NewPerRecordSink(dir string, dedup warc.Dedup, indexer *cdx.Indexer, log *logrus.Logger) *PerRecordSink {
	s := &PerRecordSink{dir: dir}
	s.base = newBase(warc.NewBuilder(dedup), indexer, s, log)
	return s
}

// Emit implements recorder.Sink.
func (s *PerRecordSink) Emit(ctx context.Context, rec *recorder.Recorder) error {
	return s.base.Emit(ctx, rec)
}

func (s *PerRecordSink) place(_ context.Context, m member) (placement, error) {
	filename := uuid.NewString() + ".warc.gz"
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, m.bytes, 0o644); err != nil {
		return placement{}, fmt.Errorf("sink: write %s: %w", path, err)
	}
	return placement{offset: 0, length: int64(len(m.bytes)), filename: filename}, nil
}
