package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markb/warcrecorder/internal/capture"
	"github.com/markb/warcrecorder/internal/casstore"
	"github.com/markb/warcrecorder/internal/cdx"
	"github.com/markb/warcrecorder/internal/config"
	"github.com/markb/warcrecorder/internal/dedup"
	"github.com/markb/warcrecorder/internal/recorder"
	"github.com/markb/warcrecorder/internal/sink"
	"github.com/markb/warcrecorder/internal/snapshot"
	"github.com/markb/warcrecorder/internal/spill"
	"github.com/markb/warcrecorder/internal/store"
	"github.com/markb/warcrecorder/internal/warc"
)

// alwaysWriteDedup implements warc.Dedup without ever consulting the store,
// used when the "dedup" config key is false so the builder never pays for a
// lookup it was told to skip entirely.
type alwaysWriteDedup struct{}

func (alwaysWriteDedup) Lookup(context.Context, string, string, time.Time) (warc.Decision, error) {
	return warc.Decision{Action: warc.Write}, nil
}

func runServe(ctx context.Context, configPath, sinkKind string) error {
	log := logrus.New()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.TmpRecDir, 0o755); err != nil {
		return fmt.Errorf("warcrecorderd: create tmp_rec_dir: %w", err)
	}

	orderedSet, err := store.NewRedisSet(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer orderedSet.Close()

	cas := casstore.NewIPFSStore(cfg.IPFSHost, cfg.IPFSPort)
	indexer := cdx.NewIndexer(orderedSet, cdx.DefaultNamespace, log)

	var dd warc.Dedup = alwaysWriteDedup{}
	if cfg.Dedup {
		dd = dedup.NewResolver(orderedSet, log)
	}

	recorderSink, closeSink, err := buildSink(sinkKind, cfg, cas, dd, indexer, log)
	if err != nil {
		return err
	}
	if closeSink != nil {
		defer closeSink() //nolint:errcheck
	}

	transport := capture.NewTransport(capture.WithMaxDrainBytes(cfg.MaxDrainBytes))
	factory := func(ctx context.Context) *recorder.Recorder {
		return recorder.New(ctx, recorderSink, cfg.TmpRecDir, spill.DefaultMemCap)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap := snapshot.New(orderedSet, cdx.DefaultNamespace, cas, snapshot.DefaultInterval, log)
	go snap.Run(runCtx)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: newStatusMux(transport, factory, log)}
	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	log.WithField("addr", cfg.ListenAddr).Info("warcrecorderd: listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildSink(kind string, cfg *config.Config, cas casstore.Store, dd warc.Dedup, indexer *cdx.Indexer, log *logrus.Logger) (recorder.Sink, func() error, error) {
	switch kind {
	case "file":
		s, err := sink.NewFileSink(filepath.Join(cfg.TmpRecDir, "live.warc.gz"), dd, indexer, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "per-record":
		return sink.NewPerRecordSink(cfg.TmpRecDir, dd, indexer, log), nil, nil
	case "content-addressed":
		return sink.NewContentAddressedSink(cas, dd, indexer, log), nil, nil
	default:
		return nil, nil, fmt.Errorf("warcrecorderd: unknown --sink %q", kind)
	}
}

// newStatusMux exposes a liveness check and the /record endpoint a
// higher-level rewriting proxy (out of scope for this core) uses in place
// of its own transport: it opens a capture scope for one fetch and returns
// the upstream status, demonstrating the capture.WithScope/Fetch surface
// end to end.
func newStatusMux(transport *capture.Transport, factory capture.Factory, log *logrus.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	mux.HandleFunc("/record", func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url query parameter", http.StatusBadRequest)
			return
		}
		method := r.URL.Query().Get("method")
		if method == "" {
			method = http.MethodGet
		}

		ctx := capture.WithScope(r.Context(), factory)
		resp, err := capture.Fetch(ctx, transport, method, target, nil)
		if err != nil {
			log.WithError(err).WithField("url", target).Warn("warcrecorderd: recorded fetch failed")
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"url":    target,
			"status": resp.StatusCode,
		})
	})
	return mux
}
