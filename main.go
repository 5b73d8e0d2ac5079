// Program loghub receives log submissions over HTTP, persists them as a
// single JSON document, streams them to WebSocket subscribers, and archives
// the buffer to a timestamped snapshot whenever a submission contains the
// shutdown sentinel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loghub/archive"
	"loghub/config"
	"loghub/engine"
	"loghub/feed"
	"loghub/hub"
	"loghub/recorder"
	"loghub/stats"
	"loghub/store"
	"loghub/web"
)

const shutdownTimeout = 5 * time.Second

// Purpose: Wire every component and run until a termination signal.
// Key aspects: Optional components (recorder, feed, file logging) degrade to
// no-ops when disabled or failing, the ingest path never depends on them.
// Upstream: process entry.
// Downstream: config.Load, engine.New, web.Server.Start.
func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging: file sink unavailable: %v\n", err)
	}
	defer fanout.Close()
	log.SetOutput(fanout)
	log.SetFlags(0)

	cfg.Print()

	st := store.New(cfg.Storage.DataFile, cfg.Storage.StrictLoad)
	ar, err := archive.New(cfg.Storage.ArchiveDir)
	if err != nil {
		log.Printf("Fatal: %v", err)
		os.Exit(1)
	}
	eng, err := engine.New(st, ar)
	if err != nil {
		log.Printf("Fatal: %v", err)
		os.Exit(1)
	}
	log.Printf("Loaded %d buffered logs from %s", eng.Len(), st.Path())

	h := hub.New(hub.Options{
		Subscribe:         eng.Subscribe,
		KeepaliveInterval: time.Duration(cfg.Hub.KeepaliveSeconds) * time.Second,
		ClientBuffer:      cfg.Hub.ClientBuffer,
	})
	h.Start()
	eng.AttachSink(h)

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.New(cfg.Recorder.DBPath, cfg.Recorder.Limit)
		if err != nil {
			log.Printf("Recorder disabled: %v", err)
		} else {
			eng.SetRecordFunc(rec.Record)
			log.Printf("Recorder: %s (%d rows)", cfg.Recorder.DBPath, rec.Count())
		}
	}

	var pub *feed.Publisher
	if cfg.Feed.Enabled {
		pub, err = feed.New(cfg.Feed)
		if err != nil {
			log.Printf("Feed disabled: %v", err)
			pub = nil
		} else {
			eng.AttachSink(pub)
		}
	}

	tracker := stats.NewTracker()
	statsDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Stats.IntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.Print(tracker.SnapshotLine(h.ClientCount(), h.DropCount()))
			case <-statsDone:
				return
			}
		}
	}()

	srv := web.NewServer(eng, ar, h, tracker, cfg.Server.WebDir)
	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", addr)
		errCh <- srv.Start(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("HTTP server failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	close(statsDone)
	h.Stop()
	pub.Stop()
	if err := rec.Close(); err != nil {
		log.Printf("Recorder close: %v", err)
	}
	log.Print(tracker.SnapshotLine(0, h.DropCount()))
}
