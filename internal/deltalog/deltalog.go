// Package deltalog appends viral events to a JSONL file for offline
// analysis, one object per line.
package deltalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"viralwatch/internal/eventbus"
	"viralwatch/pkg/logx"
)

// Writer consumes viral.detected events from the bus and appends them to
// path. Run blocks until ctx is canceled; it is meant to live under the
// app supervisor's restart loop.
type Writer struct {
	path string
	bus  eventbus.Bus
	log  logx.Logger
}

func New(path string, bus eventbus.Bus, log logx.Logger) *Writer {
	return &Writer{path: path, bus: bus, log: log}
}

func (w *Writer) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	events, unsub := w.bus.Subscribe(64)
	defer unsub()

	enc := json.NewEncoder(f)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type != eventbus.TypeViralDetected {
				continue
			}
			ev, ok := e.Data.(eventbus.ViralDetected)
			if !ok {
				continue
			}
			if err := enc.Encode(ev); err != nil {
				w.log.Warn("delta log write failed", logx.Err(err), logx.String("path", w.path))
				return err
			}
		}
	}
}
