// Package audit writes an append-only JSONL trail of routing and sweep
// decisions, rotated by lumberjack.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Record is one audited decision.
type Record struct {
	Time        time.Time `json:"time"`
	Kind        string    `json:"kind"` // "navigation", "subresource", "sweep"
	TabID       string    `json:"tab_id,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	Action      string    `json:"action,omitempty"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	SweepID     string    `json:"sweep_id,omitempty"`
	Domain      string    `json:"domain,omitempty"`
	Container   string    `json:"container,omitempty"`
}

// Writer queues records and writes them asynchronously so decision paths
// never block on disk.
type Writer struct {
	ch     chan Record
	done   chan struct{}
	wg     sync.WaitGroup
	logger *lumberjack.Logger
}

// NewWriter creates an audit writer under dir with the given queue size.
func NewWriter(dir string, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	w := &Writer{
		ch:   make(chan Record, bufferSize),
		done: make(chan struct{}),
		logger: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "decisions.jsonl"),
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record. When the queue is full the record is dropped rather
// than stalling an interception decision.
func (w *Writer) Write(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	select {
	case <-w.done:
		return fmt.Errorf("audit: writer closed")
	default:
	}
	select {
	case w.ch <- rec:
		return nil
	default:
		slog.Warn("audit queue full, dropping record", "kind", rec.Kind)
		return fmt.Errorf("audit: queue full")
	}
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case rec := <-w.ch:
			w.writeRecord(rec)
		case <-w.done:
			for {
				select {
				case rec := <-w.ch:
					w.writeRecord(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeRecord(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Debug("audit marshal failed", "error", err)
		return
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Debug("audit write failed", "error", err)
	}
}

// Close flushes queued records and closes the underlying file.
func (w *Writer) Close() error {
	close(w.done)
	w.wg.Wait()
	return w.logger.Close()
}
