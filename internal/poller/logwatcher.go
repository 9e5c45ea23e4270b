package poller

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LogEvent is one new line observed by a LogWatcher.
type LogEvent struct {
	LineNumber int
	Line       string
	Position   int64
	Timestamp  time.Time
}

// Transform is the shape of a per-line rewrite: it maps one LogEvent to
// another, with nil dropping the line. LogWatcher does not take or apply a
// Transform; its only per-line hooks are the filter and onEvent given to
// NewLogWatcher.
type Transform func(LogEvent) *LogEvent

// LogWatcher is the alternative to Poller for bridges that expose inbound
// traffic as an append-only log file rather than a queryable store. It
// wakes on fsnotify write events and incrementally scans new lines with
// bufio.Scanner, advancing a byte-offset cursor so a restart resumes
// exactly where it left off. Mutually exclusive with Poller — a
// deployment wires one or the other, never both.
type LogWatcher struct {
	path    string
	filter  *regexp.Regexp
	onEvent func(LogEvent)
	log     *slog.Logger

	mu         sync.Mutex
	position   int64
	lineNumber int

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLogWatcher builds a LogWatcher over path. filter, if non-nil, drops
// lines that don't match. onEvent is called for every retained line.
// startPosition resumes a prior run's byte offset (0 starts from the
// beginning of the current file content).
func NewLogWatcher(path string, filter *regexp.Regexp, startPosition int64, onEvent func(LogEvent), log *slog.Logger) (*LogWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("poller: new fsnotify watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("poller: watch %s: %w", path, err)
	}
	return &LogWatcher{
		path:     path,
		filter:   filter,
		onEvent:  onEvent,
		log:      log,
		position: startPosition,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}, nil
}

// Position reports the current byte-offset cursor.
func (w *LogWatcher) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

// Start reads whatever is already past the cursor, then watches for
// further writes.
func (w *LogWatcher) Start() {
	w.drain()
	w.wg.Add(1)
	go w.loop()
}

// Stop closes the underlying fsnotify watcher and waits for the loop to exit.
func (w *LogWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()
}

func (w *LogWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.drain()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("poller: log watch error", "path", w.path, "err", err)
		}
	}
}

// drain scans every complete line added since the last cursor position.
func (w *LogWatcher) drain() {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		w.log.Warn("poller: open log file failed", "path", w.path, "err", err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(w.position, io.SeekStart); err != nil {
		w.log.Warn("poller: seek failed", "path", w.path, "err", err)
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	})
	for scanner.Scan() {
		line := scanner.Text()
		w.lineNumber++
		w.position += int64(len(line)) + 1

		if w.filter != nil && !w.filter.MatchString(line) {
			continue
		}
		evt := LogEvent{LineNumber: w.lineNumber, Line: line, Position: w.position, Timestamp: time.Now()}
		if w.onEvent != nil {
			w.onEvent(evt)
		}
	}
	if err := scanner.Err(); err != nil {
		w.log.Warn("poller: scan failed", "path", w.path, "err", err)
	}
}
