// Package tailer follows log files and streams appended lines into the
// ingest pipeline. Rotation and truncation are handled transparently.
package tailer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cinderlog/cinder/internal/models"
)

// ingestTimeout bounds the ingestion of one tailed line.
const ingestTimeout = 5 * time.Second

// Ingestor receives tailed lines. The ingest coordinator satisfies it.
type Ingestor interface {
	IngestTail(ctx context.Context, rawText, source string) (*models.LogEntry, error)
}

// Config describes one file to follow.
type Config struct {
	// Path is the file to follow. It must exist at startup.
	Path string `yaml:"path"`

	// Source tags entries read from this file. Defaults to the file
	// base name.
	Source string `yaml:"source"`

	// FromStart replays existing content before following. The default
	// behaves like tail -f and starts at the end.
	FromStart bool `yaml:"from_start"`

	// PollInterval is the fallback poll cadence for filesystems where
	// fsnotify events are unreliable (default: 250ms).
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Follower tails a single file and hands each complete line to the
// ingestor. Rotation is detected via create events and reopens the
// file; truncation rewinds to the start. Per-line ingest failures are
// logged and counted but never stop the follower.
type Follower struct {
	config   Config
	ingestor Ingestor
	watcher  *fsnotify.Watcher

	file   *os.File
	reader *bufio.Reader
	offset int64

	done     chan struct{}
	finished chan struct{}

	lines atomic.Int64
	fails atomic.Int64

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewFollower creates a follower for the given file. The file is opened
// immediately; unless FromStart is set the read position starts at the
// current end.
func NewFollower(ingestor Ingestor, config Config) (*Follower, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if config.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	absPath, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	config.Path = absPath

	if config.Source == "" {
		config.Source = filepath.Base(absPath)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("file does not exist: %s", absPath)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	f := &Follower{
		config:   config,
		ingestor: ingestor,
		watcher:  watcher,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	if err := f.openFile(); err != nil {
		watcher.Close()
		return nil, err
	}

	if !config.FromStart {
		if _, err := f.file.Seek(0, io.SeekEnd); err != nil {
			watcher.Close()
			f.file.Close()
			return nil, fmt.Errorf("failed to seek to end: %w", err)
		}
		f.reader = bufio.NewReader(f.file)
		f.offset = info.Size()
	}

	return f, nil
}

// Source returns the source tag applied to lines from this file.
func (f *Follower) Source() string {
	return f.config.Source
}

// Path returns the followed file path.
func (f *Follower) Path() string {
	return f.config.Path
}

// Start begins following. It watches the containing directory so that
// rotation (remove + create) is observable.
func (f *Follower) Start(ctx context.Context) error {
	dir := filepath.Dir(f.config.Path)
	if err := f.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	f.mu.Lock()
	f.started = true
	f.mu.Unlock()

	go f.run(ctx)
	return nil
}

// Stop halts the follower and releases the watcher and file handles.
func (f *Follower) Stop() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	started := f.started
	f.mu.Unlock()

	close(f.done)
	f.watcher.Close()
	if started {
		<-f.finished
	}
	if f.file != nil {
		f.file.Close()
	}
}

// Stats reports how many lines this follower has ingested and how many
// ingest attempts failed.
func (f *Follower) Stats() Stats {
	return Stats{
		Path:   f.config.Path,
		Source: f.config.Source,
		Lines:  f.lines.Load(),
		Errors: f.fails.Load(),
	}
}

// Stats describes one follower's progress.
type Stats struct {
	Path   string `json:"path"`
	Source string `json:"source"`
	Lines  int64  `json:"lines"`
	Errors int64  `json:"errors"`
}

func (f *Follower) openFile() error {
	file, err := os.Open(f.config.Path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	f.file = file
	f.reader = bufio.NewReader(file)
	return nil
}

func (f *Follower) run(ctx context.Context) {
	defer close(f.finished)

	// Catch up on anything already readable from the start position.
	f.readLines(ctx)

	ticker := time.NewTicker(f.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(ctx, event)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("tailer %s: watcher error: %v", f.config.Path, err)
		case <-ticker.C:
			// Fallback polling for systems where fsnotify misses writes.
			f.checkForChanges(ctx)
		}
	}
}

func (f *Follower) handleEvent(ctx context.Context, event fsnotify.Event) {
	// The directory watch reports sibling files too.
	if event.Name != f.config.Path {
		return
	}

	if event.Has(fsnotify.Write) {
		// Truncation also surfaces as a write, so stat before reading
		// rather than trusting the stale fd offset.
		f.checkForChanges(ctx)
	} else if event.Has(fsnotify.Create) {
		// The path reappeared: classic rotation.
		f.handleRotation(ctx)
	}
	// Remove, Rename and Chmod are ignored; rotation completes with the
	// create event for the new file.
}

func (f *Follower) checkForChanges(ctx context.Context) {
	info, err := os.Stat(f.config.Path)
	if err != nil {
		// Rotated away; wait for the create event.
		return
	}

	newSize := info.Size()
	if newSize < f.offset {
		f.handleTruncation(ctx)
		return
	}
	if newSize > f.offset {
		f.readLines(ctx)
	}
}

func (f *Follower) handleRotation(ctx context.Context) {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}

	for i := 0; i < 10; i++ {
		if err := f.openFile(); err == nil {
			f.offset = 0
			f.readLines(ctx)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Printf("tailer %s: failed to reopen after rotation", f.config.Path)
}

func (f *Follower) handleTruncation(ctx context.Context) {
	if f.file == nil {
		return
	}
	f.file.Seek(0, io.SeekStart)
	f.reader = bufio.NewReader(f.file)
	f.offset = 0
	f.readLines(ctx)
}

func (f *Follower) readLines(ctx context.Context) {
	if f.file == nil || f.reader == nil {
		return
	}
	defer f.markConsumed()

	for {
		line, err := f.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// A partial line stays in the file until its newline
				// arrives; rewind so the next read sees it whole.
				if len(line) > 0 {
					f.file.Seek(-int64(len(line)), io.SeekCurrent)
					f.reader = bufio.NewReader(f.file)
				}
				return
			}
			log.Printf("tailer %s: read error: %v", f.config.Path, err)
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		f.handleLine(ctx, line)
	}
}

// markConsumed records how far into the file the reader has consumed.
// Truncation detection compares the stat size against this offset, so
// it must be refreshed after every read regardless of which path
// triggered it.
func (f *Follower) markConsumed() {
	if f.file == nil || f.reader == nil {
		return
	}
	off, err := f.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return
	}
	f.offset = off - int64(f.reader.Buffered())
}

func (f *Follower) handleLine(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	if _, err := f.ingestor.IngestTail(ctx, text, f.config.Source); err != nil {
		f.fails.Add(1)
		log.Printf("tailer %s: ingest failed: %v", f.config.Path, err)
		return
	}
	f.lines.Add(1)
}
