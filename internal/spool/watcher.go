package spool

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/bulkloader/internal/domain"
	"github.com/hochfrequenz/bulkloader/internal/parser"
)

// Submitter accepts a validated record sequence for processing
type Submitter interface {
	Submit(ctx context.Context, input []domain.HospitalRecord) (*domain.BatchResult, error)
}

// Watcher monitors a spool directory and submits every CSV dropped into
// it. Processed files are renamed with a .done suffix, rejected ones
// with .failed, so a file is picked up at most once.
type Watcher struct {
	dir       string
	submitter Submitter
	maxRows   int

	watcher  *fsnotify.Watcher
	debounce time.Duration

	// Debounce state
	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the given spool directory, creating
// it if needed
func NewWatcher(dir string, submitter Submitter, maxRows int) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		dir:       dir,
		submitter: submitter,
		maxRows:   maxRows,
		watcher:   fsw,
		debounce:  500 * time.Millisecond, // let writers finish before reading
		pending:   make(map[string]struct{}),
	}, nil
}

// SetDebounce sets the settle time between a file event and processing
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins watching. Files already in the spool are picked up first.
func (w *Watcher) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.scanExisting()

	go func() {
		for {
			select {
			case <-w.ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("spool watcher: %v", err)
			}
		}
	}()
}

// Stop stops watching
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("spool scan: %v", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			w.enqueue(filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".csv") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	w.enqueue(event.Name)
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for path := range pending {
		w.process(path)
	}
}

func (w *Watcher) process(path string) {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("spool open %s: %v", path, err)
		}
		return
	}
	records, err := parser.ParseCSV(f, w.maxRows)
	f.Close()
	if err != nil {
		log.Printf("spool reject %s: %v", path, err)
		w.markDone(path, ".failed")
		return
	}

	res, err := w.submitter.Submit(w.ctx, records)
	if err != nil {
		log.Printf("spool submit %s: %v", path, err)
		w.markDone(path, ".failed")
		return
	}

	log.Printf("spool submitted %s as batch %s: %d processed, %d failed",
		filepath.Base(path), res.BatchID, res.ProcessedCount, res.FailedCount)
	w.markDone(path, ".done")
}

func (w *Watcher) markDone(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		log.Printf("spool rename %s: %v", path, err)
	}
}
