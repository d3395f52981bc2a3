// Package watcher turns filesystem changes into per-rule batches and re-runs
// the task bound to each rule.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/sitebuild/internal/logging"
)

// DefaultDelay is the debounce window used when none is given.
const DefaultDelay = 100 * time.Millisecond

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type EventType
	// Path is relative to the watch root and slash separated.
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Rule binds a set of globs to the task re-run when a matching file changes.
type Rule struct {
	Name  string
	Globs []string
	Task  string
}

// Matches reports whether the root-relative path matches any of the globs.
func (r Rule) Matches(path string) bool {
	for _, g := range r.Globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

// Batch is the set of changes coalesced for one rule.
type Batch struct {
	Rule   Rule
	Events []ChangeEvent
}

// Paths returns the changed paths in the batch.
func (b Batch) Paths() []string {
	out := make([]string, len(b.Events))
	for i, e := range b.Events {
		out[i] = e.Path
	}
	return out
}

// FileWatcher watches a directory tree and emits debounced batches per rule.
type FileWatcher struct {
	root       string
	watcher    *fsnotify.Watcher
	delay      time.Duration
	ignore     map[string]bool
	rules      []Rule
	debouncers map[string]*Debouncer
	batches    chan Batch
	done       chan struct{}
	logger     logging.Logger
	stopOnce   sync.Once
	mutex      sync.RWMutex
}

// NewFileWatcher creates a watcher for root. Directories named in ignore are
// never watched; ".git" and "node_modules" are always ignored.
func NewFileWatcher(root string, delay time.Duration, logger logging.Logger, ignore ...string) (*FileWatcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("invalid watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("invalid watch root: %s is not a directory", root)
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		root:       filepath.Clean(root),
		watcher:    watcher,
		delay:      delay,
		ignore:     map[string]bool{".git": true, "node_modules": true},
		debouncers: make(map[string]*Debouncer),
		batches:    make(chan Batch, 16),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("watcher"),
	}
	for _, name := range ignore {
		fw.ignore[name] = true
	}

	return fw, nil
}

// AddRule subscribes a rule. Rule names must be unique.
func (fw *FileWatcher) AddRule(rule Rule) error {
	if rule.Name == "" || rule.Task == "" {
		return fmt.Errorf("watch rule needs a name and a task")
	}
	if len(rule.Globs) == 0 {
		return fmt.Errorf("watch rule %q has no globs", rule.Name)
	}
	globs := make([]string, len(rule.Globs))
	for i, g := range rule.Globs {
		g = filepath.ToSlash(strings.TrimPrefix(g, "./"))
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("watch rule %q: invalid glob %q", rule.Name, g)
		}
		globs[i] = g
	}
	rule.Globs = globs

	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	if _, exists := fw.debouncers[rule.Name]; exists {
		return fmt.Errorf("watch rule %q already registered", rule.Name)
	}
	fw.rules = append(fw.rules, rule)
	fw.debouncers[rule.Name] = newDebouncer(rule, fw.delay, fw.batches, fw.done)
	return nil
}

// Rules returns the registered rules.
func (fw *FileWatcher) Rules() []Rule {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	return append([]Rule(nil), fw.rules...)
}

// Batches returns the channel batches are delivered on.
func (fw *FileWatcher) Batches() <-chan Batch {
	return fw.batches
}

// Match returns the rules a root-relative path belongs to.
func (fw *FileWatcher) Match(path string) []Rule {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	var out []Rule
	for _, r := range fw.rules {
		if r.Matches(path) {
			out = append(out, r)
		}
	}
	return out
}

// AddRecursive adds a directory and all subdirectories to watch
func (fw *FileWatcher) AddRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != fw.root && fw.ignore[d.Name()] {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// Start starts the file watcher
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.AddRecursive(fw.root); err != nil {
		return fmt.Errorf("watching %s: %w", fw.root, err)
	}

	go fw.watchLoop(ctx)

	fw.logger.Info(ctx, "Watching for changes", "root", fw.root, "rules", len(fw.Rules()))
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.done)
		fw.mutex.RLock()
		for _, d := range fw.debouncers {
			d.stop()
		}
		fw.mutex.RUnlock()
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	rel, err := filepath.Rel(fw.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	if fw.ignored(rel) {
		return
	}

	info, statErr := os.Stat(event.Name)
	if statErr == nil && info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Cannot watch new directory", "path", rel)
			}
		}
		return
	}

	changeEvent := ChangeEvent{
		Type: eventType(event.Op),
		Path: rel,
	}
	if statErr == nil {
		changeEvent.ModTime = info.ModTime()
		changeEvent.Size = info.Size()
	}

	fw.dispatch(changeEvent)
}

// dispatch hands an event to the debouncer of every matching rule.
func (fw *FileWatcher) dispatch(event ChangeEvent) {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	for _, r := range fw.rules {
		if r.Matches(event.Path) {
			fw.debouncers[r.Name].add(event)
		}
	}
}

func (fw *FileWatcher) ignored(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if fw.ignore[part] {
			return true
		}
	}
	return false
}

func eventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

// Debouncer groups rapid changes for one rule into a single batch.
type Debouncer struct {
	rule    Rule
	delay   time.Duration
	output  chan<- Batch
	done    <-chan struct{}
	timer   *time.Timer
	pending map[string]ChangeEvent
	mutex   sync.Mutex
}

func newDebouncer(rule Rule, delay time.Duration, output chan<- Batch, done <-chan struct{}) *Debouncer {
	return &Debouncer{
		rule:    rule,
		delay:   delay,
		output:  output,
		done:    done,
		pending: make(map[string]ChangeEvent),
	}
}

func (d *Debouncer) add(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// Latest event per path wins.
	d.pending[event.Path] = event

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.pending) == 0 {
		d.mutex.Unlock()
		return
	}
	events := make([]ChangeEvent, 0, len(d.pending))
	for _, e := range d.pending {
		events = append(events, e)
	}
	d.pending = make(map[string]ChangeEvent)
	d.mutex.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- Batch{Rule: d.rule, Events: events}:
	case <-d.done:
	}
}

func (d *Debouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
