package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chmdznr/photovault/internal/metadata"
	"github.com/chmdznr/photovault/pkg/models"
)

// ErrInvalidSource is returned when the scan root does not exist or is not a
// directory. This is the only scanner error that aborts a run; everything
// below it is reported and skipped.
var ErrInvalidSource = errors.New("scan source is not an existing directory")

// Scanner walks a directory tree and produces the manifest of recognized
// image files. Traversal resolves symlinks before following anything,
// deduplicates by resolved path, and refuses to follow links pointing back at
// or above the scan root.
type Scanner struct {
	extensions map[string]bool
	maxWorkers int
	extractor  *metadata.Extractor
	sink       models.StatusSink
	logger     *zap.Logger
}

func New(extensions map[string]bool, maxWorkers int, extractor *metadata.Extractor, sink models.StatusSink, logger *zap.Logger) *Scanner {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if sink == nil {
		sink = models.DiscardStatus
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = metadata.New(logger)
	}
	return &Scanner{
		extensions: extensions,
		maxWorkers: maxWorkers,
		extractor:  extractor,
		sink:       sink,
		logger:     logger,
	}
}

type walkState struct {
	root string // resolved scan root

	mu      sync.Mutex
	visited map[string]struct{}
	records []models.ScanRecord
}

// firstVisit marks resolved as seen and reports whether this was the first
// sighting in this run.
func (st *walkState) firstVisit(resolved string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.visited[resolved]; ok {
		return false
	}
	st.visited[resolved] = struct{}{}
	return true
}

func (st *walkState) append(rec models.ScanRecord) {
	st.mu.Lock()
	st.records = append(st.records, rec)
	st.mu.Unlock()
}

// Scan discovers every recognized image below sourceDir and returns the
// manifest in discovery order. Order is not stable across runs: top-level
// subdirectories are walked by a bounded set of workers.
func (s *Scanner) Scan(ctx context.Context, sourceDir string) ([]models.ScanRecord, error) {
	info, err := os.Stat(sourceDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSource, sourceDir)
	}

	abs, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSource, sourceDir)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSource, sourceDir)
	}

	st := &walkState{
		root:    root,
		visited: map[string]struct{}{root: {}},
	}

	s.sink.Report(fmt.Sprintf("scanning %s with %d workers", root, s.maxWorkers))
	s.logger.Info("scan started", zap.String("root", root), zap.Int("workers", s.maxWorkers))

	entries, err := os.ReadDir(root)
	if err != nil {
		s.report("error reading %s: %v", root, err)
		return st.records, nil
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxWorkers)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(root, entry.Name())
		if descend := s.handleEntry(st, path); descend {
			wg.Add(1)
			go func(dir string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				s.walkDir(ctx, st, dir)
			}(path)
		}
	}
	wg.Wait()

	s.logger.Info("scan finished", zap.Int("images", len(st.records)))
	return st.records, nil
}

// walkDir descends one subtree depth-first. Errors below this point never
// abort the walk; they are reported and the entry is skipped.
func (s *Scanner) walkDir(ctx context.Context, st *walkState, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.report("skipping unreadable directory %s: %v", dir, err)
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		path := filepath.Join(dir, entry.Name())
		if descend := s.handleEntry(st, path); descend {
			s.walkDir(ctx, st, path)
		}
	}
}

// handleEntry classifies a single directory entry, emitting a ScanRecord for
// recognized images. It returns true when path is a directory the caller
// should descend into.
func (s *Scanner) handleEntry(st *walkState, path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		s.report("skipping broken link %s: %v", path, err)
		return false
	}
	if isAncestorOrSelf(resolved, st.root) {
		s.report("skipping link into scan root %s -> %s", path, resolved)
		return false
	}
	if !st.firstVisit(resolved) {
		s.report("skipping already visited %s -> %s", path, resolved)
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		s.report("skipping unreadable entry %s: %v", path, err)
		return false
	}
	if info.IsDir() {
		return true
	}
	if !info.Mode().IsRegular() {
		s.report("skipping non-regular file %s", path)
		return false
	}
	if !s.extensions[strings.ToLower(filepath.Ext(path))] {
		s.report("skipping non-image %s", path)
		return false
	}

	rel, err := filepath.Rel(st.root, path)
	if err != nil {
		s.report("skipping %s: %v", path, err)
		return false
	}

	mod := info.ModTime()
	st.append(models.ScanRecord{
		OriginalPath: path,
		RelativePath: rel,
		FileCreated:  &mod,
		Meta:         s.extractor.Extract(path),
	})
	s.sink.Report("found image: " + path)
	return false
}

func (s *Scanner) report(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.sink.Report(msg)
	s.logger.Debug(msg)
}

// isAncestorOrSelf reports whether p is root itself or one of its ancestors.
// Both paths must already be symlink-resolved.
func isAncestorOrSelf(p, root string) bool {
	if p == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(root+sep, p+sep)
}
