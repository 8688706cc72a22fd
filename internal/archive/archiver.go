package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"

	"github.com/chmdznr/photovault/internal/metadata"
	"github.com/chmdznr/photovault/internal/store"
	"github.com/chmdznr/photovault/pkg/models"
)

// ErrInvalidVault is returned when the vault root does not exist or is not a
// directory. Like the scanner's source check, this is the only fatal error
// class; per-item failures are reported and skipped.
var ErrInvalidVault = errors.New("vault root is not an existing directory")

// ArchiveDirName is the subdirectory of the vault root that holds the
// date-bucketed tree.
const ArchiveDirName = "Archive"

// Config holds archiver tuning.
type Config struct {
	NumWorkers   int
	ShowProgress bool
}

// DefaultConfig returns the default archiver configuration.
func DefaultConfig() Config {
	return Config{NumWorkers: 4}
}

// Archiver drives the archive phase: a fixed pool of workers copies manifest
// entries into the vault and feeds the metadata store. All store writes go
// through the store's queue; workers never touch the database.
type Archiver struct {
	st        *store.Store
	extractor *metadata.Extractor
	cfg       Config
	sink      models.StatusSink
	logger    *zap.Logger
}

func New(st *store.Store, extractor *metadata.Extractor, cfg Config, sink models.StatusSink, logger *zap.Logger) *Archiver {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = DefaultConfig().NumWorkers
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
	return &Archiver{st: st, extractor: extractor, cfg: cfg, sink: sink, logger: logger}
}

// counters aggregates per-item outcomes across workers.
type counters struct {
	mu      sync.Mutex
	copied  int64
	skipped int64
	failed  int64
}

func (c *counters) add(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// Run archives every manifest entry into vaultRoot/Archive and blocks until
// the metadata store queue is drained, so the returned summary reconciles
// against rows actually persisted. Cancelling ctx stops submission of new
// items; in-flight copies finish and the store is still drained.
func (a *Archiver) Run(ctx context.Context, manifest []models.ScanRecord, vaultRoot string, deleteOriginals bool) (models.Summary, error) {
	info, err := os.Stat(vaultRoot)
	if err != nil || !info.IsDir() {
		return models.Summary{}, fmt.Errorf("%w: %s", ErrInvalidVault, vaultRoot)
	}
	archiveDir := filepath.Join(vaultRoot, ArchiveDirName)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return models.Summary{}, fmt.Errorf("create archive directory: %w", err)
	}

	a.sink.Report(fmt.Sprintf("archiving %d files to %s with %d workers", len(manifest), archiveDir, a.cfg.NumWorkers))
	a.logger.Info("archive started",
		zap.Int("files", len(manifest)),
		zap.Int("workers", a.cfg.NumWorkers),
		zap.Bool("delete_originals", deleteOriginals))

	var bar *pb.ProgressBar
	if a.cfg.ShowProgress && len(manifest) > 0 {
		bar = pb.New(len(manifest))
		bar.Start()
	}
	tick := func() {
		if bar != nil {
			bar.Increment()
		}
	}

	resolver := NewResolver()
	stats := &counters{}
	storedBase := a.st.Applied()
	jobs := make(chan models.ScanRecord)

	var wg sync.WaitGroup
	for i := 0; i < a.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				a.processItem(rec, vaultRoot, archiveDir, resolver, stats, deleteOriginals)
				tick()
			}
		}()
	}

submit:
	for _, rec := range manifest {
		if ctx.Err() != nil {
			a.sink.Report("archive cancelled, waiting for in-flight copies")
			a.logger.Warn("archive cancelled", zap.Error(ctx.Err()))
			break submit
		}
		select {
		case <-ctx.Done():
			a.sink.Report("archive cancelled, waiting for in-flight copies")
			a.logger.Warn("archive cancelled", zap.Error(ctx.Err()))
			break submit
		case jobs <- rec:
		}
	}
	close(jobs)
	wg.Wait()

	// the store must be drained before counts are reconciled
	a.st.Drain()

	if bar != nil {
		bar.Finish()
	}

	stats.mu.Lock()
	summary := models.Summary{
		Scanned: int64(len(manifest)),
		Copied:  stats.copied,
		Skipped: stats.skipped,
		Failed:  stats.failed,
		Stored:  a.st.Applied() - storedBase,
	}
	stats.mu.Unlock()

	a.logger.Info("archive finished",
		zap.Int64("scanned", summary.Scanned),
		zap.Int64("copied", summary.Copied),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("failed", summary.Failed),
		zap.Int64("stored", summary.Stored))
	return summary, nil
}

// processItem handles one manifest entry end to end. Any failure here aborts
// only this item; the pool keeps going.
func (a *Archiver) processItem(rec models.ScanRecord, vaultRoot, archiveDir string, resolver *Resolver, stats *counters, deleteOriginal bool) {
	fi, err := os.Stat(rec.OriginalPath)
	if err != nil {
		a.sink.Report(fmt.Sprintf("source no longer exists: %s", rec.OriginalPath))
		a.logger.Warn("source vanished", zap.String("path", rec.OriginalPath), zap.Error(err))
		stats.add(&stats.failed)
		return
	}

	// reuse scan-time metadata; re-derive only if the manifest carries none
	meta := rec.Meta
	if meta.CaptureDate == nil && meta.CameraModel == "" {
		meta = a.extractor.Extract(rec.OriginalPath)
	}

	captureDate := meta.CaptureDate
	if captureDate == nil {
		if rec.FileCreated != nil {
			captureDate = rec.FileCreated
		} else {
			mod := fi.ModTime()
			captureDate = &mod
		}
	}

	destDir := BucketDir(archiveDir, captureDate)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		a.sink.Report(fmt.Sprintf("cannot create %s: %v", destDir, err))
		a.logger.Error("create bucket directory failed", zap.String("dir", destDir), zap.Error(err))
		stats.add(&stats.failed)
		return
	}

	dest, already := resolver.Resolve(destDir, filepath.Base(rec.OriginalPath), fi.Size())
	relPath, err := filepath.Rel(vaultRoot, dest)
	if err != nil {
		a.sink.Report(fmt.Sprintf("cannot resolve destination for %s: %v", rec.OriginalPath, err))
		stats.add(&stats.failed)
		return
	}

	if already {
		a.sink.Report(fmt.Sprintf("already archived: %s -> %s", rec.OriginalPath, dest))
		stats.add(&stats.skipped)
		a.enqueue(relPath, rec, meta)
		return
	}

	if err := copyFile(rec.OriginalPath, dest, fi); err != nil {
		os.Remove(dest)
		a.sink.Report(fmt.Sprintf("copy failed for %s: %v", rec.OriginalPath, err))
		a.logger.Error("copy failed", zap.String("src", rec.OriginalPath), zap.String("dest", dest), zap.Error(err))
		stats.add(&stats.failed)
		return
	}
	a.sink.Report(fmt.Sprintf("copied %s -> %s", rec.OriginalPath, dest))

	// metadata write only after the copy succeeded
	a.enqueue(relPath, rec, meta)

	// delete the original only after the copy succeeded, never before
	if deleteOriginal {
		if err := os.Remove(rec.OriginalPath); err != nil {
			a.sink.Report(fmt.Sprintf("could not delete original %s: %v", rec.OriginalPath, err))
			a.logger.Warn("delete original failed", zap.String("path", rec.OriginalPath), zap.Error(err))
		} else {
			a.sink.Report("deleted original: " + rec.OriginalPath)
		}
	}

	stats.add(&stats.copied)
}

func (a *Archiver) enqueue(relPath string, rec models.ScanRecord, meta models.Meta) {
	a.st.Enqueue(&models.ArchiveRecord{
		RelativePath: filepath.ToSlash(relPath),
		FileCreated:  rec.FileCreated,
		Meta:         meta,
		AILabels:     rec.AILabels,
	})
}

// copyFile copies src to dest and carries the source's modification time
// over, so archived files keep their original timestamps.
func copyFile(src, dest string, fi os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dest, fi.ModTime(), fi.ModTime())
}
