package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chmdznr/photovault/internal/scanner"
	"github.com/chmdznr/photovault/internal/store"
	"github.com/chmdznr/photovault/pkg/models"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".bmp": true, ".raw": true,
}

type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSink) Report(msg string) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *captureSink) countPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func openVault(t *testing.T) (string, *store.Store) {
	t.Helper()
	vault := t.TempDir()
	st, err := store.Open(filepath.Join(vault, "Database", "photovault.db"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return vault, st
}

// buildSourceTree creates ten valid images plus a non-image, a broken
// symlink, and a symlink cycle.
func buildSourceTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, filepath.Join(src, "roll", fmt.Sprintf("img_%02d.jpg", i)), fmt.Sprintf("image payload %d", i))
	}
	writeFile(t, filepath.Join(src, "roll", "notes.dat"), "not an image")
	if err := os.Symlink(filepath.Join(src, "missing"), filepath.Join(src, "broken")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(src, filepath.Join(src, "roll", "loop")); err != nil {
		t.Fatal(err)
	}
	return src
}

func TestArchiveEndToEnd(t *testing.T) {
	src := buildSourceTree(t)

	sink := &captureSink{}
	sc := scanner.New(imageExtensions, 2, nil, sink, nil)
	manifest, err := sc.Scan(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest) != 10 {
		t.Fatalf("scanned %d files; want 10", len(manifest))
	}
	if got := sink.countPrefix("skipping"); got != 3 {
		t.Errorf("discovery skip events = %d; want 3 (non-image, broken link, cycle)", got)
	}

	vault, st := openVault(t)
	arch := New(st, nil, Config{NumWorkers: 4}, sink, nil)
	summary, err := arch.Run(context.Background(), manifest, vault, false)
	if err != nil {
		t.Fatal(err)
	}

	if summary.Scanned != 10 || summary.Copied != 10 || summary.Stored != 10 {
		t.Errorf("summary = %+v; want scanned=copied=stored=10", summary)
	}
	if summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("summary = %+v; want no failures or skips", summary)
	}

	count, err := st.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 10 {
		t.Errorf("store rows = %d; want 10", count)
	}

	// every stored relative path must exist on disk under the vault
	records, err := st.ListRecords()
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range records {
		p := filepath.Join(vault, filepath.FromSlash(rec.RelativePath))
		if _, err := os.Stat(p); err != nil {
			t.Errorf("stored record %s has no file: %v", rec.RelativePath, err)
		}
		if !strings.HasPrefix(rec.RelativePath, ArchiveDirName+"/") {
			t.Errorf("relative path %s is not under the archive tree", rec.RelativePath)
		}
	}

	// originals untouched without delete-originals
	if _, err := os.Stat(manifest[0].OriginalPath); err != nil {
		t.Errorf("original removed without delete-originals: %v", err)
	}
}

func TestArchiveIdempotentRerun(t *testing.T) {
	src := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(src, fmt.Sprintf("img_%d.jpg", i)), fmt.Sprintf("payload %d", i))
	}

	sc := scanner.New(imageExtensions, 1, nil, nil, nil)
	manifest, err := sc.Scan(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}

	vault, st := openVault(t)

	first, err := New(st, nil, Config{NumWorkers: 2}, nil, nil).Run(context.Background(), manifest, vault, false)
	if err != nil {
		t.Fatal(err)
	}
	if first.Copied != 5 || first.Stored != 5 {
		t.Fatalf("first run = %+v; want copied=stored=5", first)
	}

	second, err := New(st, nil, Config{NumWorkers: 2}, nil, nil).Run(context.Background(), manifest, vault, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Copied != 0 {
		t.Errorf("second run copied %d files; want 0", second.Copied)
	}
	if second.Skipped != 5 {
		t.Errorf("second run skipped %d; want 5", second.Skipped)
	}
	// already-present rows count as successes, not duplicates
	if second.Stored != 5 {
		t.Errorf("second run stored = %d; want 5", second.Stored)
	}

	count, err := st.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("store rows after rerun = %d; want 5", count)
	}
}

func TestArchiveNameCollision(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a", "photo.jpg"), "first body")
	writeFile(t, filepath.Join(src, "b", "photo.jpg"), "a different, longer body")

	sc := scanner.New(imageExtensions, 1, nil, nil, nil)
	manifest, err := sc.Scan(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}

	vault, st := openVault(t)
	summary, err := New(st, nil, Config{NumWorkers: 2}, nil, nil).Run(context.Background(), manifest, vault, false)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Copied != 2 || summary.Stored != 2 {
		t.Fatalf("summary = %+v; want 2 copied, 2 stored", summary)
	}

	records, err := st.ListRecords()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, rec := range records {
		names[filepath.Base(rec.RelativePath)] = true
	}
	if !names["photo.jpg"] || !names["photo_1.jpg"] {
		t.Errorf("stored names = %v; want photo.jpg and photo_1.jpg", names)
	}
}

func TestArchiveDeleteOriginals(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "img.jpg"), "payload")

	sc := scanner.New(imageExtensions, 1, nil, nil, nil)
	manifest, err := sc.Scan(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}

	vault, st := openVault(t)
	summary, err := New(st, nil, Config{NumWorkers: 1}, nil, nil).Run(context.Background(), manifest, vault, true)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Copied != 1 {
		t.Fatalf("summary = %+v; want 1 copied", summary)
	}
	if _, err := os.Stat(manifest[0].OriginalPath); !os.IsNotExist(err) {
		t.Errorf("original still present after delete-originals run: %v", err)
	}
}

func TestArchiveVanishedSource(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "keep.jpg"), "payload")

	sc := scanner.New(imageExtensions, 1, nil, nil, nil)
	manifest, err := sc.Scan(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	manifest = append(manifest, models.ScanRecord{
		OriginalPath: filepath.Join(src, "vanished.jpg"),
		RelativePath: "vanished.jpg",
	})

	vault, st := openVault(t)
	summary, err := New(st, nil, Config{NumWorkers: 2}, nil, nil).Run(context.Background(), manifest, vault, false)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Copied != 1 || summary.Failed != 1 || summary.Stored != 1 {
		t.Errorf("summary = %+v; want copied=1 failed=1 stored=1", summary)
	}
}

func TestArchiveInvalidVault(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "db"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	_, err = New(st, nil, Config{}, nil, nil).Run(context.Background(), nil, filepath.Join(t.TempDir(), "missing"), false)
	if err == nil {
		t.Fatal("expected error for missing vault root")
	}
}

func TestArchiveCancelledContext(t *testing.T) {
	src := t.TempDir()
	for i := 0; i < 4; i++ {
		writeFile(t, filepath.Join(src, fmt.Sprintf("img_%d.jpg", i)), "payload")
	}
	sc := scanner.New(imageExtensions, 1, nil, nil, nil)
	manifest, err := sc.Scan(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vault, st := openVault(t)
	summary, err := New(st, nil, Config{NumWorkers: 2}, nil, nil).Run(ctx, manifest, vault, false)
	if err != nil {
		t.Fatal(err)
	}
	// nothing submitted after cancellation, and the store still drained
	if summary.Copied != 0 {
		t.Errorf("copied = %d after pre-cancelled run; want 0", summary.Copied)
	}
	if summary.Stored != summary.Copied+summary.Skipped {
		t.Errorf("stored = %d inconsistent with copied+skipped", summary.Stored)
	}
}
