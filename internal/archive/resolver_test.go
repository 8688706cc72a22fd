package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBucketDir(t *testing.T) {
	root := filepath.Join("vault", "Archive")
	date := time.Date(2023, 7, 4, 15, 0, 0, 0, time.UTC)

	got := BucketDir(root, &date)
	want := filepath.Join(root, "2023", "07", "04")
	if got != want {
		t.Errorf("BucketDir = %s; want %s", got, want)
	}

	if got := BucketDir(root, nil); got != filepath.Join(root, "Unknown") {
		t.Errorf("BucketDir(nil) = %s; want Unknown bucket", got)
	}

	// single-digit components stay zero-padded
	early := time.Date(999, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := BucketDir(root, &early); got != filepath.Join(root, "0999", "01", "02") {
		t.Errorf("BucketDir(999-01-02) = %s; want zero-padded components", got)
	}
}

func TestResolveProbesDistinctNames(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver()

	first, already := r.Resolve(dir, "photo.jpg", 100)
	if already {
		t.Fatal("first resolve reported an existing file in an empty directory")
	}
	second, _ := r.Resolve(dir, "photo.jpg", 200)
	third, _ := r.Resolve(dir, "photo.jpg", 300)

	if filepath.Base(first) != "photo.jpg" {
		t.Errorf("first = %s; want photo.jpg", first)
	}
	if filepath.Base(second) != "photo_1.jpg" {
		t.Errorf("second = %s; want photo_1.jpg", second)
	}
	if filepath.Base(third) != "photo_2.jpg" {
		t.Errorf("third = %s; want photo_2.jpg", third)
	}

	// probing alone must not create anything
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("resolver created %d entries; probing must be side-effect-free", len(entries))
	}
}

func TestResolveSkipsOverExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte("abcdef"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewResolver()
	dest, already := r.Resolve(dir, "photo.jpg", 3) // different size
	if already {
		t.Error("size mismatch must not be treated as already archived")
	}
	if filepath.Base(dest) != "photo_1.jpg" {
		t.Errorf("dest = %s; want photo_1.jpg", dest)
	}
}

func TestResolveDetectsAlreadyArchived(t *testing.T) {
	dir := t.TempDir()
	content := []byte("same bytes")
	if err := os.WriteFile(filepath.Join(dir, "photo.jpg"), content, 0644); err != nil {
		t.Fatal(err)
	}

	r := NewResolver()
	dest, already := r.Resolve(dir, "photo.jpg", int64(len(content)))
	if !already {
		t.Error("same-size existing file should count as already archived")
	}
	if filepath.Base(dest) != "photo.jpg" {
		t.Errorf("dest = %s; want the existing photo.jpg", dest)
	}
}
