package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// BucketDir returns the destination directory below archiveDir for a capture
// date: YYYY/MM/DD zero-padded, or Unknown when no date is available.
func BucketDir(archiveDir string, captureDate *time.Time) string {
	if captureDate == nil {
		return filepath.Join(archiveDir, "Unknown")
	}
	t := *captureDate
	return filepath.Join(archiveDir,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()))
}

// Resolver picks collision-free destination file names. Probing is pure stat
// calls; an in-process claim set keeps concurrent workers from choosing the
// same name before either has created it. Races with other processes remain
// the benign rare-collision case.
type Resolver struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewResolver() *Resolver {
	return &Resolver{claimed: make(map[string]struct{})}
}

// Resolve returns a destination path for baseName in dir. When a probe hits
// an existing file of exactly srcSize bytes the file is treated as already
// archived: the existing path is returned with already=true and no copy is
// needed. Otherwise names are probed as name.ext, name_1.ext, name_2.ext, …
// until one is free.
func (r *Resolver) Resolve(dir, baseName string, srcSize int64) (dest string, already bool) {
	ext := filepath.Ext(baseName)
	stem := strings.TrimSuffix(baseName, ext)

	r.mu.Lock()
	defer r.mu.Unlock()

	for n := 0; ; n++ {
		name := baseName
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		candidate := filepath.Join(dir, name)
		if _, ok := r.claimed[candidate]; ok {
			continue
		}
		info, err := os.Stat(candidate)
		if err == nil {
			if info.Size() == srcSize {
				return candidate, true
			}
			continue
		}
		if !os.IsNotExist(err) {
			continue
		}
		r.claimed[candidate] = struct{}{}
		return candidate, false
	}
}
