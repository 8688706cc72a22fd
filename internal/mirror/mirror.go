package mirror

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/chmdznr/photovault/pkg/models"
)

// Config holds the settings for replicating the archive to an S3-compatible
// bucket.
type Config struct {
	Endpoint   string
	Bucket     string
	Folder     string
	AccessKey  string
	SecretKey  string
	Secure     bool
	NumWorkers int
}

// Mirror replicates archived files to remote object storage. It only ever
// reads the vault and the store; rows are never mutated, so a mirror run can
// repeat safely at any time.
type Mirror struct {
	client *minio.Client
	cfg    Config
	sink   models.StatusSink
	logger *zap.Logger
}

func New(cfg Config, sink models.StatusSink, logger *zap.Logger) (*Mirror, error) {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 4
	}
	if sink == nil {
		sink = models.DiscardStatus
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		Transport:    tr,
		Region:       "auto",
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object storage client: %w", err)
	}

	return &Mirror{client: client, cfg: cfg, sink: sink, logger: logger}, nil
}

// Run uploads every record's archive file that is missing (or differs in
// size) remotely. Per-file failures are reported and do not stop the run.
func (m *Mirror) Run(ctx context.Context, vaultRoot string, records []models.ArchiveRecord) (uploaded, skipped, failed int64, err error) {
	m.sink.Report(fmt.Sprintf("mirroring %d records to %s/%s", len(records), m.cfg.Endpoint, m.cfg.Bucket))

	var mu sync.Mutex
	jobs := make(chan models.ArchiveRecord)
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				switch m.mirrorOne(ctx, vaultRoot, rec) {
				case outcomeUploaded:
					mu.Lock()
					uploaded++
					mu.Unlock()
				case outcomeSkipped:
					mu.Lock()
					skipped++
					mu.Unlock()
				default:
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		jobs <- rec
	}
	close(jobs)
	wg.Wait()

	m.logger.Info("mirror finished",
		zap.Int64("uploaded", uploaded),
		zap.Int64("skipped", skipped),
		zap.Int64("failed", failed))
	return uploaded, skipped, failed, ctx.Err()
}

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (m *Mirror) mirrorOne(ctx context.Context, vaultRoot string, rec models.ArchiveRecord) outcome {
	localPath := filepath.Join(vaultRoot, filepath.FromSlash(rec.RelativePath))
	info, err := os.Stat(localPath)
	if err != nil {
		m.sink.Report(fmt.Sprintf("mirror: local file missing for %s: %v", rec.RelativePath, err))
		return outcomeFailed
	}

	object := ObjectName(m.cfg.Folder, rec.RelativePath)

	// skip objects that already match remotely
	remote, err := m.client.StatObject(ctx, m.cfg.Bucket, object, minio.StatObjectOptions{})
	if err == nil && remote.Size == info.Size() {
		m.sink.Report("mirror: already present: " + object)
		return outcomeSkipped
	}

	_, err = m.client.FPutObject(ctx, m.cfg.Bucket, object, localPath, minio.PutObjectOptions{
		UserMetadata: UserMetadata(rec),
	})
	if err != nil {
		m.sink.Report(fmt.Sprintf("mirror: upload failed for %s: %v", object, err))
		m.logger.Error("mirror upload failed", zap.String("object", object), zap.Error(err))
		return outcomeFailed
	}

	m.sink.Report("mirror: uploaded " + object)
	return outcomeUploaded
}

// ObjectName builds the remote object key for a stored relative path.
func ObjectName(folder, relativePath string) string {
	folder = strings.Trim(folder, "/")
	name := sanitizePath(filepath.ToSlash(relativePath))
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// UserMetadata exposes the capture metadata worth having on the remote
// object itself.
func UserMetadata(rec models.ArchiveRecord) map[string]string {
	meta := make(map[string]string)
	if rec.CaptureDate != nil {
		meta["date-taken"] = rec.CaptureDate.Format(time.RFC3339)
	}
	if rec.CameraModel != "" {
		meta["camera-model"] = rec.CameraModel
	}
	if rec.ImageQuality != "" {
		meta["image-quality"] = rec.ImageQuality
	}
	if rec.GPS != "" {
		meta["gps"] = rec.GPS
	}
	return meta
}

// sanitizePath URL-encodes each path segment so object keys stay valid for
// S3-compatible stores regardless of what the filesystem allowed.
func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		decoded, err := url.QueryUnescape(segment)
		if err == nil {
			segment = decoded
		}
		segment = strings.ReplaceAll(segment, "&", "and")
		segment = strings.ReplaceAll(segment, "+", "plus")
		segments[i] = url.QueryEscape(segment)
	}
	sanitized := strings.Join(segments, "/")
	for strings.Contains(sanitized, "//") {
		sanitized = strings.ReplaceAll(sanitized, "//", "/")
	}
	return sanitized
}
