package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/chmdznr/photovault/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	relative_path TEXT NOT NULL UNIQUE,
	date_taken TEXT,
	file_creation_date TEXT,
	camera_model TEXT,
	shooting_mode TEXT,
	image_quality TEXT,
	metering_mode TEXT,
	af_mode TEXT,
	exposure_compensation TEXT,
	white_balance TEXT,
	picture_style TEXT,
	shutter_speed TEXT,
	aperture TEXT,
	focal_length TEXT,
	iso TEXT,
	gps_data TEXT,
	ai_labels TEXT
);
CREATE INDEX IF NOT EXISTS idx_images_date_taken ON images(date_taken);
`

// request is one unit of work for the writer goroutine. Either record or
// flush is set, never both.
type request struct {
	record *models.ArchiveRecord
	flush  chan struct{}
}

// Store is the metadata store. Exactly one goroutine, started by Open, owns
// the database connection for writes; every producer only ever sends on the
// request channel. This keeps concurrent archive workers from contending on
// the file-backed store.
type Store struct {
	db       *sql.DB
	requests chan request
	stop     chan struct{}
	done     chan struct{}

	applied atomic.Int64
	failed  atomic.Int64

	sink      models.StatusSink
	logger    *zap.Logger
	closeOnce sync.Once
}

// Open opens (creating if needed) the store at path and starts the writer.
func Open(path string, sink models.StatusSink, logger *zap.Logger) (*Store, error) {
	if sink == nil {
		sink = models.DiscardStatus
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize store schema: %w", err)
	}

	s := &Store{
		db:       db,
		requests: make(chan request, 1024),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		sink:     sink,
		logger:   logger,
	}
	go s.writer()
	return s, nil
}

// Enqueue submits a record for durable insertion. Safe for concurrent use by
// any number of producers. Must not be called after Close.
func (s *Store) Enqueue(rec *models.ArchiveRecord) {
	s.requests <- request{record: rec}
}

// Drain blocks until every record enqueued before the call has been applied
// or individually failed-and-logged. Callers rely on this barrier for
// accurate reconciliation counts.
func (s *Store) Drain() {
	ch := make(chan struct{})
	s.requests <- request{flush: ch}
	<-ch
}

// writer is the single consumer loop. It blocks on the request channel and
// the shutdown signal; there is no polling interval.
func (s *Store) writer() {
	defer close(s.done)
	for {
		select {
		case req := <-s.requests:
			s.handle(req)
		case <-s.stop:
			// apply whatever was already queued, then exit
			for {
				select {
				case req := <-s.requests:
					s.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) handle(req request) {
	if req.flush != nil {
		close(req.flush)
		return
	}
	s.insert(req.record)
}

// insert applies one record. The UNIQUE constraint on relative_path plus
// INSERT OR IGNORE makes re-runs idempotent: an already-present row counts as
// applied, not as a failure.
func (s *Store) insert(rec *models.ArchiveRecord) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO images (
			relative_path, date_taken, file_creation_date, camera_model,
			shooting_mode, image_quality, metering_mode, af_mode,
			exposure_compensation, white_balance, picture_style,
			shutter_speed, aperture, focal_length, iso, gps_data, ai_labels
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RelativePath,
		timeText(rec.CaptureDate),
		timeText(rec.FileCreated),
		rec.CameraModel,
		rec.ShootingMode,
		rec.ImageQuality,
		rec.MeteringMode,
		rec.AFMode,
		rec.ExposureComp,
		rec.WhiteBalance,
		rec.PictureStyle,
		rec.ShutterSpeed,
		rec.Aperture,
		rec.FocalLength,
		rec.ISO,
		rec.GPS,
		rec.AILabels,
	)
	if err != nil {
		s.failed.Add(1)
		s.sink.Report(fmt.Sprintf("store write failed for %s: %v", rec.RelativePath, err))
		s.logger.Error("store write failed", zap.String("relative_path", rec.RelativePath), zap.Error(err))
		return
	}

	s.applied.Add(1)
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.sink.Report("already recorded: " + rec.RelativePath)
		return
	}
	s.sink.Report("stored metadata: " + rec.RelativePath)
}

// Applied returns the number of records applied (inserted or already
// present) since Open.
func (s *Store) Applied() int64 { return s.applied.Load() }

// Failed returns the number of records whose write failed since Open.
func (s *Store) Failed() int64 { return s.failed.Load() }

// Count returns the number of rows in the store.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

// IntegrityCheck runs the backing store's integrity check and reports
// whether it came back clean.
func (s *Store) IntegrityCheck() (bool, error) {
	var result string
	if err := s.db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return false, fmt.Errorf("integrity check: %w", err)
	}
	return result == "ok", nil
}

// ListRecords returns every stored record ordered by relative path. Used by
// the mirror and status surfaces; reads are safe alongside the writer under
// WAL.
func (s *Store) ListRecords() ([]models.ArchiveRecord, error) {
	rows, err := s.db.Query(`
		SELECT relative_path, date_taken, camera_model, image_quality, gps_data
		FROM images ORDER BY relative_path
	`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []models.ArchiveRecord
	for rows.Next() {
		var rec models.ArchiveRecord
		var taken sql.NullString
		if err := rows.Scan(&rec.RelativePath, &taken, &rec.CameraModel, &rec.ImageQuality, &rec.GPS); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		if taken.Valid {
			if t, err := time.Parse(time.RFC3339, taken.String); err == nil {
				rec.CaptureDate = &t
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close drains the queue, stops the writer, and closes the connection. Not
// safe to race with Enqueue; producers must be done first.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		err = s.db.Close()
	})
	return err
}

// timeText renders an optional timestamp as ISO-8601, or NULL when absent.
func timeText(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
