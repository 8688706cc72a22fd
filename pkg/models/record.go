package models

import "time"

// Meta holds the capture metadata extracted from an image file. Fields that
// could not be read are left empty; CaptureDate is nil when no embedded
// timestamp passed validation.
type Meta struct {
	CaptureDate  *time.Time `json:"date_taken,omitempty"`
	CameraModel  string     `json:"camera_model,omitempty"`
	ShootingMode string     `json:"shooting_mode,omitempty"`
	ImageQuality string     `json:"image_quality,omitempty"`
	MeteringMode string     `json:"metering_mode,omitempty"`
	AFMode       string     `json:"af_mode,omitempty"`
	ExposureComp string     `json:"exposure_compensation,omitempty"`
	WhiteBalance string     `json:"white_balance,omitempty"`
	PictureStyle string     `json:"picture_style,omitempty"`
	ShutterSpeed string     `json:"shutter_speed,omitempty"`
	Aperture     string     `json:"aperture,omitempty"`
	FocalLength  string     `json:"focal_length,omitempty"`
	ISO          string     `json:"iso,omitempty"`
	GPS          string     `json:"gps_data,omitempty"`
}

// ScanRecord describes one file discovered by a scan. RelativePath is
// relative to the scan root; OriginalPath is absolute and is kept so the
// archive phase can delete the source after a successful copy.
type ScanRecord struct {
	OriginalPath string     `json:"original_path"`
	RelativePath string     `json:"relative_path"`
	FileCreated  *time.Time `json:"file_creation_date,omitempty"`
	Meta
	// AILabels is reserved for a future labeling pass and is always empty.
	AILabels string `json:"ai_labels,omitempty"`
}

// ArchiveRecord is the persisted row for one archived file. RelativePath is
// relative to the vault root (the post-copy location) and is unique in the
// store.
type ArchiveRecord struct {
	RelativePath string
	FileCreated  *time.Time
	Meta
	AILabels string
}

// Summary holds the reconciled counts of an archive run. Copied < Scanned or
// Stored < Copied+Skipped signals partial failure and is surfaced as a
// warning by the caller, never swallowed.
type Summary struct {
	Scanned int64
	Copied  int64
	Skipped int64
	Failed  int64
	Stored  int64
}
