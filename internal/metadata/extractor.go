package metadata

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"go.uber.org/zap"

	"github.com/chmdznr/photovault/pkg/models"
)

// exifTimeLayout is the timestamp format used by EXIF date tags.
const exifTimeLayout = "2006:01:02 15:04:05"

var meteringModes = map[int]string{
	0: "unknown",
	1: "average",
	2: "center-weighted",
	3: "spot",
	4: "multi-spot",
	5: "pattern",
	6: "partial",
}

var exposurePrograms = map[int]string{
	1: "manual",
	2: "program",
	3: "aperture priority",
	4: "shutter priority",
	5: "creative",
	6: "action",
	7: "portrait",
	8: "landscape",
}

var whiteBalances = map[int]string{
	0: "auto",
	1: "manual",
}

// Extractor reads embedded capture metadata from image files. Extraction
// failures are never fatal: any file that cannot be decoded yields an empty
// Meta and the caller falls back to filesystem timestamps.
type Extractor struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract reads the embedded tags of the file at path. The returned Meta has
// a nil CaptureDate when no embedded timestamp parsed and passed the sanity
// window; every other field is best-effort.
func (e *Extractor) Extract(path string) models.Meta {
	var meta models.Meta

	f, err := os.Open(path)
	if err != nil {
		e.logger.Debug("open for metadata failed", zap.String("path", path), zap.Error(err))
		return meta
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		e.logger.Debug("no embedded metadata", zap.String("path", path), zap.Error(err))
		return meta
	}

	meta.CaptureDate = captureDate(x, time.Now())
	meta.CameraModel = stringTag(x, exif.Model)
	meta.ImageQuality = resolution(x)
	meta.ShootingMode = lookupTag(x, exif.ExposureProgram, exposurePrograms)
	meta.MeteringMode = lookupTag(x, exif.MeteringMode, meteringModes)
	meta.WhiteBalance = lookupTag(x, exif.WhiteBalance, whiteBalances)
	meta.ExposureComp = exposureComp(x)
	meta.ShutterSpeed = shutterSpeed(x)
	meta.Aperture = aperture(x)
	meta.FocalLength = focalLength(x)
	meta.ISO = intTag(x, exif.ISOSpeedRatings)
	if gps, ok := gpsDecimal(x); ok {
		meta.GPS = gps
	}

	return meta
}

// captureDate returns the first embedded timestamp that parses and falls
// inside [Unix epoch, now]. Camera clocks reset to manufacture defaults
// produce dates far in the past; those are rejected so the caller can fall
// back to filesystem times.
func captureDate(x *exif.Exif, now time.Time) *time.Time {
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTime} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		t, err := time.ParseInLocation(exifTimeLayout, raw, time.Local)
		if err != nil {
			continue
		}
		if !validCaptureDate(t, now) {
			continue
		}
		return &t
	}
	return nil
}

// validCaptureDate reports whether t is a plausible capture timestamp.
func validCaptureDate(t, now time.Time) bool {
	return !t.Before(time.Unix(0, 0)) && !t.After(now)
}

// gpsDecimal converts the four GPS tags to a "lat,lon" decimal string with
// six decimal places. It rejects the coordinate outright if any of the four
// tags is missing or either DMS triple does not have exactly 3 components.
func gpsDecimal(x *exif.Exif) (string, bool) {
	latTag, err := x.Get(exif.GPSLatitude)
	if err != nil {
		return "", false
	}
	latRef := stringTag(x, exif.GPSLatitudeRef)
	lonTag, err := x.Get(exif.GPSLongitude)
	if err != nil {
		return "", false
	}
	lonRef := stringTag(x, exif.GPSLongitudeRef)
	if latRef == "" || lonRef == "" {
		return "", false
	}

	lat, ok := ratTriple(latTag)
	if !ok {
		return "", false
	}
	lon, ok := ratTriple(lonTag)
	if !ok {
		return "", false
	}
	return decimalCoordinate(lat, latRef, lon, lonRef), true
}

// ratTriple reads a degree/minute/second rational triple from a GPS tag.
// Anything other than exactly 3 components is rejected.
func ratTriple(tag *tiff.Tag) ([3]float64, bool) {
	var parts [3]float64
	if tag.Count != 3 {
		return parts, false
	}
	for i := 0; i < 3; i++ {
		num, den, err := tag.Rat2(i)
		if err != nil || den == 0 {
			return parts, false
		}
		parts[i] = float64(num) / float64(den)
	}
	return parts, true
}

// decimalCoordinate converts DMS triples plus hemisphere references to a
// "lat,lon" string with six decimal places. Southern and western hemispheres
// negate the value.
func decimalCoordinate(lat [3]float64, latRef string, lon [3]float64, lonRef string) string {
	latDec := dmsToDecimal(lat)
	lonDec := dmsToDecimal(lon)
	if latRef == "S" {
		latDec = -latDec
	}
	if lonRef == "W" {
		lonDec = -lonDec
	}
	return fmt.Sprintf("%.6f,%.6f", latDec, lonDec)
}

func dmsToDecimal(dms [3]float64) float64 {
	return dms[0] + dms[1]/60 + dms[2]/3600
}

func stringTag(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}

func intTag(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	v, err := tag.Int(0)
	if err != nil {
		return ""
	}
	return strconv.Itoa(v)
}

func lookupTag(x *exif.Exif, field exif.FieldName, names map[int]string) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	v, err := tag.Int(0)
	if err != nil {
		return ""
	}
	return names[v]
}

func resolution(x *exif.Exif) string {
	wTag, err := x.Get(exif.PixelXDimension)
	if err != nil {
		return ""
	}
	hTag, err := x.Get(exif.PixelYDimension)
	if err != nil {
		return ""
	}
	w, errW := wTag.Int(0)
	h, errH := hTag.Int(0)
	if errW != nil || errH != nil {
		return ""
	}
	return fmt.Sprintf("%dx%d", w, h)
}

func shutterSpeed(x *exif.Exif) string {
	tag, err := x.Get(exif.ExposureTime)
	if err != nil {
		return ""
	}
	num, den, err := tag.Rat2(0)
	if err != nil || num == 0 || den == 0 {
		return ""
	}
	if den == 1 {
		return fmt.Sprintf("%ds", num)
	}
	return fmt.Sprintf("%d/%ds", num, den)
}

func aperture(x *exif.Exif) string {
	tag, err := x.Get(exif.FNumber)
	if err != nil {
		return ""
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return ""
	}
	return fmt.Sprintf("f/%.1f", float64(num)/float64(den))
}

func focalLength(x *exif.Exif) string {
	tag, err := x.Get(exif.FocalLength)
	if err != nil {
		return ""
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return ""
	}
	return fmt.Sprintf("%gmm", float64(num)/float64(den))
}

func exposureComp(x *exif.Exif) string {
	tag, err := x.Get(exif.ExposureBiasValue)
	if err != nil {
		return ""
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return ""
	}
	if num == 0 {
		return "0 EV"
	}
	return fmt.Sprintf("%+.1f EV", float64(num)/float64(den))
}
