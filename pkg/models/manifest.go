package models

import (
	"encoding/json"
	"fmt"
	"os"
)

// manifestFile is the on-disk shape of a scan manifest. The wrapper object
// leaves room for versioning without breaking older manifests.
type manifestFile struct {
	Images []ScanRecord `json:"images"`
}

// SaveManifest writes the manifest to path as JSON, preserving discovery
// order. The archive phase can consume it in a later process invocation.
func SaveManifest(path string, records []ScanRecord) error {
	if records == nil {
		records = []ScanRecord{}
	}
	data, err := json.MarshalIndent(manifestFile{Images: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest previously written by SaveManifest.
func LoadManifest(path string) ([]ScanRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var mf manifestFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return mf.Images, nil
}
