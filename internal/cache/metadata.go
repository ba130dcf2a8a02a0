package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SeriesMetadata is the sidecar stored as metadata.json inside a series
// directory. It travels with the directory even when the queue file is lost.
type SeriesMetadata struct {
	OperationID   string    `json:"operation_id,omitempty"`
	Title         string    `json:"title,omitempty"`
	SourceURL     string    `json:"source_url,omitempty"`
	Slug          string    `json:"slug,omitempty"`
	TotalChapters int       `json:"total_chapters,omitempty"`
	Format        string    `json:"format,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func MetadataPath(seriesDir string) string {
	return filepath.Join(seriesDir, MetadataName)
}

func WriteMetadata(seriesDir string, m *SeriesMetadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return WriteFileAtomic(MetadataPath(seriesDir), data, 0644)
}

// ReadMetadata returns an error for absent, empty or unparsable sidecars;
// callers treat every error as "no metadata".
func ReadMetadata(seriesDir string) (*SeriesMetadata, error) {
	b, err := os.ReadFile(MetadataPath(seriesDir))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, fmt.Errorf("metadata %s is empty", MetadataPath(seriesDir))
	}

	var m SeriesMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MetadataPath(seriesDir), err)
	}
	return &m, nil
}

// readLegacyURL reads the plain-text URL file older caches carry.
func readLegacyURL(seriesDir string) string {
	b, err := os.ReadFile(filepath.Join(seriesDir, LegacyURLName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
