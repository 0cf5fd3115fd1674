// Package artifacts writes session output files with second-precision
// timestamped names.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout is used in artifact file names.
const TimestampLayout = "2006-01-02T15-04-05"

// Store implements ports.ArtifactStore on the local filesystem.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore writes into dir, or the working directory when dir is empty.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = "."
	}
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) SaveNotes(text string) (string, error) {
	return s.write("notes_", ".md", []byte(text))
}

func (s *Store) SaveAudio(data []byte) (string, error) {
	return s.write("recorded_audio_", ".wav", data)
}

func (s *Store) write(prefix string, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(s.dir, prefix+s.now().Format(TimestampLayout)+ext)
	tmp, err := os.CreateTemp(s.dir, "."+prefix+"*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
