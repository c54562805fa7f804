package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"llm-tap/internal/model"
)

// fileTimeLayout is an ISO 8601 UTC timestamp to the second with the colons
// replaced, so the name is valid on every filesystem.
const fileTimeLayout = "2006-01-02T15-04-05"

// FileStore writes one JSON file per interaction under a records directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// on the first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DefaultFileName returns the file name a record gets when no override names one.
func DefaultFileName(ts time.Time, requestID string) string {
	return ts.UTC().Format(fileTimeLayout) + "_" + requestID + ".json"
}

// Path resolves where rec is written. An empty override selects the default
// file in the records directory. A relative override is resolved under the
// records directory and must stay inside it; one that climbs out with ".."
// falls back to the default file. An override ending in a separator, or
// naming an existing directory, receives the default file name inside it.
func (s *FileStore) Path(rec *model.InteractionRecord, override string) string {
	name := DefaultFileName(rec.Timestamp, rec.RequestID)
	if override == "" {
		return filepath.Join(s.dir, name)
	}

	p := override
	if !filepath.IsAbs(p) {
		if !filepath.IsLocal(p) {
			return filepath.Join(s.dir, name)
		}
		p = filepath.Join(s.dir, p)
	}
	if strings.HasSuffix(override, "/") || strings.HasSuffix(override, string(os.PathSeparator)) || isDir(p) {
		return filepath.Join(p, name)
	}
	return p
}

// Write stores data at path, creating parent directories and truncating any
// existing file.
func (s *FileStore) Write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // records are meant to be read by other tools
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
