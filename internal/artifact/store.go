// Package artifact manages the on-disk artifact store shared by pipeline
// runs: measurement documents written by the extraction service, and the
// chunked result documents this service produces.
package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Info describes one artifact file.
type Info struct {
	Key     string // filename, used as the cache source key
	Path    string
	Size    int64
	ModTime time.Time
}

// Timestamp returns the artifact's effective timestamp: the granule scan
// time embedded in the filename when present, the filesystem mtime
// otherwise.
func (i Info) Timestamp() time.Time {
	if t, ok := TimestampFromKey(i.Key); ok {
		return t
	}
	return i.ModTime
}

// TimestampFromKey extracts an embedded YYYYMMDDTHHMMSSZ token from an
// artifact filename, e.g. SURFACE_NO2_..._20251004T152407Z_S005G09.json.
func TimestampFromKey(key string) (time.Time, bool) {
	base := strings.TrimSuffix(key, filepath.Ext(key))
	for _, part := range strings.Split(base, "_") {
		if len(part) != 16 || part[8] != 'T' || part[15] != 'Z' {
			continue
		}
		if t, err := time.Parse("20060102T150405Z", part); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Store is a flat directory of JSON artifacts. Writes are staged to a
// temporary file and renamed into place, so readers and the retention
// sweeper never observe a partially written artifact.
type Store struct {
	dir string
}

// NewStore opens (creating if necessary) the store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Sub opens a child store in a subdirectory, e.g. "chunks".
func (s *Store) Sub(name string) (*Store, error) {
	return NewStore(filepath.Join(s.dir, name))
}

// Path returns the absolute path of an artifact key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key)
}

// List returns the JSON artifacts in the store, sorted by key. Staged
// temporary files and dotfiles are ignored.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") ||
			strings.HasSuffix(name, ".tmp") || !strings.HasSuffix(name, ".json") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Key:     name,
			Path:    filepath.Join(s.dir, name),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Open opens an artifact for reading.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", key, err)
	}
	return f, nil
}

// WriteJSON atomically writes v as a JSON artifact under key.
func (s *Store) WriteJSON(key string, v any) error {
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("stage artifact %s: %w", key, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode artifact %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage artifact %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(key)); err != nil {
		return fmt.Errorf("commit artifact %s: %w", key, err)
	}
	return nil
}

// Remove deletes an artifact and reports the bytes freed.
func (s *Store) Remove(key string) (int64, error) {
	path := s.Path(key)
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat artifact %s: %w", key, err)
	}
	if err := os.Remove(path); err != nil {
		return 0, fmt.Errorf("remove artifact %s: %w", key, err)
	}
	return fi.Size(), nil
}

// Exists reports whether an artifact file is present.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

// Stats tallies file count and total bytes in the store and its
// subdirectories.
func (s *Store) Stats() (files int, bytes int64, err error) {
	err = filepath.WalkDir(s.dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		files++
		bytes += fi.Size()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("artifact stats: %w", err)
	}
	return files, bytes, nil
}
