// Package diskcache persists raw tile bytes across runs.
//
// The primary store is a directory tree keyed by relative paths. A Redis
// tier can be stacked in front of it to share downloaded tiles between
// hosts; see Tiered.
package diskcache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/mesh3d/internal/logging"
)

// EnvCacheDir overrides the default cache root.
const EnvCacheDir = "MESH3D_CACHE_DIR"

// ErrBadKey is returned for keys that would escape the cache root.
var ErrBadKey = errors.New("diskcache: invalid key")

// Store is a byte store keyed by relative paths.
type Store interface {
	Has(key string) bool
	// Read returns nil on miss or error.
	Read(key string) []byte
	// Write reports whether the bytes were persisted.
	Write(key string, data []byte) bool
}

// Disk is a directory-backed Store. Writes go to a temp file in the same
// directory and are renamed into place so readers never see partial data.
type Disk struct {
	root string
}

var _ Store = (*Disk)(nil)

// DefaultRoot resolves the cache root: $MESH3D_CACHE_DIR, then the user
// cache directory, then the system temp directory.
func DefaultRoot() string {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		return dir
	}
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "mesh3d")
	}
	return filepath.Join(os.TempDir(), "mesh3d")
}

// New returns a disk cache rooted at root/namespace. An empty root uses
// DefaultRoot.
func New(root, namespace string) *Disk {
	if root == "" {
		root = DefaultRoot()
	}
	return &Disk{root: filepath.Join(root, namespace)}
}

// Root returns the directory holding this cache's files.
func (d *Disk) Root() string { return d.root }

// Path maps a key to its file path.
func (d *Disk) Path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return "", ErrBadKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "" {
			return "", ErrBadKey
		}
	}
	return filepath.Join(d.root, filepath.FromSlash(key)), nil
}

func (d *Disk) Has(key string) bool {
	p, err := d.Path(key)
	if err != nil {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

func (d *Disk) Read(key string) []byte {
	p, err := d.Path(key)
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.L().Warn("diskcache: read failed", "key", key, "err", err)
		}
		return nil
	}
	return data
}

func (d *Disk) Write(key string, data []byte) bool {
	p, err := d.Path(key)
	if err != nil {
		logging.L().Warn("diskcache: rejected key", "key", key)
		return false
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		logging.L().Warn("diskcache: mkdir failed", "dir", filepath.Dir(p), "err", err)
		return false
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		logging.L().Warn("diskcache: create temp failed", "key", key, "err", err)
		return false
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		logging.L().Warn("diskcache: write failed", "key", key, "err", err)
		return false
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return false
	}
	if err := os.Rename(name, p); err != nil {
		_ = os.Remove(name)
		logging.L().Warn("diskcache: rename failed", "key", key, "err", err)
		return false
	}
	logging.L().Debug("diskcache: stored", "key", key, "bytes", len(data))
	return true
}
