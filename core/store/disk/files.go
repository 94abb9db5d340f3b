package disk

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// partialPrefix marks files still being written.
const partialPrefix = ".partial-"

type object struct {
	path  string
	size  int64
	mtime time.Time
}

func (c *Cache) pathOf(id digest.Digest) string {
	name := id.Encoded()
	if c.fanout == 0 {
		return filepath.Join(c.root, name)
	}
	return filepath.Join(c.root, name[:min(c.fanout, len(name))], name)
}

// read returns the object at path and marks it recently used.
func (c *Cache) read(path string) ([]byte, bool) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a digest
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log().Debug("disk cache read failed", "path", path, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		c.log().Debug("disk cache touch failed", "path", path, "error", err)
	}
	c.hits.Add(1)
	return data, true
}

// fill commits data at path through a temporary file, evicting older
// objects first when the cache is bounded. Objects larger than the bound
// are not kept. Commits and evictions hold evictMu so the byte count only
// moves under the lock.
func (c *Cache) fill(path string, data []byte) error {
	size := int64(len(data))
	if size == 0 || (c.limit > 0 && size > c.limit) {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.perm); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return err
	}

	c.evictMu.Lock()
	defer c.evictMu.Unlock()
	if c.limit > 0 && c.used.Load()+size > c.limit {
		if err := c.evictLocked(c.limit - size); err != nil {
			_ = os.Remove(f.Name())
			return err
		}
	}
	var old int64
	if info, err := os.Stat(path); err == nil {
		old = info.Size()
	}
	if err := os.Rename(f.Name(), path); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("disk: commit %s: %w", path, err)
	}
	c.used.Add(size - old)
	c.fills.Add(1)
	return nil
}

// evictLocked removes the least recently used objects until at most target
// bytes remain. The caller holds evictMu.
func (c *Cache) evictLocked(target int64) error {
	objects, err := c.scan()
	if err != nil {
		return err
	}
	var used int64
	for _, o := range objects {
		used += o.size
	}
	slices.SortFunc(objects, func(a, b object) int {
		return cmp.Or(a.mtime.Compare(b.mtime), cmp.Compare(a.path, b.path))
	})
	var evicted int
	for _, o := range objects {
		if used <= max(target, 0) {
			break
		}
		if err := os.Remove(o.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.used.Store(used)
			return err
		}
		used -= o.size
		evicted++
	}
	c.used.Store(used)
	c.log().Debug("disk cache evicted", "objects", evicted, "bytes", used)
	return nil
}

// scan lists the committed objects under the root.
func (c *Cache) scan() ([]object, error) {
	var objects []object
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), partialPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, object{path: path, size: info.Size(), mtime: info.ModTime()})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return objects, err
}
