// Package blob is the file-backed image cache. Blob names are a
// deterministic function of the owning entity, so writers never race on a
// file and readers can predict a blob's location without consulting the
// store.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Naming schemes for cached product images. The materializer writes under
// the "prod_" scheme; readers also probe the legacy "img_" scheme left
// behind by earlier releases before giving up.
const (
	productScheme       = "prod_%d_%d.jpg"
	legacyProductScheme = "img_%d_%d.jpg"
	variationScheme     = "var_%d_%d.jpg"
)

// Cache stores blobs under a single directory, created on demand.
type Cache struct {
	dir string
}

func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// ProductImageName returns the blob name for image index i of a product.
func ProductImageName(productID int64, index int) string {
	return fmt.Sprintf(productScheme, productID, index)
}

// LegacyProductImageName returns the pre-rename blob name for image index i.
func LegacyProductImageName(productID int64, index int) string {
	return fmt.Sprintf(legacyProductScheme, productID, index)
}

// VariationImageName returns the blob name for a variation's single image.
func VariationImageName(parentID, variationID int64) string {
	return fmt.Sprintf(variationScheme, parentID, variationID)
}

// Path returns the absolute path a blob name resolves to, whether or not the
// blob exists.
func (c *Cache) Path(name string) string {
	return filepath.Join(c.dir, name)
}

// Lookup returns the blob's path when it exists with nonzero length. A
// zero-byte file is a truncated write from a crashed run; it is deleted on
// encounter and reported as a miss.
func (c *Cache) Lookup(name string) (string, bool) {
	path := c.Path(name)
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return "", false
	}
	return path, true
}

// LookupProductImage probes the current naming scheme, then the legacy one.
func (c *Cache) LookupProductImage(productID int64, index int) (string, bool) {
	if path, ok := c.Lookup(ProductImageName(productID, index)); ok {
		return path, true
	}
	return c.Lookup(LegacyProductImageName(productID, index))
}

// Put streams r into the named blob. On any error the partial file is
// removed so a failed download never masquerades as a cached blob. Returns
// the absolute path on success.
func (c *Cache) Put(name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating blob dir: %w", err)
	}

	path := c.Path(name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating blob %s: %w", name, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("writing blob %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("closing blob %s: %w", name, err)
	}
	return path, nil
}

// ValidPath reports whether a stored local path still points at a usable
// blob. Stored paths are hints; readers revalidate before use.
func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
