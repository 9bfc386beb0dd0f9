package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

const hashCacheSize = 8192

// FileHash reads the file at path and returns its hex sha256 digest.
func FileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex sha256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Hasher computes content fingerprints on demand, caching results keyed by
// path, size and mtime so unchanged files are read at most once per process.
type Hasher struct {
	cache *lru.Cache[string, string]
}

func NewHasher() *Hasher {
	// lru.New only fails on a non-positive size
	cache, _ := lru.New[string, string](hashCacheSize)
	return &Hasher{cache: cache}
}

// EntryHash returns the content hash for the entry rooted at root, filling
// Entry.Hash as a side effect. Non-file entries hash to the empty string.
func (h *Hasher) EntryHash(root string, e *Entry) (string, error) {
	if e == nil || !e.IsFile() {
		return "", nil
	}
	if e.Hash != "" {
		return e.Hash, nil
	}

	key := fmt.Sprintf("%s/%s|%d|%d", root, e.Path, e.Size, e.ModTime.UnixNano())
	if hash, ok := h.cache.Get(key); ok {
		e.Hash = hash
		return hash, nil
	}

	hash, err := FileHash(absJoin(root, e.Path))
	if err != nil {
		return "", err
	}

	h.cache.Add(key, hash)
	e.Hash = hash
	return hash, nil
}
