package image

import (
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signadot/tblgen/debug"
)

type cacheKey struct {
	path  string
	size  int64
	mtime int64
}

var sharedCache = newCache(128)

func newCache(size int) *lru.Cache[cacheKey, *image] {
	c, err := lru.New[cacheKey, *image](size)
	if err != nil {
		panic(err)
	}
	return c
}

// load decodes the image of src, going through the compiler's cache for
// file backed sources.
func (c *Compiler) load(src *source) (*image, error) {
	if src.path == "" {
		return decodeImage(src.name, src.src)
	}
	fi, err := os.Stat(src.path)
	if err != nil {
		return nil, err
	}
	key := cacheKey{path: src.path, size: fi.Size(), mtime: fi.ModTime().UnixNano()}
	if c.cache != nil {
		if img, ok := c.cache.Get(key); ok && img.name == src.name {
			if debug.Parse() {
				debug.Logf("image: cache hit %s\n", src.path)
			}
			src.src = img.src
			return img, nil
		}
	}
	d, err := os.ReadFile(src.path)
	if err != nil {
		return nil, err
	}
	src.src = d
	img, err := decodeImage(src.name, d)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Add(key, img)
	}
	return img, nil
}
