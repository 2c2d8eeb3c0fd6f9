package packing

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/born-ml/vit/internal/tensor"
)

// DefaultCacheCapacity bounds the number of distinct length signatures a
// MaskCache retains. Mask construction is O(total^2), so repeated shapes
// amortize well, while the bound keeps long-running processes from growing
// without limit.
const DefaultCacheCapacity = 64

// MaskCache maps a batch-length signature to its block-diagonal mask.
// Entries are reused for identical signatures and evicted least recently
// used once the capacity is exceeded.
//
// The cache is safe for concurrent use; concurrent misses on the same
// signature build the mask only once.
type MaskCache[B tensor.Backend] struct {
	backend B
	cache   *lru.Cache[string, *BlockDiagonalMask[B]]
	group   singleflight.Group
}

// NewMaskCache creates a cache holding at most capacity signatures.
// A capacity <= 0 selects DefaultCacheCapacity.
func NewMaskCache[B tensor.Backend](capacity int, backend B) *MaskCache[B] {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	cache, err := lru.New[string, *BlockDiagonalMask[B]](capacity)
	if err != nil {
		panic(fmt.Sprintf("packing: failed to create mask cache: %v", err))
	}
	return &MaskCache[B]{backend: backend, cache: cache}
}

// Get returns the mask for the given length signature, building and
// storing it on a miss. Hits return the previously stored mask object.
func (c *MaskCache[B]) Get(seqLens []int) *BlockDiagonalMask[B] {
	key := signature(seqLens)
	if mask, ok := c.cache.Get(key); ok {
		return mask
	}

	// Collapse concurrent builds for one signature into a single
	// construction.
	v, _, _ := c.group.Do(key, func() (any, error) {
		if mask, ok := c.cache.Get(key); ok {
			return mask, nil
		}
		mask := NewBlockDiagonalMask(seqLens, c.backend)
		c.cache.Add(key, mask)
		return mask, nil
	})
	return v.(*BlockDiagonalMask[B])
}

// Len returns the number of cached signatures.
func (c *MaskCache[B]) Len() int {
	return c.cache.Len()
}

// Purge drops all cached masks.
func (c *MaskCache[B]) Purge() {
	c.cache.Purge()
}

func signature(seqLens []int) string {
	var sb strings.Builder
	for i, l := range seqLens {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(l))
	}
	return sb.String()
}
