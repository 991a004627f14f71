package imap

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// sizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets, from 16B to 4GB.
// One extra bucket holds all larger values.
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096, // 16B to 4KB
	16384, 65536, 262144, 1048576, // 16KB to 1MB
	4194304, 16777216, 67108864, // 4MB to 64MB
	268435456, 1073741824, 4294967296, // 256MB to 4GB
}

// sizeHistogram tracks the distribution of encoded value sizes written by a map
// since it was opened. Sizes are counted in exponential buckets so that
// percentiles are estimates, the average is exact.
//
// Thread-safe: all methods are safe for concurrent use
type sizeHistogram struct {
	mutex   sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
}

func newSizeHistogram() *sizeHistogram {
	return &sizeHistogram{buckets: make([]int64, len(sizeBoundaries)+1)}
}

// add records one value of the given size
func (h *sizeHistogram) add(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	bucket := len(sizeBoundaries)
	for i, boundary := range sizeBoundaries {
		if size <= boundary {
			bucket = i
			break
		}
	}

	h.buckets[bucket]++
	h.count++
	h.sum += int64(size)
}

// samples returns the number of recorded values
func (h *sizeHistogram) samples() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// average returns the mean of all recorded sizes, 0 if nothing was recorded
func (h *sizeHistogram) average() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// percentile estimates the given percentile (0-100) of the recorded sizes.
// The estimate is the middle of the bucket the percentile falls into.
func (h *sizeHistogram) percentile(p int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(p) / 100.0))
	var cumulative int64
	for i, n := range h.buckets {
		cumulative += n
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			return sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}

// reset clears all recorded sizes
func (h *sizeHistogram) reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.count, h.sum = 0, 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
