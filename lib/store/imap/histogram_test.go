package imap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeHistogramEmpty(t *testing.T) {
	h := newSizeHistogram()
	assert.Zero(t, h.samples())
	assert.Zero(t, h.average())
	assert.Zero(t, h.percentile(50))
}

func TestSizeHistogramEstimates(t *testing.T) {
	h := newSizeHistogram()
	for i := 0; i < 90; i++ {
		h.add(10) // bucket <= 16
	}
	for i := 0; i < 10; i++ {
		h.add(2000) // bucket 1024 < size <= 4096
	}

	assert.Equal(t, int64(100), h.samples())
	assert.Equal(t, (90*10+10*2000)/100, h.average())
	assert.Equal(t, 8, h.percentile(50))
	assert.Equal(t, 8, h.percentile(90))
	assert.Equal(t, (1024+4096)/2, h.percentile(99))
	assert.Zero(t, h.percentile(101), "invalid percentile")

	h.add(1 << 33)
	assert.Equal(t, sizeBoundaries[len(sizeBoundaries)-1]*2, h.percentile(100))

	h.reset()
	assert.Zero(t, h.samples())
	assert.Zero(t, h.percentile(99))
}

func TestSizeHistogramConcurrent(t *testing.T) {
	h := newSizeHistogram()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h.add(i)
				_ = h.percentile(50)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8000), h.samples())
}
