package keyed

import (
	"github.com/bits-and-blooms/bloom/v3"
)

var BloomMaxCapacity uint = 100000

var BloomFalsePositiveRate = 0.01

// exceededFilter remembers which keys were already reported as exceeded in
// the current window. A false positive only suppresses a duplicate report.
type exceededFilter struct {
	current *bloom.BloomFilter
}

func newExceededFilter() *exceededFilter {
	return &exceededFilter{
		current: bloom.NewWithEstimates(BloomMaxCapacity, BloomFalsePositiveRate),
	}
}

// TestAndAdd reports whether key was already present, adding it if not.
func (f *exceededFilter) TestAndAdd(key string) bool {
	return f.current.TestOrAddString(key)
}

// Rotate forgets every key.
func (f *exceededFilter) Rotate() {
	f.current = bloom.NewWithEstimates(BloomMaxCapacity, BloomFalsePositiveRate)
}
