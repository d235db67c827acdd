package vlog

import (
	"slices"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultLockStripes is the default number of append lock stripes.
const DefaultLockStripes = 256

// stripedLock maps log prefixes onto a fixed pool of mutexes.
//
// Two logs that hash to the same stripe serialize against each other.
type stripedLock struct {
	stripes []sync.Mutex
	mask    uint32
}

func newStripedLock(n int) *stripedLock {
	size := 1
	for size < n {
		size <<= 1
	}
	return &stripedLock{
		stripes: make([]sync.Mutex, size),
		mask:    uint32(size - 1),
	}
}

func (l *stripedLock) stripe(prefix []byte) int {
	return int(murmur3.Sum32(prefix) & l.mask)
}

// lock acquires the stripes of every prefix in ascending stripe order,
// so concurrent multi-key lockers cannot deadlock. It returns the
// matching unlock function.
func (l *stripedLock) lock(prefixes ...[]byte) func() {
	idx := make([]int, 0, len(prefixes))
	for _, p := range prefixes {
		idx = append(idx, l.stripe(p))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.stripes[idx[j]].Unlock()
		}
	}
}
