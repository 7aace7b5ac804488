package converter

import (
	"runtime"

	"github.com/rotisserie/eris"
)

// ErrResourceExhausted is returned by a full-detail pass when the detail
// budget is exceeded. It is never wrapped; callers compare with errors.Is
// and retry without account detail.
var ErrResourceExhausted = eris.New("converter: detail budget exhausted")

// heapSampleEvery is how many retained rows pass between heap samples.
// runtime.ReadMemStats stops the world, so it is not called per row.
const heapSampleEvery = 4096

// Budget bounds the memory a full-detail pass may use. The zero value
// imposes no limit.
type Budget struct {
	// MaxDetailRows caps the number of retained account records.
	MaxDetailRows int

	// MaxHeapBytes caps the live heap, sampled every heapSampleEvery rows.
	MaxHeapBytes uint64

	// readHeap is swapped out in tests.
	readHeap func() uint64
}

// NewBudget creates a budget from the engine limits. maxHeapMB of 0
// disables the heap check.
func NewBudget(maxDetailRows, maxHeapMB int) *Budget {
	b := &Budget{MaxDetailRows: maxDetailRows, readHeap: heapInUse}
	if maxHeapMB > 0 {
		b.MaxHeapBytes = uint64(maxHeapMB) << 20
	}
	return b
}

// Check is called after each retained record with the running count.
func (b *Budget) Check(retained int) error {
	if b == nil {
		return nil
	}
	if b.MaxDetailRows > 0 && retained > b.MaxDetailRows {
		return ErrResourceExhausted
	}
	if b.MaxHeapBytes > 0 && retained%heapSampleEvery == 0 {
		read := b.readHeap
		if read == nil {
			read = heapInUse
		}
		if read() > b.MaxHeapBytes {
			return ErrResourceExhausted
		}
	}
	return nil
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
