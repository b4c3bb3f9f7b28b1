package keylift

import (
	"fmt"
	"runtime"
)

const (
	// MaxWorkers caps the validation worker pool regardless of CPU count.
	MaxWorkers = 16

	// DefaultMinRegionSize filters out small mappings that are unlikely to
	// hold the target application's working heap.
	DefaultMinRegionSize = 1 * 1024 * 1024

	// DefaultMaxRegionSize guards against reading pathological huge regions
	// into memory. Oversized regions are skipped outright, never truncated,
	// so a partial read can never hide the key.
	DefaultMaxRegionSize = 100 * 1024 * 1024
)

// Options control how the scanner walks the target address space.
type Options struct {
	// Workers is the number of goroutines validating candidates. With one
	// worker the scan is strictly sequential: one region is read, searched,
	// and released before the next is touched. With more, regions are
	// validated in parallel and the first validated candidate cancels all
	// other in-flight work.
	Workers int `json:"workers"`

	// MinRegionSize skips regions smaller than this many bytes. Zero
	// disables the minimum.
	MinRegionSize uint64 `json:"min_region_size"`

	// MaxRegionSize skips regions larger than this many bytes. It bounds
	// peak memory to roughly Workers+1 region buffers of this size.
	MaxRegionSize uint64 `json:"max_region_size"`

	// Heuristics select the anchor pattern and candidate offsets.
	Heuristics Heuristics `json:"-"`

	// EnableMemoryLock requests mlockall so recovered key material cannot
	// be swapped to disk while the process runs. Honored by the CLI, not
	// by the scanner itself.
	EnableMemoryLock bool `json:"enable_memory_lock"`
}

// DefaultOptions returns scan options suitable for a live target.
func DefaultOptions() Options {
	return Options{
		Workers:       defaultWorkers(),
		MinRegionSize: DefaultMinRegionSize,
		MaxRegionSize: DefaultMaxRegionSize,
		Heuristics:    DefaultHeuristics(),
	}
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 2 {
		n = 2
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}
	return n
}

// Validate validates the Options configuration.
func (o Options) Validate() error {
	if o.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if o.MaxRegionSize == 0 {
		return fmt.Errorf("max region size must be positive")
	}
	if o.MinRegionSize > o.MaxRegionSize {
		return fmt.Errorf("min region size %d exceeds max region size %d",
			o.MinRegionSize, o.MaxRegionSize)
	}
	return o.Heuristics.Validate()
}
