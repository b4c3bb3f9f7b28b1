package keylift

import "fmt"

// Heuristics describe where raw key material tends to sit relative to a
// recognizable byte pattern in the target process's memory.
//
// Both values are empirical observations of one host application's allocator
// behavior and build, not properties of the page-encryption format. They are
// carried as data so a different target version can swap them out without
// touching the scanner. DefaultHeuristics returns the values known to work
// for the current target.
type Heuristics struct {
	// Anchor is the byte pattern whose occurrences mark locations worth
	// inspecting. An anchor match is a landmark, not a confirmed key.
	Anchor []byte

	// Offsets are the signed byte distances from an anchor at which a
	// candidate key window may start. Order matters: when more than one
	// candidate around an anchor would validate, the first in this list
	// wins because the first success ends the whole scan.
	Offsets []int
}

// DefaultHeuristics returns the anchor pattern and candidate offsets for the
// current target application.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		Anchor:  []byte{0x20, 0x66, 0x74, 0x73, 0x35, 0x28, 0x25, 0x00},
		Offsets: []int{16, -80, 64, -16, 32, -32},
	}
}

// Validate checks that the heuristics are usable.
func (h Heuristics) Validate() error {
	if len(h.Anchor) == 0 {
		return fmt.Errorf("anchor pattern must not be empty")
	}
	if len(h.Offsets) == 0 {
		return fmt.Errorf("candidate offset list must not be empty")
	}
	return nil
}
