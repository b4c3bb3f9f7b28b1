// Package procmem gives the scanner a narrow view of a target process's
// address space: enumerate its mapped regions and read a region's bytes.
//
// The scanner never depends on how a platform enumerates or copies memory;
// it sees only the Reader interface. The Linux implementation parses
// /proc/<pid>/maps and copies bytes with process_vm_readv, which reads
// without pausing the target. Other platforms report ErrUnsupportedPlatform
// from Open.
package procmem

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedPlatform is returned by Open on platforms without a process
// memory reading implementation.
var ErrUnsupportedPlatform = errors.New("process memory reading is not supported on this platform")

// Region types derived from the mapping's backing pathname.
const (
	TypeHeap      = "[heap]"
	TypeAnonymous = "[anonymous]"
	TypeStack     = "[stack]"
	TypeLibrary   = "[library]"
	TypeMapped    = "[mapped]"
)

// Region is one contiguous mapping in the target's address space.
type Region struct {
	// Start and End are the virtual address bounds, End exclusive.
	Start uint64
	End   uint64

	// Perms holds the protection flags as the kernel reports them,
	// e.g. "rw-p".
	Perms string

	// Type tags the mapping's origin: one of the Type constants above.
	Type string

	// Path is the backing pathname, empty for anonymous mappings.
	Path string
}

// Size returns the region's length in bytes.
func (r Region) Size() uint64 {
	return r.End - r.Start
}

// ReadWrite reports whether the region is mapped both readable and writable.
func (r Region) ReadWrite() bool {
	return strings.Contains(r.Perms, "r") && strings.Contains(r.Perms, "w")
}

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x %s %s", r.Start, r.End, r.Perms, r.Type)
}

// Reader enumerates and reads the memory regions of one target process.
//
// A failed ReadRegion is a per-region condition: a region can disappear or
// shrink between enumeration and read, so callers skip it and move on rather
// than aborting the scan.
type Reader interface {
	// Regions lists the target's current mappings.
	Regions() ([]Region, error)

	// ReadRegion copies the region's bytes into a new buffer owned by the
	// caller.
	ReadRegion(r Region) ([]byte, error)

	// Close releases any resources held against the target.
	Close() error
}
