//go:build linux

package procmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type linuxReader struct {
	pid int
}

// Open attaches a reader to the target process. No ptrace attach happens:
// bytes are copied with process_vm_readv, so the target keeps running while
// it is scanned. Reading another process's memory requires the same
// privileges ptrace would (root or CAP_SYS_PTRACE, subject to the yama
// ptrace_scope sysctl).
func Open(pid int) (Reader, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	// Probe the maps file up front so a missing or inaccessible target is a
	// precondition failure, not a mid-scan surprise.
	if _, err := os.Stat(mapsPath(pid)); err != nil {
		return nil, fmt.Errorf("process %d not accessible: %w", pid, err)
	}
	return &linuxReader{pid: pid}, nil
}

func mapsPath(pid int) string {
	return fmt.Sprintf("/proc/%d/maps", pid)
}

func (r *linuxReader) Regions() ([]Region, error) {
	f, err := os.Open(mapsPath(r.pid))
	if err != nil {
		return nil, fmt.Errorf("open process maps: %w", err)
	}
	defer f.Close()
	return ParseMaps(f)
}

func (r *linuxReader) ReadRegion(region Region) ([]byte, error) {
	size := int(region.Size())
	if size == 0 {
		return nil, nil
	}

	buf := make([]byte, size)
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(size)}}
	remote := []unix.RemoteIovec{{Base: uintptr(region.Start), Len: size}}

	n, err := unix.ProcessVMReadv(r.pid, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("read region %s: %w", region, err)
	}
	if n != size {
		// A partial buffer would produce false negatives near the cut; the
		// caller skips the region instead.
		return nil, fmt.Errorf("partial read of region %s: %d of %d bytes", region, n, size)
	}
	return buf, nil
}

func (r *linuxReader) Close() error {
	return nil
}
