//go:build !linux

package procmem

// Open reports ErrUnsupportedPlatform on builds without a process memory
// reading implementation. Synthetic Readers still work everywhere, so the
// validator and scanner remain usable for offline analysis.
func Open(pid int) (Reader, error) {
	return nil, ErrUnsupportedPlatform
}
