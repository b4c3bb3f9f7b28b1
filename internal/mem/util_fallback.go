//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// No locking primitive here; callers still get wiped buffers, just no
	// guarantee against swapping.
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
