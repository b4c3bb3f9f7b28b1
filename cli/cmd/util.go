package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/viper"

	"southwinds.dev/keylift"
)

var (
	pid    int
	dbPath string
)

// targetPID returns the pid a subcommand is operating on, zero when the
// command has no target process.
func targetPID() int {
	return pid
}

// scanOptions assembles keylift.Options from flags and config, falling back
// to library defaults for anything unset.
func scanOptions() keylift.Options {
	opts := keylift.DefaultOptions()
	if w := viper.GetInt("scan.workers"); w > 0 {
		opts.Workers = w
	}
	if v := viper.GetUint64("scan.min_region_size"); v > 0 {
		opts.MinRegionSize = v
	}
	if v := viper.GetUint64("scan.max_region_size"); v > 0 {
		opts.MaxRegionSize = v
	}
	opts.EnableMemoryLock = viper.GetBool("scan.memory_lock")
	return opts
}

// decodeKeyArg decodes a 64-character hex key argument into raw bytes.
func decodeKeyArg(arg string) ([]byte, error) {
	key, err := hex.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("key must be hex encoded: %w", err)
	}
	if len(key) != keylift.KeySize {
		return nil, fmt.Errorf("key must be %d hex characters (%d bytes), got %d bytes",
			keylift.KeySize*2, keylift.KeySize, len(key))
	}
	return key, nil
}

func humanSize(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
