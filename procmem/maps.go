package procmem

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Format: address           perms offset  dev   inode   pathname
// Example: 55f4c0a00000-55f4c0a02000 r--p 00000000 08:01 1048576 /usr/bin/cat
var mapsLine = regexp.MustCompile(`^([0-9a-f]+)-([0-9a-f]+)\s+([rwxps-]{4})\s+[0-9a-f]+\s+[0-9a-f]+:[0-9a-f]+\s+\d+\s*(.*)$`)

// ParseMaps parses the text format of /proc/<pid>/maps into regions. Lines
// that do not match the expected layout are skipped rather than failing the
// whole map: a single odd mapping must not abort region enumeration.
func ParseMaps(r io.Reader) ([]Region, error) {
	var regions []Region

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		matches := mapsLine.FindStringSubmatch(line)
		if len(matches) < 5 {
			continue
		}

		start, err := strconv.ParseUint(matches[1], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(matches[2], 16, 64)
		if err != nil || end <= start {
			continue
		}

		pathname := strings.TrimSpace(matches[4])
		regions = append(regions, Region{
			Start: start,
			End:   end,
			Perms: matches[3],
			Type:  classify(pathname),
			Path:  pathname,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read memory map: %w", err)
	}

	return regions, nil
}

// classify tags a mapping by its backing pathname.
func classify(pathname string) string {
	switch {
	case pathname == "":
		return TypeAnonymous
	case strings.Contains(pathname, "[heap]"):
		return TypeHeap
	case strings.Contains(pathname, "[stack]"):
		return TypeStack
	case strings.Contains(pathname, ".so"):
		return TypeLibrary
	default:
		return TypeMapped
	}
}
