package keylift

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"southwinds.dev/keylift/procmem"
)

// fakeReader is a synthetic procmem.Reader over in-memory regions. It
// records which regions were read so tests can assert scan order and early
// termination.
type fakeReader struct {
	regions    []fakeRegion
	regionsErr error
	reads      []uint64 // region start addresses, in read order
}

type fakeRegion struct {
	region procmem.Region
	data   []byte
	err    error
}

const fakeBase = 0x7f0000000000

// addRegion appends a region backed by data with the given permissions and
// returns its synthetic start address.
func (f *fakeReader) addRegion(perms string, data []byte) uint64 {
	start := uint64(fakeBase + len(f.regions)*0x10000000)
	f.regions = append(f.regions, fakeRegion{
		region: procmem.Region{
			Start: start,
			End:   start + uint64(len(data)),
			Perms: perms,
			Type:  procmem.TypeHeap,
		},
		data: data,
	})
	return start
}

func (f *fakeReader) Regions() ([]procmem.Region, error) {
	if f.regionsErr != nil {
		return nil, f.regionsErr
	}
	regions := make([]procmem.Region, len(f.regions))
	for i, r := range f.regions {
		regions[i] = r.region
	}
	return regions, nil
}

func (f *fakeReader) ReadRegion(r procmem.Region) ([]byte, error) {
	f.reads = append(f.reads, r.Start)
	for _, candidate := range f.regions {
		if candidate.region.Start == r.Start {
			if candidate.err != nil {
				return nil, candidate.err
			}
			return candidate.data, nil
		}
	}
	return nil, fmt.Errorf("unknown region %#x", r.Start)
}

func (f *fakeReader) Close() error { return nil }

func testScanOptions() Options {
	return Options{
		Workers:       1,
		MinRegionSize: 0,
		MaxRegionSize: DefaultMaxRegionSize,
		Heuristics:    DefaultHeuristics(),
	}
}

// regionBuffer returns size random bytes with the anchor pattern embedded at
// anchorPos and key placed at anchorPos+rel.
func regionBuffer(t *testing.T, h Heuristics, size, anchorPos, rel int, key []byte) []byte {
	t.Helper()
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("failed to fill region buffer: %v", err)
	}
	copy(buf[anchorPos:], h.Anchor)
	if key != nil {
		copy(buf[anchorPos+rel:], key)
	}
	return buf
}

func newTestScanner(t *testing.T, format Format, opts Options) *Scanner {
	t.Helper()
	scanner, err := NewScanner(format, opts, nil)
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}
	return scanner
}

// End-to-end scenario at the full contract constants: a real page, the key
// sitting 16 bytes past an anchor inside one region.
func TestScannerEndToEnd(t *testing.T) {
	format := DefaultFormat()
	heur := DefaultHeuristics()
	key := testKey(t)
	page := buildPage(t, format, key)

	src := &fakeReader{}
	src.addRegion("rw-p", regionBuffer(t, heur, 64*1024, 4096, 16, key))

	scanner := newTestScanner(t, format, testScanOptions())
	got, err := scanner.Scan(context.Background(), page, src)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if hex.EncodeToString(got) != hex.EncodeToString(key) {
		t.Fatalf("recovered key %x, want %x", got, key)
	}
}

// Every one of the six candidate offsets must yield the key when the key is
// planted at that offset.
func TestScannerFindsKeyAtEachOffset(t *testing.T) {
	format := cheapFormat()
	heur := DefaultHeuristics()
	key := testKey(t)

	for _, rel := range heur.Offsets {
		t.Run(fmt.Sprintf("offset_%d", rel), func(t *testing.T) {
			key := key
			if rel < 0 && rel+KeySize > 0 {
				// The candidate window overlaps the anchor, so the key
				// itself must carry the pattern bytes at the overlap.
				key = testKey(t)
				copy(key[-rel:], heur.Anchor)
			}
			page := buildPage(t, format, key)

			src := &fakeReader{}
			src.addRegion("rw-p", regionBuffer(t, heur, 8192, 1024, rel, key))

			scanner := newTestScanner(t, format, testScanOptions())
			got, err := scanner.Scan(context.Background(), page, src)
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			if !bytes.Equal(got, key) {
				t.Fatalf("recovered key %x, want %x", got, key)
			}
		})
	}
}

// The first validated candidate ends the scan: regions after the hit must
// never be read.
func TestScannerEarlyExit(t *testing.T) {
	format := cheapFormat()
	heur := DefaultHeuristics()
	key := testKey(t)
	page := buildPage(t, format, key)

	src := &fakeReader{}
	empty := make([]byte, 4096) // no anchors
	first := src.addRegion("rw-p", empty)
	hit := src.addRegion("rw-p", regionBuffer(t, heur, 8192, 512, 16, key))
	src.addRegion("rw-p", regionBuffer(t, heur, 8192, 512, 16, key))

	scanner := newTestScanner(t, format, testScanOptions())
	got, err := scanner.Scan(context.Background(), page, src)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("recovered key %x, want %x", got, key)
	}

	want := []uint64{first, hit}
	if len(src.reads) != len(want) {
		t.Fatalf("read %d regions %v, want %d", len(src.reads), src.reads, len(want))
	}
	for i, start := range want {
		if src.reads[i] != start {
			t.Fatalf("read order %v, want %v", src.reads, want)
		}
	}
}

// Anchors within KeySize bytes of either buffer end must never cause an
// out-of-bounds read; every offset gets exercised against both ends.
func TestScannerBoundsSafety(t *testing.T) {
	format := cheapFormat()
	heur := DefaultHeuristics()
	key := testKey(t)
	page := buildPage(t, format, key)

	src := &fakeReader{}
	// Anchor flush at the start: every negative offset exits the front.
	src.addRegion("rw-p", regionBuffer(t, heur, len(heur.Anchor)+8, 0, 0, nil))
	// Anchor flush at the end: every positive offset exits the back.
	end := make([]byte, 96)
	copy(end[96-len(heur.Anchor):], heur.Anchor)
	src.addRegion("rw-p", end)
	// A buffer of exactly the anchor: everything is out of bounds.
	src.addRegion("rw-p", append([]byte{}, heur.Anchor...))
	// A region shorter than the anchor yields no anchors at all.
	src.addRegion("rw-p", []byte{0x20, 0x66})

	scanner := newTestScanner(t, format, testScanOptions())
	if _, err := scanner.Scan(context.Background(), page, src); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("scan returned %v, want ErrKeyNotFound", err)
	}
}

// Overlapping anchors one byte apart must both be discovered; only the
// second one's candidate validates.
func TestScannerOverlappingAnchors(t *testing.T) {
	format := cheapFormat()
	heur := Heuristics{
		Anchor:  bytes.Repeat([]byte{0xAB}, 8),
		Offsets: []int{16},
	}
	key := testKey(t)
	page := buildPage(t, format, key)

	const k = 100
	buf := make([]byte, 4096)
	// Nine pattern bytes create anchors at both k and k+1. The key sits at
	// (k+1)+16, so the first anchor's window is the key shifted by one and
	// fails; only advance-by-1 scanning reaches the second anchor.
	copy(buf[k:], bytes.Repeat([]byte{0xAB}, 9))
	copy(buf[k+1+16:], key)
	if bytes.Equal(buf[k+16:k+16+KeySize], key) {
		t.Fatal("window at first anchor accidentally equals the key")
	}

	opts := testScanOptions()
	opts.Heuristics = heur
	src := &fakeReader{}
	src.addRegion("rw-p", buf)

	scanner := newTestScanner(t, format, opts)
	got, err := scanner.Scan(context.Background(), page, src)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("recovered key %x, want %x", got, key)
	}
}

func TestScannerSkipsFailedRegionReads(t *testing.T) {
	format := cheapFormat()
	heur := DefaultHeuristics()
	key := testKey(t)
	page := buildPage(t, format, key)

	src := &fakeReader{}
	broken := src.addRegion("rw-p", make([]byte, 4096))
	src.regions[0].err = errors.New("region vanished")
	src.addRegion("rw-p", regionBuffer(t, heur, 8192, 512, 16, key))

	scanner := newTestScanner(t, format, testScanOptions())
	got, err := scanner.Scan(context.Background(), page, src)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("recovered key %x, want %x", got, key)
	}
	if src.reads[0] != broken {
		t.Fatal("broken region was not attempted first")
	}
}

func TestScannerRegionFilters(t *testing.T) {
	format := cheapFormat()
	heur := DefaultHeuristics()
	key := testKey(t)
	page := buildPage(t, format, key)

	t.Run("read-only regions are never read", func(t *testing.T) {
		src := &fakeReader{}
		src.addRegion("r--p", regionBuffer(t, heur, 8192, 512, 16, key))

		scanner := newTestScanner(t, format, testScanOptions())
		if _, err := scanner.Scan(context.Background(), page, src); !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("scan returned %v, want ErrKeyNotFound", err)
		}
		if len(src.reads) != 0 {
			t.Fatalf("read-only region was read: %v", src.reads)
		}
	})

	t.Run("oversized regions are skipped, not truncated", func(t *testing.T) {
		src := &fakeReader{}
		start := src.addRegion("rw-p", nil)
		// Lie about the extent so the metadata exceeds the cap.
		src.regions[0].region.End = start + DefaultMaxRegionSize + 1

		scanner := newTestScanner(t, format, testScanOptions())
		if _, err := scanner.Scan(context.Background(), page, src); !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("scan returned %v, want ErrKeyNotFound", err)
		}
		if len(src.reads) != 0 {
			t.Fatalf("oversized region was read: %v", src.reads)
		}
	})

	t.Run("regions below the minimum are skipped", func(t *testing.T) {
		src := &fakeReader{}
		src.addRegion("rw-p", regionBuffer(t, heur, 8192, 512, 16, key))

		opts := testScanOptions()
		opts.MinRegionSize = 1 << 20
		scanner := newTestScanner(t, format, opts)
		if _, err := scanner.Scan(context.Background(), page, src); !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("scan returned %v, want ErrKeyNotFound", err)
		}
		if len(src.reads) != 0 {
			t.Fatalf("undersized region was read: %v", src.reads)
		}
	})
}

func TestScannerParallelFirstWins(t *testing.T) {
	format := cheapFormat()
	heur := DefaultHeuristics()
	key := testKey(t)
	page := buildPage(t, format, key)

	src := &fakeReader{}
	for i := 0; i < 6; i++ {
		src.addRegion("rw-p", regionBuffer(t, heur, 16*1024, 1024, 16, nil))
	}
	src.addRegion("rw-p", regionBuffer(t, heur, 16*1024, 1024, 16, key))

	opts := testScanOptions()
	opts.Workers = 4
	scanner := newTestScanner(t, format, opts)
	got, err := scanner.Scan(context.Background(), page, src)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("recovered key %x, want %x", got, key)
	}
}

func TestScannerParallelNotFound(t *testing.T) {
	format := cheapFormat()
	heur := DefaultHeuristics()
	key := testKey(t)
	page := buildPage(t, format, key)

	src := &fakeReader{}
	for i := 0; i < 6; i++ {
		src.addRegion("rw-p", regionBuffer(t, heur, 16*1024, 1024, 16, nil))
	}

	opts := testScanOptions()
	opts.Workers = 4
	scanner := newTestScanner(t, format, opts)
	if _, err := scanner.Scan(context.Background(), page, src); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("scan returned %v, want ErrKeyNotFound", err)
	}
}

func TestScannerContextCancellation(t *testing.T) {
	format := cheapFormat()
	key := testKey(t)
	page := buildPage(t, format, key)

	src := &fakeReader{}
	src.addRegion("rw-p", make([]byte, 4096))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := newTestScanner(t, format, testScanOptions())
	if _, err := scanner.Scan(ctx, page, src); !errors.Is(err, context.Canceled) {
		t.Fatalf("scan returned %v, want context.Canceled", err)
	}
}

func TestScannerRejectsWrongPageSize(t *testing.T) {
	format := cheapFormat()
	scanner := newTestScanner(t, format, testScanOptions())

	if _, err := scanner.Scan(context.Background(), make([]byte, 100), &fakeReader{}); err == nil {
		t.Fatal("expected error for wrong page size, got none")
	}
}

func TestScannerEnumerationFailureIsFatal(t *testing.T) {
	format := cheapFormat()
	key := testKey(t)
	page := buildPage(t, format, key)

	src := &fakeReader{regionsErr: errors.New("permission denied")}
	scanner := newTestScanner(t, format, testScanOptions())
	if _, err := scanner.Scan(context.Background(), page, src); err == nil || errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("scan returned %v, want enumeration error", err)
	}
}
