package keylift

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"southwinds.dev/keylift/audit"
	"southwinds.dev/keylift/internal/debug"
	"southwinds.dev/keylift/procmem"
)

// ErrKeyNotFound is returned when every scannable region has been searched
// without a single candidate validating. It is the expected outcome for a
// process that does not hold the key, not a fault.
var ErrKeyNotFound = errors.New("key not found")

// Scanner searches a target process's memory for the database encryption key.
//
// For each readable+writable region it locates every occurrence of the
// heuristic anchor pattern, proposes a bounded set of candidate key windows
// around each occurrence, and validates each window against the reference
// page. The first validated candidate wins and ends the whole scan; at most
// one key is ever returned and no partial key material leaks on failure.
//
// Diagnostic detail goes to the injected audit.Logger, never to ambient
// output, and the pass/fail result is always carried by the return values.
type Scanner struct {
	validator *Validator
	heur      Heuristics
	opts      Options
	audit     audit.Logger
}

// NewScanner builds a Scanner for the given format and options. A nil logger
// disables diagnostics.
func NewScanner(format Format, opts Options, logger audit.Logger) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan options: %w", err)
	}
	validator, err := NewValidator(format)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = audit.NewNoOpLogger()
	}
	return &Scanner{
		validator: validator,
		heur:      opts.Heuristics,
		opts:      opts,
		audit:     logger,
	}, nil
}

// Scan drives the search: enumerate the target's regions through src, filter
// to scannable ones, and validate candidates against page until one wins.
// It returns the raw recovered key, ErrKeyNotFound after exhausting every
// region, or the context error if the caller gave up first.
//
// A region whose read fails is skipped; only a failure to enumerate regions
// at all is fatal.
func (s *Scanner) Scan(ctx context.Context, page []byte, src procmem.Reader) ([]byte, error) {
	if len(page) != s.validator.format.PageSize {
		return nil, fmt.Errorf("reference page must be %d bytes, got %d",
			s.validator.format.PageSize, len(page))
	}

	regions, err := src.Regions()
	if err != nil {
		return nil, fmt.Errorf("enumerate memory regions: %w", err)
	}
	scannable := s.filterRegions(regions)

	s.audit.Log("scan_start", true, map[string]interface{}{
		"regions":   len(regions),
		"scannable": len(scannable),
		"workers":   s.opts.Workers,
	})

	var key []byte
	if s.opts.Workers <= 1 {
		key, err = s.scanSequential(ctx, page, src, scannable)
	} else {
		key, err = s.scanParallel(ctx, page, src, scannable)
	}
	if err != nil {
		s.audit.Log("scan_complete", false, map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	s.audit.Log("scan_complete", true, map[string]interface{}{
		"scanned": len(scannable),
	})
	return key, nil
}

// filterRegions keeps regions that are plausibly heap-like key homes:
// mapped read+write and within the configured size window. Raw key material
// does not live in read-only code or data mappings.
func (s *Scanner) filterRegions(regions []procmem.Region) []procmem.Region {
	var scannable []procmem.Region
	for _, region := range regions {
		if !region.ReadWrite() {
			continue
		}
		if region.Size() < s.opts.MinRegionSize {
			continue
		}
		if region.Size() > s.opts.MaxRegionSize {
			s.audit.Log("region_skip", true, map[string]interface{}{
				"region": region.String(),
				"size":   region.Size(),
				"reason": "exceeds max region size",
			})
			continue
		}
		scannable = append(scannable, region)
	}
	return scannable
}

// scanSequential reads, searches, and releases one region at a time, so peak
// memory is one region buffer.
func (s *Scanner) scanSequential(ctx context.Context, page []byte, src procmem.Reader, regions []procmem.Region) ([]byte, error) {
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf, err := src.ReadRegion(region)
		if err != nil {
			s.audit.Log("region_read", false, map[string]interface{}{
				"region": region.String(),
				"error":  err.Error(),
			})
			continue
		}
		if key := s.searchBuffer(ctx, page, buf); key != nil {
			s.audit.Log("key_found", true, map[string]interface{}{
				"region": region.String(),
			})
			return key, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrKeyNotFound
}

// scanParallel fans region buffers out to a worker pool. A producer reads
// regions in order into a bounded channel; whichever worker validates a
// candidate first publishes it and cancels everyone else. Cancellation is
// cooperative so no worker is torn down mid-buffer.
func (s *Scanner) scanParallel(ctx context.Context, page []byte, src procmem.Reader, regions []procmem.Region) ([]byte, error) {
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Channel capacity bounds how many region buffers are alive at once.
	bufCh := make(chan []byte, s.opts.Workers)
	resultCh := make(chan []byte, 1)

	debug.Print("starting %d scan workers over %d regions\n", s.opts.Workers, len(regions))

	var workers sync.WaitGroup
	workers.Add(s.opts.Workers)
	for i := 0; i < s.opts.Workers; i++ {
		go func() {
			defer workers.Done()
			for buf := range bufCh {
				if searchCtx.Err() != nil {
					continue // drain remaining buffers after cancellation
				}
				if key := s.searchBuffer(searchCtx, page, buf); key != nil {
					select {
					case resultCh <- key:
						cancel()
					default:
					}
				}
			}
		}()
	}

	var producer sync.WaitGroup
	producer.Add(1)
	go func() {
		defer producer.Done()
		defer close(bufCh)
		for _, region := range regions {
			if searchCtx.Err() != nil {
				return
			}
			buf, err := src.ReadRegion(region)
			if err != nil {
				s.audit.Log("region_read", false, map[string]interface{}{
					"region": region.String(),
					"error":  err.Error(),
				})
				continue
			}
			select {
			case bufCh <- buf:
			case <-searchCtx.Done():
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		producer.Wait()
		workers.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case key := <-resultCh:
		s.audit.Log("key_found", true, nil)
		return key, nil
	case <-done:
		// A worker may have published a result and exited just before the
		// pool drained.
		select {
		case key := <-resultCh:
			s.audit.Log("key_found", true, nil)
			return key, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrKeyNotFound
	}
}

// searchBuffer walks every anchor occurrence in buf, overlapping matches
// included, and tries the candidate windows around each. It returns a copy
// of the first window that validates, or nil.
func (s *Scanner) searchBuffer(ctx context.Context, page, buf []byte) []byte {
	keySize := s.validator.format.KeySize
	offset := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		idx := bytes.Index(buf[offset:], s.heur.Anchor)
		if idx < 0 {
			return nil
		}
		anchor := offset + idx

		for _, rel := range s.heur.Offsets {
			start := anchor + rel
			if start < 0 || start+keySize > len(buf) {
				continue
			}
			candidate := buf[start : start+keySize]
			if s.validator.Validate(page, candidate) {
				key := make([]byte, keySize)
				copy(key, candidate)
				return key
			}
		}

		// Advance by one, not by the pattern length: real key-adjacent
		// data may immediately follow a spurious match.
		offset = anchor + 1
	}
}
