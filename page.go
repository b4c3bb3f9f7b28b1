package keylift

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrShortRead reports a database file smaller than one full page. Without a
// complete first page there is no salt and no trailer, so nothing can ever
// validate; callers treat this as fatal.
var ErrShortRead = errors.New("database file smaller than one page")

// ReadFirstPage reads exactly one page from the head of the database file.
func ReadFirstPage(path string, format Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid page format: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer f.Close()

	page := make([]byte, format.PageSize)
	if _, err = io.ReadFull(f, page); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s", ErrShortRead, path)
		}
		return nil, fmt.Errorf("read first page: %w", err)
	}
	return page, nil
}
