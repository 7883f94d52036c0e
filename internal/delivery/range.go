package delivery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrRangeNotSatisfiable = errors.New("delivery: range not satisfiable")

// ByteRange is an inclusive window [Start, End] of an object of Size bytes.
type ByteRange struct {
	Start int64
	End   int64
	Size  int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value.
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Size)
}

// ParseRange parses a single-range Range header against an object of size
// bytes. It returns nil for an empty header. Supported forms are "bytes=a-b",
// "bytes=a-" and the suffix form "bytes=-n". The end is clamped to size-1.
// Multiple ranges, non-numeric bounds, start > end and start >= size all
// yield ErrRangeNotSatisfiable.
func ParseRange(header string, size int64) (*ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	unit, spec, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return nil, fmt.Errorf("%w: unsupported unit in %q", ErrRangeNotSatisfiable, header)
	}
	spec = strings.TrimSpace(spec)
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("%w: multiple ranges", ErrRangeNotSatisfiable)
	}

	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("%w: malformed range %q", ErrRangeNotSatisfiable, spec)
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if size <= 0 {
		return nil, fmt.Errorf("%w: empty object", ErrRangeNotSatisfiable)
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad suffix length %q", ErrRangeNotSatisfiable, last)
		}
		return &ByteRange{Start: max(size-n, 0), End: size - 1, Size: size}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: bad start %q", ErrRangeNotSatisfiable, first)
	}
	if start >= size {
		return nil, fmt.Errorf("%w: start %d beyond size %d", ErrRangeNotSatisfiable, start, size)
	}

	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("%w: bad end %q", ErrRangeNotSatisfiable, last)
		}
		if end >= size {
			end = size - 1
		}
	}

	return &ByteRange{Start: start, End: end, Size: size}, nil
}
