// Package utils holds small helpers shared by the transport and service
// layers. Nothing here knows about chats or messages.
package utils

import (
	"math"
	"strconv"
)

// AtoiDefault parses s as an int, returning def when s is empty or not a
// valid integer. Surrounding whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageQuery reads 0-based page and page_size query values. A missing page
// is 0 and a missing size is defSize. Garbage in either becomes an
// out-of-range number (-1 or 0) so the caller's range check rejects it
// instead of silently serving the first page.
func PageQuery(page, size string, defSize int) (int, int) {
	p := 0
	if page != "" {
		p = AtoiDefault(page, -1)
	}
	s := defSize
	if size != "" {
		s = AtoiDefault(size, 0)
	}
	return p, s
}

// PageInRange reports whether a 0-based page of size rows has a
// representable offset: page >= 0, size >= 1 and page*size fits in an int.
func PageInRange(page, size int) bool {
	return page >= 0 && size >= 1 && page <= math.MaxInt/size
}

// Offset is the row offset of a 0-based page. Check PageInRange first.
func Offset(page, size int) int {
	if page <= 0 || size <= 0 {
		return 0
	}
	return page * size
}
