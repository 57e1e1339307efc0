package sshpath

import "strings"

// Iterator is a bidirectional cursor over the segments of a Path.
//
// Positions are byte offsets into the path string: the root segment sits at
// 0, a normal segment at its first byte, the trailing "." segment at the
// first byte of the trailing separator run, and End at len(path).
//
// Moving past either end panics; callers compare against Begin/End first.
type Iterator struct {
	s   string
	pos int
}

// Equal reports whether both iterators address the same segment of the
// same path string.
func (it Iterator) Equal(other Iterator) bool {
	return it.s == other.s && it.pos == other.pos
}

// Segment returns the segment under the cursor, or "" at End.
func (it Iterator) Segment() string {
	s, pos := it.s, it.pos

	switch {
	case pos >= len(s):
		return ""
	case s[pos] == Separator && pos == 0:
		return "/"
	case s[pos] == Separator:
		return "."
	}

	end := strings.IndexByte(s[pos:], Separator)
	if end < 0 {
		return s[pos:]
	}

	return s[pos : pos+end]
}

// Next returns an iterator on the following segment.
func (it Iterator) Next() Iterator {
	s, pos := it.s, it.pos

	if pos >= len(s) {
		panic("sshpath: Next called on end iterator")
	}

	// Root, or the trailing "." marker.
	if s[pos] == Separator {
		if pos != 0 {
			return Iterator{s: s, pos: len(s)}
		}

		k := skipSeparators(s, 0)

		return Iterator{s: s, pos: k}
	}

	j := strings.IndexByte(s[pos:], Separator)
	if j < 0 {
		return Iterator{s: s, pos: len(s)}
	}

	j += pos
	if k := skipSeparators(s, j); k < len(s) {
		return Iterator{s: s, pos: k}
	}

	// Separators run to the end: the "." marker lives at the first of them.
	return Iterator{s: s, pos: j}
}

// Prev returns an iterator on the preceding segment.
func (it Iterator) Prev() Iterator {
	s, pos := it.s, it.pos

	if pos == 0 {
		panic("sshpath: Prev called on begin iterator")
	}

	if pos >= len(s) {
		if s[len(s)-1] != Separator {
			return Iterator{s: s, pos: segmentStart(s, len(s))}
		}

		i := len(s)
		for i > 0 && s[i-1] == Separator {
			i--
		}

		// All separators: only the root remains.
		return Iterator{s: s, pos: i}
	}

	if s[pos] == Separator {
		// Trailing "." marker follows the last normal segment.
		return Iterator{s: s, pos: segmentStart(s, pos)}
	}

	i := pos
	for i > 0 && s[i-1] == Separator {
		i--
	}

	if i == 0 {
		return Iterator{s: s, pos: 0}
	}

	return Iterator{s: s, pos: segmentStart(s, i)}
}

// skipSeparators returns the index of the first non-separator at or after i.
func skipSeparators(s string, i int) int {
	for i < len(s) && s[i] == Separator {
		i++
	}

	return i
}

// segmentStart returns the start of the normal segment that ends at end.
func segmentStart(s string, end int) int {
	return strings.LastIndexByte(s[:end], Separator) + 1
}
