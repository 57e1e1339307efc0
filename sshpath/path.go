// Package sshpath provides an immutable, POSIX-style path value for remote
// (SFTP) file systems.
//
// A Path is a UTF-8 byte string interpreted as a sequence of segments:
//
//   - a leading "/" is kept as the root segment "/";
//   - every other run of "/" is a single separator;
//   - a trailing run of "/" yields a final "." segment.
//
// So "/a//b/" has the segments "/", "a", "b", ".". Every derived operation
// (ParentPath, Filename, RelativePath, Join, comparison) is defined in terms
// of the bidirectional segment Iterator so they always agree with iteration.
//
// Paths are not normalised: "." and ".." segments are kept as written.
package sshpath

import (
	"iter"
	"strings"
)

// Separator is the only path separator understood by this package.
const Separator = '/'

// Path is an immutable remote path. The zero value is the empty path.
type Path struct {
	s string
}

// New wraps s as a Path. No validation or cleaning takes place.
func New(s string) Path {
	return Path{s: s}
}

// String returns the path exactly as it was constructed.
func (p Path) String() string {
	return p.s
}

// IsEmpty reports whether the path has no segments.
func (p Path) IsEmpty() bool {
	return p.s == ""
}

// IsAbsolute reports whether the path starts at the root.
func (p Path) IsAbsolute() bool {
	return strings.HasPrefix(p.s, "/")
}

// HasRootPath is an alias of IsAbsolute, kept for symmetry with RootPath.
func (p Path) HasRootPath() bool {
	return p.IsAbsolute()
}

// RootPath returns "/" for absolute paths and the empty path otherwise.
func (p Path) RootPath() Path {
	if p.IsAbsolute() {
		return New("/")
	}

	return Path{}
}

// Begin returns an iterator positioned on the first segment. For the empty
// path Begin equals End.
func (p Path) Begin() Iterator {
	return Iterator{s: p.s, pos: 0}
}

// End returns the past-the-end iterator.
func (p Path) End() Iterator {
	return Iterator{s: p.s, pos: len(p.s)}
}

// Segments returns every segment in order.
func (p Path) Segments() []string {
	var out []string
	for seg := range p.All() {
		out = append(out, seg)
	}

	return out
}

// All yields the segments front to back.
func (p Path) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		end := p.End()
		for it := p.Begin(); !it.Equal(end); it = it.Next() {
			if !yield(it.Segment()) {
				return
			}
		}
	}
}

// Backward yields the segments back to front.
func (p Path) Backward() iter.Seq[string] {
	return func(yield func(string) bool) {
		begin := p.Begin()
		for it := p.End(); !it.Equal(begin); {
			it = it.Prev()
			if !yield(it.Segment()) {
				return
			}
		}
	}
}

// lastSegment returns an iterator on the final segment. ok is false for
// the empty path.
func (p Path) lastSegment() (Iterator, bool) {
	if p.IsEmpty() {
		return Iterator{}, false
	}

	return p.End().Prev(), true
}

// Filename returns the final segment: "b" for "/a/b", "." for "/a/b/",
// "/" for "/".
func (p Path) Filename() Path {
	last, ok := p.lastSegment()
	if !ok {
		return Path{}
	}

	return New(last.Segment())
}

// HasFilename reports whether Filename is non-empty.
func (p Path) HasFilename() bool {
	return !p.Filename().IsEmpty()
}

// ParentPath returns the path with its final segment removed. Separators
// that would be left dangling are dropped, except that the root is kept.
func (p Path) ParentPath() Path {
	last, ok := p.lastSegment()
	if !ok || last.pos == 0 {
		return Path{}
	}

	parent := p.s[:last.pos]
	for len(parent) > 1 && parent[len(parent)-1] == Separator {
		parent = parent[:len(parent)-1]
	}

	return New(parent)
}

// HasParentPath reports whether ParentPath is non-empty.
func (p Path) HasParentPath() bool {
	return !p.ParentPath().IsEmpty()
}

// RelativePath returns the path with the root segment removed.
func (p Path) RelativePath() Path {
	if !p.IsAbsolute() {
		return p
	}

	it := p.Begin().Next()

	return New(p.s[it.pos:])
}

// Stem returns the filename without its extension.
func (p Path) Stem() string {
	name := p.Filename().String()
	if name == "." || name == ".." || name == "/" {
		return name
	}

	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}

	return name
}

// Extension returns the filename's extension including the dot, or "".
func (p Path) Extension() string {
	name := p.Filename().String()
	if name == "." || name == ".." || name == "/" {
		return ""
	}

	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}

	return ""
}

// Join appends each element in turn. One trailing separator of the left
// operand and one leading separator of the right operand are dropped before
// they are joined with exactly one separator, so repeated joins do not pile
// up separators.
func (p Path) Join(elems ...Path) Path {
	out := p
	for _, e := range elems {
		out = out.join(e)
	}

	return out
}

// JoinString is Join for plain strings.
func (p Path) JoinString(elems ...string) Path {
	out := p
	for _, e := range elems {
		out = out.join(New(e))
	}

	return out
}

func (p Path) join(rhs Path) Path {
	switch {
	case rhs.IsEmpty():
		return p
	case p.IsEmpty():
		return rhs
	}

	left := strings.TrimSuffix(p.s, "/")
	right := strings.TrimPrefix(rhs.s, "/")

	return New(left + "/" + right)
}

// Compare orders paths segment by segment. When one segment sequence is a
// strict prefix of the other the shorter one sorts first. The result is -1,
// 0 or +1.
func (p Path) Compare(other Path) int {
	a, aEnd := p.Begin(), p.End()
	b, bEnd := other.Begin(), other.End()

	for !a.Equal(aEnd) && !b.Equal(bEnd) {
		if c := strings.Compare(a.Segment(), b.Segment()); c != 0 {
			return c
		}

		a, b = a.Next(), b.Next()
	}

	switch {
	case a.Equal(aEnd) && b.Equal(bEnd):
		return 0
	case a.Equal(aEnd):
		return -1
	default:
		return 1
	}
}

// Equal reports whether both paths have the same segment sequence.
func (p Path) Equal(other Path) bool {
	return p.Compare(other) == 0
}

// Less reports whether p sorts before other.
func (p Path) Less(other Path) bool {
	return p.Compare(other) < 0
}
