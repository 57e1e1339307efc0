package swishtest

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ruffel/swish"
)

const maxLinkDepth = 32

type node struct {
	mode   os.FileMode
	data   []byte
	target string
	uid    uint32
	gid    uint32
	atime  time.Time
	mtime  time.Time
}

func (n *node) attributes() swish.Attributes {
	return swish.Attributes{
		Flags:      swish.AttrSize | swish.AttrUIDGID | swish.AttrPermissions | swish.AttrTimes,
		Size:       uint64(len(n.data)),
		UID:        n.uid,
		GID:        n.gid,
		Mode:       n.mode,
		AccessTime: n.atime,
		ModTime:    n.mtime,
	}
}

// FS is the in-memory filesystem behind the fake SFTP server. Paths are
// absolute and cleaned; relative paths resolve against "/".
type FS struct {
	mu    sync.Mutex
	nodes map[string]*node
	now   func() time.Time
}

// NewFS returns a filesystem containing only the root directory.
func NewFS() *FS {
	now := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	return &FS{
		nodes: map[string]*node{
			"/": {mode: fs.ModeDir | 0o755, atime: now(), mtime: now()},
		},
		now: now,
	}
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func status(code swish.StatusCode, format string, args ...any) error {
	return &swish.StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// MkdirAll creates dir and any missing parents.
func (f *FS) MkdirAll(dir string, mode os.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := clean(dir)
	for _, d := range ancestors(p) {
		if _, ok := f.nodes[d]; !ok {
			f.nodes[d] = &node{mode: fs.ModeDir | mode.Perm(), atime: f.now(), mtime: f.now()}
		}
	}
}

// WriteFile creates or replaces a regular file, creating parent directories.
func (f *FS) WriteFile(name string, data []byte, mode os.FileMode) {
	p := clean(name)
	f.MkdirAll(path.Dir(p), 0o755)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nodes[p] = &node{mode: mode.Perm(), data: slices.Clone(data), atime: f.now(), mtime: f.now()}
}

// ReadFile returns the contents of a regular file.
func (f *FS) ReadFile(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[clean(name)]
	if !ok || !n.mode.IsRegular() {
		return nil, false
	}

	return slices.Clone(n.data), true
}

// Exists reports whether anything is at name, without following links.
func (f *FS) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.nodes[clean(name)]

	return ok
}

// ancestors lists p and its parents, root first.
func ancestors(p string) []string {
	var out []string

	for d := p; ; d = path.Dir(d) {
		out = append(out, d)
		if d == "/" {
			break
		}
	}

	slices.Reverse(out)

	return out
}

// resolve follows symbolic links in every component of p, and in the last
// one only when followLast is set. When nothing exists at the resolved
// location the path it would have is still returned. Must hold mu.
func (f *FS) resolve(p string, followLast bool) (string, *node, error) {
	return f.walk(clean(p), followLast, 0)
}

func (f *FS) walk(p string, followLast bool, depth int) (string, *node, error) {
	if depth > maxLinkDepth {
		return "", nil, status(swish.StatusLinkLoop, "too many levels of symbolic links")
	}

	var comps []string
	if p != "/" {
		comps = strings.Split(strings.TrimPrefix(p, "/"), "/")
	}

	cur := "/"

	for i, c := range comps {
		next := path.Join(cur, c)
		last := i == len(comps)-1

		n, ok := f.nodes[next]
		if !ok {
			return path.Join(append([]string{next}, comps[i+1:]...)...), nil, status(swish.StatusNoSuchFile, "no such file")
		}

		if n.mode&os.ModeSymlink != 0 && (!last || followLast) {
			target := n.target
			if !path.IsAbs(target) {
				target = path.Join(cur, target)
			}

			resolved, _, err := f.walk(clean(target), true, depth+1)
			if err != nil {
				return resolved, nil, err
			}

			cur = resolved

			continue
		}

		if !last && !n.mode.IsDir() {
			return "", nil, status(swish.StatusNotADirectory, "not a directory")
		}

		cur = next
	}

	return cur, f.nodes[cur], nil
}

// parentDir checks that the parent of p exists and is a directory. Must
// hold mu.
func (f *FS) parentDir(p string) error {
	parent, ok := f.nodes[path.Dir(p)]
	if !ok {
		return status(swish.StatusNoSuchPath, "no such path")
	}

	if !parent.mode.IsDir() {
		return status(swish.StatusNotADirectory, "not a directory")
	}

	return nil
}

// children lists the names directly under dir, sorted. Must hold mu.
func (f *FS) children(dir string) []string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}

	var names []string

	for p := range f.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}

		rest := p[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}

	slices.Sort(names)

	return names
}

func longEntry(name string, n *node) string {
	return fmt.Sprintf("%s %4d %-8d %-8d %8d %s %s",
		n.mode, 1, n.uid, n.gid, len(n.data), n.mtime.Format("Jan _2 15:04"), name)
}
