package swishtest

import (
	"io"
	"io/fs"
	"os"
	"path"
	"slices"

	"github.com/ruffel/swish"
)

type sftpHandle struct {
	transport *transport
	shutdown  bool
	children  int
}

func (h *sftpHandle) engine() *Engine { return h.transport.engine }

func (h *sftpHandle) call(op string) (func(), error) {
	done, err := h.engine().enter("sftp." + op)
	if h.shutdown {
		h.engine().violate("sftp.%s after shutdown", op)
	}

	return done, err
}

func (h *sftpHandle) Open(name string, flags swish.OpenFlag, mode os.FileMode) (swish.FileHandle, error) {
	done, err := h.call("open")
	defer done()

	if err != nil {
		return nil, err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	p, n, err := fsys.resolve(name, true)

	switch {
	case err == nil && flags&swish.OpenCreate != 0 && flags&swish.OpenExclusive != 0:
		return nil, status(swish.StatusFileAlreadyExists, "file exists")
	case err == nil:
	case flags&swish.OpenCreate == 0:
		return nil, err
	default:
		if perr := fsys.parentDir(p); perr != nil {
			return nil, perr
		}

		n = &node{mode: mode.Perm(), atime: fsys.now(), mtime: fsys.now()}
		fsys.nodes[p] = n
	}

	if n.mode.IsDir() {
		return nil, status(swish.StatusFailure, "is a directory")
	}

	writing := flags&(swish.OpenWrite|swish.OpenAppend) != 0
	if writing && n.mode.Perm()&0o200 == 0 {
		return nil, status(swish.StatusPermissionDenied, "permission denied")
	}

	if flags&swish.OpenTruncate != 0 {
		n.data = nil
	}

	h.engine().alloc(KindFile)
	h.children++

	return &fileHandle{sftp: h, node: n, append: flags&swish.OpenAppend != 0}, nil
}

func (h *sftpHandle) OpenDir(name string) (swish.DirHandle, error) {
	done, err := h.call("opendir")
	defer done()

	if err != nil {
		return nil, err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	p, n, err := fsys.resolve(name, true)
	if err != nil {
		return nil, err
	}

	if !n.mode.IsDir() {
		return nil, status(swish.StatusNotADirectory, "not a directory")
	}

	entries := []dirEntry{
		{name: ".", long: longEntry(".", n), attrs: n.attributes()},
	}

	parent := fsys.nodes[path.Dir(p)]
	entries = append(entries, dirEntry{name: "..", long: longEntry("..", parent), attrs: parent.attributes()})

	for _, name := range fsys.children(p) {
		c := fsys.nodes[path.Join(p, name)]
		entries = append(entries, dirEntry{name: name, long: longEntry(name, c), attrs: c.attributes()})
	}

	h.engine().alloc(KindDir)
	h.children++

	return &dirHandle{sftp: h, entries: entries}, nil
}

func (h *sftpHandle) Rename(from, to string, overwrite bool) error {
	done, err := h.call("rename")
	defer done()

	if err != nil {
		return err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	src, dst := clean(from), clean(to)

	if _, ok := fsys.nodes[src]; !ok {
		return status(swish.StatusNoSuchFile, "no such file")
	}

	if _, ok := fsys.nodes[dst]; ok && !overwrite {
		return status(swish.StatusFileAlreadyExists, "file exists")
	}

	if err := fsys.parentDir(dst); err != nil {
		return err
	}

	moved := map[string]*node{}

	for p, n := range fsys.nodes {
		if p == src || (len(p) > len(src) && p[:len(src)+1] == src+"/") {
			moved[dst+p[len(src):]] = n
			delete(fsys.nodes, p)
		}
	}

	for p, n := range moved {
		fsys.nodes[p] = n
	}

	return nil
}

func (h *sftpHandle) Remove(name string) error {
	done, err := h.call("remove")
	defer done()

	if err != nil {
		return err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	p, n, err := fsys.resolve(name, false)
	if err != nil {
		return err
	}

	if n.mode.IsDir() {
		return status(swish.StatusFailure, "is a directory")
	}

	delete(fsys.nodes, p)

	return nil
}

func (h *sftpHandle) Mkdir(name string, mode os.FileMode) error {
	done, err := h.call("mkdir")
	defer done()

	if err != nil {
		return err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	p := clean(name)
	if _, ok := fsys.nodes[p]; ok {
		return status(swish.StatusFileAlreadyExists, "file exists")
	}

	if err := fsys.parentDir(p); err != nil {
		return err
	}

	fsys.nodes[p] = &node{mode: fs.ModeDir | mode.Perm(), atime: fsys.now(), mtime: fsys.now()}

	return nil
}

func (h *sftpHandle) Rmdir(name string) error {
	done, err := h.call("rmdir")
	defer done()

	if err != nil {
		return err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	p, n, err := fsys.resolve(name, false)
	if err != nil {
		return err
	}

	if !n.mode.IsDir() {
		return status(swish.StatusNotADirectory, "not a directory")
	}

	if len(fsys.children(p)) > 0 {
		return status(swish.StatusDirNotEmpty, "directory not empty")
	}

	delete(fsys.nodes, p)

	return nil
}

func (h *sftpHandle) stat(op, name string, follow bool) (swish.Attributes, error) {
	done, err := h.call(op)
	defer done()

	if err != nil {
		return swish.Attributes{}, err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	_, n, err := fsys.resolve(name, follow)
	if err != nil {
		return swish.Attributes{}, err
	}

	return n.attributes(), nil
}

func (h *sftpHandle) Stat(name string) (swish.Attributes, error) {
	return h.stat("stat", name, true)
}

func (h *sftpHandle) Lstat(name string) (swish.Attributes, error) {
	return h.stat("lstat", name, false)
}

func (h *sftpHandle) SetStat(name string, attrs swish.Attributes) error {
	done, err := h.call("setstat")
	defer done()

	if err != nil {
		return err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	_, n, err := fsys.resolve(name, true)
	if err != nil {
		return err
	}

	if attrs.Has(swish.AttrSize) {
		size := int(attrs.Size)
		if size <= len(n.data) {
			n.data = n.data[:size]
		} else {
			n.data = append(n.data, make([]byte, size-len(n.data))...)
		}
	}

	if attrs.Has(swish.AttrUIDGID) {
		n.uid, n.gid = attrs.UID, attrs.GID
	}

	if attrs.Has(swish.AttrPermissions) {
		n.mode = n.mode.Type() | attrs.Mode.Perm()
	}

	if attrs.Has(swish.AttrTimes) {
		n.atime, n.mtime = attrs.AccessTime, attrs.ModTime
	}

	return nil
}

func (h *sftpHandle) Symlink(target, link string) error {
	done, err := h.call("symlink")
	defer done()

	if err != nil {
		return err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	p := clean(link)
	if _, ok := fsys.nodes[p]; ok {
		return status(swish.StatusFileAlreadyExists, "file exists")
	}

	if err := fsys.parentDir(p); err != nil {
		return err
	}

	fsys.nodes[p] = &node{mode: os.ModeSymlink | 0o777, target: target, atime: fsys.now(), mtime: fsys.now()}

	return nil
}

func (h *sftpHandle) ReadLink(name string) (string, error) {
	done, err := h.call("readlink")
	defer done()

	if err != nil {
		return "", err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	_, n, err := fsys.resolve(name, false)
	if err != nil {
		return "", err
	}

	if n.mode&os.ModeSymlink == 0 {
		return "", status(swish.StatusFailure, "not a symbolic link")
	}

	return n.target, nil
}

func (h *sftpHandle) RealPath(name string) (string, error) {
	done, err := h.call("realpath")
	defer done()

	if err != nil {
		return "", err
	}

	fsys := h.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	p, _, err := fsys.resolve(name, true)
	if err != nil {
		return "", err
	}

	return p, nil
}

func (h *sftpHandle) Shutdown() error {
	done, _ := h.engine().enter("sftp.shutdown")
	defer done()

	if h.shutdown {
		h.engine().violate("sftp shut down twice")

		return nil
	}

	if h.children > 0 {
		h.engine().violate("sftp shut down with %d live handles", h.children)
	}

	h.shutdown = true
	h.transport.children--
	h.engine().free(KindSFTP)

	return nil
}

type fileHandle struct {
	sftp   *sftpHandle
	node   *node
	offset int64
	append bool
	closed bool
}

func (f *fileHandle) call(op string) (func(), error) {
	done, err := f.sftp.engine().enter("file." + op)
	if f.closed {
		f.sftp.engine().violate("file.%s after close", op)
	}

	return done, err
}

func (f *fileHandle) Read(p []byte) (int, error) {
	done, err := f.call("read")
	defer done()

	if err != nil {
		return 0, err
	}

	fsys := f.sftp.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	if f.offset >= int64(len(f.node.data)) {
		return 0, status(swish.StatusEOF, "end of file")
	}

	n := copy(p, f.node.data[f.offset:])
	f.offset += int64(n)

	return n, nil
}

func (f *fileHandle) Write(p []byte) (int, error) {
	done, err := f.call("write")
	defer done()

	if err != nil {
		return 0, err
	}

	fsys := f.sftp.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	if f.append {
		f.offset = int64(len(f.node.data))
	}

	end := f.offset + int64(len(p))
	if end > int64(len(f.node.data)) {
		f.node.data = append(f.node.data, make([]byte, end-int64(len(f.node.data)))...)
	}

	copy(f.node.data[f.offset:], p)
	f.offset = end
	f.node.mtime = fsys.now()

	return len(p), nil
}

func (f *fileHandle) Seek(offset int64, whence int) (int64, error) {
	done, err := f.call("seek")
	defer done()

	if err != nil {
		return 0, err
	}

	fsys := f.sftp.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	var base int64

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.offset
	case io.SeekEnd:
		base = int64(len(f.node.data))
	default:
		return f.offset, status(swish.StatusBadMessage, "bad whence %d", whence)
	}

	if base+offset < 0 {
		return f.offset, status(swish.StatusFailure, "negative offset")
	}

	f.offset = base + offset

	return f.offset, nil
}

func (f *fileHandle) Fstat() (swish.Attributes, error) {
	done, err := f.call("fstat")
	defer done()

	if err != nil {
		return swish.Attributes{}, err
	}

	fsys := f.sftp.engine().FS
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	return f.node.attributes(), nil
}

func (f *fileHandle) Close() error {
	done, err := f.sftp.engine().enter("file.close")
	defer done()

	if f.closed {
		f.sftp.engine().violate("file closed twice")

		return nil
	}

	f.closed = true
	f.sftp.children--
	f.sftp.engine().free(KindFile)

	return err
}

type dirEntry struct {
	name  string
	long  string
	attrs swish.Attributes
}

type dirHandle struct {
	sftp    *sftpHandle
	entries []dirEntry
	closed  bool
}

func (d *dirHandle) Next() (string, string, swish.Attributes, error) {
	done, err := d.sftp.engine().enter("dir.next")
	defer done()

	if d.closed {
		d.sftp.engine().violate("dir.next after close")
	}

	if err != nil {
		return "", "", swish.Attributes{}, err
	}

	if len(d.entries) == 0 {
		return "", "", swish.Attributes{}, io.EOF
	}

	e := d.entries[0]
	d.entries = slices.Delete(d.entries, 0, 1)

	return e.name, e.long, e.attrs, nil
}

func (d *dirHandle) Close() error {
	done, _ := d.sftp.engine().enter("dir.close")
	defer done()

	if d.closed {
		d.sftp.engine().violate("dir closed twice")

		return nil
	}

	d.closed = true
	d.sftp.children--
	d.sftp.engine().free(KindDir)

	return nil
}
