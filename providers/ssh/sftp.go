package ssh

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/pkg/sftp"
	"github.com/ruffel/swish"
)

// OpenSFTP starts the sftp subsystem on the authenticated connection.
func (t *transport) OpenSFTP() (swish.SFTPHandle, error) {
	client := t.sshClient()
	if client == nil {
		return nil, errors.New("connection is not authenticated")
	}

	c, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}

	return &sftpHandle{client: c}, nil
}

var _ swish.SFTPHandle = (*sftpHandle)(nil)

// sftpHandle adapts *sftp.Client to swish.SFTPHandle.
type sftpHandle struct {
	client *sftp.Client
}

func (h *sftpHandle) Open(path string, flags swish.OpenFlag, mode os.FileMode) (swish.FileHandle, error) {
	// pkg/sftp has no create mode, so a file this call creates is chmod-ed
	// afterwards. Existing files keep their permissions.
	created := false

	if flags&swish.OpenCreate != 0 && mode != 0 {
		if _, err := h.client.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			created = true
		}
	}

	f, err := h.client.OpenFile(path, flags.OSFlags())
	if err != nil {
		return nil, statusError(err)
	}

	if created {
		if err := f.Chmod(mode); err != nil {
			_ = f.Close()

			return nil, statusError(err)
		}
	}

	return &fileHandle{file: f}, nil
}

// OpenDir reads the whole directory; pkg/sftp does not stream listings.
func (h *sftpHandle) OpenDir(path string) (swish.DirHandle, error) {
	infos, err := h.client.ReadDir(path)
	if err != nil {
		return nil, statusError(err)
	}

	return &dirHandle{entries: infos}, nil
}

func (h *sftpHandle) Rename(from, to string, overwrite bool) error {
	if overwrite {
		return statusError(h.client.PosixRename(from, to))
	}

	return statusError(h.client.Rename(from, to))
}

// Remove unlinks path. pkg/sftp's Remove falls back to removing
// directories, so those are refused here first.
func (h *sftpHandle) Remove(path string) error {
	fi, err := h.client.Lstat(path)
	if err != nil {
		return statusError(err)
	}

	if fi.IsDir() {
		return &swish.StatusError{Code: swish.StatusFailure, Message: "is a directory"}
	}

	return statusError(h.client.Remove(path))
}

func (h *sftpHandle) Mkdir(path string, mode os.FileMode) error {
	if err := h.client.Mkdir(path); err != nil {
		return statusError(err)
	}

	if mode == 0 {
		return nil
	}

	return statusError(h.client.Chmod(path, mode))
}

func (h *sftpHandle) Rmdir(path string) error {
	return statusError(h.client.RemoveDirectory(path))
}

func (h *sftpHandle) Stat(path string) (swish.Attributes, error) {
	fi, err := h.client.Stat(path)
	if err != nil {
		return swish.Attributes{}, statusError(err)
	}

	return attributes(fi), nil
}

func (h *sftpHandle) Lstat(path string) (swish.Attributes, error) {
	fi, err := h.client.Lstat(path)
	if err != nil {
		return swish.Attributes{}, statusError(err)
	}

	return attributes(fi), nil
}

// SetStat applies the fields attrs.Flags marks as valid, one request each.
func (h *sftpHandle) SetStat(path string, attrs swish.Attributes) error {
	if attrs.Has(swish.AttrSize) {
		if err := h.client.Truncate(path, int64(attrs.Size)); err != nil { //nolint:gosec // sizes fit in int64
			return statusError(err)
		}
	}

	if attrs.Has(swish.AttrUIDGID) {
		if err := h.client.Chown(path, int(attrs.UID), int(attrs.GID)); err != nil {
			return statusError(err)
		}
	}

	if attrs.Has(swish.AttrPermissions) {
		if err := h.client.Chmod(path, attrs.Mode); err != nil {
			return statusError(err)
		}
	}

	if attrs.Has(swish.AttrTimes) {
		if err := h.client.Chtimes(path, attrs.AccessTime, attrs.ModTime); err != nil {
			return statusError(err)
		}
	}

	return nil
}

func (h *sftpHandle) Symlink(target, link string) error {
	return statusError(h.client.Symlink(target, link))
}

func (h *sftpHandle) ReadLink(path string) (string, error) {
	target, err := h.client.ReadLink(path)

	return target, statusError(err)
}

func (h *sftpHandle) RealPath(path string) (string, error) {
	resolved, err := h.client.RealPath(path)

	return resolved, statusError(err)
}

func (h *sftpHandle) Shutdown() error {
	return h.client.Close()
}

// fileHandle adapts *sftp.File to swish.FileHandle.
type fileHandle struct {
	file *sftp.File
}

func (f *fileHandle) Read(p []byte) (int, error) {
	n, err := f.file.Read(p)

	return n, statusError(err)
}

func (f *fileHandle) Write(p []byte) (int, error) {
	n, err := f.file.Write(p)

	return n, statusError(err)
}

func (f *fileHandle) Seek(offset int64, whence int) (int64, error) {
	n, err := f.file.Seek(offset, whence)

	return n, statusError(err)
}

func (f *fileHandle) Fstat() (swish.Attributes, error) {
	fi, err := f.file.Stat()
	if err != nil {
		return swish.Attributes{}, statusError(err)
	}

	return attributes(fi), nil
}

func (f *fileHandle) Close() error {
	return statusError(f.file.Close())
}

// dirHandle serves a listing pkg/sftp has already read in full.
type dirHandle struct {
	entries []os.FileInfo
	next    int
}

func (d *dirHandle) Next() (string, string, swish.Attributes, error) {
	if d.next >= len(d.entries) {
		return "", "", swish.Attributes{}, io.EOF
	}

	fi := d.entries[d.next]
	d.next++

	return fi.Name(), longEntry(fi), attributes(fi), nil
}

func (d *dirHandle) Close() error {
	d.entries = nil

	return nil
}

// statusError converts pkg/sftp failures to *swish.StatusError. pkg/sftp
// turns some statuses into fs errors, which are mapped back here. End of
// file stays io.EOF.
func statusError(err error) error {
	var se *sftp.StatusError

	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return &swish.StatusError{Code: swish.StatusCode(se.Code), Message: err.Error()}
	case errors.Is(err, io.EOF):
		return io.EOF
	case errors.Is(err, fs.ErrNotExist):
		return &swish.StatusError{Code: swish.StatusNoSuchFile, Message: err.Error()}
	case errors.Is(err, fs.ErrPermission):
		return &swish.StatusError{Code: swish.StatusPermissionDenied, Message: err.Error()}
	case errors.Is(err, fs.ErrExist):
		return &swish.StatusError{Code: swish.StatusFileAlreadyExists, Message: err.Error()}
	default:
		return err
	}
}

func attributes(fi os.FileInfo) swish.Attributes {
	a := swish.Attributes{
		Flags:      swish.AttrSize | swish.AttrPermissions | swish.AttrTimes,
		Size:       uint64(fi.Size()), //nolint:gosec // sizes are never negative
		Mode:       fi.Mode(),
		AccessTime: fi.ModTime(),
		ModTime:    fi.ModTime(),
	}

	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		a.Flags |= swish.AttrUIDGID
		a.UID, a.GID = st.UID, st.GID
		a.AccessTime = time.Unix(int64(st.Atime), 0)
	}

	return a
}

// sixMonths is when ls switches from showing the time to showing the year.
const sixMonths = 182 * 24 * time.Hour

// longEntry renders fi the way "ls -l" does. pkg/sftp does not expose the
// long name the server sent.
func longEntry(fi os.FileInfo) string {
	var uid, gid uint32
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		uid, gid = st.UID, st.GID
	}

	layout := "Jan _2 15:04"
	if time.Since(fi.ModTime()) > sixMonths {
		layout = "Jan _2  2006"
	}

	return fmt.Sprintf("%c%s %4d %-8d %-8d %8d %s %s",
		typeChar(fi.Mode()), fi.Mode().Perm().String()[1:], 1, uid, gid, fi.Size(), fi.ModTime().Format(layout), fi.Name())
}

func typeChar(m os.FileMode) rune {
	switch {
	case m.IsDir():
		return 'd'
	case m&os.ModeSymlink != 0:
		return 'l'
	case m&os.ModeNamedPipe != 0:
		return 'p'
	case m&os.ModeSocket != 0:
		return 's'
	case m&os.ModeCharDevice != 0:
		return 'c'
	case m&os.ModeDevice != 0:
		return 'b'
	default:
		return '-'
	}
}
