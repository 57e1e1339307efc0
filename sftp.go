package swish

import (
	"fmt"
	"os"

	"github.com/ruffel/swish/sshpath"
	"go.uber.org/zap"
)

// SFTPChannel is an SFTP sub-protocol running over a Session. Every call it
// makes takes the Session's lock; the channel has no lock of its own.
//
// A channel must be closed after every File and DirIterator opened from it,
// and before its Session.
type SFTPChannel struct {
	session *Session
	log     *zap.Logger

	// Guarded by session.lock.
	handle   SFTPHandle
	children int
	closed   bool
}

// OpenSFTP starts the SFTP sub-protocol. The session must be authenticated.
func (s *Session) OpenSFTP() (*SFTPChannel, error) {
	return WithLock(s, func(t Transport) (*SFTPChannel, error) {
		if !t.Authenticated() {
			return nil, logicError("open sftp", ErrNotAuthenticated)
		}

		h, err := t.OpenSFTP()
		if err != nil {
			return nil, sftpError("init", "", err)
		}

		s.children++
		s.log.Debug("sftp channel opened")

		return &SFTPChannel{
			session: s,
			log:     s.log.With(zap.String("channel", "sftp")),
			handle:  h,
		}, nil
	})
}

// sftpCall runs fn against the channel's handle under the session lock and
// annotates any native failure with op and path.
func sftpCall[R any](c *SFTPChannel, op string, path sshpath.Path, fn func(h SFTPHandle) (R, error)) (R, error) {
	r, err := WithLock(c.session, func(Transport) (R, error) {
		var zero R

		if c.closed {
			return zero, logicError("sftp "+op, ErrClosed)
		}

		r, err := fn(c.handle)
		if err != nil {
			return zero, sftpError(op, path.String(), err)
		}

		return r, nil
	})
	if err != nil {
		c.log.Debug("sftp operation failed", zap.String("op", op), zap.Stringer("path", path), zap.Error(err))
	}

	return r, err
}

func sftpDo(c *SFTPChannel, op string, path sshpath.Path, fn func(h SFTPHandle) error) error {
	_, err := sftpCall(c, op, path, func(h SFTPHandle) (struct{}, error) {
		return struct{}{}, fn(h)
	})

	return err
}

// OpenFile opens path with the given flags. mode applies when the file is
// created.
func (c *SFTPChannel) OpenFile(path sshpath.Path, flags OpenFlag, mode os.FileMode) (*File, error) {
	return sftpCall(c, "open", path, func(h SFTPHandle) (*File, error) {
		fh, err := h.Open(path.String(), flags, mode)
		if err != nil {
			return nil, err
		}

		c.children++

		return &File{channel: c, path: path, handle: fh}, nil
	})
}

// Open opens path for reading.
func (c *SFTPChannel) Open(path sshpath.Path) (*File, error) {
	return c.OpenFile(path, OpenRead, 0)
}

// Create opens path for writing, creating or truncating it.
func (c *SFTPChannel) Create(path sshpath.Path, mode os.FileMode) (*File, error) {
	return c.OpenFile(path, OpenWrite|OpenCreate|OpenTruncate, mode)
}

// ReadDir starts a listing of the directory at path.
func (c *SFTPChannel) ReadDir(path sshpath.Path) (*DirIterator, error) {
	return sftpCall(c, "opendir", path, func(h SFTPHandle) (*DirIterator, error) {
		dh, err := h.OpenDir(path.String())
		if err != nil {
			return nil, err
		}

		c.children++

		return &DirIterator{channel: c, path: path, handle: dh}, nil
	})
}

// ReadDirAll lists the directory at path in full.
func (c *SFTPChannel) ReadDirAll(path sshpath.Path) ([]DirEntry, error) {
	it, err := c.ReadDir(path)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var entries []DirEntry
	for it.Next() {
		entries = append(entries, it.Entry())
	}

	return entries, it.Err()
}

// Rename moves from to to. Without overwrite the rename fails if to exists.
func (c *SFTPChannel) Rename(from, to sshpath.Path, overwrite bool) error {
	err := sftpDo(c, "rename", from, func(h SFTPHandle) error {
		return h.Rename(from.String(), to.String(), overwrite)
	})
	if err == nil {
		c.log.Debug("renamed", zap.Stringer("from", from), zap.Stringer("to", to))
	}

	return err
}

// Remove unlinks the file at path.
func (c *SFTPChannel) Remove(path sshpath.Path) error {
	return sftpDo(c, "remove", path, func(h SFTPHandle) error {
		return h.Remove(path.String())
	})
}

// Mkdir creates a directory.
func (c *SFTPChannel) Mkdir(path sshpath.Path, mode os.FileMode) error {
	return sftpDo(c, "mkdir", path, func(h SFTPHandle) error {
		return h.Mkdir(path.String(), mode)
	})
}

// Rmdir removes an empty directory.
func (c *SFTPChannel) Rmdir(path sshpath.Path) error {
	return sftpDo(c, "rmdir", path, func(h SFTPHandle) error {
		return h.Rmdir(path.String())
	})
}

// Stat returns the attributes of path, following symbolic links.
func (c *SFTPChannel) Stat(path sshpath.Path) (Attributes, error) {
	return sftpCall(c, "stat", path, func(h SFTPHandle) (Attributes, error) {
		return h.Stat(path.String())
	})
}

// Lstat returns the attributes of path without following a final symbolic
// link.
func (c *SFTPChannel) Lstat(path sshpath.Path) (Attributes, error) {
	return sftpCall(c, "lstat", path, func(h SFTPHandle) (Attributes, error) {
		return h.Lstat(path.String())
	})
}

// SetStat applies the fields of attrs selected by attrs.Flags.
func (c *SFTPChannel) SetStat(path sshpath.Path, attrs Attributes) error {
	return sftpDo(c, "setstat", path, func(h SFTPHandle) error {
		return h.SetStat(path.String(), attrs)
	})
}

// Symlink creates link pointing at target.
func (c *SFTPChannel) Symlink(target, link sshpath.Path) error {
	return sftpDo(c, "symlink", link, func(h SFTPHandle) error {
		return h.Symlink(target.String(), link.String())
	})
}

// ReadLink returns the target of the symbolic link at path.
func (c *SFTPChannel) ReadLink(path sshpath.Path) (sshpath.Path, error) {
	return sftpCall(c, "readlink", path, func(h SFTPHandle) (sshpath.Path, error) {
		target, err := h.ReadLink(path.String())

		return sshpath.New(target), err
	})
}

// RealPath canonicalises path on the server.
func (c *SFTPChannel) RealPath(path sshpath.Path) (sshpath.Path, error) {
	return sftpCall(c, "realpath", path, func(h SFTPHandle) (sshpath.Path, error) {
		resolved, err := h.RealPath(path.String())

		return sshpath.New(resolved), err
	})
}

// Close shuts the sub-protocol down. It is refused while files or listings
// opened from this channel are still open. Shutdown errors are discarded.
func (c *SFTPChannel) Close() error {
	var err error

	c.session.locked(func() {
		if c.closed {
			return
		}

		if c.children > 0 {
			err = logicError("close sftp channel", fmt.Errorf("%w: %d still open", ErrLiveChildren, c.children))

			return
		}

		c.closed = true

		if shutdownErr := c.handle.Shutdown(); shutdownErr != nil {
			c.log.Debug("sftp shutdown failed", zap.Error(shutdownErr))
		}

		c.handle = nil
		c.session.release()
		c.log.Debug("sftp channel closed")
	})

	return err
}
