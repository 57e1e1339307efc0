package swish

import (
	"errors"
	"io"

	"github.com/ruffel/swish/sshpath"
	"go.uber.org/zap"
)

var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.Closer          = (*File)(nil)
)

// File is an open remote file. It must be closed before its SFTPChannel.
type File struct {
	channel *SFTPChannel
	path    sshpath.Path

	// Guarded by channel.session.lock.
	handle FileHandle
	closed bool
}

// Path returns the path the file was opened with.
func (f *File) Path() sshpath.Path {
	return f.path
}

func (f *File) do(op string, fn func(h FileHandle) error) error {
	return f.channel.session.Do(func(Transport) error {
		if f.closed {
			return logicError(op, ErrClosed)
		}

		return fn(f.handle)
	})
}

// ioError maps a native read/write failure. End of file is reported as
// io.EOF whichever way the engine signalled it.
func (f *File) ioError(op string, err error) error {
	var se *StatusError

	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return io.EOF
	case errors.As(err, &se) && se.Code == StatusEOF:
		return io.EOF
	case IsLogicError(err):
		return err
	default:
		return sftpError(op, f.path.String(), err)
	}
}

func (f *File) Read(p []byte) (int, error) {
	var n int

	err := f.do("read", func(h FileHandle) error {
		var err error
		n, err = h.Read(p)

		return err
	})

	return n, f.ioError("read", err)
}

func (f *File) Write(p []byte) (int, error) {
	var n int

	err := f.do("write", func(h FileHandle) error {
		var err error
		n, err = h.Write(p)

		return err
	})

	return n, f.ioError("write", err)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	var pos int64

	err := f.do("seek", func(h FileHandle) error {
		var err error
		pos, err = h.Seek(offset, whence)

		return err
	})
	if err != nil && !IsLogicError(err) {
		err = sftpError("seek", f.path.String(), err)
	}

	return pos, err
}

// Stat returns the attributes of the open file.
func (f *File) Stat() (Attributes, error) {
	var attrs Attributes

	err := f.do("fstat", func(h FileHandle) error {
		var err error
		attrs, err = h.Fstat()

		return err
	})
	if err != nil && !IsLogicError(err) {
		err = sftpError("fstat", f.path.String(), err)
	}

	return attrs, err
}

// Close releases the file. Native close errors are discarded. Closing twice
// is a no-op.
func (f *File) Close() error {
	f.channel.session.locked(func() {
		if f.closed {
			return
		}

		f.closed = true

		if err := f.handle.Close(); err != nil {
			f.channel.log.Debug("file close failed", zap.Stringer("path", f.path), zap.Error(err))
		}

		f.handle = nil
		f.channel.children--
	})

	return nil
}
