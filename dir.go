package swish

import (
	"errors"
	"io"
	"unicode/utf8"

	"github.com/ruffel/swish/sshpath"
	"go.uber.org/zap"
)

// Listing buffers are fixed. Longer names and long entries are cut at the
// last UTF-8 rune boundary that fits; the cut is silent.
const (
	MaxFilenameLength  = 1024
	MaxLongEntryLength = 1024
)

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name       string
	LongEntry  string // ls -l style line as produced by the server
	Attributes Attributes
}

// DirIterator is a forward-only directory listing. It closes itself when
// the listing ends or fails; to start over, call ReadDir again.
//
//	it, err := ch.ReadDir(dir)
//	...
//	defer it.Close()
//	for it.Next() {
//		e := it.Entry()
//	}
//	if err := it.Err(); err != nil { ... }
type DirIterator struct {
	channel *SFTPChannel
	path    sshpath.Path

	entry DirEntry
	err   error
	done  bool

	// Guarded by channel.session.lock.
	handle DirHandle
	closed bool
}

// Next advances to the next entry and reports whether there is one.
func (it *DirIterator) Next() bool {
	if it.done {
		return false
	}

	err := it.channel.session.Do(func(Transport) error {
		if it.closed {
			return logicError("readdir", ErrClosed)
		}

		name, long, attrs, err := it.handle.Next()
		if err != nil {
			it.closeLocked()

			return err
		}

		it.entry = DirEntry{
			Name:       truncateUTF8(name, MaxFilenameLength),
			LongEntry:  truncateUTF8(long, MaxLongEntryLength),
			Attributes: attrs,
		}

		return nil
	})

	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF):
	case IsLogicError(err):
		it.err = err
	default:
		it.err = sftpError("readdir", it.path.String(), err)
	}

	it.done = true
	it.entry = DirEntry{}

	return false
}

// Entry returns the entry Next moved to.
func (it *DirIterator) Entry() DirEntry {
	return it.entry
}

// Err returns the error that ended the listing, if any.
func (it *DirIterator) Err() error {
	return it.err
}

// Close releases the listing. It is safe to call after the listing ended.
func (it *DirIterator) Close() error {
	it.done = true
	it.channel.session.locked(it.closeLocked)

	return nil
}

func (it *DirIterator) closeLocked() {
	if it.closed {
		return
	}

	it.closed = true

	if err := it.handle.Close(); err != nil {
		it.channel.log.Debug("closedir failed", zap.Stringer("path", it.path), zap.Error(err))
	}

	it.handle = nil
	it.channel.children--
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	i := limit
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}

	return s[:i]
}
