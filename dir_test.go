package swish_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ruffel/swish"
	"github.com/ruffel/swish/sshpath"
	"github.com/ruffel/swish/swishtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirIterator_ListsAndClosesItself(t *testing.T) {
	t.Parallel()

	e := newEngine()
	e.FS.WriteFile("/home/alice/a.txt", []byte("aa"), 0o644)
	e.FS.WriteFile("/home/alice/b.txt", []byte("b"), 0o600)
	e.FS.MkdirAll("/home/alice/src", 0o755)

	s, ch := openSFTP(t, e)

	it, err := ch.ReadDir(sshpath.New("/home/alice"))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Live(swishtest.KindDir))

	var names []string
	for it.Next() {
		names = append(names, it.Entry().Name)

		if it.Entry().Name == "src" {
			assert.True(t, it.Entry().Attributes.IsDir())
		}

		if it.Entry().Name == "a.txt" {
			assert.EqualValues(t, 2, it.Entry().Attributes.Size)
			assert.Contains(t, it.Entry().LongEntry, "a.txt")
		}
	}

	require.NoError(t, it.Err())
	assert.Equal(t, []string{".", "..", "a.txt", "b.txt", "src"}, names)

	// Reaching the end released the native handle.
	assert.Zero(t, e.Live(swishtest.KindDir))
	assert.False(t, it.Next())
	assert.Equal(t, swish.DirEntry{}, it.Entry())
	require.NoError(t, it.Close())

	require.NoError(t, ch.Close())
	require.NoError(t, s.Close())
}

func TestDirIterator_RestartByReopening(t *testing.T) {
	t.Parallel()

	e := newEngine()
	e.FS.WriteFile("/d/one", nil, 0o644)

	s, ch := openSFTP(t, e)

	first, err := ch.ReadDirAll(sshpath.New("/d"))
	require.NoError(t, err)

	second, err := ch.ReadDirAll(sshpath.New("/d"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, e.Allocated(swishtest.KindDir))

	require.NoError(t, ch.Close())
	require.NoError(t, s.Close())
}

func TestDirIterator_FailureEndsListing(t *testing.T) {
	t.Parallel()

	e := newEngine()
	e.FS.WriteFile("/d/one", nil, 0o644)

	s, ch := openSFTP(t, e)

	it, err := ch.ReadDir(sshpath.New("/d"))
	require.NoError(t, err)

	require.True(t, it.Next())
	e.Inject("dir.next", &swish.StatusError{Code: swish.StatusFailure, Message: "readdir failed"})
	require.False(t, it.Next())

	var sftpErr *swish.SFTPError
	require.ErrorAs(t, it.Err(), &sftpErr)
	assert.Equal(t, "/d", sftpErr.Path)
	assert.Equal(t, swish.StatusFailure, sftpErr.Code)
	assert.Zero(t, e.Live(swishtest.KindDir))

	require.NoError(t, it.Close())
	require.NoError(t, ch.Close())
	require.NoError(t, s.Close())
}

func TestDirIterator_TruncatesLongNames(t *testing.T) {
	t.Parallel()

	// 1023 ASCII bytes followed by a three-byte rune straddles the limit.
	long := strings.Repeat("x", swish.MaxFilenameLength-1) + "€" + "tail"

	e := newEngine()
	e.FS.WriteFile("/d/"+long, []byte("x"), 0o644)

	s, ch := openSFTP(t, e)

	entries, err := ch.ReadDirAll(sshpath.New("/d"))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	name := entries[2].Name
	assert.Equal(t, strings.Repeat("x", swish.MaxFilenameLength-1), name)
	assert.True(t, utf8.ValidString(name))

	longEntry := entries[2].LongEntry
	assert.LessOrEqual(t, len(longEntry), swish.MaxLongEntryLength)
	assert.True(t, utf8.ValidString(longEntry))

	require.NoError(t, ch.Close())
	require.NoError(t, s.Close())
}
