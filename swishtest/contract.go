// Package swishtest provides an in-memory engine for testing code built on
// swish, and a contract test suite for engine implementations.
package swishtest

import (
	"errors"
	"io"
	"slices"

	"github.com/ruffel/swish"
	"github.com/ruffel/swish/sshpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPermissions = 0o644

// workdir creates an empty per-test directory and removes it afterwards.
func workdir(t T, target Target, ch *swish.SFTPChannel) sshpath.Path {
	t.Helper()

	dir := scratch(t, target)
	require.NoError(t, ch.Mkdir(dir, 0o755))

	t.Cleanup(func() { removeAll(ch, dir) })

	return dir
}

func removeAll(ch *swish.SFTPChannel, p sshpath.Path) {
	attrs, err := ch.Lstat(p)
	if err != nil {
		return
	}

	if !attrs.IsDir() {
		_ = ch.Remove(p)

		return
	}

	entries, _ := ch.ReadDirAll(p)
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}

		removeAll(ch, p.JoinString(e.Name))
	}

	_ = ch.Rmdir(p)
}

func writeFile(t T, ch *swish.SFTPChannel, p sshpath.Path, content string) {
	t.Helper()

	f, err := ch.Create(p, testPermissions)
	require.NoError(t, err)

	_, err = io.WriteString(f, content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readFile(t T, ch *swish.SFTPChannel, p sshpath.Path) string {
	t.Helper()

	f, err := ch.Open(p)
	require.NoError(t, err)

	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	require.NoError(t, err)

	return string(data)
}

func sessionContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategorySession,
			Name:        "hostkey-available",
			Description: "The host key is available straight after the handshake",
			Run: func(t T, target Target) {
				s := connect(t, target)

				key, err := s.HostKey()
				require.NoError(t, err)
				assert.NotEmpty(t, key.Key)
				assert.NotEmpty(t, key.Algorithm)
				assert.Len(t, key.MD5(), 16)
				assert.Len(t, key.SHA1(), 20)
			},
		},
		{
			Category:    CategorySession,
			Name:        "close-idempotent",
			Description: "Closing a session twice is not an error",
			Run: func(t T, target Target) {
				s := connect(t, target)

				require.NoError(t, s.Close())
				require.NoError(t, s.Close())

				_, err := s.HostKey()
				require.ErrorIs(t, err, swish.ErrClosed)
			},
		},
	}
}

func authContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryAuth,
			Name:        "password-accepted",
			Description: "The configured password authenticates the session",
			Run: func(t T, target Target) {
				s := connect(t, target)
				assert.False(t, s.Authenticated())

				ok, err := s.AuthenticateByPassword(target.User, target.Password)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.True(t, s.Authenticated())
			},
		},
		{
			Category:    CategoryAuth,
			Name:        "password-rejected-is-false",
			Description: "A wrong password is a false result, not an error",
			Run: func(t T, target Target) {
				s := connect(t, target)

				ok, err := s.AuthenticateByPassword(target.User, target.Password+"-wrong")
				require.NoError(t, err)
				assert.False(t, ok)
				assert.False(t, s.Authenticated())
			},
		},
		{
			Category:    CategoryAuth,
			Name:        "sftp-requires-authentication",
			Description: "Opening SFTP before authenticating is a logic error",
			Run: func(t T, target Target) {
				s := connect(t, target)

				_, err := s.OpenSFTP()
				require.ErrorIs(t, err, swish.ErrNotAuthenticated)
				assert.True(t, swish.IsLogicError(err))
			},
		},
	}
}

//nolint:funlen // Contract registration function; length comes from many test cases.
func sftpContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategorySFTP,
			Name:        "write-read-roundtrip",
			Description: "Bytes written to a new file read back unchanged",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				p := dir.JoinString("hello.txt")

				writeFile(t, ch, p, "hello from swish")
				assert.Equal(t, "hello from swish", readFile(t, ch, p))

				attrs, err := ch.Stat(p)
				require.NoError(t, err)
				assert.True(t, attrs.Has(swish.AttrSize))
				assert.EqualValues(t, len("hello from swish"), attrs.Size)
				assert.False(t, attrs.IsDir())
			},
		},
		{
			Category:    CategorySFTP,
			Name:        "seek-and-stat",
			Description: "Seek moves the file offset and Stat reports the open file",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				p := dir.JoinString("seek.txt")
				writeFile(t, ch, p, "0123456789")

				f, err := ch.Open(p)
				require.NoError(t, err)

				defer func() { _ = f.Close() }()

				pos, err := f.Seek(6, io.SeekStart)
				require.NoError(t, err)
				assert.EqualValues(t, 6, pos)

				rest, err := io.ReadAll(f)
				require.NoError(t, err)
				assert.Equal(t, "6789", string(rest))

				attrs, err := f.Stat()
				require.NoError(t, err)
				assert.EqualValues(t, 10, attrs.Size)
				assert.Equal(t, p, f.Path())
			},
		},
		{
			Category:    CategorySFTP,
			Name:        "readdir-lists-entries",
			Description: "A listing reports every file created in the directory",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)

				for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
					writeFile(t, ch, dir.JoinString(name), name)
				}

				require.NoError(t, ch.Mkdir(dir.JoinString("sub"), 0o755))

				entries, err := ch.ReadDirAll(dir)
				require.NoError(t, err)

				var names []string

				for _, e := range entries {
					if e.Name == "." || e.Name == ".." {
						continue
					}

					names = append(names, e.Name)
					assert.NotEmpty(t, e.LongEntry, e.Name)

					if e.Name == "sub" {
						assert.True(t, e.Attributes.IsDir())
					}
				}

				slices.Sort(names)
				assert.Equal(t, []string{"a.txt", "b.txt", "c.txt", "sub"}, names)
			},
		},
		{
			Category:    CategorySFTP,
			Name:        "rename-and-remove",
			Description: "Rename moves a file; Remove deletes it",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				from, to := dir.JoinString("from.txt"), dir.JoinString("to.txt")

				writeFile(t, ch, from, "payload")
				require.NoError(t, ch.Rename(from, to, false))

				_, err := ch.Stat(from)
				require.Error(t, err)
				assert.Equal(t, "payload", readFile(t, ch, to))

				require.NoError(t, ch.Remove(to))

				_, err = ch.Stat(to)
				require.Error(t, err)
			},
		},
		{
			Category:    CategorySFTP,
			Name:        "rename-overwrite",
			Description: "Rename with overwrite replaces an existing destination",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				from, to := dir.JoinString("new.txt"), dir.JoinString("old.txt")

				writeFile(t, ch, from, "new")
				writeFile(t, ch, to, "old")

				require.NoError(t, ch.Rename(from, to, true))
				assert.Equal(t, "new", readFile(t, ch, to))
			},
		},
		{
			Category:    CategorySFTP,
			Name:        "mkdir-rmdir",
			Description: "Directories can be created and removed",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				sub := dir.JoinString("child")

				require.NoError(t, ch.Mkdir(sub, 0o755))

				attrs, err := ch.Stat(sub)
				require.NoError(t, err)
				assert.True(t, attrs.IsDir())

				require.NoError(t, ch.Rmdir(sub))

				_, err = ch.Stat(sub)
				require.Error(t, err)
			},
		},
		{
			Category:    CategorySFTP,
			Name:        "symlink-readlink",
			Description: "A symlink reports its target; Lstat sees the link itself",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				file, link := dir.JoinString("target.txt"), dir.JoinString("link")

				writeFile(t, ch, file, "via link")
				require.NoError(t, ch.Symlink(file, link))

				got, err := ch.ReadLink(link)
				require.NoError(t, err)
				assert.Equal(t, file.String(), got.String())

				attrs, err := ch.Lstat(link)
				require.NoError(t, err)
				assert.True(t, attrs.IsSymlink())

				assert.Equal(t, "via link", readFile(t, ch, link))
			},
		},
		{
			Category:    CategorySFTP,
			Name:        "setstat-permissions",
			Description: "SetStat changes permission bits",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				p := dir.JoinString("perm.txt")
				writeFile(t, ch, p, "x")

				require.NoError(t, ch.SetStat(p, swish.Attributes{Flags: swish.AttrPermissions, Mode: 0o600}))

				attrs, err := ch.Stat(p)
				require.NoError(t, err)
				assert.Equal(t, 0o600, int(attrs.Mode.Perm()))
			},
		},
		{
			Category:    CategorySFTP,
			Name:        "realpath-absolute",
			Description: "RealPath returns an absolute path",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)

				resolved, err := ch.RealPath(dir.JoinString("."))
				require.NoError(t, err)
				assert.True(t, resolved.IsAbsolute())
			},
		},
	}
}

func teardownContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryTeardown,
			Name:        "session-refuses-close-with-channel",
			Description: "A session cannot be closed while an SFTP channel is open",
			Run: func(t T, target Target) {
				s, ch := login(t, target)

				err := s.Close()
				require.ErrorIs(t, err, swish.ErrLiveChildren)
				assert.True(t, swish.IsLogicError(err))

				require.NoError(t, ch.Close())
				require.NoError(t, s.Close())
			},
		},
		{
			Category:    CategoryTeardown,
			Name:        "channel-refuses-close-with-file",
			Description: "An SFTP channel cannot be closed while a file is open",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				p := dir.JoinString("open.txt")
				writeFile(t, ch, p, "x")

				f, err := ch.Open(p)
				require.NoError(t, err)

				require.ErrorIs(t, ch.Close(), swish.ErrLiveChildren)
				require.NoError(t, f.Close())
				require.NoError(t, f.Close())
			},
		},
	}
}

func errorContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryErrors,
			Name:        "missing-file-carries-path-and-code",
			Description: "Opening a missing file reports the path and a no-such-file status",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				p := dir.JoinString("does-not-exist")

				_, err := ch.Open(p)
				require.Error(t, err)

				var sftpErr *swish.SFTPError
				require.ErrorAs(t, err, &sftpErr)
				assert.Equal(t, p.String(), sftpErr.Path)
				assert.Contains(t, []swish.StatusCode{swish.StatusNoSuchFile, swish.StatusNoSuchPath}, sftpErr.Code)
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "read-past-end-is-eof",
			Description: "Reading past the end of a file returns io.EOF",
			Run: func(t T, target Target) {
				_, ch := login(t, target)
				dir := workdir(t, target, ch)
				p := dir.JoinString("empty.txt")
				writeFile(t, ch, p, "")

				f, err := ch.Open(p)
				require.NoError(t, err)

				defer func() { _ = f.Close() }()

				_, err = f.Read(make([]byte, 8))
				require.True(t, errors.Is(err, io.EOF), "got %v", err)
			},
		},
	}
}
