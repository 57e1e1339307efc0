package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/ruffel/swish"
	"github.com/ruffel/swish/fileutil"
	"github.com/ruffel/swish/sshpath"
	"go.uber.org/zap"
)

// client runs file operations over one SFTP channel. Relative paths are
// taken from cwd when it is set, from the server's default directory
// otherwise.
type client struct {
	ch  *swish.SFTPChannel
	out io.Writer
	log *zap.Logger
	cwd sshpath.Path

	progressOut io.Writer
}

func (c *client) path(s string) sshpath.Path {
	p := sshpath.New(s)
	if p.IsAbsolute() || c.cwd.IsEmpty() {
		return p
	}

	return c.cwd.Join(p)
}

func (c *client) progress(name string) fileutil.ProgressFunc {
	if c.progressOut == nil {
		return nil
	}

	return func(current, total int64) {
		if total > 0 {
			fmt.Fprintf(c.progressOut, "\r%-32s %3d%%", name, current*100/total)
		} else {
			fmt.Fprintf(c.progressOut, "\r%-32s %d bytes", name, current)
		}
	}
}

func (c *client) done(name string, n int64) {
	if c.progressOut != nil {
		fmt.Fprintln(c.progressOut)
	}

	c.log.Info("transferred", zap.String("file", name), zap.Int64("bytes", n))
}

func (c *client) ls(dir string, long bool) error {
	it, err := c.ch.ReadDir(c.path(dir))
	if err != nil {
		return err
	}

	defer func() { _ = it.Close() }()

	var entries []swish.DirEntry

	for it.Next() {
		e := it.Entry()
		if e.Name == "." || e.Name == ".." {
			continue
		}

		entries = append(entries, e)
	}

	if err := it.Err(); err != nil {
		return err
	}

	slices.SortFunc(entries, func(a, b swish.DirEntry) int { return cmp.Compare(a.Name, b.Name) })

	for _, e := range entries {
		switch {
		case long:
			fmt.Fprintln(c.out, e.LongEntry)
		case e.Attributes.IsDir():
			fmt.Fprintln(c.out, dirStyle.Render(e.Name+"/"))
		case e.Attributes.IsSymlink():
			fmt.Fprintln(c.out, linkStyle.Render(e.Name+"@"))
		default:
			fmt.Fprintln(c.out, e.Name)
		}
	}

	return nil
}

func (c *client) stat(name string) error {
	p := c.path(name)

	attrs, err := c.ch.Lstat(p)
	if err != nil {
		return err
	}

	resolved, err := c.ch.RealPath(p)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, field("File", resolved.String()))

	if attrs.IsSymlink() {
		target, err := c.ch.ReadLink(p)
		if err != nil {
			return err
		}

		fmt.Fprintln(c.out, field("Link", "-> "+target.String()))
	}

	if attrs.Has(swish.AttrSize) {
		fmt.Fprintln(c.out, field("Size", strconv.FormatUint(attrs.Size, 10)))
	}

	if attrs.Has(swish.AttrPermissions) {
		fmt.Fprintln(c.out, field("Mode", fmt.Sprintf("%s (%04o)", attrs.Mode, attrs.Mode.Perm())))
	}

	if attrs.Has(swish.AttrUIDGID) {
		fmt.Fprintln(c.out, field("Owner", fmt.Sprintf("%d/%d", attrs.UID, attrs.GID)))
	}

	if attrs.Has(swish.AttrTimes) {
		fmt.Fprintln(c.out, field("Modified", attrs.ModTime.Format("2006-01-02 15:04:05 MST")))
	}

	return nil
}

// get downloads remote to local. If local is a directory the file keeps
// its remote name.
func (c *client) get(ctx context.Context, remote, local string) (err error) {
	src := c.path(remote)
	name := src.Filename().String()

	if info, statErr := os.Stat(local); statErr == nil && info.IsDir() {
		target := filepath.Join(local, name)
		if name == "" || name == "." || name == ".." {
			return fmt.Errorf("%s does not name a file", remote)
		}

		if err := fileutil.CheckPathTraversal(local, target); err != nil {
			return err
		}

		local = target
	}

	f, err := c.ch.Open(src)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, f.Close()) }()

	attrs, err := f.Stat()
	if err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	if attrs.Has(swish.AttrPermissions) {
		mode = attrs.Mode.Perm()
	}

	dst, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	n, err := fileutil.Copy(ctx, dst, f, int64(attrs.Size), c.progress(name)) //nolint:gosec // sizes fit
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("failed to download %s: %w", src, err)
	}

	c.done(name, n)

	return nil
}

// put uploads local to remote. If remote is a directory the file keeps its
// local name.
func (c *client) put(ctx context.Context, local, remote string) (err error) {
	src, err := os.Open(local)
	if err != nil {
		return err
	}

	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory", local)
	}

	dst := c.path(remote)

	attrs, err := c.ch.Stat(dst)

	var sftpErr *swish.SFTPError

	switch {
	case err == nil && attrs.IsDir():
		target := dst.JoinString(filepath.Base(local))
		if err := fileutil.CheckRemotePathTraversal(dst, target); err != nil {
			return err
		}

		dst = target
	case err == nil, errors.As(err, &sftpErr) && sftpErr.Code == swish.StatusNoSuchFile:
	default:
		return err
	}

	f, err := c.ch.Create(dst, info.Mode().Perm())
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, f.Close()) }()

	n, err := fileutil.Copy(ctx, f, src, info.Size(), c.progress(info.Name()))
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", local, err)
	}

	c.done(info.Name(), n)

	return nil
}

func (c *client) rm(names ...string) error {
	for _, name := range names {
		if err := c.ch.Remove(c.path(name)); err != nil {
			return err
		}
	}

	return nil
}

func (c *client) mkdir(name string, mode os.FileMode) error {
	return c.ch.Mkdir(c.path(name), mode)
}

func (c *client) rmdir(name string) error {
	return c.ch.Rmdir(c.path(name))
}

func (c *client) mv(from, to string, overwrite bool) error {
	return c.ch.Rename(c.path(from), c.path(to), overwrite)
}

func (c *client) ln(target, link string) error {
	// The target is stored as written; only the link is resolved.
	return c.ch.Symlink(sshpath.New(target), c.path(link))
}

func (c *client) cd(dir string) error {
	resolved, err := c.ch.RealPath(c.path(dir))
	if err != nil {
		return err
	}

	attrs, err := c.ch.Stat(resolved)
	if err != nil {
		return err
	}

	if !attrs.IsDir() {
		return fmt.Errorf("%s is not a directory", resolved)
	}

	c.cwd = resolved

	return nil
}

func (c *client) pwd() error {
	dir := c.cwd
	if dir.IsEmpty() {
		var err error

		dir, err = c.ch.RealPath(sshpath.New("."))
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(c.out, dir.String())

	return nil
}

func parseMode(s string) (os.FileMode, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}

	return os.FileMode(m).Perm(), nil
}
