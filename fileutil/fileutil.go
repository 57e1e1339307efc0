// Package fileutil provides transfer helpers shared by swish front ends:
// progress reporting, context cancellation for long copies and path
// traversal checks for names that come back from a server.
package fileutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ruffel/swish/sshpath"
)

// ProgressFunc is called after every read with the bytes transferred so far
// and the expected total (0 when unknown).
type ProgressFunc func(current, total int64)

// ProgressReader wraps an io.Reader to report progress via a ProgressFunc.
// Total should be set to the known total size for percentage-based progress reporting,
// or 0 if unknown.
type ProgressReader struct {
	io.Reader

	Total   int64
	Current int64
	Fn      ProgressFunc
}

// Read reads from the underlying reader and reports progress.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.Current += int64(n)
		if pr.Fn != nil {
			pr.Fn(pr.Current, pr.Total)
		}
	}

	return n, err
}

// ContextReader wraps an io.Reader to check for context cancellation
// before each Read call, so a long io.Copy over an SFTP file can be
// interrupted.
type ContextReader struct {
	Ctx    context.Context //nolint:containedctx
	Reader io.Reader
}

// Read checks for context cancellation before delegating to the underlying reader.
func (cr *ContextReader) Read(p []byte) (int, error) {
	if cr.Ctx.Err() != nil {
		return 0, cr.Ctx.Err()
	}

	return cr.Reader.Read(p)
}

// Copy copies src to dst until EOF or until ctx is done, reporting progress
// to fn if it is non-nil.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, total int64, fn ProgressFunc) (int64, error) {
	r := &ProgressReader{
		Reader: &ContextReader{Ctx: ctx, Reader: src},
		Total:  total,
		Fn:     fn,
	}

	// Hide any WriterTo/ReaderFrom so every chunk passes through r.
	return io.Copy(struct{ io.Writer }{dst}, struct{ io.Reader }{r})
}

// CheckPathTraversal validates that target is a child of root using local filesystem
// path conventions (filepath.Abs, os.PathSeparator). Returns an error if target
// escapes the root directory (ZipSlip protection).
func CheckPathTraversal(root, target string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("illegal file path: cannot resolve root %s: %w", root, err)
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("illegal file path: cannot resolve target %s: %w", target, err)
	}

	if absRoot == absTarget {
		return nil
	}

	if !strings.HasPrefix(absTarget, absRoot+string(os.PathSeparator)) {
		return fmt.Errorf("illegal file path: %s is not within %s", target, root)
	}

	return nil
}

// CheckRemotePathTraversal validates that target is root or lies beneath it.
// "." and ".." segments are resolved lexically first; sshpath itself keeps
// them as written.
func CheckRemotePathTraversal(root, target sshpath.Path) error {
	r := resolve(root)
	t := resolve(target)

	if len(t) < len(r) || !slices.Equal(r, t[:len(r)]) {
		return fmt.Errorf("illegal remote file path: %s is not within %s", target, root)
	}

	return nil
}

// resolve returns p's segments with "." dropped and ".." applied. A ".."
// at the root stays at the root; leading ".." of a relative path are kept.
func resolve(p sshpath.Path) []string {
	var out []string

	for seg := range p.All() {
		switch {
		case seg == ".":
		case seg != "..":
			out = append(out, seg)
		case len(out) == 0 || out[len(out)-1] == "..":
			out = append(out, seg)
		case out[len(out)-1] != "/":
			out = out[:len(out)-1]
		}
	}

	return out
}
