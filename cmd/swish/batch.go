package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// batch runs one command per line of r. Lines prefixed with "-" may fail
// without stopping the batch; their errors go to errOut.
func (c *client) batch(ctx context.Context, r io.Reader, errOut io.Writer) error {
	sc := bufio.NewScanner(r)
	line := 0

	for sc.Scan() {
		line++

		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		tolerant := strings.HasPrefix(text, "-")
		text = strings.TrimPrefix(text, "-")

		args, err := shlex.Split(text)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		if len(args) == 0 {
			continue
		}

		fmt.Fprintln(c.out, promptStyle.Render("sftp> "+text))

		if err := c.exec(ctx, args[0], args[1:]); err != nil {
			if !tolerant {
				return fmt.Errorf("line %d: %s: %w", line, args[0], err)
			}

			c.log.Debug("batch command failed", zap.Int("line", line), zap.Error(err))
			fmt.Fprintln(errOut, errorStyle.Render(fmt.Sprintf("%s: %v", args[0], err)))
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return sc.Err()
}

func (c *client) exec(ctx context.Context, name string, args []string) error {
	flag := func(f string) bool {
		if len(args) > 0 && args[0] == f {
			args = args[1:]

			return true
		}

		return false
	}

	switch name {
	case "ls":
		long := flag("-l")
		if err := nargs(args, 0, 1); err != nil {
			return err
		}

		return c.ls(argOr(args, 0, "."), long)
	case "cd":
		if err := nargs(args, 1, 1); err != nil {
			return err
		}

		return c.cd(args[0])
	case "pwd":
		return c.pwd()
	case "stat":
		if err := nargs(args, 1, 1); err != nil {
			return err
		}

		return c.stat(args[0])
	case "get":
		if err := nargs(args, 1, 2); err != nil {
			return err
		}

		return c.get(ctx, args[0], argOr(args, 1, "."))
	case "put":
		if err := nargs(args, 1, 2); err != nil {
			return err
		}

		return c.put(ctx, args[0], argOr(args, 1, "."))
	case "rm":
		if err := nargs(args, 1, -1); err != nil {
			return err
		}

		return c.rm(args...)
	case "mkdir":
		if err := nargs(args, 1, 1); err != nil {
			return err
		}

		return c.mkdir(args[0], 0o755)
	case "rmdir":
		if err := nargs(args, 1, 1); err != nil {
			return err
		}

		return c.rmdir(args[0])
	case "mv", "rename":
		force := flag("-f")
		if err := nargs(args, 2, 2); err != nil {
			return err
		}

		return c.mv(args[0], args[1], force)
	case "ln", "symlink":
		flag("-s")

		if err := nargs(args, 2, 2); err != nil {
			return err
		}

		return c.ln(args[0], args[1])
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

// nargs checks len(args) is within [lo, hi]; hi < 0 means unbounded.
func nargs(args []string, lo, hi int) error {
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		return fmt.Errorf("wrong number of arguments: %d", len(args))
	}

	return nil
}

func argOr(args []string, i int, def string) string {
	if i < len(args) {
		return args[i]
	}

	return def
}
