package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ruffel/swish"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

func newHostKeyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hostkey <dest>",
		Short: "Print the server's host key fingerprints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), args[0], false, func(s *swish.Session) error {
				key, err := s.HostKey()
				if err != nil {
					return err
				}

				fmt.Fprintln(a.out, titleStyle.Render("Host key for "+args[0]))
				fmt.Fprintln(a.out, field("Type", key.Name()))
				fmt.Fprintln(a.out, field("Algorithm", key.Algorithm))
				fmt.Fprintln(a.out, field("SHA256", key.Fingerprint()))
				fmt.Fprintln(a.out, field("SHA1", swish.Hexify(key.SHA1())))
				fmt.Fprintln(a.out, field("MD5", key.LegacyFingerprint()))

				return nil
			})
		},
	}
}

func newAgentCmd(a *app) *cobra.Command {
	var try bool

	cmd := &cobra.Command{
		Use:   "agent <dest>",
		Short: "List ssh-agent identities, optionally offering each to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := parseTarget(args[0])
			if user == "" && try {
				cfg, err := a.sshConfig(args[0])
				if err != nil {
					return err
				}

				user = cfg.User
			}

			return a.withSession(cmd.Context(), args[0], false, func(s *swish.Session) (err error) {
				c, err := s.OpenAgent()
				if err != nil {
					return err
				}

				defer func() { err = errors.Join(err, c.Close()) }()

				for id, err := range c.All() {
					if err != nil {
						return err
					}

					blob := id.PublicKey()
					key := swish.HostKey{Key: blob, Algorithm: keyType(blob)}
					line := fmt.Sprintf("%-8s %s %s", key.Name(), key.Fingerprint(), id.Comment())

					if try && !s.Authenticated() {
						switch authErr := id.Authenticate(user); {
						case authErr == nil:
							line += " " + okStyle.Render("accepted")
						case errors.Is(authErr, swish.ErrAuthenticationDenied):
							line += " " + errorStyle.Render("denied")
						default:
							line += " " + errorStyle.Render(authErr.Error())
						}
					}

					fmt.Fprintln(a.out, line)
				}

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&try, "try", false, "offer each identity until one is accepted")

	return cmd
}

// keyType reads the algorithm name from a public key blob.
func keyType(blob []byte) string {
	pk, err := ssh.ParsePublicKey(blob)
	if err != nil {
		return ""
	}

	return pk.Type()
}

func newLsCmd(a *app) *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "ls <dest> [path]",
		Short: "List a remote directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 2 {
				dir = args[1]
			}

			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				return c.ls(dir, long)
			})
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "use the server's long listing format")

	return cmd
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <dest> <path>",
		Short: "Show remote file attributes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				return c.stat(args[1])
			})
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "get <dest> <remote>... <local>",
		Short: "Download files",
		Long:  "Download one or more remote files. With more than one file, local must be a directory.",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			remotes, local := args[1:len(args)-1], args[len(args)-1]

			if len(remotes) > 1 {
				if info, err := os.Stat(local); err != nil || !info.IsDir() {
					return fmt.Errorf("%s is not a directory", local)
				}
			}

			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				g, ctx := errgroup.WithContext(cmd.Context())
				g.SetLimit(max(parallel, 1))

				for _, remote := range remotes {
					g.Go(func() error { return c.get(ctx, remote, local) })
				}

				return g.Wait()
			})
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "j", 4, "files to download at once")

	return cmd
}

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <dest> <local> [remote]",
		Short: "Upload a file",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := "."
			if len(args) == 3 {
				remote = args[2]
			}

			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				return c.put(cmd.Context(), args[1], remote)
			})
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <dest> <path>...",
		Short: "Remove remote files",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				return c.rm(args[1:]...)
			})
		},
	}
}

func newMkdirCmd(a *app) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "mkdir <dest> <path>",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}

			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				return c.mkdir(args[1], m)
			})
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "755", "permissions, in octal")

	return cmd
}

func newRmdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <dest> <path>",
		Short: "Remove an empty remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				return c.rmdir(args[1])
			})
		},
	}
}

func newMvCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "mv <dest> <from> <to>",
		Short: "Rename a remote file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				return c.mv(args[1], args[2], force)
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing destination")

	return cmd
}

func newLnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ln <dest> <target> <link>",
		Short: "Create a remote symbolic link",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				return c.ln(args[1], args[2])
			})
		},
	}
}

func newBatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <dest> [file]",
		Short: "Run sftp commands from a file or stdin",
		Long: `Run commands, one per line, over a single SFTP channel. Supported:
ls [-l] [path], cd, pwd, stat, get, put, rm, mkdir, rmdir, mv [-f], ln [-s].
Blank lines and lines starting with # are ignored. A failing command stops
the batch unless its line starts with "-".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var script io.Reader = a.in

			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}

				defer func() { _ = f.Close() }()

				script = f
			}

			return a.withClient(cmd.Context(), args[0], func(c *client) error {
				return c.batch(cmd.Context(), script, a.errOut)
			})
		},
	}
}
