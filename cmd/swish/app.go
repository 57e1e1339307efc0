package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ruffel/swish"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries what every command needs. Commands never touch globals so
// tests can drive them against an in-memory engine.
type app struct {
	v      *viper.Viper
	log    *zap.Logger
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// open returns a session to dest, authenticated when auth is set.
	open func(ctx context.Context, dest string, auth bool) (*swish.Session, error)
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("swish")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	a := &app{
		v:      v,
		log:    zap.NewNop(),
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	a.open = a.openSSH

	return a
}

func newRootCmd(a *app) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "swish",
		Short: "SFTP client over SSH",
		Long: `swish talks SFTP to SSH servers. Every subcommand takes a destination
of the form [user@]host, where host may be an alias from ~/.ssh/config.

Settings may also come from SWISH_* environment variables or $HOME/.swish.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init(cfgFile)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.swish.yaml)")
	f.String("ssh-config", "", "ssh config file (default is ~/.ssh/config)")
	f.IntP("port", "p", 22, "port to connect to")
	f.String("user", "", "user to log in as")
	f.StringP("identity", "i", "", "private key file")
	f.Bool("agent", true, "offer ssh-agent identities")
	f.String("known-hosts", "", "known_hosts file (default is ~/.ssh/known_hosts)")
	f.Bool("insecure", false, "skip host key verification (testing only)")
	f.Duration("timeout", 10*time.Second, "connect timeout")
	f.String("disconnect-message", "", "message to send the server on exit")
	f.String("log-level", "warn", "log level (debug, info, warn, error)")
	f.Bool("progress", false, "report transfer progress on stderr")
	cobra.CheckErr(a.v.BindPFlags(f))

	root.AddCommand(
		newHostKeyCmd(a),
		newAgentCmd(a),
		newLsCmd(a),
		newStatCmd(a),
		newGetCmd(a),
		newPutCmd(a),
		newRmCmd(a),
		newMkdirCmd(a),
		newRmdirCmd(a),
		newMvCmd(a),
		newLnCmd(a),
		newBatchCmd(a),
	)

	return root
}

// init reads the config file and builds the logger.
func (a *app) init(cfgFile string) error {
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(home)
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".swish")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	log, err := newLogger(a.v.GetString("log-level"))
	if err != nil {
		return err
	}

	a.log = log

	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

// withSession opens a session to dest and closes it after fn.
func (a *app) withSession(ctx context.Context, dest string, auth bool, fn func(s *swish.Session) error) (err error) {
	s, err := a.open(ctx, dest, auth)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, s.Close()) }()

	return fn(s)
}

// withClient opens an authenticated session and an SFTP channel on it.
func (a *app) withClient(ctx context.Context, dest string, fn func(c *client) error) error {
	return a.withSession(ctx, dest, true, func(s *swish.Session) (err error) {
		ch, err := s.OpenSFTP()
		if err != nil {
			return err
		}

		defer func() { err = errors.Join(err, ch.Close()) }()

		return fn(a.newClient(ch))
	})
}

func (a *app) newClient(ch *swish.SFTPChannel) *client {
	c := &client{
		ch:  ch,
		out: a.out,
		log: a.log,
	}

	if a.v.GetBool("progress") {
		c.progressOut = a.errOut
	}

	return c
}
