package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ruffel/swish"
	swishssh "github.com/ruffel/swish/providers/ssh"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

const passwordAttempts = 3

// parseTarget splits "[user@]host".
func parseTarget(dest string) (user, host string) {
	if i := strings.LastIndex(dest, "@"); i >= 0 {
		return dest[:i], dest[i+1:]
	}

	return "", dest
}

// sshConfig resolves dest through ~/.ssh/config and then applies flags,
// environment and config file settings on top.
func (a *app) sshConfig(dest string) (swishssh.Config, error) {
	user, host := parseTarget(dest)
	if host == "" {
		return swishssh.Config{}, fmt.Errorf("missing host in %q", dest)
	}

	cfg, err := swishssh.NewFromSSHConfig(host, a.v.GetString("ssh-config"))
	if errors.Is(err, fs.ErrNotExist) && a.v.GetString("ssh-config") == "" {
		cfg, err = swishssh.NewFromSSHConfigReader(host, strings.NewReader(""))
	}

	if err != nil {
		return swishssh.Config{}, err
	}

	if user == "" {
		user = a.v.GetString("user")
	}

	if user != "" {
		cfg.User = user
	}

	if a.v.IsSet("port") {
		cfg.Port = a.v.GetInt("port")
	}

	if a.v.IsSet("timeout") {
		cfg.Timeout = a.v.GetDuration("timeout")
	}

	if a.v.IsSet("agent") {
		cfg.UseAgent = a.v.GetBool("agent")
	}

	if key := a.v.GetString("identity"); key != "" {
		cfg.PrivateKeyPath = key
	}

	cfg.Password = a.v.GetString("password")
	cfg.Logger = a.log

	if a.v.GetBool("insecure") {
		cfg.InsecureSkipVerify = true
	}

	if !cfg.InsecureSkipVerify {
		check, err := a.hostKeyCheck()
		if err != nil {
			return swishssh.Config{}, err
		}

		cfg.HostKeyCheck = check
	}

	return cfg, nil
}

func (a *app) hostKeyCheck() (ssh.HostKeyCallback, error) {
	var (
		check ssh.HostKeyCallback
		err   error
	)

	if path := a.v.GetString("known-hosts"); path != "" {
		check, err = knownhosts.New(path)
	} else {
		check, err = swishssh.DefaultKnownHosts()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts (use --insecure to skip verification): %w", err)
	}

	return check, nil
}

// openSSH connects to dest over SSH.
func (a *app) openSSH(ctx context.Context, dest string, auth bool) (*swish.Session, error) {
	cfg, err := a.sshConfig(dest)
	if err != nil {
		return nil, err
	}

	engine, err := swishssh.New(swishssh.WithConfig(cfg))
	if err != nil {
		return nil, err
	}

	conn, err := swishssh.Dial(ctx, engine.Config())
	if err != nil {
		return nil, err
	}

	opts := []swish.Option{swish.WithLogger(a.log)}
	if msg := a.v.GetString("disconnect-message"); msg != "" {
		opts = append(opts, swish.WithDisconnectMessage(msg))
	}

	s, err := swish.Connect(engine, conn, opts...)
	if err != nil {
		return nil, err
	}

	if !auth || s.Authenticated() {
		return s, nil
	}

	if err := a.login(s, engine.Config()); err != nil {
		_ = s.Close()

		return nil, err
	}

	return s, nil
}

// login tries the configured credentials and then, on a terminal,
// keyboard-interactive and a password prompt.
func (a *app) login(s *swish.Session, cfg swishssh.Config) error {
	err := swishssh.Login(s, cfg)
	if err == nil || !errors.Is(err, swishssh.ErrNoCredentialAccepted) {
		return err
	}

	fd, ok := a.terminal()
	if !ok {
		return err
	}

	r := newResponder(a.in, a.errOut, fd)

	ok, kiErr := s.AuthenticateInteractively(cfg.User, r)
	if ok {
		return nil
	}

	var authErr *swish.AuthenticationError
	if kiErr != nil && !errors.As(kiErr, &authErr) {
		// The responder itself failed, e.g. stdin was closed.
		return kiErr
	}

	a.log.Debug("keyboard-interactive not accepted", zap.Error(kiErr))

	for range passwordAttempts {
		password, promptErr := r.ask(fmt.Sprintf("%s@%s's password: ", cfg.User, cfg.Host), false)
		if promptErr != nil {
			return promptErr
		}

		ok, pwErr := s.AuthenticateByPassword(cfg.User, password)
		if pwErr != nil {
			return pwErr
		}

		if ok {
			return nil
		}

		fmt.Fprintln(a.errOut, "Permission denied, please try again.")
	}

	return err
}

// terminal returns stdin's descriptor when it is an interactive terminal.
func (a *app) terminal() (int, bool) {
	f, ok := a.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return -1, false
	}

	return int(f.Fd()), true
}
