package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruffel/swish"
	"github.com/ruffel/swish/swishtest"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type harness struct {
	engine *swishtest.Engine
	app    *app
	out    *bytes.Buffer
	errOut *bytes.Buffer
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	e := swishtest.NewEngine()
	e.Passwords["alice"] = "hunter2"

	a := newApp()
	h := &harness{
		engine: e,
		app:    a,
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		config: filepath.Join(t.TempDir(), "swish.yaml"),
	}

	require.NoError(t, os.WriteFile(h.config, []byte("log-level: error\n"), 0o600))

	a.out = h.out
	a.errOut = h.errOut
	a.in = strings.NewReader("")
	a.open = func(_ context.Context, _ string, auth bool) (*swish.Session, error) {
		client, server := net.Pipe()
		t.Cleanup(func() {
			_ = client.Close()
			_ = server.Close()
		})

		s, err := swish.Connect(e, client)
		if err != nil {
			return nil, err
		}

		if auth {
			if _, err := s.AuthenticateByPassword("alice", "hunter2"); err != nil {
				return nil, err
			}
		}

		return s, nil
	}

	t.Cleanup(func() {
		assert.Empty(t, e.Leaks(), "every handle must be released")
		assert.Empty(t, e.Violations())
	})

	return h
}

func (h *harness) run(args ...string) error {
	h.out.Reset()

	cmd := newRootCmd(h.app)
	cmd.SetArgs(append([]string{"--config", h.config}, args...))

	return cmd.ExecuteContext(context.Background())
}

func publicKey(t *testing.T) []byte {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	return key.Marshal()
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dest     string
		wantUser string
		wantHost string
	}{
		{dest: "example.com", wantUser: "", wantHost: "example.com"},
		{dest: "alice@example.com", wantUser: "alice", wantHost: "example.com"},
		{dest: "a@b@example.com", wantUser: "a@b", wantHost: "example.com"},
		{dest: "alice@", wantUser: "alice", wantHost: ""},
	}

	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			t.Parallel()

			user, host := parseTarget(tt.dest)
			assert.Equal(t, tt.wantUser, user)
			assert.Equal(t, tt.wantHost, host)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	_, err := newLogger("chatty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	for _, level := range []string{"debug", "info", "warn", "error"} {
		log, err := newLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, log)
	}
}

func TestCommandFlagsMerge(t *testing.T) {
	t.Parallel()

	root := newRootCmd(newApp())

	for _, cmd := range root.Commands() {
		t.Run(cmd.Name(), func(t *testing.T) {
			// Merging the persistent flags panics on a shared shorthand.
			require.NotPanics(t, func() {
				_ = cmd.InheritedFlags()
				_ = cmd.LocalFlags()
			})

			cmd.Flags().VisitAll(func(f *pflag.Flag) {
				if f.Shorthand == "" {
					return
				}

				assert.Same(t, f, cmd.Flags().ShorthandLookup(f.Shorthand), "shorthand -%s", f.Shorthand)
			})
		})
	}
}

func TestSSHConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(`
Host box
    HostName 10.0.0.7
    User deploy
    Port 2200
    IdentityAgent none
`), 0o600))

	t.Run("alias with overrides", func(t *testing.T) {
		t.Parallel()

		a := newApp()
		a.v.Set("ssh-config", path)
		a.v.Set("insecure", true)
		a.v.Set("port", 2222)
		a.v.Set("password", "s3cret")

		cfg, err := a.sshConfig("ops@box")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.7", cfg.Host)
		assert.Equal(t, "ops", cfg.User)
		assert.Equal(t, 2222, cfg.Port)
		assert.Equal(t, "s3cret", cfg.Password)
		assert.False(t, cfg.UseAgent)
		assert.True(t, cfg.InsecureSkipVerify)
	})

	t.Run("alias as written", func(t *testing.T) {
		t.Parallel()

		a := newApp()
		a.v.Set("ssh-config", path)
		a.v.Set("known-hosts", filepath.Join(t.TempDir(), "known_hosts"))

		require.NoError(t, os.WriteFile(a.v.GetString("known-hosts"), nil, 0o600))

		cfg, err := a.sshConfig("box")
		require.NoError(t, err)
		assert.Equal(t, "deploy", cfg.User)
		assert.Equal(t, 2200, cfg.Port)
		assert.NotNil(t, cfg.HostKeyCheck)
	})

	t.Run("missing known hosts", func(t *testing.T) {
		t.Parallel()

		a := newApp()
		a.v.Set("ssh-config", path)
		a.v.Set("known-hosts", filepath.Join(t.TempDir(), "absent"))

		_, err := a.sshConfig("box")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--insecure")
	})

	t.Run("missing host", func(t *testing.T) {
		t.Parallel()

		_, err := newApp().sshConfig("alice@")
		require.Error(t, err)
	})
}

func TestHostKeyCmd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.run("hostkey", "example.com"))

	key := swish.HostKey{Key: h.engine.HostKey, Algorithm: h.engine.HostKeyAlgorithm}
	assert.Contains(t, h.out.String(), "ED25519")
	assert.Contains(t, h.out.String(), key.Fingerprint())
	assert.Contains(t, h.out.String(), key.LegacyFingerprint())
}

func TestAgentCmd(t *testing.T) {
	t.Parallel()

	laptop, yubikey := publicKey(t), publicKey(t)

	h := newHarness(t)
	h.engine.AgentKeys = []swishtest.AgentKey{
		{Blob: laptop, Comment: "laptop"},
		{Blob: yubikey, Comment: "yubikey"},
	}
	h.engine.AuthorizedKeys["alice"] = [][]byte{yubikey}

	require.NoError(t, h.run("agent", "alice@example.com"))
	assert.Contains(t, h.out.String(), swish.HostKey{Key: laptop}.Fingerprint()+" laptop")
	assert.Contains(t, h.out.String(), "ED25519")

	require.NoError(t, h.run("agent", "alice@example.com", "--try"))

	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "denied")
	assert.Contains(t, lines[1], "accepted")
}

func TestFileCmds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.engine.FS.WriteFile("/data/a.txt", []byte("hello"), 0o644)
	h.engine.FS.MkdirAll("/data/sub", 0o755)

	require.NoError(t, h.run("ls", "example.com", "/data"))
	assert.Equal(t, "a.txt\nsub/\n", h.out.String())

	require.NoError(t, h.run("ls", "-l", "example.com", "/data"))
	assert.Contains(t, h.out.String(), "-rw-r--r--")

	require.NoError(t, h.run("stat", "example.com", "/data/a.txt"))
	assert.Contains(t, h.out.String(), "/data/a.txt")
	assert.Contains(t, h.out.String(), "Size: 5")

	require.NoError(t, h.run("mkdir", "-m", "700", "example.com", "/data/new"))
	assert.True(t, h.engine.FS.Exists("/data/new"))

	require.NoError(t, h.run("mv", "example.com", "/data/a.txt", "/data/b.txt"))
	assert.False(t, h.engine.FS.Exists("/data/a.txt"))

	require.NoError(t, h.run("ln", "example.com", "b.txt", "/data/link"))
	require.NoError(t, h.run("stat", "example.com", "/data/link"))
	assert.Contains(t, h.out.String(), "-> b.txt")

	require.NoError(t, h.run("rm", "example.com", "/data/b.txt", "/data/link"))
	assert.False(t, h.engine.FS.Exists("/data/b.txt"))

	require.NoError(t, h.run("rmdir", "example.com", "/data/new"))
	assert.False(t, h.engine.FS.Exists("/data/new"))

	err := h.run("rmdir", "example.com", "/data/absent")

	var sftpErr *swish.SFTPError
	require.ErrorAs(t, err, &sftpErr)
	assert.Equal(t, swish.StatusNoSuchFile, sftpErr.Code)
}

func TestTransferCmds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.engine.FS.WriteFile("/srv/one.txt", []byte("one"), 0o640)
	h.engine.FS.WriteFile("/srv/two.txt", []byte("two"), 0o644)

	local := t.TempDir()

	require.NoError(t, h.run("get", "example.com", "/srv/one.txt", "/srv/two.txt", local))

	data, err := os.ReadFile(filepath.Join(local, "one.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	info, err := os.Stat(filepath.Join(local, "one.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	err = h.run("get", "example.com", "/srv/one.txt", "/srv/two.txt", filepath.Join(local, "one.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	upload := filepath.Join(local, "upload.txt")
	require.NoError(t, os.WriteFile(upload, []byte("uploaded"), 0o600))

	require.NoError(t, h.run("put", "example.com", upload, "/srv"))

	got, ok := h.engine.FS.ReadFile("/srv/upload.txt")
	require.True(t, ok)
	assert.Equal(t, "uploaded", string(got))

	require.NoError(t, h.run("put", "example.com", upload, "/srv/renamed.txt"))
	assert.True(t, h.engine.FS.Exists("/srv/renamed.txt"))

	require.NoError(t, h.run("--progress", "get", "example.com", "/srv/two.txt", local))
	assert.Contains(t, h.errOut.String(), "two.txt")
}

func TestBatchCmd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.engine.FS.WriteFile("/home/alice/notes.txt", []byte("remember"), 0o644)

	local := t.TempDir()
	script := filepath.Join(local, "script")
	require.NoError(t, os.WriteFile(script, []byte(`
# warm up
cd /home/alice
pwd
mkdir "with space"
-rm missing.txt
mv notes.txt "with space/notes.txt"
ls "with space"
get "with space/notes.txt" `+local+`
`), 0o600))

	require.NoError(t, h.run("batch", "example.com", script))

	out := h.out.String()
	assert.Contains(t, out, "sftp> cd /home/alice")
	assert.Contains(t, out, "/home/alice\n")
	assert.Contains(t, out, "notes.txt\n")
	assert.Contains(t, h.errOut.String(), "rm:")

	data, err := os.ReadFile(filepath.Join(local, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remember", string(data))

	assert.True(t, h.engine.FS.Exists("/home/alice/with space/notes.txt"))
}

func TestBatchCmd_StopsOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{name: "failing command", script: "pwd\nrm /nope\npwd\n", wantErr: "line 2: rm"},
		{name: "unknown command", script: "chmod 600 x\n", wantErr: `unknown command "chmod"`},
		{name: "arguments", script: "\n\nmv onlyone\n", wantErr: "line 3: mv: wrong number of arguments"},
		{name: "quoting", script: `ls "unterminated`, wantErr: "line 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.app.in = strings.NewReader(tt.script)

			err := h.run("batch", "example.com")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
