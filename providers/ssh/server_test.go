package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/ruffel/swish"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const (
	testUser     = "alice"
	testPassword = "hunter2"
	testCode     = "123456"
)

// serverOptions selects the methods the in-process server offers.
type serverOptions struct {
	password    bool
	interactive bool
	authorized  []ssh.PublicKey
	noAuth      bool
}

// testServer is an sshd built from x/crypto/ssh and pkg/sftp, listening on
// loopback.
type testServer struct {
	addr    *net.TCPAddr
	hostKey ssh.PublicKey
}

func newSigner(t *testing.T) (ssh.Signer, ed25519.PrivateKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	return signer, priv
}

func startServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	hostKey, _ := newSigner(t)

	cfg := &ssh.ServerConfig{NoClientAuth: opts.noAuth, MaxAuthTries: -1}
	cfg.AddHostKey(hostKey)

	if opts.password {
		cfg.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}

			return nil, errors.New("wrong password")
		}
	}

	if opts.interactive {
		cfg.KeyboardInteractiveCallback = func(c ssh.ConnMetadata, client ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := client(c.User(), "Two factor", []string{"Password: ", "Code: "}, []bool{false, true})
			if err != nil {
				return nil, err
			}

			if c.User() == testUser && slices.Equal(answers, []string{testPassword, testCode}) {
				return nil, nil
			}

			return nil, errors.New("wrong answers")
		}
	}

	if len(opts.authorized) > 0 {
		cfg.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			for _, k := range opts.authorized {
				if bytes.Equal(k.Marshal(), key.Marshal()) {
					return nil, nil
				}
			}

			return nil, errors.New("unknown key")
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go serveConn(conn, cfg)
		}
	}()

	addr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)

	return &testServer{addr: addr, hostKey: hostKey.PublicKey()}
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	defer func() { _ = conn.Close() }()

	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}

	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "only sessions are supported")

			continue
		}

		ch, requests, err := nc.Accept()
		if err != nil {
			continue
		}

		go serveSession(ch, requests)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()

	for req := range requests {
		ok := req.Type == "subsystem" && isSFTP(req.Payload)
		_ = req.Reply(ok, nil)

		if !ok {
			continue
		}

		go ssh.DiscardRequests(requests)

		server, err := sftp.NewServer(ch)
		if err != nil {
			return
		}

		_ = server.Serve()

		return
	}
}

// isSFTP decodes the subsystem name, an SSH string.
func isSFTP(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}

	n := binary.BigEndian.Uint32(payload)

	return int(n) == len(payload)-4 && string(payload[4:]) == "sftp"
}

func (s *testServer) config() Config {
	c := NewConfig("127.0.0.1", testUser)
	c.Port = s.addr.Port
	c.Timeout = 5 * time.Second
	c.InsecureSkipVerify = true

	return c
}

// connect performs the handshake and leaves authentication to the test.
func (s *testServer) connect(t *testing.T, opts ...Option) *swish.Session {
	t.Helper()

	engine, err := New(append([]Option{WithConfig(s.config())}, opts...)...)
	require.NoError(t, err)

	conn, err := Dial(context.Background(), engine.Config())
	require.NoError(t, err)

	sess, err := swish.Connect(engine, conn)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sess.Close() })

	return sess
}

// startAgent serves keys from an in-memory keyring on a unix socket.
func startAgent(t *testing.T, keys ...agent.AddedKey) string {
	t.Helper()

	// Socket paths are length-limited, so avoid t.TempDir's long names.
	dir, err := os.MkdirTemp("", "swish-agent")
	require.NoError(t, err)

	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	keyring := agent.NewKeyring()
	for _, k := range keys {
		require.NoError(t, keyring.Add(k))
	}

	socket := filepath.Join(dir, "agent.sock")

	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func() {
				defer func() { _ = conn.Close() }()
				_ = agent.ServeAgent(keyring, conn)
			}()
		}
	}()

	return socket
}
