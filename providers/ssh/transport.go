package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ruffel/swish"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const (
	methodPublicKey   = "publickey"
	methodInteractive = "keyboard-interactive"
	methodPassword    = "password"
)

// methodOrder is the order the handshake walks the auth methods in. It
// matches OpenSSH's default PreferredAuthentications.
var methodOrder = []string{methodPublicKey, methodInteractive, methodPassword}

var (
	errAborted = errors.New("transport freed during authentication")
	errSkipped = errors.New("auth method skipped")
)

// authRequest is one Authenticate call handed to the handshake goroutine.
type authRequest struct {
	method    string
	user      string
	password  string
	signer    ssh.Signer
	challenge swish.ChallengeFunc

	reply chan error // buffered; receives exactly one result
}

func newAuthRequest(method, user string) *authRequest {
	return &authRequest{method: method, user: user, reply: make(chan error, 1)}
}

func (r *authRequest) resolve(err error) {
	r.reply <- err
}

var _ swish.Transport = (*transport)(nil)

// transport implements swish.Transport over an x/crypto client connection.
//
// ssh.NewClientConn runs in its own goroutine. Its auth callbacks block in
// await until an Authenticate call sends a request, so each server round
// trip is driven by the caller even though x/crypto owns the loop.
type transport struct {
	cfg Config
	log *zap.Logger

	requests  chan *authRequest
	phase     chan struct{} // closed once the handshake reaches user authentication
	done      chan struct{} // closed when the handshake goroutine returns
	abort     chan struct{} // closed by Free
	phaseOnce sync.Once
	freeOnce  sync.Once

	conn    net.Conn
	started bool

	mu      sync.Mutex
	hostKey ssh.PublicKey
	client  *ssh.Client
	result  error

	// Owned by the handshake goroutine.
	pending         *authRequest // attempt whose outcome the server has not yet given
	carry           *authRequest // request for a method later in methodOrder
	skipInteractive bool         // answering a keyboard-interactive exchange nobody asked for
}

func newTransport(cfg Config) *transport {
	return &transport{
		cfg:      cfg,
		log:      cfg.Logger.With(zap.String("host", cfg.Address())),
		requests: make(chan *authRequest),
		phase:    make(chan struct{}),
		done:     make(chan struct{}),
		abort:    make(chan struct{}),
	}
}

// Handshake starts the client handshake and returns once the server is
// waiting for user authentication, or once the handshake has finished.
// The transport owns conn from here on.
func (t *transport) Handshake(conn net.Conn) error {
	if conn == nil {
		return errors.New("nil connection")
	}

	if t.started {
		return errors.New("handshake already performed")
	}

	if t.cfg.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(t.cfg.Timeout)); err != nil {
			return fmt.Errorf("failed to set handshake deadline: %w", err)
		}
	}

	t.conn = conn
	t.started = true

	go t.run(conn)

	select {
	case <-t.phase:
		_ = conn.SetDeadline(time.Time{})

		return nil
	case <-t.done:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.result == nil:
		// The server accepted the "none" method.
		_ = conn.SetDeadline(time.Time{})

		return nil
	case t.hostKey != nil && authExhausted(t.result):
		// Key exchange succeeded but no method we carry was offered.
		return nil
	default:
		return t.result
	}
}

func (t *transport) run(conn net.Conn) {
	defer close(t.done)

	auth := []ssh.AuthMethod{
		ssh.RetryableAuthMethod(ssh.PublicKeysCallback(t.publicKeys), 0),
		ssh.KeyboardInteractive(t.interactive),
		ssh.RetryableAuthMethod(ssh.PasswordCallback(t.password), 0),
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, t.cfg.Address(), t.cfg.clientConfig(auth, t.checkHostKey))

	t.mu.Lock()
	if err == nil {
		t.client = ssh.NewClient(c, chans, reqs)
	}

	t.result = err
	t.mu.Unlock()

	if t.pending != nil {
		switch {
		case err == nil:
			t.pending.resolve(nil)
		case authExhausted(err):
			t.pending.resolve(swish.ErrAuthenticationDenied)
		default:
			t.pending.resolve(err)
		}

		t.pending = nil
	}

	if t.carry != nil {
		if err == nil {
			t.carry.resolve(nil)
		} else {
			t.carry.resolve(fmt.Errorf("%w: %s was not offered by the server", swish.ErrMethodUnavailable, t.carry.method))
		}

		t.carry = nil
	}

	t.log.Debug("handshake finished", zap.Error(err))
}

// authExhausted reports whether err is x/crypto giving up because every
// method has been tried, as opposed to a transport failure.
func authExhausted(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

func (t *transport) checkHostKey(hostname string, remote net.Addr, key ssh.PublicKey) error {
	t.mu.Lock()
	t.hostKey = key
	t.mu.Unlock()

	t.log.Debug("host key received",
		zap.String("algorithm", key.Type()),
		zap.String("fingerprint", ssh.FingerprintSHA256(key)),
	)

	return t.cfg.HostKeyCheck(hostname, remote, key)
}

// await is called by every auth callback. Being called again means the
// previous attempt was rejected. It then blocks until a request for method
// arrives.
//
// Requests for a method later in methodOrder make this method fail so that
// x/crypto moves on; requests for a method already passed over are
// answered with ErrMethodUnavailable.
func (t *transport) await(method string) (*authRequest, error) {
	t.phaseOnce.Do(func() { close(t.phase) })

	if t.pending != nil {
		t.pending.resolve(swish.ErrAuthenticationDenied)
		t.pending = nil
	}

	rank := slices.Index(methodOrder, method)

	for {
		req := t.carry
		t.carry = nil

		if req == nil {
			select {
			case req = <-t.requests:
			case <-t.abort:
				return nil, errAborted
			}
		}

		switch r := slices.Index(methodOrder, req.method); {
		case r == rank:
			t.pending = req

			return req, nil
		case r > rank:
			t.carry = req
			t.log.Debug("skipping auth method", zap.String("method", method), zap.String("requested", req.method))

			return nil, fmt.Errorf("%w: %s in favour of %s", errSkipped, method, req.method)
		default:
			req.resolve(fmt.Errorf("%w: %s can no longer be attempted on this connection", swish.ErrMethodUnavailable, req.method))
		}
	}
}

func (t *transport) publicKeys() ([]ssh.Signer, error) {
	req, err := t.await(methodPublicKey)
	if err != nil {
		return nil, err
	}

	return []ssh.Signer{req.signer}, nil
}

func (t *transport) password() (string, error) {
	req, err := t.await(methodPassword)
	if err != nil {
		return "", err
	}

	return req.password, nil
}

// interactive answers one keyboard-interactive round. Later rounds of the
// same attempt go straight to the pending request's challenge.
//
// The server has already started the exchange when this is first called,
// so a skipped exchange is finished with blank answers rather than
// abandoned mid-way.
func (t *transport) interactive(name, instruction string, questions []string, echos []bool) ([]string, error) {
	if t.skipInteractive {
		return make([]string, len(questions)), nil
	}

	req := t.pending
	if req == nil || req.method != methodInteractive {
		var err error

		req, err = t.await(methodInteractive)

		switch {
		case errors.Is(err, errSkipped):
			t.skipInteractive = true

			return make([]string, len(questions)), nil
		case err != nil:
			return nil, err
		}
	}

	prompts := make([]swish.Prompt, len(questions))
	for i, q := range questions {
		prompts[i] = swish.Prompt{Text: q, Echo: i < len(echos) && echos[i]}
	}

	return req.challenge(name, instruction, prompts), nil
}

// authenticate hands req to the handshake goroutine and waits for the
// server's verdict.
func (t *transport) authenticate(req *authRequest) error {
	if !t.started {
		return errors.New("handshake has not been performed")
	}

	if req.user != t.cfg.User {
		return fmt.Errorf("%w: connection authenticates as %q, not %q", swish.ErrMethodUnavailable, t.cfg.User, req.user)
	}

	if t.Authenticated() {
		return nil
	}

	select {
	case t.requests <- req:
	case <-t.done:
		return t.finished()
	}

	select {
	case err := <-req.reply:
		return err
	case <-t.done:
		// run settles outstanding requests before closing done.
		select {
		case err := <-req.reply:
			return err
		default:
			return t.finished()
		}
	}
}

func (t *transport) finished() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	return fmt.Errorf("%w: authentication has ended: %v", swish.ErrMethodUnavailable, t.result)
}

func (t *transport) authenticatePublicKey(user string, signer ssh.Signer) error {
	req := newAuthRequest(methodPublicKey, user)
	req.signer = signer

	return t.authenticate(req)
}

func (t *transport) HostKey() ([]byte, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hostKey == nil {
		return nil, "", errors.New("no host key: handshake has not completed")
	}

	return t.hostKey.Marshal(), t.hostKey.Type(), nil
}

func (t *transport) AuthenticatePassword(user, password string) error {
	req := newAuthRequest(methodPassword, user)
	req.password = password

	return t.authenticate(req)
}

func (t *transport) AuthenticateKeyboardInteractive(user string, challenge swish.ChallengeFunc) error {
	req := newAuthRequest(methodInteractive, user)
	req.challenge = challenge

	return t.authenticate(req)
}

func (t *transport) Authenticated() bool {
	return t.sshClient() != nil
}

func (t *transport) sshClient() *ssh.Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.client
}

func (t *transport) OpenAgent() (swish.AgentHandle, error) {
	socket := t.cfg.AgentSocket
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}

	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	return &agentHandle{transport: t, socket: socket}, nil
}

// Disconnect closes the connection. x/crypto offers no way to send the
// message itself, so it is only logged.
func (t *transport) Disconnect(message string) error {
	client := t.sshClient()
	if client == nil {
		return nil
	}

	t.log.Debug("disconnecting", zap.String("message", message))

	return ignoreClosed(client.Close())
}

// Free stops the handshake goroutine and closes the connection.
func (t *transport) Free() error {
	var err error

	t.freeOnce.Do(func() {
		close(t.abort)

		if t.conn == nil {
			return
		}

		if client := t.sshClient(); client != nil {
			err = client.Close()
		} else {
			err = t.conn.Close()
		}

		<-t.done
	})

	return ignoreClosed(err)
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}

	return err
}
