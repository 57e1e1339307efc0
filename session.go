package swish

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session owns a native Transport and the lock that serialises every call
// made on it.
//
// The lock is allocated separately from the Session so that channels, files
// and agent collections can hold on to it independently of the Session
// value. A Session must not be copied; use the *Session returned by Connect.
type Session struct {
	id   string
	lock *sync.Mutex
	log  *zap.Logger

	disconnectMessage string

	// Guarded by lock.
	transport Transport
	children  int
	closed    bool
}

// Connect allocates a transport from engine and performs the blocking SSH
// handshake over conn. If the handshake fails the transport is freed and
// no Session is returned.
func Connect(engine Engine, conn net.Conn, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	if engine == nil {
		return nil, logicError("connect", errors.New("nil engine"))
	}

	t, err := engine.NewTransport()
	if err != nil {
		return nil, &TransportError{Op: "session init", Err: err}
	}

	if err := t.Handshake(conn); err != nil {
		if freeErr := t.Free(); freeErr != nil {
			cfg.logger.Debug("free after failed handshake", zap.Error(freeErr))
		}

		return nil, &TransportError{Op: "handshake", Err: err}
	}

	id := uuid.NewString()
	s := &Session{
		id:                id,
		lock:              &sync.Mutex{},
		log:               cfg.logger.With(zap.String("session", id)),
		disconnectMessage: cfg.disconnectMessage,
		transport:         t,
	}

	s.log.Debug("session established")

	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// WithLock runs fn with the session's lock held and returns its result. It
// is the only way to reach the Transport, and every operation in this
// package goes through it. fn must make a single native call; it must not
// call back into the same session.
func WithLock[R any](s *Session, fn func(t Transport) (R, error)) (R, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		var zero R

		return zero, logicError("session", ErrClosed)
	}

	return fn(s.transport)
}

// Do is WithLock for calls that only return an error.
func (s *Session) Do(fn func(t Transport) error) error {
	_, err := WithLock(s, func(t Transport) (struct{}, error) {
		return struct{}{}, fn(t)
	})

	return err
}

// locked runs fn under the lock without the closed check. Children use it
// for their own teardown, which must not fail because of the parent.
func (s *Session) locked(fn func()) {
	s.lock.Lock()
	defer s.lock.Unlock()

	fn()
}

// release drops a child's claim on the session. Must hold lock.
func (s *Session) release() {
	s.children--
}

// HostKey returns the server's host key.
func (s *Session) HostKey() (HostKey, error) {
	return WithLock(s, func(t Transport) (HostKey, error) {
		key, algorithm, err := t.HostKey()
		if err != nil {
			return HostKey{}, &TransportError{Op: "host key", Err: err}
		}

		return HostKey{Key: bytes.Clone(key), Algorithm: algorithm}, nil
	})
}

// Authenticated reports whether user authentication has completed.
func (s *Session) Authenticated() bool {
	ok, _ := WithLock(s, func(t Transport) (bool, error) {
		return t.Authenticated(), nil
	})

	return ok
}

// AuthenticateByPassword offers a password. It returns false, nil when the
// server rejects it. A connection failure is a *TransportError.
func (s *Session) AuthenticateByPassword(user, password string) (bool, error) {
	err := s.Do(func(t Transport) error {
		return t.AuthenticatePassword(user, password)
	})

	switch {
	case err == nil:
		s.log.Info("authenticated", zap.String("user", user), zap.String("method", "password"))

		return true, nil
	case errors.Is(err, ErrAuthenticationDenied):
		s.log.Debug("password rejected", zap.String("user", user))

		return false, nil
	case IsLogicError(err):
		return false, err
	default:
		return false, authError(user, "password", err)
	}
}

// Close ends the session. If a disconnect message was configured it is sent
// first; failures while tearing down are logged and discarded. Close is
// refused while SFTP channels or agent collections opened from this session
// are still open. Closing twice is a no-op.
func (s *Session) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	if s.children > 0 {
		return logicError("close session", fmt.Errorf("%w: %d still open", ErrLiveChildren, s.children))
	}

	s.closed = true

	if s.disconnectMessage != "" {
		if err := s.transport.Disconnect(s.disconnectMessage); err != nil {
			s.log.Debug("disconnect failed", zap.Error(err))
		}
	}

	if err := s.transport.Free(); err != nil {
		s.log.Debug("free failed", zap.Error(err))
	}

	s.transport = nil
	s.log.Debug("session closed")

	return nil
}
