package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruffel/swish"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// ErrNoCredentialAccepted is returned by Connect when every configured
// credential was rejected or none was configured.
var ErrNoCredentialAccepted = errors.New("no configured credential was accepted")

// Dial opens the TCP connection to cfg's address, retrying with exponential
// backoff up to cfg.DialAttempts times. Unknown hosts are not retried.
func Dial(ctx context.Context, cfg Config) (net.Conn, error) {
	cfg = cfg.WithDefaults()
	addr := cfg.Address()
	dialer := &net.Dialer{Timeout: cfg.Timeout}

	var conn net.Conn

	operation := func() error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				return backoff.Permanent(err)
			}

			return err
		}

		conn = c

		return nil
	}

	notify := func(err error, wait time.Duration) {
		cfg.Logger.Debug("dial failed; retrying", zap.String("addr", addr), zap.Duration("wait", wait), zap.Error(err))
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.DialAttempts-1)) //nolint:gosec // at least 1 after defaults
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to dial ssh at %s: %w", addr, err)
	}

	return conn, nil
}

// Connect dials cfg's host, performs the handshake and authenticates with
// the credentials cfg carries: agent identities, then the private key, then
// the password. The returned session is authenticated.
func Connect(ctx context.Context, cfg Config, opts ...swish.Option) (*swish.Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{config: cfg}

	conn, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s, err := swish.Connect(engine, conn, append([]swish.Option{swish.WithLogger(engine.logger())}, opts...)...)
	if err != nil {
		return nil, err
	}

	if s.Authenticated() {
		return s, nil
	}

	if err := Login(s, cfg); err != nil {
		_ = s.Close()

		return nil, err
	}

	return s, nil
}

// Login authenticates s with the credentials cfg carries: agent identities,
// then the private key, then the password. A credential whose method the
// server will no longer accept is passed over. When none succeeds the
// error wraps ErrNoCredentialAccepted and s is still usable for other
// methods that rank after the ones tried.
func Login(s *swish.Session, cfg Config) error {
	cfg = cfg.WithDefaults()
	log := cfg.Logger.With(zap.String("user", cfg.User))

	if cfg.UseAgent {
		ok, err := loginWithAgent(s, cfg.User, log)
		if err != nil || ok {
			return err
		}
	}

	signer, err := cfg.Signer()
	if err != nil {
		return err
	}

	if signer != nil {
		ok, err := AuthenticateWithSigner(s, cfg.User, signer)
		if skip(err) {
			log.Debug("private key not usable", zap.Error(err))
		} else if err != nil || ok {
			return err
		}
	}

	if cfg.Password != "" {
		ok, err := s.AuthenticateByPassword(cfg.User, cfg.Password)
		if err != nil || ok {
			return err
		}
	}

	return &swish.AuthenticationError{User: cfg.User, Method: "any", Err: ErrNoCredentialAccepted}
}

// skip reports whether an authentication error only means the method
// cannot be used here, so the next credential should be tried.
func skip(err error) bool {
	return errors.Is(err, swish.ErrMethodUnavailable)
}

func loginWithAgent(s *swish.Session, user string, log *zap.Logger) (bool, error) {
	c, err := s.OpenAgent()
	if err != nil {
		log.Debug("ssh-agent unavailable", zap.Error(err))

		return false, nil
	}

	defer func() { _ = c.Close() }()

	for id, err := range c.All() {
		if err != nil {
			return false, err
		}

		authErr := id.Authenticate(user)

		switch {
		case authErr == nil:
			return true, nil
		case errors.Is(authErr, swish.ErrAuthenticationDenied):
			log.Debug("agent identity rejected", zap.String("comment", id.Comment()))
		case skip(authErr):
			log.Debug("agent identity not usable", zap.Error(authErr))

			return false, nil
		default:
			return false, authErr
		}
	}

	return false, nil
}

// AuthenticateWithSigner offers signer for public key authentication on a
// session whose engine is this package's. Like the password method it
// reports a rejection as false, nil.
func AuthenticateWithSigner(s *swish.Session, user string, signer ssh.Signer) (bool, error) {
	err := s.Do(func(t swish.Transport) error {
		st, ok := t.(*transport)
		if !ok {
			return fmt.Errorf("%w: session does not use the ssh engine", swish.ErrMethodUnavailable)
		}

		return st.authenticatePublicKey(user, signer)
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, swish.ErrAuthenticationDenied):
		return false, nil
	case swish.IsLogicError(err), errors.As(err, new(*swish.TransportError)):
		return false, err
	case errors.Is(err, swish.ErrMethodUnavailable):
		return false, &swish.AuthenticationError{User: user, Method: methodPublicKey, Err: err}
	default:
		return false, &swish.TransportError{Op: methodPublicKey + " authentication", Err: err}
	}
}
