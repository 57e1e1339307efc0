package swish_test

import (
	"net"
	"testing"

	"github.com/ruffel/swish"
	"github.com/ruffel/swish/swishtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "alice"
	testPassword = "s3cret"
)

func newEngine() *swishtest.Engine {
	e := swishtest.NewEngine()
	e.Passwords[testUser] = testPassword

	return e
}

func pipe(t *testing.T) net.Conn {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return client
}

// connect opens a session against e and checks on cleanup that nothing it
// allocated was leaked or misused.
func connect(t *testing.T, e *swishtest.Engine, opts ...swish.Option) *swish.Session {
	t.Helper()

	s, err := swish.Connect(e, pipe(t), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.Empty(t, e.Leaks(), "leaked handles")
		assert.Empty(t, e.Violations(), "engine misuse")
	})

	return s
}

func login(t *testing.T, e *swishtest.Engine, opts ...swish.Option) *swish.Session {
	t.Helper()

	s := connect(t, e, opts...)

	ok, err := s.AuthenticateByPassword(testUser, testPassword)
	require.NoError(t, err)
	require.True(t, ok)

	return s
}

func openSFTP(t *testing.T, e *swishtest.Engine) (*swish.Session, *swish.SFTPChannel) {
	t.Helper()

	s := login(t, e)

	ch, err := s.OpenSFTP()
	require.NoError(t, err)

	return s, ch
}
