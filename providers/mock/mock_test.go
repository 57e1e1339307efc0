package mock

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/ruffel/swish"
	"github.com/ruffel/swish/sshpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, opts ...swish.Option) (*swish.Session, *Transport) {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	engine := New()
	tr := &Transport{}

	engine.On("NewTransport").Return(tr, nil).Once()
	tr.On("Handshake", client).Return(nil).Once()

	s, err := swish.Connect(engine, client, opts...)
	require.NoError(t, err)

	engine.AssertExpectations(t)

	return s, tr
}

func TestMockSession_Lifecycle(t *testing.T) {
	t.Parallel()

	s, tr := connect(t, swish.WithDisconnectMessage("bye"))

	tr.On("AuthenticatePassword", "bob", "wrong").Return(swish.ErrAuthenticationDenied).Once()
	tr.On("AuthenticatePassword", "bob", "secret").Return(nil).Once()
	tr.On("Disconnect", "bye").Return(nil).Once()
	tr.On("Free").Return(nil).Once()

	ok, err := s.AuthenticateByPassword("bob", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AuthenticateByPassword("bob", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	tr.AssertExpectations(t)
}

func TestMockSession_HandshakeFailureFreesTransport(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	engine := New()
	tr := &Transport{}
	cause := errors.New("kex failed")

	engine.On("NewTransport").Return(tr, nil)
	tr.On("Handshake", client).Return(cause)
	tr.On("Free").Return(nil).Once()

	s, err := swish.Connect(engine, client)
	assert.Nil(t, s)

	var transportErr *swish.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.ErrorIs(t, err, cause)

	tr.AssertExpectations(t)
}

func TestMockSession_KeyboardInteractive(t *testing.T) {
	t.Parallel()

	s, tr := connect(t)
	prompts := []swish.Prompt{{Text: "Code: ", Echo: true}}

	var answers []string

	tr.On("AuthenticateKeyboardInteractive", "bob", mock.Anything).
		Run(Answer("bank", "enter the code", prompts, &answers)).
		Return(nil).Once()
	tr.On("Free").Return(nil)

	ok, err := s.AuthenticateInteractively("bob", swish.ResponderFunc(func(c swish.Challenge) ([]string, error) {
		assert.Equal(t, "bank", c.Title)
		assert.Equal(t, prompts, c.Prompts)

		return []string{"4242"}, nil
	}))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"4242"}, answers)

	require.NoError(t, s.Close())
	tr.AssertExpectations(t)
}

func TestMockSession_SFTPTeardownOrder(t *testing.T) {
	t.Parallel()

	s, tr := connect(t)
	h := &SFTP{}

	tr.On("Authenticated").Return(true)
	tr.On("OpenSFTP").Return(h, nil).Once()
	tr.On("Free").Return(nil).Once()
	h.On("Stat", "/etc/motd").Return(swish.Attributes{Flags: swish.AttrSize, Size: 12}, nil)
	h.On("Remove", "/missing").Return(&swish.StatusError{Code: swish.StatusNoSuchFile, Message: "no such file"})
	h.On("Shutdown").Return(nil).Once()

	ch, err := s.OpenSFTP()
	require.NoError(t, err)

	attrs, err := ch.Stat(sshpath.New("/etc/motd"))
	require.NoError(t, err)
	assert.EqualValues(t, 12, attrs.Size)

	var sftpErr *swish.SFTPError
	require.ErrorAs(t, ch.Remove(sshpath.New("/missing")), &sftpErr)
	assert.Equal(t, swish.StatusNoSuchFile, sftpErr.Code)

	// The channel is still open, so the session refuses to go.
	require.ErrorIs(t, s.Close(), swish.ErrLiveChildren)

	require.NoError(t, ch.Close())
	require.NoError(t, s.Close())

	tr.AssertExpectations(t)
	h.AssertExpectations(t)
}

func TestMockSession_AgentIdentities(t *testing.T) {
	t.Parallel()

	s, tr := connect(t)
	a := &Agent{}
	first := &Identity{Key: "key-1", Note: "laptop"}
	second := &Identity{Key: "key-2", Note: "yubikey"}

	tr.On("OpenAgent").Return(a, nil).Once()
	tr.On("Free").Return(nil)
	a.On("Connect").Return(nil).Once()
	a.On("ListIdentities").Return(nil).Once()
	a.On("NextIdentity", nil).Return(first, nil)
	a.On("NextIdentity", first).Return(second, nil)
	a.On("NextIdentity", second).Return(nil, io.EOF).Maybe()
	a.On("Authenticate", "bob", first).Return(swish.ErrAuthenticationDenied)
	a.On("Authenticate", "bob", second).Return(nil)
	a.On("Disconnect").Return(nil).Once()
	a.On("Free").Return().Once()

	c, err := s.OpenAgent()
	require.NoError(t, err)

	var comments []string

	for id, err := range c.All() {
		require.NoError(t, err)
		comments = append(comments, id.Comment())

		if id.Authenticate("bob") == nil {
			break
		}
	}

	assert.Equal(t, []string{"laptop", "yubikey"}, comments)

	require.NoError(t, c.Close())
	require.NoError(t, s.Close())

	a.AssertExpectations(t)
}

func TestMockSession_AgentConnectFailureReleasesHandle(t *testing.T) {
	t.Parallel()

	s, tr := connect(t)
	a := &Agent{}

	tr.On("OpenAgent").Return(a, nil).Once()
	tr.On("Free").Return(nil)
	a.On("Connect").Return(errors.New("no agent")).Once()
	a.On("Free").Return().Once()

	c, err := s.OpenAgent()
	assert.Nil(t, c)

	var transportErr *swish.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "agent connect", transportErr.Op)

	require.NoError(t, s.Close())
	a.AssertExpectations(t)
	a.AssertNotCalled(t, "Disconnect")
}
