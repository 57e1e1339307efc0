package mock

import (
	"net"
	"os"

	"github.com/ruffel/swish"
	"github.com/stretchr/testify/mock"
)

// Engine implements a mock swish.Engine using testify/mock.
type Engine struct {
	mock.Mock
}

var _ swish.Engine = (*Engine)(nil)

// New creates a new mock engine.
func New() *Engine {
	return &Engine{}
}

// NewTransport mocks allocating a native transport.
func (m *Engine) NewTransport() (swish.Transport, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(swish.Transport), args.Error(1)
}

// Transport implements a mock swish.Transport using testify/mock.
type Transport struct {
	mock.Mock
}

var _ swish.Transport = (*Transport)(nil)

// Handshake mocks the protocol handshake.
func (m *Transport) Handshake(conn net.Conn) error {
	args := m.Called(conn)

	return args.Error(0)
}

// HostKey mocks returning the server's host key.
func (m *Transport) HostKey() ([]byte, string, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}

	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

// AuthenticatePassword mocks password authentication.
func (m *Transport) AuthenticatePassword(user, password string) error {
	args := m.Called(user, password)

	return args.Error(0)
}

// AuthenticateKeyboardInteractive mocks keyboard-interactive authentication.
// Use Answer to drive the challenge callback.
func (m *Transport) AuthenticateKeyboardInteractive(user string, challenge swish.ChallengeFunc) error {
	args := m.Called(user, challenge)

	return args.Error(0)
}

// Authenticated mocks reporting the authentication state.
func (m *Transport) Authenticated() bool {
	args := m.Called()

	return args.Bool(0)
}

// OpenSFTP mocks starting the SFTP sub-protocol.
func (m *Transport) OpenSFTP() (swish.SFTPHandle, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(swish.SFTPHandle), args.Error(1)
}

// OpenAgent mocks allocating an agent handle.
func (m *Transport) OpenAgent() (swish.AgentHandle, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(swish.AgentHandle), args.Error(1)
}

// Disconnect mocks sending a disconnect message.
func (m *Transport) Disconnect(message string) error {
	args := m.Called(message)

	return args.Error(0)
}

// Free mocks releasing the handle.
func (m *Transport) Free() error {
	args := m.Called()

	return args.Error(0)
}

// SFTP implements a mock swish.SFTPHandle using testify/mock.
type SFTP struct {
	mock.Mock
}

var _ swish.SFTPHandle = (*SFTP)(nil)

// Open mocks opening a file.
func (m *SFTP) Open(path string, flags swish.OpenFlag, mode os.FileMode) (swish.FileHandle, error) {
	args := m.Called(path, flags, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(swish.FileHandle), args.Error(1)
}

// OpenDir mocks opening a directory.
func (m *SFTP) OpenDir(path string) (swish.DirHandle, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(swish.DirHandle), args.Error(1)
}

// Rename mocks renaming a file.
func (m *SFTP) Rename(from, to string, overwrite bool) error {
	args := m.Called(from, to, overwrite)

	return args.Error(0)
}

// Remove mocks removing a file.
func (m *SFTP) Remove(path string) error {
	args := m.Called(path)

	return args.Error(0)
}

// Mkdir mocks creating a directory.
func (m *SFTP) Mkdir(path string, mode os.FileMode) error {
	args := m.Called(path, mode)

	return args.Error(0)
}

// Rmdir mocks removing a directory.
func (m *SFTP) Rmdir(path string) error {
	args := m.Called(path)

	return args.Error(0)
}

// Stat mocks reading attributes, following links.
func (m *SFTP) Stat(path string) (swish.Attributes, error) {
	args := m.Called(path)

	return args.Get(0).(swish.Attributes), args.Error(1)
}

// Lstat mocks reading attributes without following links.
func (m *SFTP) Lstat(path string) (swish.Attributes, error) {
	args := m.Called(path)

	return args.Get(0).(swish.Attributes), args.Error(1)
}

// SetStat mocks changing attributes.
func (m *SFTP) SetStat(path string, attrs swish.Attributes) error {
	args := m.Called(path, attrs)

	return args.Error(0)
}

// Symlink mocks creating a symbolic link.
func (m *SFTP) Symlink(target, link string) error {
	args := m.Called(target, link)

	return args.Error(0)
}

// ReadLink mocks reading a link target.
func (m *SFTP) ReadLink(path string) (string, error) {
	args := m.Called(path)

	return args.String(0), args.Error(1)
}

// RealPath mocks canonicalising a path.
func (m *SFTP) RealPath(path string) (string, error) {
	args := m.Called(path)

	return args.String(0), args.Error(1)
}

// Shutdown mocks stopping the sub-protocol.
func (m *SFTP) Shutdown() error {
	args := m.Called()

	return args.Error(0)
}

// File implements a mock swish.FileHandle using testify/mock.
type File struct {
	mock.Mock
}

var _ swish.FileHandle = (*File)(nil)

// Read mocks reading from the file.
func (m *File) Read(p []byte) (int, error) {
	args := m.Called(p)

	return args.Int(0), args.Error(1)
}

// Write mocks writing to the file.
func (m *File) Write(p []byte) (int, error) {
	args := m.Called(p)

	return args.Int(0), args.Error(1)
}

// Seek mocks moving the file offset.
func (m *File) Seek(offset int64, whence int) (int64, error) {
	args := m.Called(offset, whence)

	return args.Get(0).(int64), args.Error(1)
}

// Close mocks closing the file.
func (m *File) Close() error {
	args := m.Called()

	return args.Error(0)
}

// Fstat mocks reading the open file's attributes.
func (m *File) Fstat() (swish.Attributes, error) {
	args := m.Called()

	return args.Get(0).(swish.Attributes), args.Error(1)
}

// Dir implements a mock swish.DirHandle using testify/mock.
type Dir struct {
	mock.Mock
}

var _ swish.DirHandle = (*Dir)(nil)

// Next mocks returning the next directory entry.
func (m *Dir) Next() (string, string, swish.Attributes, error) {
	args := m.Called()

	return args.String(0), args.String(1), args.Get(2).(swish.Attributes), args.Error(3)
}

// Close mocks closing the listing.
func (m *Dir) Close() error {
	args := m.Called()

	return args.Error(0)
}

// Agent implements a mock swish.AgentHandle using testify/mock.
type Agent struct {
	mock.Mock
}

var _ swish.AgentHandle = (*Agent)(nil)

// Connect mocks connecting to the agent.
func (m *Agent) Connect() error {
	args := m.Called()

	return args.Error(0)
}

// ListIdentities mocks fetching the agent's identities.
func (m *Agent) ListIdentities() error {
	args := m.Called()

	return args.Error(0)
}

// NextIdentity mocks walking the fetched identities.
func (m *Agent) NextIdentity(prev swish.IdentityHandle) (swish.IdentityHandle, error) {
	args := m.Called(prev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(swish.IdentityHandle), args.Error(1)
}

// Authenticate mocks offering an identity to the server.
func (m *Agent) Authenticate(user string, id swish.IdentityHandle) error {
	args := m.Called(user, id)

	return args.Error(0)
}

// Disconnect mocks closing the agent connection.
func (m *Agent) Disconnect() error {
	args := m.Called()

	return args.Error(0)
}

// Free mocks releasing the handle.
func (m *Agent) Free() {
	m.Called()
}

// Identity is a comparable swish.IdentityHandle for use with Agent.
type Identity struct {
	Key  string
	Note string
}

// PublicKey returns the key blob.
func (i *Identity) PublicKey() []byte { return []byte(i.Key) }

// Comment returns the identity's comment.
func (i *Identity) Comment() string { return i.Note }

// Answer is a helper that runs a keyboard-interactive challenge against a
// mocked transport and records the answers.
// Usage: tr.On("AuthenticateKeyboardInteractive", "bob", mock.Anything).Run(Answer("Title", "", prompts, &got)).Return(nil).
func Answer(title, instructions string, prompts []swish.Prompt, answers *[]string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		challenge, ok := args.Get(1).(swish.ChallengeFunc)
		if !ok {
			return
		}

		got := challenge(title, instructions, prompts)
		if answers != nil {
			*answers = got
		}
	}
}
