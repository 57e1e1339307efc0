// Package swish manages the lifecycle of an SSH session and everything that
// hangs off it: SFTP channels, open files, directory listings and ssh-agent
// connections. It also turns keyboard-interactive authentication into an
// ordinary call that returns a result.
//
// # Engines
//
// The SSH and SFTP protocols themselves are supplied by an Engine (see
// providers/ssh for one built on golang.org/x/crypto/ssh and
// github.com/pkg/sftp). Engine handles are not safe for concurrent use, so
// every call into them, from whichever object it hangs off, is made while
// holding the owning Session's single lock. The lock is held for one native
// call at a time, never across a sequence of calls.
//
// # Teardown order
//
// Derived objects must be closed before the object they came from: File and
// DirIterator before SFTPChannel, SFTPChannel and AgentCollection before
// Session. Closing a parent that still has open children is refused with a
// *LogicError.
//
// # Authentication results
//
// A server rejecting a password or a set of challenge responses is not an
// error: the Authenticate methods report it as false. Errors are kept for
// conditions the caller cannot plan around.
package swish

import (
	"io"
	"net"
	"os"
)

// Engine allocates native Transports.
type Engine interface {
	NewTransport() (Transport, error)
}

// Prompt is a single keyboard-interactive question.
type Prompt struct {
	Text string
	Echo bool // false when the answer should be obscured on screen
}

// ChallengeFunc answers one keyboard-interactive round. It cannot fail:
// engines call it from inside the protocol exchange.
type ChallengeFunc func(title, instructions string, prompts []Prompt) []string

// Transport is a native SSH connection handle. None of its methods may be
// called concurrently.
type Transport interface {
	// Handshake runs the blocking protocol handshake over conn. A transport
	// whose handshake failed must still be freed.
	Handshake(conn net.Conn) error

	// HostKey returns the server's public key blob and its algorithm name.
	HostKey() (key []byte, algorithm string, err error)

	// AuthenticatePassword returns nil on success, ErrAuthenticationDenied
	// when the server rejects the password, ErrMethodUnavailable when the
	// method cannot be used.
	AuthenticatePassword(user, password string) error

	// AuthenticateKeyboardInteractive drives zero or more challenge rounds,
	// calling challenge once per round. Results as for AuthenticatePassword.
	AuthenticateKeyboardInteractive(user string, challenge ChallengeFunc) error

	// Authenticated reports whether user authentication has completed.
	Authenticated() bool

	OpenSFTP() (SFTPHandle, error)
	OpenAgent() (AgentHandle, error)

	// Disconnect tells the server the session is ending.
	Disconnect(message string) error

	// Free releases the handle. It must be called exactly once.
	Free() error
}

// SFTPHandle is a native SFTP sub-protocol handle. Protocol failures are
// reported as *StatusError.
type SFTPHandle interface {
	Open(path string, flags OpenFlag, mode os.FileMode) (FileHandle, error)
	OpenDir(path string) (DirHandle, error)
	Rename(from, to string, overwrite bool) error
	Remove(path string) error
	Mkdir(path string, mode os.FileMode) error
	Rmdir(path string) error
	Stat(path string) (Attributes, error)
	Lstat(path string) (Attributes, error)
	SetStat(path string, attrs Attributes) error
	Symlink(target, link string) error
	ReadLink(path string) (string, error)
	RealPath(path string) (string, error)
	Shutdown() error
}

// FileHandle is a native open file.
type FileHandle interface {
	io.ReadWriteSeeker
	io.Closer
	Fstat() (Attributes, error)
}

// DirHandle is a native open directory.
type DirHandle interface {
	// Next returns the next entry, or io.EOF when there are no more.
	Next() (name, longEntry string, attrs Attributes, err error)
	Close() error
}

// IdentityHandle is an identity held by an agent. It is only meaningful
// while the AgentHandle that produced it is alive. Implementations must be
// comparable; iterators compare handles with ==.
type IdentityHandle interface {
	PublicKey() []byte
	Comment() string
}

// AgentHandle is a native ssh-agent connection.
type AgentHandle interface {
	Connect() error
	ListIdentities() error

	// NextIdentity returns the identity after prev (the first one when prev
	// is nil), or io.EOF when there are no more.
	NextIdentity(prev IdentityHandle) (IdentityHandle, error)

	// Authenticate offers id to the server. Results as for
	// Transport.AuthenticatePassword.
	Authenticate(user string, id IdentityHandle) error

	Disconnect() error
	Free()
}
