// Package ssh provides a swish.Engine for real servers, built on
// "golang.org/x/crypto/ssh", "github.com/pkg/sftp" and the ssh-agent client
// in "golang.org/x/crypto/ssh/agent".
//
// The engine supports:
//   - Host key capture and verification against known_hosts
//   - Password, keyboard-interactive and public key authentication
//   - SFTP channels, files and directory listings
//   - ssh-agent identities reached through SSH_AUTH_SOCK
//
// x/crypto/ssh authenticates the user inside its handshake call, while swish
// expects to drive each authentication attempt itself. The transport
// therefore runs the handshake in a goroutine and feeds every Authenticate
// call into it. This has consequences callers can see:
//   - The user name is fixed by Config.User; offering credentials for any
//     other user fails with swish.ErrMethodUnavailable.
//   - Methods are attempted in OpenSSH's default order: publickey, then
//     keyboard-interactive, then password. Once a later method has been
//     tried, earlier ones are no longer available on that connection.
//   - Keyboard-interactive may be attempted once per connection.
//   - The server is not sent a custom disconnect message; Disconnect just
//     closes the connection.
//   - pkg/sftp has no streaming readdir, so a directory is read whole when
//     it is opened and swish.DirIterator steps through that snapshot. The
//     long entry is rendered on the client in ls -l form, not taken from
//     the server.
//
// Usage:
//
//	config := ssh.NewConfig("example.com", "user")
//	config.Password = "secret"
//	session, err := ssh.Connect(ctx, config)
package ssh
