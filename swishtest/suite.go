package swishtest

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/ruffel/swish"
	"github.com/ruffel/swish/sshpath"
	"github.com/stretchr/testify/require"
)

// Standard categories for grouping tests.
const (
	CategorySession  = "session"
	CategoryAuth     = "auth"
	CategorySFTP     = "sftp"
	CategoryTeardown = "teardown"
	CategoryErrors   = "errors"
)

// T is the minimal interface required for testify/assert and require.
type T interface {
	Errorf(format string, args ...any)
	FailNow()
	Skipf(format string, args ...any)
	Context() context.Context
	Cleanup(fn func())
	Helper()
	Name() string
}

// Target describes the server an engine is verified against.
type Target struct {
	Engine swish.Engine
	// Dial opens a fresh connection to the server.
	Dial func(t T) net.Conn
	// User and Password must be accepted by password authentication.
	User     string
	Password string
	// Dir is a writable directory the contracts may fill with scratch files.
	Dir string

	Options []swish.Option
}

// TestCase defines a single behavioral contract requirement.
type TestCase struct {
	Category    string
	Name        string
	Description string
	Prereq      func(t T, target Target) (ok bool, reason string)
	Run         func(t T, target Target)
}

// ID returns the stable, globally unique contract identifier.
func (tc TestCase) ID() string {
	return fmt.Sprintf("%s/%s", tc.Category, tc.Name)
}

// Verify is the standard Go test entry point for engine authors.
func Verify(t *testing.T, target Target) {
	t.Helper()

	for _, tc := range AllContracts() {
		t.Run(tc.ID(), func(t *testing.T) {
			if tc.Prereq != nil {
				ok, reason := tc.Prereq(t, target)
				if !ok {
					t.Skipf("prereq unmet: %s", reason)
				}
			}

			tc.Run(t, target)
		})
	}
}

// AllContracts returns all test cases for the contract test suite.
func AllContracts() []TestCase {
	const initialCapacity = 20

	contracts := make([]TestCase, 0, initialCapacity)

	contracts = append(contracts, sessionContracts()...)
	contracts = append(contracts, authContracts()...)
	contracts = append(contracts, sftpContracts()...)
	contracts = append(contracts, teardownContracts()...)
	contracts = append(contracts, errorContracts()...)

	return contracts
}

// connect opens a session that is closed when the test ends.
func connect(t T, target Target) *swish.Session {
	t.Helper()

	s, err := swish.Connect(target.Engine, target.Dial(t), target.Options...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

// login opens an authenticated session and an SFTP channel on it.
func login(t T, target Target) (*swish.Session, *swish.SFTPChannel) {
	t.Helper()

	s := connect(t, target)

	ok, err := s.AuthenticateByPassword(target.User, target.Password)
	require.NoError(t, err)
	require.True(t, ok, "password rejected for %q", target.User)

	ch, err := s.OpenSFTP()
	require.NoError(t, err)

	// Cleanups run last-registered first, so the channel closes before the
	// session.
	t.Cleanup(func() { _ = ch.Close() })

	return s, ch
}

// scratch returns a per-test path under the target's directory.
func scratch(t T, target Target, parts ...string) sshpath.Path {
	p := sshpath.New(target.Dir).JoinString(sanitize(t.Name()))
	for _, part := range parts {
		p = p.JoinString(part)
	}

	return p
}

func sanitize(name string) string {
	out := []byte(name)
	for i, c := range out {
		if c == '/' || c == ' ' {
			out[i] = '_'
		}
	}

	return string(out)
}
