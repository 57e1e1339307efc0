package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"time"

	"github.com/ruffel/swish"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const agentDialTimeout = 500 * time.Millisecond

var _ swish.AgentHandle = (*agentHandle)(nil)

// agentHandle is a connection to the local ssh-agent. Identities it lists
// are offered to the server over the owning transport.
type agentHandle struct {
	transport *transport
	socket    string

	conn       net.Conn
	client     agent.ExtendedAgent
	identities []*agentIdentity
}

// agentIdentity is compared by pointer, so two listings never share one.
type agentIdentity struct {
	key *agent.Key
}

func (i *agentIdentity) PublicKey() []byte { return i.key.Blob }

func (i *agentIdentity) Comment() string { return i.key.Comment }

func (a *agentHandle) Connect() error {
	conn, err := (&net.Dialer{Timeout: agentDialTimeout}).DialContext(context.Background(), "unix", a.socket)
	if err != nil {
		return fmt.Errorf("failed to connect to ssh-agent at %s: %w", a.socket, err)
	}

	a.conn = conn
	a.client = agent.NewClient(conn)

	return nil
}

func (a *agentHandle) ListIdentities() error {
	if a.client == nil {
		return errors.New("ssh-agent not connected")
	}

	keys, err := a.client.List()
	if err != nil {
		return fmt.Errorf("failed to list agent identities: %w", err)
	}

	a.identities = make([]*agentIdentity, len(keys))
	for i, k := range keys {
		a.identities[i] = &agentIdentity{key: k}
	}

	return nil
}

func (a *agentHandle) NextIdentity(prev swish.IdentityHandle) (swish.IdentityHandle, error) {
	next := 0

	if prev != nil {
		idx := slices.IndexFunc(a.identities, func(id *agentIdentity) bool { return id == prev })
		if idx < 0 {
			return nil, errors.New("identity was not listed by this agent connection")
		}

		next = idx + 1
	}

	if next >= len(a.identities) {
		return nil, io.EOF
	}

	return a.identities[next], nil
}

// Authenticate asks the agent for a signer matching id and offers it.
func (a *agentHandle) Authenticate(user string, id swish.IdentityHandle) error {
	ident, ok := id.(*agentIdentity)
	if !ok || a.client == nil {
		return errors.New("identity was not listed by this agent connection")
	}

	signers, err := a.client.Signers()
	if err != nil {
		return fmt.Errorf("failed to fetch agent signers: %w", err)
	}

	for _, s := range signers {
		if bytes.Equal(s.PublicKey().Marshal(), ident.key.Blob) {
			return a.transport.authenticatePublicKey(user, s)
		}
	}

	return fmt.Errorf("%w: agent no longer holds %s", swish.ErrMethodUnavailable, ssh.FingerprintSHA256(ident.key))
}

func (a *agentHandle) Disconnect() error {
	if a.conn == nil {
		return nil
	}

	err := a.conn.Close()
	a.conn, a.client = nil, nil

	return err
}

func (a *agentHandle) Free() {
	a.identities = nil
}
