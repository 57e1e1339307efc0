package swishtest

import (
	"bytes"
	"errors"
	"io"
	"slices"

	"github.com/ruffel/swish"
)

// errStaleIdentity is returned when an identity from an earlier listing is
// passed back to the agent.
var errStaleIdentity = errors.New("identity is not part of the current listing")

type identity struct {
	blob    []byte
	comment string
}

func (i *identity) PublicKey() []byte { return i.blob }
func (i *identity) Comment() string   { return i.comment }

type agentHandle struct {
	transport *transport

	connected bool
	freed     bool
	listed    []*identity
}

func (a *agentHandle) engine() *Engine { return a.transport.engine }

func (a *agentHandle) call(op string) (func(), error) {
	done, err := a.engine().enter("agent." + op)
	if a.freed {
		a.engine().violate("agent.%s after free", op)
	}

	return done, err
}

func (a *agentHandle) Connect() error {
	done, err := a.call("connect")
	defer done()

	if err != nil {
		return err
	}

	if a.engine().AgentConnectErr != nil {
		return a.engine().AgentConnectErr
	}

	a.connected = true

	return nil
}

func (a *agentHandle) ListIdentities() error {
	done, err := a.call("list")
	defer done()

	if err != nil {
		return err
	}

	if !a.connected {
		return errors.New("agent not connected")
	}

	if a.engine().AgentListErr != nil {
		return a.engine().AgentListErr
	}

	e := a.engine()
	e.mu.Lock()
	e.listings++
	e.mu.Unlock()

	a.listed = a.listed[:0:0]

	for _, k := range a.engine().AgentKeys {
		a.listed = append(a.listed, &identity{blob: slices.Clone(k.Blob), comment: k.Comment})
	}

	return nil
}

func (a *agentHandle) NextIdentity(prev swish.IdentityHandle) (swish.IdentityHandle, error) {
	done, err := a.call("next")
	defer done()

	if err != nil {
		return nil, err
	}

	next := 0

	if prev != nil {
		i := a.index(prev)
		if i < 0 {
			return nil, errStaleIdentity
		}

		next = i + 1
	}

	if next >= len(a.listed) {
		return nil, io.EOF
	}

	return a.listed[next], nil
}

func (a *agentHandle) index(h swish.IdentityHandle) int {
	return slices.IndexFunc(a.listed, func(id *identity) bool { return swish.IdentityHandle(id) == h })
}

func (a *agentHandle) Authenticate(user string, id swish.IdentityHandle) error {
	done, err := a.call("authenticate")
	defer done()

	if err != nil {
		return err
	}

	if a.index(id) < 0 {
		return errStaleIdentity
	}

	for _, blob := range a.engine().AuthorizedKeys[user] {
		if bytes.Equal(blob, id.PublicKey()) {
			a.transport.authenticated = true

			return nil
		}
	}

	return swish.ErrAuthenticationDenied
}

func (a *agentHandle) Disconnect() error {
	done, err := a.call("disconnect")
	defer done()

	a.connected = false

	return err
}

func (a *agentHandle) Free() {
	done, _ := a.engine().enter("agent.free")
	defer done()

	if a.freed {
		a.engine().violate("agent freed twice")

		return
	}

	a.freed = true
	a.transport.children--
	a.engine().free(KindAgent)
}

// Listings reports how many times ListIdentities ran across all agent
// handles the engine has handed out.
func (e *Engine) Listings() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.listings
}
