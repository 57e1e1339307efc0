package swish

import (
	"bytes"
	"errors"
	"io"
	"iter"

	"go.uber.org/zap"
)

// AgentCollection is a connection to the local ssh-agent together with the
// identities it held when the collection was opened. The identity list is
// fetched once; open a new collection to see changes in the agent.
//
// Identities and iterators must not be used after the collection is
// closed; doing so reports ErrClosed.
type AgentCollection struct {
	session *Session
	log     *zap.Logger

	// Guarded by session.lock.
	handle AgentHandle
	closed bool
}

// OpenAgent connects to the agent and lists its identities. If connecting
// or listing fails, the agent handle is released before returning.
func (s *Session) OpenAgent() (*AgentCollection, error) {
	h, err := WithLock(s, func(t Transport) (AgentHandle, error) {
		h, err := t.OpenAgent()
		if err != nil {
			return nil, &TransportError{Op: "agent init", Err: err}
		}

		// Claim the session now so it cannot be closed between the
		// steps below.
		s.children++

		return h, nil
	})
	if err != nil {
		return nil, err
	}

	abandon := func(op string, cause error, connected bool) error {
		s.locked(func() {
			if connected {
				if err := h.Disconnect(); err != nil {
					s.log.Debug("agent disconnect failed", zap.Error(err))
				}
			}

			h.Free()
			s.release()
		})

		if IsLogicError(cause) {
			return cause
		}

		return &TransportError{Op: op, Err: cause}
	}

	if err := s.Do(func(Transport) error { return h.Connect() }); err != nil {
		return nil, abandon("agent connect", err, false)
	}

	if err := s.Do(func(Transport) error { return h.ListIdentities() }); err != nil {
		return nil, abandon("agent list", err, true)
	}

	s.log.Debug("agent connected")

	return &AgentCollection{
		session: s,
		log:     s.log.With(zap.String("channel", "agent")),
		handle:  h,
	}, nil
}

func (c *AgentCollection) do(op string, fn func(h AgentHandle) error) error {
	return c.session.Do(func(Transport) error {
		if c.closed {
			return logicError(op, ErrClosed)
		}

		return fn(c.handle)
	})
}

// Identities returns a fresh iterator positioned before the first identity.
func (c *AgentCollection) Identities() *IdentityIterator {
	return &IdentityIterator{collection: c}
}

// All yields every identity in the collection. Iteration stops at the
// first error, which is yielded with a zero Identity.
func (c *AgentCollection) All() iter.Seq2[Identity, error] {
	return func(yield func(Identity, error) bool) {
		it := c.Identities()
		for it.Next() {
			if !yield(it.Identity(), nil) {
				return
			}
		}

		if err := it.Err(); err != nil {
			yield(Identity{}, err)
		}
	}
}

// Close disconnects from the agent and releases the session. Errors are
// discarded. Closing twice is a no-op.
func (c *AgentCollection) Close() error {
	c.session.locked(func() {
		if c.closed {
			return
		}

		c.closed = true

		if err := c.handle.Disconnect(); err != nil {
			c.log.Debug("agent disconnect failed", zap.Error(err))
		}

		c.handle.Free()
		c.handle = nil
		c.session.release()
		c.log.Debug("agent closed")
	})

	return nil
}

// Identity is a key held by the agent. It is only valid while the
// AgentCollection it came from is open.
type Identity struct {
	collection *AgentCollection
	handle     IdentityHandle
}

// IsZero reports whether i is the zero Identity.
func (i Identity) IsZero() bool {
	return i.collection == nil || i.handle == nil
}

func (i Identity) read(fn func(h IdentityHandle)) bool {
	if i.IsZero() {
		return false
	}

	return i.collection.do("identity", func(AgentHandle) error {
		fn(i.handle)

		return nil
	}) == nil
}

// PublicKey returns the identity's public key blob, or nil if the identity
// is no longer valid.
func (i Identity) PublicKey() []byte {
	var key []byte

	i.read(func(h IdentityHandle) { key = bytes.Clone(h.PublicKey()) })

	return key
}

// Comment returns the comment the agent stores with the key.
func (i Identity) Comment() string {
	var comment string

	i.read(func(h IdentityHandle) { comment = h.Comment() })

	return comment
}

// Authenticate offers this identity to the server for user. A rejection is
// an *AuthenticationError wrapping ErrAuthenticationDenied; a connection
// failure is a *TransportError.
func (i Identity) Authenticate(user string) error {
	if i.IsZero() {
		return logicError("authenticate", ErrInvalidIdentity)
	}

	err := i.collection.do("authenticate", func(h AgentHandle) error {
		return h.Authenticate(user, i.handle)
	})

	switch {
	case err == nil:
		i.collection.log.Info("authenticated", zap.String("user", user), zap.String("method", "publickey"))

		return nil
	case IsLogicError(err):
		return err
	default:
		return authError(user, "publickey", err)
	}
}

// IdentityIterator walks the identities of an AgentCollection, fetching
// each one on demand. It is forward-only; ask the collection for a new
// iterator to start again.
type IdentityIterator struct {
	collection *AgentCollection
	current    IdentityHandle
	end        bool
	err        error
}

// Next advances to the next identity and reports whether there is one.
// Calling Next again after it has returned false is a logic error, reported
// through Err.
func (it *IdentityIterator) Next() bool {
	if it.end {
		if it.err == nil {
			it.err = logicError("identity iterator", ErrIteratorExhausted)
		}

		return false
	}

	var next IdentityHandle

	err := it.collection.do("identity iterator", func(h AgentHandle) error {
		var err error
		next, err = h.NextIdentity(it.current)

		return err
	})

	switch {
	case err == nil:
		it.current = next

		return true
	case errors.Is(err, io.EOF):
	case IsLogicError(err):
		it.err = err
	default:
		it.err = &TransportError{Op: "agent list", Err: err}
	}

	it.end = true
	it.current = nil

	return false
}

// Identity returns the identity Next moved to, or the zero Identity at the
// end.
func (it *IdentityIterator) Identity() Identity {
	if it.current == nil {
		return Identity{}
	}

	return Identity{collection: it.collection, handle: it.current}
}

// Err returns the error that ended iteration, if any.
func (it *IdentityIterator) Err() error {
	return it.err
}

// AtEnd reports whether the iterator has run off the end of the list.
func (it *IdentityIterator) AtEnd() bool {
	return it.end
}

// Equal reports whether both iterators are at the end, or both point at
// the same identity of the same collection.
func (it *IdentityIterator) Equal(other *IdentityIterator) bool {
	if it.end || other.end {
		return it.end == other.end
	}

	return it.collection == other.collection && it.current == other.current
}
