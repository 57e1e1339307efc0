package swishtest

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ruffel/swish"
)

// Kind names a class of native handle the Engine hands out.
type Kind string

const (
	KindTransport Kind = "transport"
	KindSFTP      Kind = "sftp"
	KindFile      Kind = "file"
	KindDir       Kind = "dir"
	KindAgent     Kind = "agent"
)

// Round is one scripted keyboard-interactive round. A nil Answers accepts
// whatever the responder sends.
type Round struct {
	Title        string
	Instructions string
	Prompts      []swish.Prompt
	Answers      []string
}

// AgentKey is an identity held by the fake agent.
type AgentKey struct {
	Blob    []byte
	Comment string
}

// Engine is an in-memory swish.Engine. It keeps a count of every handle it
// hands out, logs every native call, and records any call that starts while
// another is still running.
//
// Configure the exported fields before connecting; they are not guarded.
type Engine struct {
	HostKey          []byte
	HostKeyAlgorithm string

	// Passwords maps users to their password.
	Passwords map[string]string
	// Interactive scripts keyboard-interactive authentication per user.
	// Users missing from the map are rejected without being prompted.
	Interactive map[string][]Round
	// AgentKeys are the identities the fake agent holds.
	AgentKeys []AgentKey
	// AuthorizedKeys maps users to the key blobs the server accepts.
	AuthorizedKeys map[string][][]byte

	HandshakeErr    error
	SFTPInitErr     error
	AgentOpenErr    error
	AgentConnectErr error
	AgentListErr    error

	// Latency is slept inside every native call. Concurrency tests use it
	// to widen the window in which overlapping calls would be observed.
	Latency time.Duration

	FS *FS

	mu          sync.Mutex
	allocated   map[Kind]int
	live        map[Kind]int
	violations  []string
	calls       []Call
	disconnects []string
	injected    map[string]error
	seq         int
	listings    int

	active   atomic.Int32
	overlaps atomic.Int32
}

var _ swish.Engine = (*Engine)(nil)

// NewEngine returns an Engine with an empty filesystem rooted at "/" and a
// fixed ed25519 host key.
func NewEngine() *Engine {
	return &Engine{
		HostKey:          []byte("swishtest-host-key"),
		HostKeyAlgorithm: "ssh-ed25519",
		Passwords:        map[string]string{},
		Interactive:      map[string][]Round{},
		AuthorizedKeys:   map[string][][]byte{},
		FS:               NewFS(),
		allocated:        map[Kind]int{},
		live:             map[Kind]int{},
		injected:         map[string]error{},
	}
}

// NewTransport implements swish.Engine.
func (e *Engine) NewTransport() (swish.Transport, error) {
	e.alloc(KindTransport)

	return &transport{engine: e}, nil
}

// Allocated reports how many handles of kind have been handed out.
func (e *Engine) Allocated(kind Kind) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.allocated[kind]
}

// Live reports how many handles of kind are allocated and not yet freed.
func (e *Engine) Live(kind Kind) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.live[kind]
}

// Leaks lists every kind with live handles.
func (e *Engine) Leaks() map[Kind]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	leaks := map[Kind]int{}

	for k, n := range e.live {
		if n != 0 {
			leaks[k] = n
		}
	}

	return leaks
}

// Violations lists misuse seen by the engine: double frees, handles used
// after release, parents freed before their children.
func (e *Engine) Violations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Clone(e.violations)
}

// Overlaps reports how many native calls started while another was running.
func (e *Engine) Overlaps() int {
	return int(e.overlaps.Load())
}

// Disconnects returns the messages passed to Disconnect, in order.
func (e *Engine) Disconnects() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Clone(e.disconnects)
}

// Inject makes the next native call named op fail with err. Op names match
// those in the call log, such as "sftp.stat" or "file.read".
func (e *Engine) Inject(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.injected[op] = err
}

func (e *Engine) alloc(kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.allocated[kind]++
	e.live[kind]++
}

func (e *Engine) free(kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.live[kind]--
}

func (e *Engine) violate(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.violations = append(e.violations, fmt.Sprintf(format, args...))
}

// enter records the start of a native call and returns the function that
// records its end, along with any error injected for op.
func (e *Engine) enter(op string) (func(), error) {
	if e.active.Add(1) > 1 {
		e.overlaps.Add(1)
	}

	e.mu.Lock()
	e.seq++
	e.calls = append(e.calls, Call{Seq: e.seq, Op: op, Phase: PhaseEnter})
	err := e.injected[op]
	delete(e.injected, op)
	e.mu.Unlock()

	if e.Latency > 0 {
		time.Sleep(e.Latency)
	}

	return func() {
		e.mu.Lock()
		e.seq++
		e.calls = append(e.calls, Call{Seq: e.seq, Op: op, Phase: PhaseExit})
		e.mu.Unlock()

		e.active.Add(-1)
	}, err
}

type transport struct {
	engine *Engine

	handshaken    bool
	authenticated bool
	freed         bool
	children      int
}

func (t *transport) Handshake(conn net.Conn) error {
	done, err := t.engine.enter("transport.handshake")
	defer done()

	if err != nil {
		return err
	}

	if conn == nil {
		return errors.New("no socket")
	}

	// A closed socket refuses deadlines.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("banner exchange: %w", err)
	}

	if t.engine.HandshakeErr != nil {
		return t.engine.HandshakeErr
	}

	t.handshaken = true

	return nil
}

func (t *transport) HostKey() ([]byte, string, error) {
	done, err := t.engine.enter("transport.hostkey")
	defer done()

	if err != nil {
		return nil, "", err
	}

	if !t.handshaken {
		return nil, "", errors.New("handshake not complete")
	}

	return slices.Clone(t.engine.HostKey), t.engine.HostKeyAlgorithm, nil
}

func (t *transport) AuthenticatePassword(user, password string) error {
	done, err := t.engine.enter("transport.password")
	defer done()

	if err != nil {
		return err
	}

	want, ok := t.engine.Passwords[user]
	if !ok || want != password {
		return swish.ErrAuthenticationDenied
	}

	t.authenticated = true

	return nil
}

func (t *transport) AuthenticateKeyboardInteractive(user string, challenge swish.ChallengeFunc) error {
	done, err := t.engine.enter("transport.keyboard-interactive")
	defer done()

	if err != nil {
		return err
	}

	rounds, ok := t.engine.Interactive[user]
	if !ok {
		return swish.ErrAuthenticationDenied
	}

	for _, r := range rounds {
		answers := challenge(r.Title, r.Instructions, slices.Clone(r.Prompts))
		if len(answers) != len(r.Prompts) {
			t.engine.violate("keyboard-interactive: %d answers for %d prompts", len(answers), len(r.Prompts))
		}

		if r.Answers != nil && !slices.Equal(answers, r.Answers) {
			return swish.ErrAuthenticationDenied
		}
	}

	t.authenticated = true

	return nil
}

func (t *transport) Authenticated() bool {
	done, _ := t.engine.enter("transport.authenticated")
	defer done()

	return t.authenticated
}

func (t *transport) OpenSFTP() (swish.SFTPHandle, error) {
	done, err := t.engine.enter("transport.sftp-init")
	defer done()

	if err != nil {
		return nil, err
	}

	if t.engine.SFTPInitErr != nil {
		return nil, t.engine.SFTPInitErr
	}

	t.engine.alloc(KindSFTP)
	t.children++

	return &sftpHandle{transport: t}, nil
}

func (t *transport) OpenAgent() (swish.AgentHandle, error) {
	done, err := t.engine.enter("transport.agent-init")
	defer done()

	if err != nil {
		return nil, err
	}

	if t.engine.AgentOpenErr != nil {
		return nil, t.engine.AgentOpenErr
	}

	t.engine.alloc(KindAgent)
	t.children++

	return &agentHandle{transport: t}, nil
}

func (t *transport) Disconnect(message string) error {
	done, err := t.engine.enter("transport.disconnect")
	defer done()

	if err != nil {
		return err
	}

	t.engine.mu.Lock()
	t.engine.disconnects = append(t.engine.disconnects, message)
	t.engine.mu.Unlock()

	return nil
}

func (t *transport) Free() error {
	done, _ := t.engine.enter("transport.free")
	defer done()

	if t.freed {
		t.engine.violate("transport freed twice")

		return nil
	}

	if t.children > 0 {
		t.engine.violate("transport freed with %d live children", t.children)
	}

	t.freed = true
	t.engine.free(KindTransport)

	return nil
}
