package swish

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Challenge is one keyboard-interactive round as sent by the server.
type Challenge struct {
	Title        string
	Instructions string
	Prompts      []Prompt
}

// Responder answers keyboard-interactive challenges. It must return one
// answer per prompt, in order.
//
// Respond runs while the session lock is held, inside the engine's own
// protocol exchange. Using the same Session from inside Respond deadlocks.
type Responder interface {
	Respond(c Challenge) ([]string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(c Challenge) ([]string, error)

// Respond calls f.
func (f ResponderFunc) Respond(c Challenge) ([]string, error) {
	return f(c)
}

type bridgeState int

const (
	stateNotStarted bridgeState = iota
	stateAwaitingPrompt
	stateDelegating
	stateAccepted
	stateRejected
	stateFailed
)

func (s bridgeState) String() string {
	switch s {
	case stateNotStarted:
		return "not-started"
	case stateAwaitingPrompt:
		return "awaiting-prompt"
	case stateDelegating:
		return "delegating"
	case stateAccepted:
		return "accepted"
	case stateRejected:
		return "rejected"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// challengeBridge carries a Responder across the engine callback. The
// callback cannot fail, so anything the responder raises is captured here
// and dealt with once the engine call has returned.
type challengeBridge struct {
	responder Responder
	log       *zap.Logger

	state   bridgeState
	rounds  int
	failure error

	panicked   bool
	panicValue any
}

func (b *challengeBridge) captured() bool {
	return b.failure != nil || b.panicked
}

// challenge is the ChallengeFunc handed to the engine.
func (b *challengeBridge) challenge(title, instructions string, prompts []Prompt) []string {
	b.rounds++
	b.state = stateDelegating

	c := Challenge{
		Title:        title,
		Instructions: instructions,
		Prompts:      append([]Prompt(nil), prompts...),
	}

	answers := b.ask(c)

	// Prompts that were never answered go back blank; extras are dropped.
	out := make([]string, len(prompts))
	copy(out, answers)

	b.state = stateAwaitingPrompt

	return out
}

func (b *challengeBridge) ask(c Challenge) (answers []string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("responder panicked", zap.Int("round", b.rounds), zap.Any("panic", r))

			if !b.captured() {
				b.panicked = true
				b.panicValue = r
			}
		}
	}()

	answers, err := b.responder.Respond(c)

	switch {
	case err != nil:
		b.log.Warn("responder failed", zap.Int("round", b.rounds), zap.Error(err))
		b.capture(err)
	case len(answers) < len(c.Prompts):
		b.capture(&ResponseCountError{Prompts: len(c.Prompts), Answers: len(answers)})
	}

	return answers
}

// capture keeps the first failure only.
func (b *challengeBridge) capture(err error) {
	if !b.captured() {
		b.failure = err
	}
}

// reconcile combines the engine's verdict with whatever the responder did.
//
//	accepted                            -> true, responder failure discarded
//	rejected, responder never called    -> AuthenticationError
//	rejected, responder called cleanly  -> false
//	rejected, responder failed          -> the responder's own failure
//	anything else                       -> AuthenticationError or TransportError
func (b *challengeBridge) reconcile(user string, err error) (bool, error) {
	switch {
	case err == nil:
		b.state = stateAccepted

		if b.captured() {
			b.log.Warn("authentication succeeded; discarding responder failure",
				zap.String("user", user), zap.Error(b.failureErr()))
		}

		return true, nil

	case IsLogicError(err):
		b.state = stateFailed

		return false, err

	case errors.Is(err, ErrAuthenticationDenied):
		b.state = stateRejected

		if b.rounds == 0 {
			return false, &AuthenticationError{User: user, Method: "keyboard-interactive", Err: err}
		}

		if b.panicked {
			panic(b.panicValue)
		}

		if b.failure != nil {
			return false, b.failure
		}

		return false, nil

	default:
		b.state = stateFailed

		return false, authError(user, "keyboard-interactive", err)
	}
}

func (b *challengeBridge) failureErr() error {
	if b.panicked {
		return fmt.Errorf("panic: %v", b.panicValue)
	}

	return b.failure
}

// AuthenticateInteractively runs keyboard-interactive authentication,
// calling responder once for every round of prompts the server sends.
//
// Results:
//   - the server accepts: true, nil. This holds even if the responder
//     failed along the way; its failure is logged and discarded, so a user
//     who cancelled a later prompt may still end up authenticated.
//   - the server rejects after the responder answered cleanly: false, nil.
//   - the server rejects after the responder failed: the responder's own
//     error, unwrapped. A responder panic is re-raised with its original
//     value once the session lock has been released.
//   - the server rejects without ever prompting, or does not offer the
//     method: an *AuthenticationError.
//   - the connection fails: a *TransportError.
//
// The responder runs with the session lock held; it must not use this
// Session.
func (s *Session) AuthenticateInteractively(user string, responder Responder) (bool, error) {
	if responder == nil {
		return false, logicError("authenticate interactively", errors.New("nil responder"))
	}

	b := &challengeBridge{
		responder: responder,
		log:       s.log.With(zap.String("user", user)),
	}

	err := s.Do(func(t Transport) error {
		b.state = stateAwaitingPrompt

		return t.AuthenticateKeyboardInteractive(user, b.challenge)
	})

	ok, err := b.reconcile(user, err)
	s.log.Debug("keyboard-interactive finished",
		zap.String("user", user), zap.Int("rounds", b.rounds), zap.Stringer("state", b.state))

	if ok {
		s.log.Info("authenticated", zap.String("user", user), zap.String("method", "keyboard-interactive"))
	}

	return ok, err
}
