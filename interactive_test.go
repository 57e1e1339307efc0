package swish_test

import (
	"errors"
	"testing"

	"github.com/ruffel/swish"
	"github.com/ruffel/swish/swishtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errCancelled = errors.New("user cancelled")

// otpRounds asks for a password and then a one-time code.
func otpRounds(accept bool) []swishtest.Round {
	rounds := []swishtest.Round{
		{
			Title:        "Login",
			Instructions: "Enter your credentials",
			Prompts:      []swish.Prompt{{Text: "Password: ", Echo: false}},
			Answers:      []string{"hunter2"},
		},
		{
			Title:   "Second factor",
			Prompts: []swish.Prompt{{Text: "Code: ", Echo: true}, {Text: "Remember? ", Echo: true}},
			Answers: []string{"123456", "no"},
		},
	}

	if accept {
		for i := range rounds {
			rounds[i].Answers = nil
		}
	}

	return rounds
}

func answers(byPrompt map[string]string) swish.ResponderFunc {
	return func(c swish.Challenge) ([]string, error) {
		out := make([]string, 0, len(c.Prompts))
		for _, p := range c.Prompts {
			out = append(out, byPrompt[p.Text])
		}

		return out, nil
	}
}

var rightAnswers = map[string]string{"Password: ": "hunter2", "Code: ": "123456", "Remember? ": "no"}

func TestAuthenticateInteractively(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rounds    []swishtest.Round // nil: user unknown to the server
		inject    error
		responder swish.Responder
		want      bool
		wantErr   func(t *testing.T, err error)
	}{
		{
			name:      "correct answers are accepted",
			rounds:    otpRounds(false),
			responder: answers(rightAnswers),
			want:      true,
		},
		{
			name:      "wrong answers are a false result",
			rounds:    otpRounds(false),
			responder: answers(map[string]string{"Password: ": "guess"}),
			want:      false,
		},
		{
			name:   "responder failure on rejection is returned as is",
			rounds: otpRounds(false),
			responder: swish.ResponderFunc(func(swish.Challenge) ([]string, error) {
				return nil, errCancelled
			}),
			wantErr: func(t *testing.T, err error) {
				t.Helper()
				assert.Same(t, errCancelled, err)
			},
		},
		{
			name:   "success wins over a responder failure",
			rounds: otpRounds(true),
			responder: swish.ResponderFunc(func(swish.Challenge) ([]string, error) {
				return nil, errCancelled
			}),
			want: true,
		},
		{
			name:      "no prompts before rejection is an error",
			responder: answers(rightAnswers),
			wantErr: func(t *testing.T, err error) {
				t.Helper()

				var authErr *swish.AuthenticationError
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, "keyboard-interactive", authErr.Method)
				require.ErrorIs(t, err, swish.ErrAuthenticationDenied)
			},
		},
		{
			name:      "connection failure is a transport error",
			rounds:    otpRounds(false),
			inject:    errors.New("connection reset"),
			responder: answers(rightAnswers),
			wantErr: func(t *testing.T, err error) {
				t.Helper()

				var transportErr *swish.TransportError
				require.ErrorAs(t, err, &transportErr)
				assert.Equal(t, "keyboard-interactive authentication", transportErr.Op)
			},
		},
		{
			name:      "method not offered is an authentication error",
			rounds:    otpRounds(false),
			inject:    swish.ErrMethodUnavailable,
			responder: answers(rightAnswers),
			wantErr: func(t *testing.T, err error) {
				t.Helper()

				var authErr *swish.AuthenticationError
				require.ErrorAs(t, err, &authErr)
				require.ErrorIs(t, err, swish.ErrMethodUnavailable)
			},
		},
		{
			name:   "short answer list on rejection is reported",
			rounds: otpRounds(false),
			responder: swish.ResponderFunc(func(c swish.Challenge) ([]string, error) {
				return []string{"hunter2"}, nil
			}),
			wantErr: func(t *testing.T, err error) {
				t.Helper()

				var countErr *swish.ResponseCountError
				require.ErrorAs(t, err, &countErr)
				assert.Equal(t, 2, countErr.Prompts)
				assert.Equal(t, 1, countErr.Answers)
			},
		},
		{
			name:   "surplus answers are dropped",
			rounds: otpRounds(false)[:1],
			responder: swish.ResponderFunc(func(swish.Challenge) ([]string, error) {
				return []string{"hunter2", "extra"}, nil
			}),
			want: true,
		},
		{
			name:   "surplus answers on rejection are a false result",
			rounds: otpRounds(false)[:1],
			responder: swish.ResponderFunc(func(swish.Challenge) ([]string, error) {
				return []string{"wrong", "extra"}, nil
			}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEngine()
			if tt.rounds != nil {
				e.Interactive[testUser] = tt.rounds
			}

			s := connect(t, e)
			defer s.Close()

			if tt.inject != nil {
				e.Inject("transport.keyboard-interactive", tt.inject)
			}

			ok, err := s.AuthenticateInteractively(testUser, tt.responder)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.want, s.Authenticated())

			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			tt.wantErr(t, err)
		})
	}
}

func TestAuthenticateInteractively_ResponderSeesChallenge(t *testing.T) {
	t.Parallel()

	e := newEngine()
	e.Interactive[testUser] = otpRounds(false)

	s := connect(t, e)
	defer s.Close()

	var seen []swish.Challenge

	ok, err := s.AuthenticateInteractively(testUser, swish.ResponderFunc(func(c swish.Challenge) ([]string, error) {
		seen = append(seen, c)

		return answers(rightAnswers)(c)
	}))
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, seen, 2)
	assert.Equal(t, "Login", seen[0].Title)
	assert.Equal(t, "Enter your credentials", seen[0].Instructions)
	assert.Equal(t, []swish.Prompt{{Text: "Password: "}}, seen[0].Prompts)
	assert.Equal(t, "Second factor", seen[1].Title)
	assert.True(t, seen[1].Prompts[0].Echo)
}

func TestAuthenticateInteractively_PanicIsReraisedAfterUnlock(t *testing.T) {
	t.Parallel()

	e := newEngine()
	e.Interactive[testUser] = otpRounds(false)

	s := connect(t, e)

	responder := swish.ResponderFunc(func(swish.Challenge) ([]string, error) {
		panic("terminal went away")
	})

	assert.PanicsWithValue(t, "terminal went away", func() {
		_, _ = s.AuthenticateInteractively(testUser, responder)
	})

	// The lock was released: the session is still usable.
	assert.False(t, s.Authenticated())
	require.NoError(t, s.Close())
}

func TestAuthenticateInteractively_PanicDiscardedOnSuccess(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)

	e := newEngine()
	e.Interactive[testUser] = otpRounds(true)

	s := connect(t, e, swish.WithLogger(zap.New(core)))
	defer s.Close()

	ok, err := s.AuthenticateInteractively(testUser, swish.ResponderFunc(func(swish.Challenge) ([]string, error) {
		panic("terminal went away")
	}))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2, logs.FilterMessage("responder panicked").Len())
	assert.Equal(t, 1, logs.FilterMessage("authentication succeeded; discarding responder failure").Len())
}

func TestAuthenticateInteractively_FirstFailureWins(t *testing.T) {
	t.Parallel()

	e := newEngine()
	e.Interactive[testUser] = otpRounds(false)

	s := connect(t, e)
	defer s.Close()

	second := errors.New("second")
	round := 0

	_, err := s.AuthenticateInteractively(testUser, swish.ResponderFunc(func(c swish.Challenge) ([]string, error) {
		round++
		if round == 1 {
			return []string{"hunter2"}, errCancelled
		}

		return nil, second
	}))

	assert.Same(t, errCancelled, err)
}

func TestAuthenticateInteractively_NilResponder(t *testing.T) {
	t.Parallel()

	e := newEngine()
	s := connect(t, e)
	defer s.Close()

	_, err := s.AuthenticateInteractively(testUser, nil)
	assert.True(t, swish.IsLogicError(err))
}
