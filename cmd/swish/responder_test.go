package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ruffel/swish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponder(t *testing.T) {
	t.Parallel()

	challenge := swish.Challenge{
		Title:        "Duo",
		Instructions: "Answer both",
		Prompts: []swish.Prompt{
			{Text: "Password: ", Echo: false},
			{Text: "Passcode: ", Echo: true},
		},
	}

	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "lines", input: "hunter2\n123456\n", want: []string{"hunter2", "123456"}},
		{name: "crlf", input: "hunter2\r\n123456\r\n", want: []string{"hunter2", "123456"}},
		{name: "last line unterminated", input: "hunter2\n123456", want: []string{"hunter2", "123456"}},
		{name: "closed early", input: "hunter2\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer

			r := newResponder(strings.NewReader(tt.input), &out, -1)

			got, err := r.Respond(challenge)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Duo")
			assert.Contains(t, out.String(), "Answer both")
			assert.Contains(t, out.String(), "Passcode: ")
		})
	}
}

func TestResponder_NoPrompts(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	got, err := newResponder(strings.NewReader(""), &out, -1).Respond(swish.Challenge{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, out.String())
}
