package swish_test

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/ruffel/swish"
	"github.com/ruffel/swish/fileutil"
	"github.com/ruffel/swish/providers/mock"
	"github.com/ruffel/swish/providers/ssh"
	"github.com/ruffel/swish/sshpath"
	"github.com/ruffel/swish/swishtest"
	testifymock "github.com/stretchr/testify/mock"
)

// connectExample returns an authenticated session over an in-memory engine.
func connectExample(e *swishtest.Engine) (*swish.Session, func()) {
	client, server := net.Pipe()

	s, err := swish.Connect(e, client)
	if err != nil {
		panic(err)
	}

	if ok, err := s.AuthenticateByPassword("alice", "s3cret"); err != nil || !ok {
		panic("authentication failed")
	}

	return s, func() {
		_ = s.Close()
		_ = client.Close()
		_ = server.Close()
	}
}

func ExampleSession_AuthenticateInteractively() {
	e := swishtest.NewEngine()
	e.Interactive["alice"] = []swishtest.Round{{
		Title:   "alice",
		Prompts: []swish.Prompt{{Text: "Verification code: ", Echo: true}},
		Answers: []string{"424242"},
	}}

	client, server := net.Pipe()

	defer func() { _ = server.Close() }()

	s, err := swish.Connect(e, client)
	if err != nil {
		panic(err)
	}

	defer func() { _ = s.Close() }()

	ok, err := s.AuthenticateInteractively("alice", swish.ResponderFunc(func(c swish.Challenge) ([]string, error) {
		fmt.Printf("prompted: %q\n", c.Prompts[0].Text)

		return []string{"424242"}, nil
	}))
	if err != nil {
		panic(err)
	}

	fmt.Println("authenticated:", ok)

	// Output:
	// prompted: "Verification code: "
	// authenticated: true
}

func ExampleSFTPChannel_ReadDir() {
	e := swishtest.NewEngine()
	e.Passwords["alice"] = "s3cret"
	e.FS.WriteFile("/srv/b.txt", []byte("bee"), 0o644)
	e.FS.WriteFile("/srv/a.txt", []byte("a"), 0o644)

	s, done := connectExample(e)
	defer done()

	ch, err := s.OpenSFTP()
	if err != nil {
		panic(err)
	}

	defer func() { _ = ch.Close() }()

	it, err := ch.ReadDir(sshpath.New("/srv"))
	if err != nil {
		panic(err)
	}

	defer func() { _ = it.Close() }()

	for it.Next() {
		e := it.Entry()
		if e.Name == "." || e.Name == ".." {
			continue
		}

		fmt.Println(e.Name, e.Attributes.Size)
	}

	if err := it.Err(); err != nil {
		panic(err)
	}

	// Output:
	// a.txt 1
	// b.txt 3
}

func ExampleSFTPChannel_withProgress() {
	e := swishtest.NewEngine()
	e.Passwords["alice"] = "s3cret"

	s, done := connectExample(e)
	defer done()

	ch, err := s.OpenSFTP()
	if err != nil {
		panic(err)
	}

	defer func() { _ = ch.Close() }()

	f, err := ch.Create(sshpath.New("/upload.dat"), 0o600)
	if err != nil {
		panic(err)
	}

	_, err = fileutil.Copy(context.Background(), f, strings.NewReader("1234567890"), 10, func(current, total int64) {
		fmt.Printf("Transferred %d/%d bytes\n", current, total)
	})
	if err != nil {
		panic(err)
	}

	if err := f.Close(); err != nil {
		panic(err)
	}

	// Output:
	// Transferred 10/10 bytes
}

func ExampleHexify() {
	key := []byte{0xde, 0xad, 0xbe, 0xef}

	fmt.Println(swish.Hexify(key))
	fmt.Println(swish.Hexify(key, swish.WithSeparator(""), swish.WithUppercase()))

	// Output:
	// de:ad:be:ef
	// DEADBEEF
}

func Example_sshConfigReader() {
	// Example of loading SSH config from a string (or file)
	configContent := `
Host prod-db
  HostName 10.0.0.5
  User admin
  Port 2222
  IdentityFile ~/.ssh/prod_key.pem
  IdentityAgent none
  StrictHostKeyChecking no
`
	// Parse the config
	cfg, err := ssh.NewFromSSHConfigReader("prod-db", strings.NewReader(configContent))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Address: %s\n", cfg.Address())
	fmt.Printf("User: %s\n", cfg.User)
	fmt.Printf("Agent: %t\n", cfg.UseAgent)

	// Output:
	// Address: 10.0.0.5:2222
	// User: admin
	// Agent: false
}

func ExampleConnect_mock() {
	// A mocked engine lets callers check exactly which native calls are made.
	engine := mock.New()
	tr := &mock.Transport{}

	client, server := net.Pipe()

	defer func() { _ = server.Close() }()

	engine.On("NewTransport").Return(tr, nil)
	tr.On("Handshake", testifymock.Anything).Return(nil)
	tr.On("HostKey").Return([]byte("host-key-blob"), "ssh-ed25519", nil)
	tr.On("Free").Return(nil)

	s, err := swish.Connect(engine, client)
	if err != nil {
		panic(err)
	}

	key, err := s.HostKey()
	if err != nil {
		panic(err)
	}

	fmt.Println(key.Name())

	_ = s.Close()

	fmt.Println(len(tr.Calls), "native calls")

	// Output:
	// ED25519
	// 3 native calls
}
