package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds all parameters required to establish an SSH connection.
type Config struct {
	// Connection details
	Host string // Hostname or IP address
	Port int    // Port number (default 22)
	User string // Username to authenticate as; fixed for the connection

	// Credentials used by Connect (tried in order: agent, key, password)
	PrivateKey     string // PEM encoded private key content (string)
	PrivateKeyPath string // Path to private key file (e.g. "~/.ssh/id_rsa")
	Password       string // Password for authentication (use sparingly)
	UseAgent       bool   // If true, offer identities held by the ssh-agent
	AgentSocket    string // Agent socket path (default $SSH_AUTH_SOCK)

	// Connection settings
	Timeout            time.Duration       // Dial and handshake timeout (default 10s)
	DialAttempts       int                 // TCP connection attempts before giving up (default 3)
	HostKeyCheck       ssh.HostKeyCallback // Callback to verify host key. You normally generate this from known_hosts.
	InsecureSkipVerify bool                // If true, disables strict host key checking. Use ONLY for testing.

	Logger *zap.Logger // Engine logger (default no-op)
}

// NewConfig creates a Config with safe defaults.
// Note: It does NOT set a default HostKeyCheck. You must provide one or set InsecureSkipVerify=true.
func NewConfig(host, username string) Config {
	return Config{
		Host:         host,
		User:         username,
		Port:         22,
		Timeout:      10 * time.Second,
		DialAttempts: 3,
	}
}

// NewFromSSHConfig loads configuration from an SSH config file. An empty
// path means ~/.ssh/config, as OpenSSH does.
func NewFromSSHConfig(alias, path string) (Config, error) {
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".ssh", "config")
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open ssh config: %w", err)
	}

	defer func() { _ = f.Close() }()

	return NewFromSSHConfigReader(alias, f)
}

// NewFromSSHConfigReader parses configuration config data.
// It resolves the alias to the actual HostName, User, Port, IdentityFile,
// IdentityAgent and ConnectTimeout.
func NewFromSSHConfigReader(alias string, r io.Reader) (Config, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse ssh config: %w", err)
	}

	hostName, err := cfg.Get(alias, "HostName")
	if err != nil || hostName == "" {
		hostName = alias // Fallback if no HostName defined
	}

	username, _ := cfg.Get(alias, "User")
	if username == "" {
		// Use current system user if not specified in config
		u, _ := user.Current()
		if u != nil {
			username = u.Username
		}
	}

	c := NewConfig(hostName, username)

	portStr, err := cfg.Get(alias, "Port")
	if err != nil {
		return Config{}, fmt.Errorf("invalid port for %s: %w", alias, err)
	}

	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid port %q for %s: %w", portStr, alias, err)
		}

		c.Port = port
	}

	identityFile, _ := cfg.Get(alias, "IdentityFile")
	c.PrivateKeyPath = expandHome(identityFile)

	switch identityAgent, _ := cfg.Get(alias, "IdentityAgent"); identityAgent {
	case "none":
	case "", "SSH_AUTH_SOCK":
		c.UseAgent = true
	default:
		c.UseAgent = true
		c.AgentSocket = expandHome(identityAgent)
	}

	if timeout, _ := cfg.Get(alias, "ConnectTimeout"); timeout != "" {
		secs, err := strconv.Atoi(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ConnectTimeout %q for %s: %w", timeout, alias, err)
		}

		c.Timeout = time.Duration(secs) * time.Second
	}

	// Map StrictHostKeyChecking
	strict, _ := cfg.Get(alias, "StrictHostKeyChecking")
	if strict == "no" {
		c.InsecureSkipVerify = true
	}

	return c, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(os.Getenv("HOME"), path[2:])
	}

	return path
}

// WithDefaults sets default values for zero-valued fields.
func (c Config) WithDefaults() Config {
	if c.Host != "" && c.User != "" && c.Port == 0 {
		c.Port = 22
	}

	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}

	if c.DialAttempts <= 0 {
		c.DialAttempts = 3
	}

	if c.UseAgent && c.AgentSocket == "" {
		c.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}

	// If insecure is requested and no callback provided, use insecure ignore.
	if c.InsecureSkipVerify && c.HostKeyCheck == nil {
		c.HostKeyCheck = ssh.InsecureIgnoreHostKey() //nolint:gosec // explicitly requested
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return c
}

// Validate ensures all required fields are present.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("configuration error: host address cannot be empty")
	}

	if c.User == "" {
		return errors.New("configuration error: user cannot be empty")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("configuration error: port %d out of range", c.Port)
	}

	if c.HostKeyCheck == nil {
		return errors.New("configuration error: HostKeyCheck is missing; you must provide a callback (e.g. valid 'known_hosts') or set InsecureSkipVerify=true (testing only)")
	}

	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Signer loads the configured private key, preferring PrivateKey over
// PrivateKeyPath. It returns nil, nil when neither is set.
func (c Config) Signer() (ssh.Signer, error) {
	keyBytes := []byte(c.PrivateKey)

	if len(keyBytes) == 0 {
		if c.PrivateKeyPath == "" {
			return nil, nil //nolint:nilnil // Valid state: no key configured
		}

		var err error

		keyBytes, err = os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return signer, nil
}

// clientConfig builds the x/crypto configuration. The auth methods are the
// transport's bridges, never the credentials in c.
func (c Config) clientConfig(auth []ssh.AuthMethod, hostKey ssh.HostKeyCallback) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.Timeout,
	}
}

// DefaultKnownHosts returns a HostKeyCallback that verifies the host key against
// strict entries in the user's ~/.ssh/known_hosts file.
func DefaultKnownHosts() (ssh.HostKeyCallback, error) {
	path := filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts")

	return knownhosts.New(path)
}
