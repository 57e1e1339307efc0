package swish

import (
	"crypto/md5" //nolint:gosec // MD5 fingerprints are still what most users compare against.
	"crypto/sha1" //nolint:gosec // as above
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/ssh"
)

// HostKey is the public key a server presented during the handshake.
type HostKey struct {
	Key       []byte // wire-format public key blob
	Algorithm string // e.g. "ssh-ed25519"
}

// MD5 returns the MD5 digest of the key blob.
func (k HostKey) MD5() []byte {
	sum := md5.Sum(k.Key) //nolint:gosec

	return sum[:]
}

// SHA1 returns the SHA-1 digest of the key blob.
func (k HostKey) SHA1() []byte {
	sum := sha1.Sum(k.Key) //nolint:gosec

	return sum[:]
}

// SHA256 returns the SHA-256 digest of the key blob.
func (k HostKey) SHA256() []byte {
	sum := sha256.Sum256(k.Key)

	return sum[:]
}

// Fingerprint renders the key the way OpenSSH prints it by default:
// "SHA256:" followed by unpadded base64. Blobs that do not parse as a public
// key are digested as they are.
func (k HostKey) Fingerprint() string {
	if pub, err := ssh.ParsePublicKey(k.Key); err == nil {
		return ssh.FingerprintSHA256(pub)
	}

	return "SHA256:" + base64.RawStdEncoding.EncodeToString(k.SHA256())
}

// LegacyFingerprint renders the MD5 digest as colon separated hex.
func (k HostKey) LegacyFingerprint() string {
	if pub, err := ssh.ParsePublicKey(k.Key); err == nil {
		return ssh.FingerprintLegacyMD5(pub)
	}

	return Hexify(k.MD5())
}

// Name is a short human-readable key type, such as "RSA" or "ED25519".
func (k HostKey) Name() string {
	switch a := k.Algorithm; {
	case a == "ssh-rsa" || strings.HasPrefix(a, "rsa-sha2-"):
		return "RSA"
	case a == "ssh-dss":
		return "DSA"
	case a == "ssh-ed25519":
		return "ED25519"
	case strings.HasPrefix(a, "ecdsa-sha2-"):
		return "ECDSA"
	case strings.HasPrefix(a, "sk-ssh-ed25519"):
		return "ED25519-SK"
	case strings.HasPrefix(a, "sk-ecdsa-sha2-"):
		return "ECDSA-SK"
	case a == "":
		return "UNKNOWN"
	default:
		return strings.ToUpper(a)
	}
}

type hexOptions struct {
	separator string
	uppercase bool
}

// HexOption configures Hexify.
type HexOption func(*hexOptions)

// WithSeparator sets the string placed between bytes. The default is ":".
func WithSeparator(sep string) HexOption {
	return func(o *hexOptions) {
		o.separator = sep
	}
}

// WithUppercase renders hex digits in upper case.
func WithUppercase() HexOption {
	return func(o *hexOptions) {
		o.uppercase = true
	}
}

// Hexify renders data as hex, two digits per byte in input order, separated
// by ":" unless configured otherwise.
func Hexify(data []byte, opts ...HexOption) string {
	o := hexOptions{separator: ":"}
	for _, opt := range opts {
		opt(&o)
	}

	digits := hex.EncodeToString(data)
	if o.uppercase {
		digits = strings.ToUpper(digits)
	}

	if o.separator == "" {
		return digits
	}

	var b strings.Builder

	b.Grow(len(digits) + max(len(data)-1, 0)*len(o.separator))

	for i := 0; i < len(digits); i += 2 {
		if i > 0 {
			b.WriteString(o.separator)
		}

		b.WriteString(digits[i : i+2])
	}

	return b.String()
}
