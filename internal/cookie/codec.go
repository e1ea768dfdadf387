// Package cookie seals cookie values so that clients can neither read nor
// alter them.
package cookie

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalid is returned for a cookie that is missing, malformed, sealed
// under another key or bound to another name. Callers must not distinguish
// between these cases.
var ErrInvalid = errors.New("cookie: invalid")

const sealVersion byte = 0x01

var hkdfInfo = []byte("keyhub.cookie.v1")

// Options controls the attributes of written cookies.
type Options struct {
	Path   string
	Domain string
	Secure bool
}

// Codec seals and opens cookie values with XChaCha20-Poly1305 under a key
// derived from the configured secret. The cookie name is authenticated
// along with the value, so a sealed value cannot be replayed under another
// name.
type Codec struct {
	key  []byte
	opts Options
}

// New derives the sealing key from secret with HKDF-SHA256.
func New(secret []byte, opts Options) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("cookie: empty secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &Codec{key: key, opts: opts}, nil
}

// Seal encrypts value for the cookie called name.
//
//	base64url([version] [nonce: 24 bytes] [ciphertext+tag])
func (c *Codec) Seal(name, value string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(value)+chacha20poly1305.Overhead)
	out[0] = sealVersion
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out = aead.Seal(out, out[1:], []byte(value), aad(name))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Any failure is reported as ErrInvalid.
func (c *Codec) Open(name, sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead || raw[0] != sealVersion {
		return "", ErrInvalid
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", ErrInvalid
	}
	nonce := raw[1 : 1+chacha20poly1305.NonceSizeX]
	plain, err := aead.Open(nil, nonce, raw[1+chacha20poly1305.NonceSizeX:], aad(name))
	if err != nil {
		return "", ErrInvalid
	}
	return string(plain), nil
}

// Read returns the opened value of the named cookie on r.
func (c *Codec) Read(r *http.Request, name string) (string, error) {
	ck, err := r.Cookie(name)
	if err != nil {
		return "", ErrInvalid
	}
	return c.Open(name, ck.Value)
}

// Write seals value and sets it as an HTTP-only cookie. A zero maxAge makes
// a session cookie.
func (c *Codec) Write(w http.ResponseWriter, name, value string, maxAge time.Duration) error {
	sealed, err := c.Seal(name, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sealed,
		Path:     c.opts.Path,
		Domain:   c.opts.Domain,
		MaxAge:   int(maxAge / time.Second),
		Secure:   c.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear tells the client to drop the named cookie.
func (c *Codec) Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     c.opts.Path,
		Domain:   c.opts.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func aad(name string) []byte {
	return append([]byte{sealVersion}, name...)
}
