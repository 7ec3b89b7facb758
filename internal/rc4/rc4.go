// Package rc4 implements the RC4 stream cipher used by the douyin request
// signature.
//
// The signature operates on strings whose characters are single bytes. Latin1
// and String convert between those strings and raw bytes by Unicode scalar
// value, not by UTF-8 encoding.
package rc4

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrKeySize is returned for keys shorter than 1 or longer than 256 bytes.
var ErrKeySize = errors.New("rc4: invalid key size")

// Cipher is an RC4 keystream generator.
type Cipher struct {
	s    [256]byte
	i, j uint8
}

// New runs the key schedule for key.
func New(key []byte) (*Cipher, error) {
	if len(key) < 1 || len(key) > 256 {
		return nil, errors.Wrapf(ErrKeySize, "length %d", len(key))
	}
	c := &Cipher{}
	for i := 0; i < 256; i++ {
		c.s[i] = byte(i)
	}
	var j uint8
	for i := 0; i < 256; i++ {
		j += c.s[i] + key[i%len(key)]
		c.s[i], c.s[j] = c.s[j], c.s[i]
	}
	return c, nil
}

// XORKeyStream XORs src with the keystream into dst. dst and src may overlap
// entirely.
func (c *Cipher) XORKeyStream(dst, src []byte) {
	i, j := c.i, c.j
	for k, v := range src {
		i++
		j += c.s[i]
		c.s[i], c.s[j] = c.s[j], c.s[i]
		dst[k] = v ^ c.s[c.s[i]+c.s[j]]
	}
	c.i, c.j = i, j
}

// Encrypt returns src XORed with the keystream of a fresh cipher for key.
func Encrypt(src, key []byte) ([]byte, error) {
	c, err := New(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(src))
	c.XORKeyStream(out, src)
	return out, nil
}

// Latin1 maps every Unicode scalar of s to its low byte. Scalars above 0xff
// are truncated.
func Latin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// String maps every byte of b to the scalar with the same value.
func String(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, v := range b {
		sb.WriteRune(rune(v))
	}
	return sb.String()
}

// EncryptString encrypts text with key, both interpreted as Latin1.
func EncryptString(text, key string) (string, error) {
	out, err := Encrypt(Latin1(text), Latin1(key))
	if err != nil {
		return "", err
	}
	return String(out), nil
}
