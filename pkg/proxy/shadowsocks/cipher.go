// Package shadowsocks implements the AEAD Shadowsocks wire protocol from
// spec section 4.3: a per-connection random salt, HKDF-SHA1 subkey
// derivation, and [2-byte length|tag|payload|tag] chunk framing for TCP,
// [salt|payload|tag] per datagram for UDP (the nonce is all-zero and is
// not carried on the wire).
//
// Grounded on golang.org/x/crypto's chacha20poly1305 and hkdf (already an
// indirect dependency of the teacher, promoted to direct per SPEC_FULL),
// combined with crypto/aes + cipher.NewGCM from the standard library for
// the AES-GCM variants (no third-party AES-GCM implementation appears
// anywhere in the retrieval pack, so the standard library's is used).
package shadowsocks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Method identifies one of the three AEAD ciphers spec section 4.3 names.
type Method string

const (
	AES128GCM           Method = "aes-128-gcm"
	AES256GCM           Method = "aes-256-gcm"
	ChaCha20Poly1305    Method = "chacha20-ietf-poly1305"
)

// KeySize and SaltSize per method, as defined by the AEAD Shadowsocks spec.
func (m Method) KeySize() int {
	switch m {
	case AES128GCM:
		return 16
	case AES256GCM:
		return 32
	case ChaCha20Poly1305:
		return 32
	default:
		return 0
	}
}

func (m Method) SaltSize() int {
	// salt size equals key size for all three methods in this spec.
	return m.KeySize()
}

// DeriveKey turns a user-supplied password into the method's master key
// using the classic Shadowsocks EVP_BytesToKey scheme (md5-based, not
// HKDF — HKDF in this protocol derives the per-session subkey from the
// master key + salt, done in NewAEAD below).
func DeriveKey(method Method, password string) []byte {
	keyLen := method.KeySize()
	var out []byte
	prev := []byte{}
	for len(out) < keyLen {
		h := md5.Sum(append(append([]byte{}, prev...), password...))
		out = append(out, h[:]...)
		prev = h[:]
	}
	return out[:keyLen]
}

// NewAEAD derives the per-session subkey via HKDF-SHA1(masterKey, salt,
// "ss-subkey") and constructs the AEAD cipher for method.
func NewAEAD(method Method, masterKey, salt []byte) (cipher.AEAD, error) {
	subKey := make([]byte, method.KeySize())
	r := hkdf.New(sha1.New, masterKey, salt, []byte("ss-subkey"))
	if _, err := io.ReadFull(r, subKey); err != nil {
		return nil, err
	}
	switch method {
	case AES128GCM, AES256GCM:
		block, err := aes.NewCipher(subKey)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(subKey)
	default:
		return nil, errors.New("shadowsocks: unknown AEAD method")
	}
}

// RandomSalt returns method.SaltSize() cryptographically random bytes.
func RandomSalt(method Method) ([]byte, error) {
	salt := make([]byte, method.SaltSize())
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}
