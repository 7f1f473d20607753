// Package vmess implements the VMess AEAD request framing used by the
// VMess outbound (spec section 4.3): an AES-encrypted, authenticated
// request header followed by a chunked AEAD-sealed body, both keyed off
// per-connection ephemeral material derived from the client's UUID.
package vmess

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
)

var kdfRootLabel = []byte("VMess AEAD KDF")

// Labels for the various subkeys derived off cmdKey, the AuthID and the
// per-request body key/IV, per the VMess AEAD header scheme.
var (
	labelAuthIDEncryption   = []byte("AES Auth ID Encryption")
	labelLengthKey          = []byte("VMess Header AEAD Key_Length")
	labelLengthIV           = []byte("VMess Header AEAD Nonce_Length")
	labelPayloadKey         = []byte("VMess Header AEAD Key")
	labelPayloadIV          = []byte("VMess Header AEAD Nonce")
)

// kdf derives 32 bytes (one HMAC-SHA256 output) of key material from key,
// salted with the
// nested HMAC chain built from path, the innermost HMAC keyed by the fixed
// "VMess AEAD KDF" root label.
func kdf(key []byte, path ...[]byte) []byte {
	mk := func() hash.Hash { return hmac.New(sha256.New, kdfRootLabel) }
	for _, p := range path {
		parent := mk
		label := p
		mk = func() hash.Hash { return hmac.New(parent, label) }
	}
	h := mk()
	h.Write(key)
	return h.Sum(nil)
}

// kdf16 is kdf truncated to the 16 bytes an AES-128 key or salt needs.
func kdf16(key []byte, path ...[]byte) []byte {
	return kdf(key, path...)[:16]
}
