package shadowsocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyIsDeterministicAndCorrectLength(t *testing.T) {
	k1 := DeriveKey(AES256GCM, "correct horse battery staple")
	k2 := DeriveKey(AES256GCM, "correct horse battery staple")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestDeriveKeyDiffersByPassword(t *testing.T) {
	k1 := DeriveKey(AES128GCM, "password-a")
	k2 := DeriveKey(AES128GCM, "password-b")
	assert.NotEqual(t, k1, k2)
}

func TestKeySizesByMethod(t *testing.T) {
	assert.Equal(t, 16, AES128GCM.KeySize())
	assert.Equal(t, 32, AES256GCM.KeySize())
	assert.Equal(t, 32, ChaCha20Poly1305.KeySize())
	assert.Equal(t, 0, Method("unknown").KeySize())
}

func TestNewAEADSealOpenRoundTrip(t *testing.T) {
	master := DeriveKey(AES256GCM, "hunter2")
	salt, err := RandomSalt(AES256GCM)
	require.NoError(t, err)

	sender, err := NewAEAD(AES256GCM, master, salt)
	require.NoError(t, err)
	receiver, err := NewAEAD(AES256GCM, master, salt)
	require.NoError(t, err)

	nonce := make([]byte, sender.NonceSize())
	sealed := sender.Seal(nil, nonce, []byte("hello world"), nil)
	opened, err := receiver.Open(nil, nonce, sealed, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(opened))
}

func TestNewAEADChaCha20Poly1305(t *testing.T) {
	master := DeriveKey(ChaCha20Poly1305, "hunter2")
	salt, err := RandomSalt(ChaCha20Poly1305)
	require.NoError(t, err)
	aead, err := NewAEAD(ChaCha20Poly1305, master, salt)
	require.NoError(t, err)
	assert.NotZero(t, aead.NonceSize())
}

func TestNewAEADUnknownMethodErrors(t *testing.T) {
	_, err := NewAEAD(Method("bogus"), make([]byte, 32), make([]byte, 32))
	assert.Error(t, err)
}

func TestRandomSaltLength(t *testing.T) {
	salt, err := RandomSalt(AES256GCM)
	require.NoError(t, err)
	assert.Len(t, salt, 32)
}
