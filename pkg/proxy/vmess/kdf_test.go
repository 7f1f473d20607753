package vmess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKDFIsDeterministic(t *testing.T) {
	key := []byte("some key material")
	a := kdf(key, labelPayloadKey)
	b := kdf(key, labelPayloadKey)
	assert.Equal(t, a, b)
}

func TestKDFDiffersByPath(t *testing.T) {
	key := []byte("some key material")
	a := kdf(key, labelPayloadKey)
	b := kdf(key, labelLengthKey)
	assert.NotEqual(t, a, b)
}

func TestKDFDiffersByKey(t *testing.T) {
	a := kdf([]byte("key-a"), labelPayloadKey)
	b := kdf([]byte("key-b"), labelPayloadKey)
	assert.NotEqual(t, a, b)
}

func TestKDF16TruncatesTo16Bytes(t *testing.T) {
	out := kdf16([]byte("some key material"), labelLengthKey)
	assert.Len(t, out, 16)
}

func TestKDFNestedPathMultipleLabels(t *testing.T) {
	a := kdf([]byte("key"), labelAuthIDEncryption, labelPayloadIV)
	b := kdf([]byte("key"), labelAuthIDEncryption, labelPayloadIV)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}
