package shadowsocks

import "errors"

// EncodePacket produces one UDP datagram body: [salt|nonce-implicit|payload|tag].
// The AEAD's nonce for UDP datagrams is always the all-zero nonce (each
// datagram carries its own fresh salt, so nonce reuse under a fixed key
// never occurs), matching the AEAD Shadowsocks UDP framing.
func EncodePacket(method Method, masterKey []byte, plaintext []byte) ([]byte, error) {
	salt, err := RandomSalt(method)
	if err != nil {
		return nil, err
	}
	aead, err := NewAEAD(method, masterKey, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(salt)+len(sealed))
	out = append(out, salt...)
	out = append(out, sealed...)
	return out, nil
}

// DecodePacket reverses EncodePacket.
func DecodePacket(method Method, masterKey []byte, datagram []byte) ([]byte, error) {
	saltSize := method.SaltSize()
	if len(datagram) < saltSize {
		return nil, errShortPacket
	}
	salt := datagram[:saltSize]
	aead, err := NewAEAD(method, masterKey, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Open(nil, nonce, datagram[saltSize:], nil)
}

var errShortPacket = errors.New("shadowsocks: udp packet shorter than salt")
