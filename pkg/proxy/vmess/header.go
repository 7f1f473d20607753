package vmess

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"

	"github.com/gofrs/uuid"
)

const (
	CmdTCP byte = 0x01
	CmdUDP byte = 0x02

	optionChunkStream byte = 0x01
	securityAES128GCM byte = 0x03
)

// Request is one VMess AEAD request: the AuthID-addressed AES-GCM header
// plus the symmetric key material the body stream is encrypted with.
type Request struct {
	AuthID       [16]byte
	BodyKey      [16]byte
	BodyIV       [16]byte
	HeaderPacket []byte
}

// BuildRequest assembles the full wire-ready request header for one new
// VMess connection: cmd/port/address plus random per-connection body
// key/IV, AES-128-GCM sealed twice (length, then payload) under keys
// derived from the AuthID via the VMess AEAD KDF chain.
// addrBytes is the [atyp|addr] body (no port: the header carries port as a
// separate two-byte field ahead of the address type).
func BuildRequest(id uuid.UUID, unixTime int64, cmd byte, port uint16, addrBytes []byte) (*Request, error) {
	cmdKey := CmdKey(id)
	authID, err := GenerateAuthID(cmdKey, unixTime)
	if err != nil {
		return nil, err
	}

	var bodyKey, bodyIV [16]byte
	if _, err := rand.Read(bodyKey[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(bodyIV[:]); err != nil {
		return nil, err
	}
	var respV [1]byte
	if _, err := rand.Read(respV[:]); err != nil {
		return nil, err
	}

	plain := make([]byte, 0, 64+len(addrBytes))
	plain = append(plain, 0x01) // ver
	plain = append(plain, bodyIV[:]...)
	plain = append(plain, bodyKey[:]...)
	plain = append(plain, respV[0])
	plain = append(plain, optionChunkStream)
	plain = append(plain, (0<<4)|securityAES128GCM) // no padding, AES-128-GCM
	plain = append(plain, 0x00)                     // reserved
	plain = append(plain, cmd)
	plain = append(plain, byte(port>>8), byte(port))
	// addrBytes is a socks5addr-encoded [atyp|addr] body (no port, the
	// caller already folded port into the header above).
	plain = append(plain, addrBytes...)

	f := fnv.New32a()
	f.Write(plain)
	plain = f.Sum(plain)

	lengthAEAD, err := newGCM(kdf16(authID[:], labelLengthKey))
	if err != nil {
		return nil, err
	}
	payloadAEAD, err := newGCM(kdf16(bodyKey[:], labelPayloadKey))
	if err != nil {
		return nil, err
	}

	lengthNonce := kdf(authID[:], labelLengthIV)[:12]
	payloadNonce := kdf(bodyIV[:], labelPayloadIV)[:12]

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(plain)))
	encLen := lengthAEAD.Seal(nil, lengthNonce, lenBuf[:], authID[:])
	encPayload := payloadAEAD.Seal(nil, payloadNonce, plain, authID[:])

	packet := make([]byte, 0, 16+len(encLen)+len(encPayload))
	packet = append(packet, authID[:]...)
	packet = append(packet, encLen...)
	packet = append(packet, encPayload...)

	return &Request{AuthID: authID, BodyKey: bodyKey, BodyIV: bodyIV, HeaderPacket: packet}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
