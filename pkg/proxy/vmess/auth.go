package vmess

import (
	"crypto/aes"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"hash/crc32"

	"github.com/gofrs/uuid"
)

// legacyAEADMagic is concatenated with the account UUID to derive cmdKey,
// per the VMess AEAD command-key derivation.
var legacyAEADMagic = []byte("c48619fe-8f02-49e0-b9e9-edf763e17e21")

// CmdKey derives the 16-byte AES key GenerateAuthID encrypts the AuthID
// with; the header and body key derivations in this package do not use it.
func CmdKey(id uuid.UUID) []byte {
	sum := md5.Sum(append(id.Bytes(), legacyAEADMagic...))
	return sum[:]
}

// GenerateAuthID builds the 16-byte AuthID that opens every VMess request:
// an AES-ECB encryption (single 16-byte block, so ECB mode needs nothing
// beyond one block.Encrypt call) of [unix-time(8)|random(4)|crc32(4)].
func GenerateAuthID(cmdKey []byte, unixTime int64) ([16]byte, error) {
	var plain [16]byte
	binary.BigEndian.PutUint64(plain[0:8], uint64(unixTime))
	if _, err := rand.Read(plain[8:12]); err != nil {
		return [16]byte{}, err
	}
	binary.BigEndian.PutUint32(plain[12:16], crc32.ChecksumIEEE(plain[:12]))

	block, err := aes.NewCipher(cmdKey)
	if err != nil {
		return [16]byte{}, err
	}
	var out [16]byte
	block.Encrypt(out[:], plain[:])
	return out, nil
}
