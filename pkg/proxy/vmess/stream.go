package vmess

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"
	"net"
)

const maxChunkSize = 0x3FFF

// Conn wraps a net.Conn with the VMess AEAD chunked body encryption:
// [2-byte length][AES-128-GCM sealed payload] repeated, both directions
// keyed off the request's body key/IV via the "AEAD Resp Header Key"/
// "vmess-body-key" and "AEAD Resp Header IV"/"vmess-body-iv" KDF labels,
// the same key and nonce root in both directions.
// The request header itself (see BuildRequest) must already have been
// written before a Conn is constructed.
type Conn struct {
	net.Conn

	wAEAD  cipher.AEAD
	wNonce []byte

	rAEAD  cipher.AEAD
	rNonce []byte
	rBuf   []byte
}

// NewConn builds the chunk-framed stream from the same bodyKey/bodyIV used
// in the request header, deriving the data AEAD key and nonce root from
// them under the labels above (distinct from the header's own
// length/payload labels).
func NewConn(conn net.Conn, bodyKey, bodyIV [16]byte) (*Conn, error) {
	wKey := kdf16(bodyKey[:], []byte("AEAD Resp Header Key"), []byte("vmess-body-key"))
	wIVSeed := kdf(bodyIV[:], []byte("AEAD Resp Header IV"), []byte("vmess-body-iv"))[:10]
	wAEAD, err := newGCM(wKey)
	if err != nil {
		return nil, err
	}
	rKey := kdf16(bodyKey[:], []byte("AEAD Resp Header Key"), []byte("vmess-body-key"))
	rIVSeed := kdf(bodyIV[:], []byte("AEAD Resp Header IV"), []byte("vmess-body-iv"))[:10]
	rAEAD, err := newGCM(rKey)
	if err != nil {
		return nil, err
	}
	return &Conn{
		Conn:   conn,
		wAEAD:  wAEAD,
		wNonce: append(append([]byte{}, wIVSeed...), 0, 0),
		rAEAD:  rAEAD,
		rNonce: append(append([]byte{}, rIVSeed...), 0, 0),
	}, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > maxChunkSize {
			n = maxChunkSize
		}
		if err := c.writeChunk(p[:n]); err != nil {
			return total, err
		}
		p = p[n:]
		total += n
	}
	return total, nil
}

func (c *Conn) writeChunk(chunk []byte) error {
	sealed := c.wAEAD.Seal(nil, c.wNonce, chunk, nil)
	incCounter(c.wNonce)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(sealed)))
	if _, err := c.Conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.Conn.Write(sealed)
	return err
}

func (c *Conn) Read(p []byte) (int, error) {
	if len(c.rBuf) > 0 {
		n := copy(p, c.rBuf)
		c.rBuf = c.rBuf[n:]
		return n, nil
	}
	chunk, err := c.readChunk()
	if err != nil {
		return 0, err
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		c.rBuf = chunk[n:]
	}
	return n, nil
}

func (c *Conn) readChunk() ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(c.Conn, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint16(lenBuf[:])
	sealed := make([]byte, size)
	if _, err := io.ReadFull(c.Conn, sealed); err != nil {
		return nil, err
	}
	plain, err := c.rAEAD.Open(nil, c.rNonce, sealed, nil)
	if err != nil {
		return nil, errors.New("vmess: chunk authentication failed")
	}
	incCounter(c.rNonce)
	return plain, nil
}

// incCounter advances the low two bytes of the 12-byte nonce; the VMess
// AEAD chunk nonce is a fixed 10-byte salt followed by a big-endian
// per-chunk counter.
func incCounter(nonce []byte) {
	ctr := binary.BigEndian.Uint16(nonce[10:12])
	ctr++
	binary.BigEndian.PutUint16(nonce[10:12], ctr)
}
