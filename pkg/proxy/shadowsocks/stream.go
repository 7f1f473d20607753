package shadowsocks

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"
	"net"
)

const maxChunkSize = 0x3FFF // 16383, per the AEAD Shadowsocks chunk framing

// Conn wraps a net.Conn with the per-chunk AEAD framing:
// [2-byte length|tag][payload|tag] repeated. The connection-level salt is
// sent once, un-framed, at the very start of each direction.
type Conn struct {
	net.Conn
	method Method
	key    []byte

	wAEAD    cipher.AEAD
	wNonce   []byte
	wSalt    []byte
	wSentSalt bool

	rAEAD  cipher.AEAD
	rNonce []byte
	rSalt  []byte
	rBuf   []byte // decrypted, unread leftover
}

// NewConn wraps conn for method with the given pre-shared master key.
func NewConn(conn net.Conn, method Method, masterKey []byte) *Conn {
	return &Conn{Conn: conn, method: method, key: masterKey}
}

func (c *Conn) Write(p []byte) (int, error) {
	if !c.wSentSalt {
		salt, err := RandomSalt(c.method)
		if err != nil {
			return 0, err
		}
		aead, err := NewAEAD(c.method, c.key, salt)
		if err != nil {
			return 0, err
		}
		c.wAEAD = aead
		c.wNonce = make([]byte, aead.NonceSize())
		c.wSalt = salt
		if _, err := c.Conn.Write(salt); err != nil {
			return 0, err
		}
		c.wSentSalt = true
	}

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
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(chunk)))
	encLen := c.wAEAD.Seal(nil, c.wNonce, lenBuf[:], nil)
	incNonce(c.wNonce)
	encPayload := c.wAEAD.Seal(nil, c.wNonce, chunk, nil)
	incNonce(c.wNonce)
	if _, err := c.Conn.Write(encLen); err != nil {
		return err
	}
	_, err := c.Conn.Write(encPayload)
	return err
}

func (c *Conn) Read(p []byte) (int, error) {
	if len(c.rBuf) > 0 {
		n := copy(p, c.rBuf)
		c.rBuf = c.rBuf[n:]
		return n, nil
	}
	if c.rAEAD == nil {
		salt := make([]byte, c.method.SaltSize())
		if _, err := io.ReadFull(c.Conn, salt); err != nil {
			return 0, err
		}
		aead, err := NewAEAD(c.method, c.key, salt)
		if err != nil {
			return 0, err
		}
		c.rAEAD = aead
		c.rNonce = make([]byte, aead.NonceSize())
		c.rSalt = salt
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
	lenTag := make([]byte, 2+c.rAEAD.Overhead())
	if _, err := io.ReadFull(c.Conn, lenTag); err != nil {
		return nil, err
	}
	lenBuf, err := c.rAEAD.Open(nil, c.rNonce, lenTag, nil)
	if err != nil {
		return nil, errors.New("shadowsocks: length chunk authentication failed")
	}
	incNonce(c.rNonce)
	size := binary.BigEndian.Uint16(lenBuf)
	if size > maxChunkSize {
		return nil, errors.New("shadowsocks: chunk too large")
	}
	payloadTag := make([]byte, int(size)+c.rAEAD.Overhead())
	if _, err := io.ReadFull(c.Conn, payloadTag); err != nil {
		return nil, err
	}
	payload, err := c.rAEAD.Open(nil, c.rNonce, payloadTag, nil)
	if err != nil {
		return nil, errors.New("shadowsocks: payload chunk authentication failed")
	}
	incNonce(c.rNonce)
	return payload, nil
}

func incNonce(nonce []byte) {
	for i := range nonce {
		nonce[i]++
		if nonce[i] != 0 {
			return
		}
	}
}
