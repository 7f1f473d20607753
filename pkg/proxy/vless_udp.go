package proxy

import (
	"bufio"
	"encoding/binary"
	"net"
	"time"
)

// vlessPacketConn frames each datagram as [2-byte length|payload] over the
// single VLESS TLS stream. Unlike Trojan/Shadowsocks, the destination
// address is carried once in the initial request header, so datagrams
// exchanged afterward need no per-packet address.
type vlessPacketConn struct {
	net.Conn
	r    *bufio.Reader
	peer net.Addr
}

func newVlessPacketConn(conn net.Conn) *vlessPacketConn {
	return &vlessPacketConn{Conn: conn, r: bufio.NewReader(conn)}
}

func (p *vlessPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	p.peer = addr
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	frame := append(append([]byte{}, lenBuf[:]...), b...)
	if _, err := p.Conn.Write(frame); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *vlessPacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	var lenBuf [2]byte
	if _, err := readFullReader(p.r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, size)
	if _, err := readFullReader(p.r, buf); err != nil {
		return 0, nil, err
	}
	n := copy(b, buf)
	return n, p.peer, nil
}

func (p *vlessPacketConn) SetDeadline(t time.Time) error      { return p.Conn.SetDeadline(t) }
func (p *vlessPacketConn) SetReadDeadline(t time.Time) error  { return p.Conn.SetReadDeadline(t) }
func (p *vlessPacketConn) SetWriteDeadline(t time.Time) error { return p.Conn.SetWriteDeadline(t) }
