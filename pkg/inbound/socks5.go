package inbound

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/netip"

	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/relog"
	"github.com/relaycore/relayd/pkg/socks5addr"
)

const (
	socks5CmdConnect      = 0x01
	socks5CmdUDPAssociate = 0x03

	socks5ReplySucceeded         = 0x00
	socks5ReplyGeneralFailure    = 0x01
	socks5ReplyCommandNotSupported = 0x07
)

// SOCKS5Listener serves RFC 1928/1929 CONNECT and UDP ASSOCIATE requests.
type SOCKS5Listener struct {
	listener *listener
	handler  Handler
	Username string
	Password string
}

func NewSOCKS5Listener(handler Handler) *SOCKS5Listener {
	s := &SOCKS5Listener{handler: handler}
	s.listener = newListener(metadata.InboundSOCKS5, s.serve)
	return s
}

func (s *SOCKS5Listener) Start(ctx context.Context, addr string) error {
	return s.listener.Start(ctx, "tcp", addr)
}

func (s *SOCKS5Listener) Close() error { return s.listener.Close() }

func (s *SOCKS5Listener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	if err := s.negotiateAuth(conn, r); err != nil {
		relog.Debugf(ctx, "inbound: socks5 negotiation from %s failed: %v", conn.RemoteAddr(), err)
		return
	}

	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return
	}
	if head[0] != 0x05 {
		return
	}
	addr, err := socks5addr.Decode(r, head[3])
	if err != nil {
		writeSocks5Reply(conn, socks5ReplyGeneralFailure)
		return
	}

	meta := &metadata.Metadata{DestPort: addr.Port, InboundKind: metadata.InboundSOCKS5}
	if addr.Domain != "" {
		meta.DestHost = addr.Domain
	} else {
		meta.DestIP = addr.IP
	}

	switch head[1] {
	case socks5CmdConnect:
		s.serveConnect(ctx, conn, meta)
	case socks5CmdUDPAssociate:
		s.serveUDPAssociate(ctx, conn, meta)
	default:
		writeSocks5Reply(conn, socks5ReplyCommandNotSupported)
	}
}

// negotiateAuth performs the method-selection handshake (spec section
// 4.2), accepting no-auth or, when credentials are configured, user/pass.
func (s *SOCKS5Listener) negotiateAuth(conn net.Conn, r *bufio.Reader) error {
	head := make([]byte, 2)
	if _, err := io.ReadFull(r, head); err != nil {
		return err
	}
	n := int(head[1])
	methods := make([]byte, n)
	if _, err := io.ReadFull(r, methods); err != nil {
		return err
	}

	wantAuth := s.Username != ""
	selected := byte(0xFF)
	for _, m := range methods {
		if wantAuth && m == 0x02 {
			selected = 0x02
			break
		}
		if !wantAuth && m == 0x00 {
			selected = 0x00
		}
	}
	if _, err := conn.Write([]byte{0x05, selected}); err != nil {
		return err
	}
	if selected == 0xFF {
		return errUnsupportedAuthMethod
	}
	if selected == 0x02 {
		return s.verifyUserPass(conn, r)
	}
	return nil
}

func (s *SOCKS5Listener) verifyUserPass(conn net.Conn, r *bufio.Reader) error {
	ver, err := r.ReadByte()
	if err != nil || ver != 0x01 {
		return errBadUserPassVersion
	}
	ulen, err := r.ReadByte()
	if err != nil {
		return err
	}
	user := make([]byte, ulen)
	if _, err := io.ReadFull(r, user); err != nil {
		return err
	}
	plen, err := r.ReadByte()
	if err != nil {
		return err
	}
	pass := make([]byte, plen)
	if _, err := io.ReadFull(r, pass); err != nil {
		return err
	}
	ok := string(user) == s.Username && string(pass) == s.Password
	status := byte(0x00)
	if !ok {
		status = 0x01
	}
	if _, err := conn.Write([]byte{0x01, status}); err != nil {
		return err
	}
	if !ok {
		return errAuthRejected
	}
	return nil
}

func (s *SOCKS5Listener) serveConnect(ctx context.Context, conn net.Conn, meta *metadata.Metadata) {
	d, err := s.handler.Dial(ctx, meta)
	if err != nil {
		writeSocks5Reply(conn, socks5ReplyGeneralFailure)
		return
	}
	writeSocks5Reply(conn, socks5ReplySucceeded)
	if err := s.handler.Serve(ctx, conn, meta, d); err != nil {
		relog.Debugf(ctx, "inbound: socks5 stream to %s ended: %v", meta.RemoteAddress(), err)
	}
}

// serveUDPAssociate opens a local relay socket, binds it in the reply and
// holds the TCP control connection open for the session's lifetime (spec
// section 4.2: UDP association tracks its control stream).
func (s *SOCKS5Listener) serveUDPAssociate(ctx context.Context, conn net.Conn, meta *metadata.Metadata) {
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		writeSocks5Reply(conn, socks5ReplyGeneralFailure)
		return
	}
	defer pc.Close()

	localAddr, ok := pc.LocalAddr().(*net.UDPAddr)
	if !ok {
		writeSocks5Reply(conn, socks5ReplyGeneralFailure)
		return
	}
	tcpLocal, _ := conn.LocalAddr().(*net.TCPAddr)
	bindIP := netip.MustParseAddr("0.0.0.0")
	if tcpLocal != nil {
		if a, ok := netip.AddrFromSlice(tcpLocal.IP); ok {
			bindIP = a
		}
	}
	addrBytes, _ := socks5addr.EncodeHostPort("", true, bindIP, uint16(localAddr.Port))
	reply := append([]byte{0x05, socks5ReplySucceeded, 0x00}, addrBytes...)
	if _, err := conn.Write(reply); err != nil {
		return
	}

	session := newUDPSession(pc, s.handler)
	done := make(chan struct{})
	go func() {
		defer close(done)
		session.run(ctx)
	}()

	// the session lives as long as the TCP control connection does
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			session.stop()
			<-done
			return
		}
	}
}

func writeSocks5Reply(conn net.Conn, code byte) {
	zero := make([]byte, 4+2) // IPv4 0.0.0.0:0
	reply := append([]byte{0x05, code, 0x00, 0x01}, zero...)
	_, _ = conn.Write(reply)
}

var (
	errUnsupportedAuthMethod = newProtoErr("socks5: no acceptable auth method")
	errBadUserPassVersion    = newProtoErr("socks5: bad user/pass auth version")
	errAuthRejected          = newProtoErr("socks5: user/pass auth rejected")
)

type protoErr string

func (e protoErr) Error() string { return string(e) }

func newProtoErr(s string) error { return protoErr(s) }
