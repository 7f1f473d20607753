package inbound

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/relog"
)

// HTTPListener serves plain HTTP forward-proxy requests (spec section
// 4.2): absolute-URI requests are relayed request-by-request, in line with
// how the Clash-lineage HTTP inbound treats non-CONNECT methods. When
// Username/Password are set, every request (forward or CONNECT) must carry
// a matching "Proxy-Authorization: Basic ..." header or the listener
// replies 407, per spec section 6.
type HTTPListener struct {
	listener *listener
	handler  Handler
	Username string
	Password string
}

func NewHTTPListener(handler Handler) *HTTPListener {
	h := &HTTPListener{handler: handler}
	h.listener = newListener(metadata.InboundHTTP, h.serve)
	return h
}

func (h *HTTPListener) Start(ctx context.Context, addr string) error {
	return h.listener.Start(ctx, "tcp", addr)
}

func (h *HTTPListener) Close() error { return h.listener.Close() }

func (h *HTTPListener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		if h.Username != "" && !checkProxyAuth(req, h.Username, h.Password) {
			writeProxyAuthRequired(conn)
			return
		}
		if req.Method == http.MethodConnect {
			serveConnect(ctx, conn, br, req, h.handler, metadata.InboundHTTP)
			return
		}
		if !serveForwardRequest(ctx, conn, req, h.handler) {
			return
		}
		if req.Close {
			return
		}
	}
}

// checkProxyAuth validates the request's "Proxy-Authorization: Basic ..."
// header against user/pass, constant-time per field (spec section 6's
// "Proxy-Authorization: Basic ... when configured; 407 on auth failure").
func checkProxyAuth(req *http.Request, user, pass string) bool {
	hdr := req.Header.Get("Proxy-Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(hdr, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(hdr[len(prefix):])
	if err != nil {
		return false
	}
	gotUser, gotPass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(gotUser), []byte(user)) == 1 &&
		subtle.ConstantTimeCompare([]byte(gotPass), []byte(pass)) == 1
}

func writeProxyAuthRequired(conn net.Conn) {
	resp := http.Response{
		StatusCode: http.StatusProxyAuthRequired,
		Status:     "407 Proxy Authentication Required",
		Proto:      "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
		Header: http.Header{"Proxy-Authenticate": []string{`Basic realm="relayd"`}},
		Body:   http.NoBody,
	}
	_ = resp.Write(conn)
}

// serveForwardRequest proxies one absolute-URI HTTP request and writes its
// response back on conn, returning false if the connection should close.
func serveForwardRequest(ctx context.Context, conn net.Conn, req *http.Request, handler Handler) bool {
	meta, err := metadataFromURL(req.URL, req.Host)
	if err != nil {
		writeSimpleResponse(conn, http.StatusBadRequest, "bad request")
		return false
	}

	d, err := handler.Dial(ctx, meta)
	if err != nil {
		writeSimpleResponse(conn, http.StatusBadGateway, "dial failed")
		return false
	}

	stripHopByHopHeaders(req.Header)
	req.RequestURI = ""
	if err := req.Write(d.Conn); err != nil {
		d.Conn.Close()
		return false
	}

	resp, err := http.ReadResponse(bufio.NewReader(d.Conn), req)
	if err != nil {
		d.Conn.Close()
		writeSimpleResponse(conn, http.StatusBadGateway, "upstream error")
		return false
	}
	if err := resp.Write(conn); err != nil {
		resp.Body.Close()
		d.Conn.Close()
		return false
	}
	resp.Body.Close()
	d.Conn.Close()
	return !resp.Close
}

func metadataFromURL(u *url.URL, hostHeader string) (*metadata.Metadata, error) {
	host := u.Host
	if host == "" {
		host = hostHeader
	}
	if host == "" {
		return nil, errors.New("inbound: http request missing target host")
	}
	hostname, portStr, err := net.SplitHostPort(host)
	if err != nil {
		hostname, portStr = host, "80"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	meta := &metadata.Metadata{DestHost: hostname, DestPort: uint16(port)}
	return meta, nil
}

var hopByHopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive",
	"Proxy-Authenticate", "Proxy-Authorization", "Te", "Trailer",
	"Transfer-Encoding", "Upgrade",
}

func stripHopByHopHeaders(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

func writeSimpleResponse(conn net.Conn, code int, msg string) {
	resp := http.Response{
		StatusCode: code,
		Status:     strconv.Itoa(code) + " " + http.StatusText(code),
		Proto:      "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   http.NoBody,
	}
	_ = resp.Write(conn)
	_, _ = conn.Write([]byte(msg))
}

// serveConnect handles one HTTP CONNECT handshake shared by the HTTP and
// Mixed listeners (spec section 4.2: "reply 200 Connection established
// before relay; 502 on dial failure, 504 on timeout").
func serveConnect(ctx context.Context, conn net.Conn, br *bufio.Reader, req *http.Request, handler Handler, kind metadata.InboundKind) {
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	hostname, portStr, err := net.SplitHostPort(host)
	if err != nil {
		hostname, portStr = host, "443"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		writeConnectResponse(conn, http.StatusBadRequest)
		return
	}
	meta := &metadata.Metadata{DestHost: hostname, DestPort: uint16(port), InboundKind: kind}

	d, err := handler.Dial(ctx, meta)
	if err != nil {
		var ne net.Error
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			writeConnectResponse(conn, http.StatusGatewayTimeout)
		} else {
			writeConnectResponse(conn, http.StatusBadGateway)
		}
		return
	}

	writeConnectResponse(conn, http.StatusOK)

	if br.Buffered() > 0 {
		buf := make([]byte, br.Buffered())
		_, _ = br.Read(buf)
		if _, err := d.Conn.Write(buf); err != nil {
			d.Conn.Close()
			conn.Close()
			return
		}
	}

	if err := handler.Serve(ctx, conn, meta, d); err != nil {
		relog.Debugf(ctx, "inbound: http-connect stream to %s ended: %v", meta.RemoteAddress(), err)
	}
}

func writeConnectResponse(conn net.Conn, code int) {
	var line string
	if code == http.StatusOK {
		line = "HTTP/1.1 200 Connection established\r\n\r\n"
	} else {
		line = "HTTP/1.1 " + strconv.Itoa(code) + " " + http.StatusText(code) + "\r\n\r\n"
	}
	_, _ = conn.Write([]byte(line))
}
