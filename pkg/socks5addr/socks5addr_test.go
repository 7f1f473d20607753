package socks5addr

import (
	"bufio"
	"bytes"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Addr{
		{Domain: "example.com", Port: 443},
		{IP: netip.MustParseAddr("93.184.216.34"), Port: 80},
		{IP: netip.MustParseAddr("2001:db8::1"), Port: 8080},
	}
	for _, c := range cases {
		wire, err := Encode(c)
		require.NoError(t, err)

		r := bufio.NewReader(bytes.NewReader(wire))
		got, err := DecodeFull(r)
		require.NoError(t, err)
		assert.Equal(t, c.Domain, got.Domain)
		assert.Equal(t, c.Port, got.Port)
		if c.IP.IsValid() {
			assert.Equal(t, c.IP, got.IP)
		}
	}
}

func TestEncodeHostPortPicksIPOverDomain(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.1")
	wire, err := EncodeHostPort("ignored.example", true, ip, 53)
	require.NoError(t, err)
	assert.Equal(t, byte(ATypIPv4), wire[0])
}

func TestEncodeHostPortUsesDomainWhenNoIP(t *testing.T) {
	wire, err := EncodeHostPort("example.com", false, netip.Addr{}, 53)
	require.NoError(t, err)
	assert.Equal(t, byte(ATypDomain), wire[0])
	assert.Equal(t, byte(len("example.com")), wire[1])
}

func TestEncodeRejectsOversizedDomain(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Encode(Addr{Domain: string(long), Port: 1})
	assert.Error(t, err)
}

func TestEncodeRejectsEmptyAddr(t *testing.T) {
	_, err := Encode(Addr{Port: 1})
	assert.Error(t, err)
}

func TestHostPortRendersDomainOrIP(t *testing.T) {
	assert.Equal(t, "example.com:443", Addr{Domain: "example.com", Port: 443}.HostPort())
	assert.Equal(t, "10.0.0.1:53", Addr{IP: netip.MustParseAddr("10.0.0.1"), Port: 53}.HostPort())
}

func TestDecodeUnknownAtyp(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0x05}))
	_, err := Decode(r, 0x99)
	assert.Error(t, err)
}
