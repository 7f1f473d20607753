package metadata

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostPrefersSniffedOverDestHost(t *testing.T) {
	m := &Metadata{DestHost: "dest.example", SniffedHost: "sniffed.example"}
	assert.Equal(t, "sniffed.example", m.Host())
	assert.True(t, m.HasHost())
}

func TestHostFallsBackToDestHost(t *testing.T) {
	m := &Metadata{DestHost: "dest.example"}
	assert.Equal(t, "dest.example", m.Host())
}

func TestHasHostFalseWhenNeitherSet(t *testing.T) {
	m := &Metadata{}
	assert.False(t, m.HasHost())
	assert.Equal(t, "", m.Host())
}

func TestHasIP(t *testing.T) {
	m := &Metadata{}
	assert.False(t, m.HasIP())
	m.DestIP = netip.MustParseAddr("1.2.3.4")
	assert.True(t, m.HasIP())
}

func TestRemoteAddressPrefersHostname(t *testing.T) {
	m := &Metadata{DestHost: "example.com", DestPort: 443}
	assert.Equal(t, "example.com:443", m.RemoteAddress())
}

func TestRemoteAddressFallsBackToIP(t *testing.T) {
	m := &Metadata{DestIP: netip.MustParseAddr("10.0.0.1"), DestPort: 80}
	assert.Equal(t, "10.0.0.1:80", m.RemoteAddress())
}

func TestFromAddressWithHostname(t *testing.T) {
	m, err := FromAddress("tcp", "example.com:8080")
	require.NoError(t, err)
	assert.Equal(t, "example.com", m.DestHost)
	assert.Equal(t, uint16(8080), m.DestPort)
	assert.Equal(t, TCP, m.Network)
}

func TestFromAddressWithIPAndUDP(t *testing.T) {
	m, err := FromAddress("udp", "10.0.0.1:53")
	require.NoError(t, err)
	assert.True(t, m.DestIP.IsValid())
	assert.Equal(t, UDP, m.Network)
}

func TestFromAddressRejectsMalformed(t *testing.T) {
	_, err := FromAddress("tcp", "not-a-host-port")
	assert.Error(t, err)
}

func TestCloneIsIndependentCopy(t *testing.T) {
	m := &Metadata{DestHost: "example.com"}
	c := m.Clone()
	c.DestHost = "other.example"
	assert.Equal(t, "example.com", m.DestHost)
	assert.Equal(t, "other.example", c.DestHost)
}

func TestNetworkString(t *testing.T) {
	assert.Equal(t, "tcp", TCP.String())
	assert.Equal(t, "udp", UDP.String())
}

func TestInboundKindString(t *testing.T) {
	assert.Equal(t, "mixed", InboundMixed.String())
	assert.Equal(t, "http-connect", InboundHTTPConnect.String())
}
