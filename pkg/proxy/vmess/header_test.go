package vmess

import (
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestProducesWireReadyPacket(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	addrBytes := []byte{0x03, 4, 'h', 'o', 's', 't'} // atyp=domain, len=4, "host"

	req, err := BuildRequest(id, 1700000000, CmdTCP, 443, addrBytes)
	require.NoError(t, err)

	assert.Len(t, req.HeaderPacket, 16+len(req.HeaderPacket)-16)
	assert.True(t, len(req.HeaderPacket) > 16, "packet must carry the AuthID plus sealed length/payload")
	assert.Equal(t, req.AuthID[:], req.HeaderPacket[:16])
}

func TestBuildRequestBodyKeyIVAreRandomPerCall(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	addrBytes := []byte{0x01, 127, 0, 0, 1}

	r1, err := BuildRequest(id, 1700000000, CmdTCP, 80, addrBytes)
	require.NoError(t, err)
	r2, err := BuildRequest(id, 1700000000, CmdTCP, 80, addrBytes)
	require.NoError(t, err)

	assert.NotEqual(t, r1.BodyKey, r2.BodyKey)
	assert.NotEqual(t, r1.BodyIV, r2.BodyIV)
	assert.NotEqual(t, r1.HeaderPacket, r2.HeaderPacket)
}

func TestBuildRequestUDPCommand(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	req, err := BuildRequest(id, 1700000000, CmdUDP, 53, []byte{0x01, 8, 8, 8, 8})
	require.NoError(t, err)
	assert.NotEmpty(t, req.HeaderPacket)
}
