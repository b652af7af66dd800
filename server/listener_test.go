package server_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isc.org/dhcp6d/server"
	"isc.org/dhcp6d/testutil"
	"isc.org/dhcp6d/wire"
)

// Test that the listener receives a datagram, runs the exchange and
// sends the response back to the source.
func TestListenerServe(t *testing.T) {
	ht := setupHandler(t, handlerTestConfig)
	port, err := testutil.GetFreeLocalUDPPort()
	require.NoError(t, err)

	listener := server.NewListener(fmt.Sprintf("[::1]:%d", port), nil, ht.handler)
	require.NoError(t, listener.Open())
	defer listener.Shutdown()

	served := make(chan error, 1)
	go func() {
		served <- listener.Serve()
	}()

	conn, err := net.Dial("udp6", fmt.Sprintf("[::1]:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	// The loopback carries no link information, so the exchange runs
	// without a subnet and the IA is answered with NoAddrsAvail. The
	// transport round trip is what matters here.
	solicit := newClientMessage(t, wire.Solicit, testClientDUID, &wire.IANA{IAID: 1})
	data, err := solicit.Encode()
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buffer := make([]byte, 1500)
	length, err := conn.Read(buffer)
	require.NoError(t, err)

	packet, err := wire.DecodePacket(buffer[:length])
	require.NoError(t, err)
	require.Equal(t, wire.Advertise, packet.Message.Type)
	require.Equal(t, testClientDUID, packet.Message.ClientID().String())

	listener.Shutdown()
	require.NoError(t, <-served)
}

// Test that shutting down a listener which never served is safe.
func TestListenerShutdownWithoutServe(t *testing.T) {
	ht := setupHandler(t, handlerTestConfig)
	port, err := testutil.GetFreeLocalUDPPort()
	require.NoError(t, err)

	listener := server.NewListener(fmt.Sprintf("[::1]:%d", port), nil, ht.handler)
	require.NoError(t, listener.Open())
	listener.Shutdown()
}
