package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/wire"
)

type enabledDNS struct{}

func (enabledDNS) Enabled() bool                           { return true }
func (enabledDNS) QueueLeaseAddition(*dhcpdata.Lease)      {}
func (enabledDNS) QueueLeaseRemoval(lease *dhcpdata.Lease) {}

func fqdnTestHandler(dns DNSNotifier) *Handler {
	return &Handler{
		config: &dhcpcfg.Config{
			DDNS: &dhcpcfg.DDNSConfig{
				EnableUpdates:    true,
				QualifyingSuffix: "example.com",
			},
		},
		dns: dns,
	}
}

func messageWithFQDN(flags uint8, domain string, partial bool) *wire.Message {
	message := wire.NewMessage(wire.Request, 1)
	message.AddOption(&wire.ClientFQDN{Flags: flags, Domain: domain, Partial: partial})
	return message
}

// Test that a message without the Client FQDN option yields no FQDN
// processing.
func TestProcessFQDNAbsent(t *testing.T) {
	handler := fqdnTestHandler(enabledDNS{})
	require.Nil(t, handler.processFQDN(wire.NewMessage(wire.Request, 1)))
}

// Test that a partial name is qualified with the configured suffix and
// both update directions are taken when the client asked the server to
// update.
func TestProcessFQDNPartialName(t *testing.T) {
	handler := fqdnTestHandler(enabledDNS{})

	data := handler.processFQDN(messageWithFQDN(wire.FQDNFlagS, "host", true))
	require.NotNil(t, data)
	require.Equal(t, "host.example.com", data.hostname)
	require.True(t, data.fwd)
	require.True(t, data.rev)
	require.Equal(t, "host.example.com.", data.response.Domain)
	require.False(t, data.response.Partial)
	require.NotZero(t, data.response.Flags&wire.FQDNFlagS)
	require.Zero(t, data.response.Flags&wire.FQDNFlagO)
	require.Zero(t, data.response.Flags&wire.FQDNFlagN)
}

// Test that a client performing its own AAAA update still gets the PTR
// update from the server and no override is signaled.
func TestProcessFQDNClientUpdates(t *testing.T) {
	handler := fqdnTestHandler(enabledDNS{})

	data := handler.processFQDN(messageWithFQDN(0, "host.example.com.", false))
	require.NotNil(t, data)
	require.False(t, data.fwd)
	require.True(t, data.rev)
	require.Zero(t, data.response.Flags&wire.FQDNFlagS)
	require.Zero(t, data.response.Flags&wire.FQDNFlagO)
	require.Zero(t, data.response.Flags&wire.FQDNFlagN)
}

// Test that the N flag suppresses all updates.
func TestProcessFQDNNoUpdates(t *testing.T) {
	handler := fqdnTestHandler(enabledDNS{})

	data := handler.processFQDN(messageWithFQDN(wire.FQDNFlagN, "host.example.com.", false))
	require.NotNil(t, data)
	require.False(t, data.fwd)
	require.False(t, data.rev)
	require.NotZero(t, data.response.Flags&wire.FQDNFlagN)
}

// Test that with DNS updates disabled the server answers with the N
// flag and signals the override of the client S request.
func TestProcessFQDNUpdatesDisabled(t *testing.T) {
	handler := fqdnTestHandler(nil)

	data := handler.processFQDN(messageWithFQDN(wire.FQDNFlagS, "host", true))
	require.NotNil(t, data)
	require.False(t, data.fwd)
	require.False(t, data.rev)
	require.NotZero(t, data.response.Flags&wire.FQDNFlagN)
	require.NotZero(t, data.response.Flags&wire.FQDNFlagO)
}
