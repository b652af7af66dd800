package ddns_test

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/ddns"
	"isc.org/dhcp6d/dhcpcfg"
)

// Runs a DNS server on the loopback interface. It records the received
// messages on the returned channel and acknowledges each of them. The
// returned function shuts the server down.
func runUpdateServer(t *testing.T) (uint16, chan *dns.Msg, func()) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	updates := make(chan *dns.Msg, 16)
	server := &dns.Server{
		PacketConn: pc,
		// The default accept function rejects UPDATE messages with
		// NOTIMP before they reach the handler.
		MsgAcceptFunc: func(dns.Header) dns.MsgAcceptAction { return dns.MsgAccept },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			updates <- r.Copy()
			reply := new(dns.Msg)
			reply.SetReply(r)
			_ = w.WriteMsg(reply)
		}),
	}
	go func() {
		_ = server.ActivateAndServe()
	}()
	port := pc.LocalAddr().(*net.UDPAddr).Port
	return uint16(port), updates, func() {
		_ = server.Shutdown()
	}
}

// Creates a notifier pointed at the test DNS server.
func newTestNotifier(port uint16) *ddns.Notifier {
	return ddns.NewNotifier(&dhcpcfg.DDNSConfig{
		EnableUpdates: true,
		ServerIP:      "127.0.0.1",
		ServerPort:    port,
		TTL:           1800,
	})
}

// Reads the next update message received by the test DNS server.
func waitForUpdate(t *testing.T, updates chan *dns.Msg) *dns.Msg {
	t.Helper()
	select {
	case msg := <-updates:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the DNS update")
		return nil
	}
}

// Test that assigning a lease with both FQDN flags produces the forward
// and the reverse update carrying the AAAA and the PTR record.
func TestNotifierSendsAdditions(t *testing.T) {
	port, updates, shutdown := runUpdateServer(t)
	defer shutdown()

	notifier := newTestNotifier(port)
	defer notifier.Shutdown()

	lease := dhcpdata.NewAddressLease("2001:db8:1::10", "00:03:00:01:aa:bb:cc:dd:ee:01", 1, 1)
	lease.Hostname = "host.example.org"
	lease.FqdnFwd = true
	lease.FqdnRev = true
	notifier.QueueLeaseAddition(lease)

	forward := waitForUpdate(t, updates)
	require.Equal(t, dns.OpcodeUpdate, forward.Opcode)
	require.Len(t, forward.Question, 1)
	require.Equal(t, "example.org.", forward.Question[0].Name)
	require.Len(t, forward.Ns, 1)
	aaaa, ok := forward.Ns[0].(*dns.AAAA)
	require.True(t, ok)
	require.Equal(t, "host.example.org.", aaaa.Hdr.Name)
	require.EqualValues(t, dns.ClassINET, aaaa.Hdr.Class)
	require.EqualValues(t, 1800, aaaa.Hdr.Ttl)
	require.True(t, aaaa.AAAA.Equal(net.ParseIP("2001:db8:1::10")))

	reverse := waitForUpdate(t, updates)
	require.Equal(t, dns.OpcodeUpdate, reverse.Opcode)
	require.Len(t, reverse.Question, 1)
	require.Equal(t, "0.0.0.0.1.0.0.0.8.b.d.0.1.0.0.2.ip6.arpa.", reverse.Question[0].Name)
	require.Len(t, reverse.Ns, 1)
	ptr, ok := reverse.Ns[0].(*dns.PTR)
	require.True(t, ok)
	require.Equal(t, "host.example.org.", ptr.Ptr)
	require.Equal(t, "0.1.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.1.0.0.0.8.b.d.0.1.0.0.2.ip6.arpa.", ptr.Hdr.Name)
}

// Test that reclaiming a lease produces updates removing its records.
func TestNotifierSendsRemovals(t *testing.T) {
	port, updates, shutdown := runUpdateServer(t)
	defer shutdown()

	notifier := newTestNotifier(port)
	defer notifier.Shutdown()

	lease := dhcpdata.NewAddressLease("2001:db8:1::10", "00:03:00:01:aa:bb:cc:dd:ee:01", 1, 1)
	lease.Hostname = "host.example.org"
	lease.FqdnFwd = true
	lease.FqdnRev = true
	notifier.QueueLeaseRemoval(lease)

	forward := waitForUpdate(t, updates)
	require.Len(t, forward.Ns, 1)
	// RFC 2136 encodes record removal as class NONE with a zero TTL.
	require.EqualValues(t, dns.ClassNONE, forward.Ns[0].Header().Class)
	require.Zero(t, forward.Ns[0].Header().Ttl)

	reverse := waitForUpdate(t, updates)
	require.Len(t, reverse.Ns, 1)
	require.EqualValues(t, dns.ClassNONE, reverse.Ns[0].Header().Class)
}

// Test that only the forward update is sent when the client performs
// its own reverse updates.
func TestNotifierForwardOnly(t *testing.T) {
	port, updates, shutdown := runUpdateServer(t)
	defer shutdown()

	notifier := newTestNotifier(port)
	defer notifier.Shutdown()

	lease := dhcpdata.NewAddressLease("2001:db8:1::10", "00:03:00:01:aa:bb:cc:dd:ee:01", 1, 1)
	lease.Hostname = "one.example.org"
	lease.FqdnFwd = true
	notifier.QueueLeaseAddition(lease)

	// The next lease proves no reverse update was sent in between.
	marker := dhcpdata.NewAddressLease("2001:db8:1::11", "00:03:00:01:aa:bb:cc:dd:ee:02", 1, 1)
	marker.Hostname = "two.example.org"
	marker.FqdnFwd = true
	notifier.QueueLeaseAddition(marker)

	first := waitForUpdate(t, updates)
	require.Equal(t, "one.example.org.", first.Ns[0].Header().Name)
	second := waitForUpdate(t, updates)
	require.Equal(t, "two.example.org.", second.Ns[0].Header().Name)
}

// Test that leases without DNS records produce no updates.
func TestNotifierSkipsUnnamedLeases(t *testing.T) {
	port, updates, shutdown := runUpdateServer(t)
	defer shutdown()

	notifier := newTestNotifier(port)
	defer notifier.Shutdown()

	// No hostname.
	unnamed := dhcpdata.NewAddressLease("2001:db8:1::10", "00:03:00:01:aa:bb:cc:dd:ee:01", 1, 1)
	unnamed.FqdnFwd = true
	notifier.QueueLeaseAddition(unnamed)

	// FQDN flags cleared.
	unflagged := dhcpdata.NewAddressLease("2001:db8:1::11", "00:03:00:01:aa:bb:cc:dd:ee:02", 1, 1)
	unflagged.Hostname = "host.example.org"
	notifier.QueueLeaseAddition(unflagged)

	// Delegated prefixes have no DNS records.
	prefix := dhcpdata.NewPrefixLease("3000::", 64, "00:03:00:01:aa:bb:cc:dd:ee:03", 1, 1)
	prefix.Hostname = "host.example.org"
	prefix.FqdnFwd = true
	notifier.QueueLeaseAddition(prefix)

	marker := dhcpdata.NewAddressLease("2001:db8:1::12", "00:03:00:01:aa:bb:cc:dd:ee:04", 1, 1)
	marker.Hostname = "marker.example.org"
	marker.FqdnFwd = true
	notifier.QueueLeaseAddition(marker)

	first := waitForUpdate(t, updates)
	require.Equal(t, "marker.example.org.", first.Ns[0].Header().Name)
}

// Test that a notifier with updates disabled discards the requests and
// can be shut down without ever being started.
func TestNotifierDisabled(t *testing.T) {
	notifier := ddns.NewNotifier(nil)
	require.False(t, notifier.Enabled())

	lease := dhcpdata.NewAddressLease("2001:db8:1::10", "00:03:00:01:aa:bb:cc:dd:ee:01", 1, 1)
	lease.Hostname = "host.example.org"
	lease.FqdnFwd = true
	require.NotPanics(t, func() {
		notifier.QueueLeaseAddition(lease)
		notifier.Shutdown()
	})

	disabled := ddns.NewNotifier(&dhcpcfg.DDNSConfig{ServerIP: "127.0.0.1"})
	require.False(t, disabled.Enabled())
}
