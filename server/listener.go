package server

import (
	"context"
	"net"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	dhcputil "isc.org/dhcp6d/util"
)

// The All_DHCP_Relay_Agents_and_Servers multicast group every DHCPv6
// server joins.
var allRelayAgentsAndServers = net.ParseIP("ff02::1:2")

// A DHCPv6 message fits a single datagram; relay chains can make it
// large, so the read buffer covers the maximum UDP payload.
const maxDatagramSize = 65535

// Number of workers processing exchanges concurrently. Exchanges of
// different clients are independent; the ones touching the same
// resource serialize on the lease store conflict detection.
const exchangeWorkers = 8

// Listener receives DHCPv6 datagrams on a UDP socket and dispatches
// the exchanges to a worker pool. Responses are sent back through the
// interface the request arrived on.
type Listener struct {
	address    string
	interfaces []string
	handler    *Handler

	conn *ipv6.PacketConn
	pool *dhcputil.PausablePool
}

// Creates the listener. The interfaces name the links the server joins
// the DHCPv6 multicast group on.
func NewListener(address string, interfaces []string, handler *Handler) *Listener {
	return &Listener{
		address:    address,
		interfaces: interfaces,
		handler:    handler,
	}
}

// Opens the socket and joins the multicast group on the configured
// interfaces. Join failures are logged but not fatal: the server still
// serves unicast and relayed traffic.
func (listener *Listener) Open() error {
	lc := net.ListenConfig{Control: setReuseAddr}
	packetConn, err := lc.ListenPacket(context.Background(), "udp6", listener.address)
	if err != nil {
		return errors.Wrapf(err, "problem opening the UDP socket on %s", listener.address)
	}
	conn := ipv6.NewPacketConn(packetConn.(*net.UDPConn))
	if err := conn.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		log.WithError(err).Warn("Problem enabling the interface control messages")
	}
	group := &net.UDPAddr{IP: allRelayAgentsAndServers}
	for _, name := range listener.interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"interface": name,
			}).Warn("Skipping an unknown interface")
			continue
		}
		if err := conn.JoinGroup(iface, group); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"interface": name,
			}).Warn("Problem joining the DHCPv6 multicast group")
			continue
		}
		log.WithFields(log.Fields{
			"interface": name,
		}).Info("Joined the DHCPv6 multicast group")
	}
	listener.conn = conn
	listener.pool = dhcputil.NewPausablePool(exchangeWorkers)
	log.WithFields(log.Fields{
		"address": listener.address,
	}).Info("Listening for DHCPv6 messages")
	return nil
}

// Receives datagrams until the listener is shut down. Each datagram is
// handed to the worker pool; the worker processes the exchange to
// completion and sends the response to the datagram source.
func (listener *Listener) Serve() error {
	buffer := make([]byte, maxDatagramSize)
	for {
		length, cm, src, err := listener.conn.ReadFrom(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "problem receiving a DHCPv6 message")
		}
		data := make([]byte, length)
		copy(data, buffer[:length])
		var interfaceName string
		var ifIndex int
		if cm != nil && cm.IfIndex > 0 {
			ifIndex = cm.IfIndex
			if iface, err := net.InterfaceByIndex(cm.IfIndex); err == nil {
				interfaceName = iface.Name
			}
		}
		peer := src
		err = listener.pool.Submit(func() {
			response := listener.handler.Process(data, interfaceName)
			if response == nil {
				return
			}
			var wcm *ipv6.ControlMessage
			if ifIndex > 0 {
				wcm = &ipv6.ControlMessage{IfIndex: ifIndex}
			}
			if _, err := listener.conn.WriteTo(response, wcm, peer); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"peer": peer,
				}).Warn("Problem sending the response")
			}
		})
		if err != nil {
			// The pool rejects tasks only when it was stopped.
			return nil
		}
	}
}

// Closes the socket and stops the workers. Exchanges in progress
// complete first.
func (listener *Listener) Shutdown() {
	if listener.conn != nil {
		listener.conn.Close()
	}
	if listener.pool != nil {
		listener.pool.Stop()
	}
}

// Marks the socket address reusable before binding, so a restarting
// server does not race its own lingering socket.
func setReuseAddr(network, address string, conn syscall.RawConn) error {
	var opErr error
	if err := conn.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return opErr
}
