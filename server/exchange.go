package server

import (
	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/wire"

	"isc.org/dhcp6d/alloc"
)

// State of a single exchange. The state is advanced by the handler as
// the message passes the processing stages and is terminal in the done
// and errored states.
type exchangeState int

const (
	exchangeReceived exchangeState = iota
	exchangeValidated
	exchangeAllocated
	exchangeResponding
	exchangeDone
	exchangeErrored
)

// Returns a human-readable representation of the exchange state.
func (state exchangeState) String() string {
	switch state {
	case exchangeReceived:
		return "received"
	case exchangeValidated:
		return "validated"
	case exchangeAllocated:
		return "allocated"
	case exchangeResponding:
		return "responding"
	case exchangeDone:
		return "done"
	default:
		return "errored"
	}
}

// The ephemeral state of one message exchange. It is created when a
// datagram arrives, owned exclusively by the handler processing it and
// discarded after the response is sent or the message is dropped.
type exchange struct {
	state exchangeState

	// The decoded datagram with its relay chain and the client message
	// extracted from it.
	packet  *wire.Packet
	request *wire.Message

	// The name of the interface the datagram arrived on. It identifies
	// the subnet for directly connected clients.
	interfaceName string

	// The subnet resolved from the relay chain or the interface, nil
	// when the client is not on a known link.
	subnet *dhcpcfg.Subnet

	// The requesting client as seen by the allocation engine.
	client *alloc.ClientContext

	// The response under construction.
	response *wire.Message

	// Leases committed during the exchange, queued to the DNS and HA
	// notifiers after the response is successfully built.
	committed []*dhcpdata.Lease
	removed   []*dhcpdata.Lease
}

// Remembers a lease committed during the exchange.
func (ex *exchange) leaseCommitted(lease *dhcpdata.Lease) {
	ex.committed = append(ex.committed, lease)
}

// Remembers a lease released, declined or otherwise withdrawn during
// the exchange.
func (ex *exchange) leaseRemoved(lease *dhcpdata.Lease) {
	ex.removed = append(ex.removed, lease)
}
