package server

import (
	"isc.org/dhcp6d/wire"
)

// Classifier assigns class tags to an incoming client. The tags select
// the subnets and pools open to the client. The classification language
// itself is an external concern; the server only consumes the resulting
// tags as opaque strings.
type Classifier interface {
	Classify(packet *wire.Packet, interfaceName string) []string
}

// The classifier used when none is configured. Every client belongs to
// no class, so only the pools without a client-class restriction are
// open.
type nopClassifier struct{}

func (nopClassifier) Classify(packet *wire.Packet, interfaceName string) []string {
	return nil
}
