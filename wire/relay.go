package wire

import (
	"net"

	"github.com/pkg/errors"
)

// The protocol-mandated bound on relay encapsulation nesting.
const HopCountLimit = 32

// The fixed part of a relay layer: message type, hop count and two
// IPv6 addresses.
const relayHeaderLength = 34

// RelayHop is one relay agent encapsulation layer. The link address
// identifies the link the client is attached to and drives subnet
// selection; the peer address is where the relay heard the client.
// Options hold everything the relay attached besides the Relay Message
// option, notably Interface-Id.
type RelayHop struct {
	HopCount    uint8
	LinkAddress net.IP
	PeerAddress net.IP
	Options     []Option
}

// Returns the Interface-Id option attached by the relay or nil.
func (h *RelayHop) InterfaceID() *InterfaceID {
	for _, option := range h.Options {
		if interfaceID, ok := option.(*InterfaceID); ok {
			return interfaceID
		}
	}
	return nil
}

// Packet is a fully decoded datagram: the innermost client message and
// the chain of relay hops it arrived through. The chain is ordered
// innermost first, i.e. RelayChain[0] is the relay closest to the
// client. A directly received message has an empty chain.
type Packet struct {
	Message    *Message
	RelayChain []RelayHop
}

// Checks if the packet arrived through at least one relay.
func (p *Packet) Relayed() bool {
	return len(p.RelayChain) > 0
}

// Returns the link address for subnet selection: the first
// non-unspecified link address walking the chain from the hop closest
// to the client. Returns nil for a directly received packet or when
// every hop carries the unspecified address.
func (p *Packet) LinkAddress() net.IP {
	for i := range p.RelayChain {
		if link := p.RelayChain[i].LinkAddress; !link.IsUnspecified() {
			return link
		}
	}
	return nil
}

// Parses a datagram, unwrapping any relay encapsulation. The relay
// chain in the returned packet is ordered innermost first.
func DecodePacket(data []byte) (*Packet, error) {
	packet := &Packet{}
	for {
		if len(data) < 1 {
			return nil, errors.Wrapf(ErrMalformed, "empty message")
		}
		msgType := MessageType(data[0])
		if !msgType.IsRelay() {
			message, err := DecodeMessage(data)
			if err != nil {
				return nil, err
			}
			packet.Message = message
			// The chain was collected outermost first while
			// unwrapping. Flip it to the innermost-first order.
			for i, j := 0, len(packet.RelayChain)-1; i < j; i, j = i+1, j-1 {
				packet.RelayChain[i], packet.RelayChain[j] = packet.RelayChain[j], packet.RelayChain[i]
			}
			return packet, nil
		}
		if len(packet.RelayChain) >= HopCountLimit {
			return nil, errors.Wrapf(ErrRelayChainTooDeep, "more than %d relay layers", HopCountLimit)
		}
		hop, inner, err := decodeRelayLayer(data)
		if err != nil {
			return nil, err
		}
		packet.RelayChain = append(packet.RelayChain, *hop)
		data = inner
	}
}

// Parses one relay layer, returning the hop and the encapsulated
// message bytes from the Relay Message option.
func decodeRelayLayer(data []byte) (*RelayHop, []byte, error) {
	if len(data) < relayHeaderLength {
		return nil, nil, errors.Wrapf(ErrMalformed, "relay layer too short: %d bytes", len(data))
	}
	options, err := parseOptions(data[relayHeaderLength:])
	if err != nil {
		return nil, nil, err
	}
	hop := &RelayHop{
		HopCount:    data[1],
		LinkAddress: net.IP(append([]byte(nil), data[2:18]...)),
		PeerAddress: net.IP(append([]byte(nil), data[18:34]...)),
	}
	var inner []byte
	for _, option := range options {
		if relayMessage, ok := option.(*RelayMessageOption); ok && inner == nil {
			inner = relayMessage.Data
			continue
		}
		hop.Options = append(hop.Options, option)
	}
	if inner == nil {
		return nil, nil, errors.Wrapf(ErrMalformed, "relay layer without a relay message option")
	}
	return hop, inner, nil
}

// Serializes one relay layer wrapping the inner message bytes.
func encodeRelayLayer(msgType MessageType, hop *RelayHop, options []Option, inner []byte) ([]byte, error) {
	link := hop.LinkAddress.To16()
	peer := hop.PeerAddress.To16()
	if link == nil || peer == nil {
		return nil, errors.Errorf("relay hop addresses %s/%s are not IPv6 addresses",
			hop.LinkAddress, hop.PeerAddress)
	}
	payload, err := marshalOptions(append(append([]Option(nil), options...), &RelayMessageOption{Data: inner}))
	if err != nil {
		return nil, err
	}
	data := make([]byte, relayHeaderLength, relayHeaderLength+len(payload))
	data[0] = byte(msgType)
	data[1] = hop.HopCount
	copy(data[2:18], link)
	copy(data[18:34], peer)
	return append(data, payload...), nil
}

// Serializes the packet as a Relay-Forward chain carrying the inner
// message, preserving every hop option. It is the inverse of
// DecodePacket for a relayed client message.
func (p *Packet) Encode() ([]byte, error) {
	data, err := p.Message.Encode()
	if err != nil {
		return nil, err
	}
	for i := range p.RelayChain {
		hop := &p.RelayChain[i]
		data, err = encodeRelayLayer(RelayForward, hop, hop.Options, data)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Serializes a server response, re-wrapping it in a Relay-Reply chain
// mirroring the request's relay chain: hop counts and link and peer
// addresses are copied byte for byte and each hop's Interface-Id is
// echoed on the corresponding layer. The chain must be ordered
// innermost first, as produced by DecodePacket.
func EncodeReply(chain []RelayHop, response *Message) ([]byte, error) {
	data, err := response.Encode()
	if err != nil {
		return nil, err
	}
	for i := range chain {
		hop := &chain[i]
		var echo []Option
		if interfaceID := hop.InterfaceID(); interfaceID != nil {
			echo = append(echo, interfaceID)
		}
		data, err = encodeRelayLayer(RelayReply, hop, echo, data)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}
