package wire

import "errors"

// Codec errors. The protocol requires silent discard of unparsable
// input, so these errors never translate to a client-visible status.
// They are checked with errors.Is after unwrapping.
var (
	// An error indicating a truncated or otherwise unparsable message.
	ErrMalformed = errors.New("malformed DHCPv6 message")
	// An error indicating that the relay encapsulation exceeds the
	// protocol hop count limit.
	ErrRelayChainTooDeep = errors.New("relay chain too deep")
	// An error indicating a known message type the server does not
	// accept, e.g. an Advertise sent to a server.
	ErrUnsupportedMessageType = errors.New("unsupported DHCPv6 message type")
)
