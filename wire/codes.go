package wire

// A type defining the DHCPv6 message types.
type MessageType uint8

// DHCPv6 message types defined in RFC 8415.
const (
	Solicit            MessageType = 1
	Advertise          MessageType = 2
	Request            MessageType = 3
	Confirm            MessageType = 4
	Renew              MessageType = 5
	Rebind             MessageType = 6
	Reply              MessageType = 7
	Release            MessageType = 8
	Decline            MessageType = 9
	Reconfigure        MessageType = 10
	InformationRequest MessageType = 11
	RelayForward       MessageType = 12
	RelayReply         MessageType = 13
)

// Checks if the message type is one of the types defined by the protocol.
func (t MessageType) Known() bool {
	return t >= Solicit && t <= RelayReply
}

// Checks if the message type is a relay agent encapsulation.
func (t MessageType) IsRelay() bool {
	return t == RelayForward || t == RelayReply
}

// Returns a human-readable representation of the message type.
func (t MessageType) String() string {
	switch t {
	case Solicit:
		return "Solicit"
	case Advertise:
		return "Advertise"
	case Request:
		return "Request"
	case Confirm:
		return "Confirm"
	case Renew:
		return "Renew"
	case Rebind:
		return "Rebind"
	case Reply:
		return "Reply"
	case Release:
		return "Release"
	case Decline:
		return "Decline"
	case Reconfigure:
		return "Reconfigure"
	case InformationRequest:
		return "Information-Request"
	case RelayForward:
		return "Relay-Forward"
	case RelayReply:
		return "Relay-Reply"
	default:
		return "Unknown"
	}
}

// A type defining the DHCPv6 option codes.
type OptionCode uint16

// DHCPv6 option codes used by the server.
const (
	OptionClientID      OptionCode = 1
	OptionServerID      OptionCode = 2
	OptionIANA          OptionCode = 3
	OptionIAAddress     OptionCode = 5
	OptionOptionRequest OptionCode = 6
	OptionPreference    OptionCode = 7
	OptionElapsedTime   OptionCode = 8
	OptionRelayMessage  OptionCode = 9
	OptionStatusCode    OptionCode = 13
	OptionRapidCommit   OptionCode = 14
	OptionInterfaceID   OptionCode = 18
	OptionDNSServers    OptionCode = 23
	OptionDomainList    OptionCode = 24
	OptionIAPD          OptionCode = 25
	OptionIAPrefix      OptionCode = 26
	OptionClientFQDN    OptionCode = 39
)

// A type defining the DHCPv6 status codes carried in the Status Code
// option.
type StatusCode uint16

// DHCPv6 status codes defined in RFC 8415.
const (
	StatusSuccess       StatusCode = 0
	StatusUnspecFail    StatusCode = 1
	StatusNoAddrsAvail  StatusCode = 2
	StatusNoBinding     StatusCode = 3
	StatusNotOnLink     StatusCode = 4
	StatusUseMulticast  StatusCode = 5
	StatusNoPrefixAvail StatusCode = 6
)

// Returns a human-readable representation of the status code.
func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusUnspecFail:
		return "UnspecFail"
	case StatusNoAddrsAvail:
		return "NoAddrsAvail"
	case StatusNoBinding:
		return "NoBinding"
	case StatusNotOnLink:
		return "NotOnLink"
	case StatusUseMulticast:
		return "UseMulticast"
	case StatusNoPrefixAvail:
		return "NoPrefixAvail"
	default:
		return "Unknown"
	}
}

// Returns the default status message sent to the client along with the
// status code.
func (s StatusCode) DefaultMessage() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoAddrsAvail:
		return "no addresses available"
	case StatusNoBinding:
		return "no binding for the client"
	case StatusNotOnLink:
		return "address not on link"
	case StatusUseMulticast:
		return "use multicast"
	case StatusNoPrefixAvail:
		return "no prefixes available"
	default:
		return "unspecified failure"
	}
}
