package wire

import (
	"github.com/pkg/errors"
)

// Message is a decoded, non-relay DHCPv6 message: the fixed header
// (message type and the 24-bit transaction id) followed by options.
type Message struct {
	Type          MessageType
	TransactionID uint32
	Options       []Option
}

// Creates a message of the given type, echoing the transaction id.
func NewMessage(msgType MessageType, transactionID uint32) *Message {
	return &Message{
		Type:          msgType,
		TransactionID: transactionID & 0xFFFFFF,
	}
}

// Appends an option to the message.
func (m *Message) AddOption(option Option) {
	m.Options = append(m.Options, option)
}

// Returns the first option with the given code or nil.
func (m *Message) GetOption(code OptionCode) Option {
	for _, option := range m.Options {
		if option.Code() == code {
			return option
		}
	}
	return nil
}

// Returns all options with the given code.
func (m *Message) GetOptions(code OptionCode) (options []Option) {
	for _, option := range m.Options {
		if option.Code() == code {
			options = append(options, option)
		}
	}
	return
}

// Returns the client DUID or nil when the message carries no Client
// Identifier option.
func (m *Message) ClientID() DUID {
	if option, ok := m.GetOption(OptionClientID).(*ClientID); ok {
		return option.DUID
	}
	return nil
}

// Returns the server DUID or nil when the message carries no Server
// Identifier option.
func (m *Message) ServerID() DUID {
	if option, ok := m.GetOption(OptionServerID).(*ServerID); ok {
		return option.DUID
	}
	return nil
}

// Returns the IA_NA options in their received order.
func (m *Message) IANAOptions() (options []*IANA) {
	for _, option := range m.Options {
		if ia, ok := option.(*IANA); ok {
			options = append(options, ia)
		}
	}
	return
}

// Returns the IA_PD options in their received order.
func (m *Message) IAPDOptions() (options []*IAPD) {
	for _, option := range m.Options {
		if ia, ok := option.(*IAPD); ok {
			options = append(options, ia)
		}
	}
	return
}

// Returns the Option Request option or nil.
func (m *Message) OptionRequest() *OptionRequest {
	if option, ok := m.GetOption(OptionOptionRequest).(*OptionRequest); ok {
		return option
	}
	return nil
}

// Returns the Client FQDN option or nil.
func (m *Message) ClientFQDN() *ClientFQDN {
	if option, ok := m.GetOption(OptionClientFQDN).(*ClientFQDN); ok {
		return option
	}
	return nil
}

// Returns the top-level Status Code option or nil.
func (m *Message) Status() *StatusOption {
	if option, ok := m.GetOption(OptionStatusCode).(*StatusOption); ok {
		return option
	}
	return nil
}

// Serializes the message to the wire format.
func (m *Message) Encode() ([]byte, error) {
	options, err := marshalOptions(m.Options)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 4, 4+len(options))
	data[0] = byte(m.Type)
	data[1] = byte(m.TransactionID >> 16)
	data[2] = byte(m.TransactionID >> 8)
	data[3] = byte(m.TransactionID)
	return append(data, options...), nil
}

// Parses a non-relay message. Relay encapsulations are handled by
// DecodePacket.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, errors.Wrapf(ErrMalformed, "message too short: %d bytes", len(data))
	}
	msgType := MessageType(data[0])
	if !msgType.Known() {
		return nil, errors.Wrapf(ErrMalformed, "unknown message type %d", data[0])
	}
	if msgType.IsRelay() {
		return nil, errors.Wrapf(ErrMalformed, "%s passed to the message decoder", msgType)
	}
	options, err := parseOptions(data[4:])
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:          msgType,
		TransactionID: uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]),
		Options:       options,
	}, nil
}
