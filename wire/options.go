package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// Option is a single DHCPv6 option. Known options decode into typed
// structures; anything else is carried verbatim as a RawOption.
type Option interface {
	// Returns the option code.
	Code() OptionCode
	// Serializes the option payload, without the code/length header.
	Marshal() ([]byte, error)
}

// Parses a sequence of options. Any leftover bytes that do not form a
// complete option make the whole sequence malformed.
func parseOptions(data []byte) ([]Option, error) {
	var options []Option
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, errors.Wrapf(ErrMalformed, "truncated option header: %d bytes left", len(data))
		}
		code := OptionCode(binary.BigEndian.Uint16(data[0:2]))
		length := int(binary.BigEndian.Uint16(data[2:4]))
		if len(data) < 4+length {
			return nil, errors.Wrapf(ErrMalformed, "option %d length %d exceeds the remaining %d bytes",
				code, length, len(data)-4)
		}
		option, err := parseOption(code, data[4:4+length])
		if err != nil {
			return nil, err
		}
		options = append(options, option)
		data = data[4+length:]
	}
	return options, nil
}

// Serializes a sequence of options, each with its code/length header.
func marshalOptions(options []Option) ([]byte, error) {
	var buf bytes.Buffer
	for _, option := range options {
		payload, err := option.Marshal()
		if err != nil {
			return nil, err
		}
		if len(payload) > math.MaxUint16 {
			return nil, errors.Errorf("option %d payload length %d exceeds the protocol limit",
				option.Code(), len(payload))
		}
		var header [4]byte
		binary.BigEndian.PutUint16(header[0:2], uint16(option.Code()))
		binary.BigEndian.PutUint16(header[2:4], uint16(len(payload)))
		buf.Write(header[:])
		buf.Write(payload)
	}
	return buf.Bytes(), nil
}

// Decodes a single option payload into a typed structure.
func parseOption(code OptionCode, data []byte) (Option, error) {
	switch code {
	case OptionClientID:
		return &ClientID{DUID: DUID(append([]byte(nil), data...))}, nil
	case OptionServerID:
		return &ServerID{DUID: DUID(append([]byte(nil), data...))}, nil
	case OptionIANA:
		return parseIANA(data)
	case OptionIAAddress:
		return parseIAAddress(data)
	case OptionOptionRequest:
		return parseOptionRequest(data)
	case OptionPreference:
		if len(data) != 1 {
			return nil, errors.Wrapf(ErrMalformed, "preference option has length %d, expected 1", len(data))
		}
		return &Preference{Value: data[0]}, nil
	case OptionElapsedTime:
		if len(data) != 2 {
			return nil, errors.Wrapf(ErrMalformed, "elapsed time option has length %d, expected 2", len(data))
		}
		return &ElapsedTime{Hundredths: binary.BigEndian.Uint16(data)}, nil
	case OptionRelayMessage:
		return &RelayMessageOption{Data: append([]byte(nil), data...)}, nil
	case OptionStatusCode:
		return parseStatusOption(data)
	case OptionRapidCommit:
		if len(data) != 0 {
			return nil, errors.Wrapf(ErrMalformed, "rapid commit option has length %d, expected 0", len(data))
		}
		return &RapidCommit{}, nil
	case OptionInterfaceID:
		return &InterfaceID{Data: append([]byte(nil), data...)}, nil
	case OptionIAPD:
		return parseIAPD(data)
	case OptionIAPrefix:
		return parseIAPrefix(data)
	case OptionClientFQDN:
		return parseClientFQDN(data)
	default:
		return &RawOption{OptionCode: code, Data: append([]byte(nil), data...)}, nil
	}
}

// An option the codec has no typed representation for, carried as
// opaque bytes.
type RawOption struct {
	OptionCode OptionCode
	Data       []byte
}

// Returns the option code.
func (o *RawOption) Code() OptionCode {
	return o.OptionCode
}

// Serializes the option payload.
func (o *RawOption) Marshal() ([]byte, error) {
	return o.Data, nil
}

// The Client Identifier option (1).
type ClientID struct {
	DUID DUID
}

// Returns the option code.
func (o *ClientID) Code() OptionCode {
	return OptionClientID
}

// Serializes the option payload.
func (o *ClientID) Marshal() ([]byte, error) {
	return o.DUID, nil
}

// The Server Identifier option (2).
type ServerID struct {
	DUID DUID
}

// Returns the option code.
func (o *ServerID) Code() OptionCode {
	return OptionServerID
}

// Serializes the option payload.
func (o *ServerID) Marshal() ([]byte, error) {
	return o.DUID, nil
}

// The Identity Association for Non-temporary Addresses option (3). It
// groups the addresses requested by or granted to a client under one
// client-chosen IAID, together with the renew (T1) and rebind (T2)
// timers.
type IANA struct {
	IAID    uint32
	T1      uint32
	T2      uint32
	Options []Option
}

// Returns the option code.
func (o *IANA) Code() OptionCode {
	return OptionIANA
}

// Serializes the option payload.
func (o *IANA) Marshal() ([]byte, error) {
	sub, err := marshalOptions(o.Options)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 12, 12+len(sub))
	binary.BigEndian.PutUint32(data[0:4], o.IAID)
	binary.BigEndian.PutUint32(data[4:8], o.T1)
	binary.BigEndian.PutUint32(data[8:12], o.T2)
	return append(data, sub...), nil
}

// Returns the addresses nested in the IA.
func (o *IANA) Addresses() (addresses []*IAAddress) {
	for _, option := range o.Options {
		if address, ok := option.(*IAAddress); ok {
			addresses = append(addresses, address)
		}
	}
	return
}

// Returns the status nested in the IA or nil.
func (o *IANA) Status() *StatusOption {
	for _, option := range o.Options {
		if status, ok := option.(*StatusOption); ok {
			return status
		}
	}
	return nil
}

func parseIANA(data []byte) (*IANA, error) {
	if len(data) < 12 {
		return nil, errors.Wrapf(ErrMalformed, "IA_NA option has length %d, expected at least 12", len(data))
	}
	options, err := parseOptions(data[12:])
	if err != nil {
		return nil, err
	}
	return &IANA{
		IAID:    binary.BigEndian.Uint32(data[0:4]),
		T1:      binary.BigEndian.Uint32(data[4:8]),
		T2:      binary.BigEndian.Uint32(data[8:12]),
		Options: options,
	}, nil
}

// The Identity Association for Prefix Delegation option (25). The
// header layout is identical to IA_NA; the nested resources are
// delegated prefixes instead of addresses.
type IAPD struct {
	IAID    uint32
	T1      uint32
	T2      uint32
	Options []Option
}

// Returns the option code.
func (o *IAPD) Code() OptionCode {
	return OptionIAPD
}

// Serializes the option payload.
func (o *IAPD) Marshal() ([]byte, error) {
	sub, err := marshalOptions(o.Options)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 12, 12+len(sub))
	binary.BigEndian.PutUint32(data[0:4], o.IAID)
	binary.BigEndian.PutUint32(data[4:8], o.T1)
	binary.BigEndian.PutUint32(data[8:12], o.T2)
	return append(data, sub...), nil
}

// Returns the delegated prefixes nested in the IA.
func (o *IAPD) Prefixes() (prefixes []*IAPrefix) {
	for _, option := range o.Options {
		if prefix, ok := option.(*IAPrefix); ok {
			prefixes = append(prefixes, prefix)
		}
	}
	return
}

// Returns the status nested in the IA or nil.
func (o *IAPD) Status() *StatusOption {
	for _, option := range o.Options {
		if status, ok := option.(*StatusOption); ok {
			return status
		}
	}
	return nil
}

func parseIAPD(data []byte) (*IAPD, error) {
	if len(data) < 12 {
		return nil, errors.Wrapf(ErrMalformed, "IA_PD option has length %d, expected at least 12", len(data))
	}
	options, err := parseOptions(data[12:])
	if err != nil {
		return nil, err
	}
	return &IAPD{
		IAID:    binary.BigEndian.Uint32(data[0:4]),
		T1:      binary.BigEndian.Uint32(data[4:8]),
		T2:      binary.BigEndian.Uint32(data[8:12]),
		Options: options,
	}, nil
}

// The IA Address option (5), nested in IA_NA.
type IAAddress struct {
	Address           net.IP
	PreferredLifetime uint32
	ValidLifetime     uint32
	Options           []Option
}

// Returns the option code.
func (o *IAAddress) Code() OptionCode {
	return OptionIAAddress
}

// Serializes the option payload.
func (o *IAAddress) Marshal() ([]byte, error) {
	address := o.Address.To16()
	if address == nil || o.Address.To4() != nil {
		return nil, errors.Errorf("IA address %s is not an IPv6 address", o.Address)
	}
	sub, err := marshalOptions(o.Options)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 24, 24+len(sub))
	copy(data[0:16], address)
	binary.BigEndian.PutUint32(data[16:20], o.PreferredLifetime)
	binary.BigEndian.PutUint32(data[20:24], o.ValidLifetime)
	return append(data, sub...), nil
}

// Returns the status nested in the address option or nil.
func (o *IAAddress) Status() *StatusOption {
	for _, option := range o.Options {
		if status, ok := option.(*StatusOption); ok {
			return status
		}
	}
	return nil
}

func parseIAAddress(data []byte) (*IAAddress, error) {
	if len(data) < 24 {
		return nil, errors.Wrapf(ErrMalformed, "IA address option has length %d, expected at least 24", len(data))
	}
	options, err := parseOptions(data[24:])
	if err != nil {
		return nil, err
	}
	return &IAAddress{
		Address:           net.IP(append([]byte(nil), data[0:16]...)),
		PreferredLifetime: binary.BigEndian.Uint32(data[16:20]),
		ValidLifetime:     binary.BigEndian.Uint32(data[20:24]),
		Options:           options,
	}, nil
}

// The IA Prefix option (26), nested in IA_PD.
type IAPrefix struct {
	PreferredLifetime uint32
	ValidLifetime     uint32
	Length            uint8
	Prefix            net.IP
	Options           []Option
}

// Returns the option code.
func (o *IAPrefix) Code() OptionCode {
	return OptionIAPrefix
}

// Serializes the option payload.
func (o *IAPrefix) Marshal() ([]byte, error) {
	prefix := o.Prefix.To16()
	if prefix == nil || o.Prefix.To4() != nil {
		return nil, errors.Errorf("IA prefix %s is not an IPv6 prefix", o.Prefix)
	}
	sub, err := marshalOptions(o.Options)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 25, 25+len(sub))
	binary.BigEndian.PutUint32(data[0:4], o.PreferredLifetime)
	binary.BigEndian.PutUint32(data[4:8], o.ValidLifetime)
	data[8] = o.Length
	copy(data[9:25], prefix)
	return append(data, sub...), nil
}

// Returns the status nested in the prefix option or nil.
func (o *IAPrefix) Status() *StatusOption {
	for _, option := range o.Options {
		if status, ok := option.(*StatusOption); ok {
			return status
		}
	}
	return nil
}

func parseIAPrefix(data []byte) (*IAPrefix, error) {
	if len(data) < 25 {
		return nil, errors.Wrapf(ErrMalformed, "IA prefix option has length %d, expected at least 25", len(data))
	}
	options, err := parseOptions(data[25:])
	if err != nil {
		return nil, err
	}
	return &IAPrefix{
		PreferredLifetime: binary.BigEndian.Uint32(data[0:4]),
		ValidLifetime:     binary.BigEndian.Uint32(data[4:8]),
		Length:            data[8],
		Prefix:            net.IP(append([]byte(nil), data[9:25]...)),
		Options:           options,
	}, nil
}

// The Status Code option (13).
type StatusOption struct {
	Status  StatusCode
	Message string
}

// Returns the option code.
func (o *StatusOption) Code() OptionCode {
	return OptionStatusCode
}

// Serializes the option payload.
func (o *StatusOption) Marshal() ([]byte, error) {
	data := make([]byte, 2, 2+len(o.Message))
	binary.BigEndian.PutUint16(data, uint16(o.Status))
	return append(data, []byte(o.Message)...), nil
}

func parseStatusOption(data []byte) (*StatusOption, error) {
	if len(data) < 2 {
		return nil, errors.Wrapf(ErrMalformed, "status code option has length %d, expected at least 2", len(data))
	}
	return &StatusOption{
		Status:  StatusCode(binary.BigEndian.Uint16(data[0:2])),
		Message: string(data[2:]),
	}, nil
}

// Creates a status option carrying the default message for the code.
func NewStatusOption(status StatusCode) *StatusOption {
	return &StatusOption{
		Status:  status,
		Message: status.DefaultMessage(),
	}
}

// The Option Request option (6), listing the option codes the client
// wants the server to return.
type OptionRequest struct {
	Codes []OptionCode
}

// Returns the option code.
func (o *OptionRequest) Code() OptionCode {
	return OptionOptionRequest
}

// Serializes the option payload.
func (o *OptionRequest) Marshal() ([]byte, error) {
	data := make([]byte, 2*len(o.Codes))
	for i, code := range o.Codes {
		binary.BigEndian.PutUint16(data[2*i:], uint16(code))
	}
	return data, nil
}

// Checks if the client requested the given option code.
func (o *OptionRequest) Requested(code OptionCode) bool {
	for _, requested := range o.Codes {
		if requested == code {
			return true
		}
	}
	return false
}

func parseOptionRequest(data []byte) (*OptionRequest, error) {
	if len(data)%2 != 0 {
		return nil, errors.Wrapf(ErrMalformed, "option request option has odd length %d", len(data))
	}
	option := &OptionRequest{}
	for i := 0; i < len(data); i += 2 {
		option.Codes = append(option.Codes, OptionCode(binary.BigEndian.Uint16(data[i:])))
	}
	return option, nil
}

// The Preference option (7).
type Preference struct {
	Value uint8
}

// Returns the option code.
func (o *Preference) Code() OptionCode {
	return OptionPreference
}

// Serializes the option payload.
func (o *Preference) Marshal() ([]byte, error) {
	return []byte{o.Value}, nil
}

// The Elapsed Time option (8), in hundredths of a second since the
// client began the exchange.
type ElapsedTime struct {
	Hundredths uint16
}

// Returns the option code.
func (o *ElapsedTime) Code() OptionCode {
	return OptionElapsedTime
}

// Serializes the option payload.
func (o *ElapsedTime) Marshal() ([]byte, error) {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, o.Hundredths)
	return data, nil
}

// The Rapid Commit option (14). It has an empty payload.
type RapidCommit struct{}

// Returns the option code.
func (o *RapidCommit) Code() OptionCode {
	return OptionRapidCommit
}

// Serializes the option payload.
func (o *RapidCommit) Marshal() ([]byte, error) {
	return nil, nil
}

// The Interface-Id option (18), attached by a relay agent and echoed
// back on the corresponding reply hop.
type InterfaceID struct {
	Data []byte
}

// Returns the option code.
func (o *InterfaceID) Code() OptionCode {
	return OptionInterfaceID
}

// Serializes the option payload.
func (o *InterfaceID) Marshal() ([]byte, error) {
	return o.Data, nil
}

// The Relay Message option (9), carrying the encapsulated message of a
// relay layer.
type RelayMessageOption struct {
	Data []byte
}

// Returns the option code.
func (o *RelayMessageOption) Code() OptionCode {
	return OptionRelayMessage
}

// Serializes the option payload.
func (o *RelayMessageOption) Marshal() ([]byte, error) {
	return o.Data, nil
}

// Client FQDN option flags from RFC 4704.
const (
	// The client requests the server to perform the AAAA update.
	FQDNFlagS uint8 = 0x01
	// The server overrides the client's preference.
	FQDNFlagO uint8 = 0x02
	// No server DNS updates are performed.
	FQDNFlagN uint8 = 0x04
)

// The Client FQDN option (39). A full domain name carries a trailing
// dot; a partial name does not.
type ClientFQDN struct {
	Flags   uint8
	Domain  string
	Partial bool
}

// Returns the option code.
func (o *ClientFQDN) Code() OptionCode {
	return OptionClientFQDN
}

// Serializes the option payload.
func (o *ClientFQDN) Marshal() ([]byte, error) {
	name, err := packDomainName(o.Domain, o.Partial)
	if err != nil {
		return nil, err
	}
	return append([]byte{o.Flags}, name...), nil
}

func parseClientFQDN(data []byte) (*ClientFQDN, error) {
	if len(data) < 1 {
		return nil, errors.Wrapf(ErrMalformed, "client FQDN option is empty")
	}
	domain, partial, err := unpackDomainName(data[1:])
	if err != nil {
		return nil, err
	}
	return &ClientFQDN{
		Flags:   data[0],
		Domain:  domain,
		Partial: partial,
	}, nil
}

// Serializes a domain name to the DNS wire format. A partial name is
// encoded without the terminating root label.
func packDomainName(domain string, partial bool) ([]byte, error) {
	var buf bytes.Buffer
	if trimmed := strings.TrimSuffix(domain, "."); trimmed != "" {
		for _, label := range strings.Split(trimmed, ".") {
			if len(label) == 0 || len(label) > 63 {
				return nil, errors.Errorf("invalid FQDN label length %d in %s", len(label), domain)
			}
			buf.WriteByte(byte(len(label)))
			buf.WriteString(label)
		}
	}
	if !partial {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// Parses a DNS wire format domain name. A name without the terminating
// root label is partial.
func unpackDomainName(data []byte) (domain string, partial bool, err error) {
	var labels []string
	for len(data) > 0 {
		length := int(data[0])
		if length == 0 {
			return strings.Join(labels, ".") + ".", false, nil
		}
		if length > 63 || len(data) < 1+length {
			return "", false, errors.Wrapf(ErrMalformed, "invalid FQDN label")
		}
		labels = append(labels, string(data[1:1+length]))
		data = data[1+length:]
	}
	return strings.Join(labels, "."), true, nil
}
