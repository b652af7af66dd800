package dhcpcfg

import (
	"bytes"
	"net"
	"strings"

	"github.com/pkg/errors"

	dhcputil "isc.org/dhcp6d/util"
	"isc.org/dhcp6d/wire"
)

// Represents a configured DHCP option (an item of the option-data
// list). The data is either a hex string or, with csv-format, a comma
// separated list of values interpreted according to the option code.
type SingleOptionData struct {
	AlwaysSend bool   `json:"always-send,omitempty"`
	Code       uint16 `json:"code,omitempty"`
	CSVFormat  bool   `json:"csv-format,omitempty"`
	Data       string `json:"data,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Converts the configured option to its wire form. Options without the
// csv-format flag carry a hex string. With csv-format, the conversion
// depends on the option code: DNS server lists are IPv6 addresses and
// domain search lists are FQDNs.
func (option *SingleOptionData) ToWire() (wire.Option, error) {
	if !option.CSVFormat {
		data, err := dhcputil.HexToBytes(option.Data)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid hex data of option %d", option.Code)
		}
		return &wire.RawOption{OptionCode: wire.OptionCode(option.Code), Data: data}, nil
	}
	var buf bytes.Buffer
	for _, value := range strings.Split(option.Data, ",") {
		value = strings.TrimSpace(value)
		switch wire.OptionCode(option.Code) {
		case wire.OptionDNSServers:
			ip := net.ParseIP(value)
			if ip == nil || ip.To4() != nil {
				return nil, errors.Errorf("option %d value %s is not an IPv6 address", option.Code, value)
			}
			buf.Write(ip.To16())
		case wire.OptionDomainList:
			fqdn, err := dhcputil.ParseFqdn(value)
			if err != nil {
				return nil, errors.WithMessagef(err, "invalid FQDN in option %d", option.Code)
			}
			wireName, err := fqdn.ToBytes()
			if err != nil {
				return nil, err
			}
			buf.Write(wireName)
		default:
			return nil, errors.Errorf("csv-format is not supported for option %d", option.Code)
		}
	}
	return &wire.RawOption{OptionCode: wire.OptionCode(option.Code), Data: buf.Bytes()}, nil
}

// Assembles the wire options to attach to a response: every always-send
// option plus the options the client listed in its Option Request
// option. Subnet-level options take precedence over the global ones
// with the same code.
func WireOptions(global, subnet []SingleOptionData, oro *wire.OptionRequest) ([]wire.Option, error) {
	byCode := make(map[uint16]*SingleOptionData)
	for i := range global {
		byCode[global[i].Code] = &global[i]
	}
	for i := range subnet {
		byCode[subnet[i].Code] = &subnet[i]
	}
	var options []wire.Option
	// Iterate over the merged set in a stable order.
	for _, list := range [][]SingleOptionData{global, subnet} {
		for i := range list {
			option := &list[i]
			if byCode[option.Code] != option {
				// Overridden by a subnet-level option.
				continue
			}
			if !option.AlwaysSend && (oro == nil || !oro.Requested(wire.OptionCode(option.Code))) {
				continue
			}
			wireOption, err := option.ToWire()
			if err != nil {
				return nil, err
			}
			options = append(options, wireOption)
		}
	}
	return options, nil
}
