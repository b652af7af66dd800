package server

import (
	"strings"

	"isc.org/dhcp6d/wire"
)

// The FQDN processing outcome for one exchange: the hostname stored
// with the leases, the update directions the server will take and the
// Client FQDN option sent back to the client.
type fqdnData struct {
	hostname string
	fwd      bool
	rev      bool
	response *wire.ClientFQDN
}

// Processes the Client FQDN option of the message. A partial name is
// qualified with the configured suffix. The server performs the AAAA
// update when the client requested it and DNS updates are enabled, and
// the PTR update whenever updates are enabled and the client did not
// set the N flag; the response flags tell the client what was decided.
// Returns nil when the message carries no FQDN option.
func (handler *Handler) processFQDN(request *wire.Message) *fqdnData {
	option := request.ClientFQDN()
	if option == nil {
		return nil
	}
	enabled := handler.dns != nil && handler.dns.Enabled()
	name := strings.TrimSuffix(option.Domain, ".")
	if option.Partial && name != "" && handler.config.DDNS != nil && handler.config.DDNS.QualifyingSuffix != "" {
		name += "." + strings.TrimSuffix(handler.config.DDNS.QualifyingSuffix, ".")
	}
	data := &fqdnData{hostname: name}
	noUpdates := option.Flags&wire.FQDNFlagN != 0
	data.fwd = enabled && !noUpdates && name != "" && option.Flags&wire.FQDNFlagS != 0
	data.rev = enabled && !noUpdates && name != ""

	var flags uint8
	if data.fwd {
		flags |= wire.FQDNFlagS
	}
	if !data.fwd && !data.rev {
		flags |= wire.FQDNFlagN
	}
	if data.fwd != (option.Flags&wire.FQDNFlagS != 0) {
		flags |= wire.FQDNFlagO
	}
	data.response = &wire.ClientFQDN{Flags: flags, Domain: name, Partial: true}
	if name != "" {
		data.response.Domain = name + "."
		data.response.Partial = false
	}
	return data
}
