package dhcpcfg

import (
	"net"

	cidr "github.com/apparentlymart/go-cidr/cidr"
	"github.com/pkg/errors"

	dhcputil "isc.org/dhcp6d/util"
)

// Represents a single IPv6 subnet with its pools and timers. The timer
// fields are pointers so that unset values can inherit the global
// configuration.
type Subnet struct {
	ID                int64              `json:"id"`
	Prefix            string             `json:"subnet"`
	Interface         string             `json:"interface,omitempty"`
	ClientClass       string             `json:"client-class,omitempty"`
	RenewTimer        *uint32            `json:"renew-timer,omitempty"`
	RebindTimer       *uint32            `json:"rebind-timer,omitempty"`
	PreferredLifetime *uint32            `json:"preferred-lifetime,omitempty"`
	ValidLifetime     *uint32            `json:"valid-lifetime,omitempty"`
	Pools             []Pool             `json:"pools,omitempty"`
	PDPools           []PDPool           `json:"pd-pools,omitempty"`
	OptionData        []SingleOptionData `json:"option-data,omitempty"`

	// Parsed form of the subnet prefix, set during validation.
	network *net.IPNet
}

// Parses the subnet prefix and caches the network. It must be called
// before the subnet is used for address matching.
func (s *Subnet) finalize() error {
	parsed := dhcputil.ParseIP(s.Prefix)
	if parsed == nil || !parsed.Prefix || parsed.Protocol != dhcputil.IPv6 {
		return errors.Errorf("subnet %d prefix %s is not an IPv6 prefix", s.ID, s.Prefix)
	}
	s.network = parsed.IPNet
	return nil
}

// Checks if the address belongs to the subnet.
func (s *Subnet) Contains(address net.IP) bool {
	return s.network != nil && s.network.Contains(address)
}

// Returns the subnet boundaries (lower, upper bounds).
func (s *Subnet) GetBoundaries() (net.IP, net.IP, error) {
	if s.network == nil {
		return nil, nil, errors.Errorf("subnet %s is not finalized", s.Prefix)
	}
	lb, ub := cidr.AddressRange(s.network)
	return lb, ub, nil
}

// Returns the preferred lifetime granted with leases from the subnet.
func (s *Subnet) GetPreferredLifetime() uint32 {
	if s.PreferredLifetime != nil {
		return *s.PreferredLifetime
	}
	return DefaultPreferredLifetime
}

// Returns the valid lifetime granted with leases from the subnet.
func (s *Subnet) GetValidLifetime() uint32 {
	if s.ValidLifetime != nil {
		return *s.ValidLifetime
	}
	return DefaultValidLifetime
}

// Returns the renew timer (T1) sent in IA options. When the timer is
// not configured it is half of the preferred lifetime.
func (s *Subnet) GetT1() uint32 {
	if s.RenewTimer != nil {
		return *s.RenewTimer
	}
	return s.GetPreferredLifetime() / 2
}

// Returns the rebind timer (T2) sent in IA options. When the timer is
// not configured it is 0.8 of the preferred lifetime.
func (s *Subnet) GetT2() uint32 {
	if s.RebindTimer != nil {
		return *s.RebindTimer
	}
	return uint32(uint64(s.GetPreferredLifetime()) * 4 / 5)
}

// Checks if the subnet accepts a client belonging to the given classes.
func (s *Subnet) Permits(classes []string) bool {
	return permitsClass(s.ClientClass, classes)
}

// Returns the subnet prefix.
func (s *Subnet) String() string {
	return s.Prefix
}
