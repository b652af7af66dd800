package dhcpcfg

import (
	"math/big"
	"net"

	"github.com/pkg/errors"

	dhcputil "isc.org/dhcp6d/util"
)

// Represents a prefix delegation pool within a subnet configuration.
// The pool spans the prefix and hands out delegated prefixes of the
// delegated length. An excluded prefix, when specified, carves out a
// part of the pool that is never handed out.
type PDPool struct {
	Prefix            string `json:"prefix"`
	PrefixLen         int    `json:"prefix-len"`
	DelegatedLen      int    `json:"delegated-len"`
	ExcludedPrefix    string `json:"excluded-prefix,omitempty"`
	ExcludedPrefixLen int    `json:"excluded-prefix-len,omitempty"`
	ClientClass       string `json:"client-class,omitempty"`
}

// Returns the delegated prefix pool in a canonical form.
func (p PDPool) GetCanonicalPrefix() string {
	if p.Prefix != "" && p.PrefixLen != 0 {
		return dhcputil.FormatCIDRNotation(p.Prefix, p.PrefixLen)
	}
	return ""
}

// Returns the excluded prefix in a canonical form.
func (p PDPool) GetCanonicalExcludedPrefix() string {
	if p.ExcludedPrefix != "" && p.ExcludedPrefixLen != 0 {
		return dhcputil.FormatCIDRNotation(p.ExcludedPrefix, p.ExcludedPrefixLen)
	}
	return ""
}

// Returns the number of delegated prefixes in the pool.
func (p PDPool) Size() *big.Int {
	return dhcputil.CalculateDelegatedPrefixRangeSize(p.PrefixLen, p.DelegatedLen)
}

// Checks if a delegated prefix of the given length belongs to the pool.
func (p PDPool) Contains(prefix net.IP, length uint8) bool {
	parsed := dhcputil.ParseIP(dhcputil.FormatCIDRNotation(prefix.String(), int(length)))
	if parsed == nil {
		return false
	}
	return parsed.IsInPrefixRange(p.Prefix, p.PrefixLen, p.DelegatedLen)
}

// Checks if a candidate delegated prefix overlaps the excluded prefix
// and must not be handed out.
func (p PDPool) IsExcluded(prefix net.IP) bool {
	if p.ExcludedPrefix == "" || p.ExcludedPrefixLen == 0 {
		return false
	}
	_, candidate, err := net.ParseCIDR(dhcputil.FormatCIDRNotation(prefix.String(), p.DelegatedLen))
	if err != nil {
		return false
	}
	excluded := net.ParseIP(p.ExcludedPrefix)
	if excluded == nil {
		return false
	}
	return candidate.Contains(excluded)
}

// Checks if the pool accepts a client belonging to the given classes.
// A pool without a client class accepts everyone.
func (p PDPool) Permits(classes []string) bool {
	return permitsClass(p.ClientClass, classes)
}

// Checks the pool consistency.
func (p PDPool) validate() error {
	parsed := dhcputil.ParseIP(p.GetCanonicalPrefix())
	if parsed == nil || parsed.Protocol != dhcputil.IPv6 {
		return errors.Errorf("prefix %s with length %d is not a valid IPv6 prefix", p.Prefix, p.PrefixLen)
	}
	if p.PrefixLen > p.DelegatedLen || p.DelegatedLen > 128 {
		return errors.Errorf("delegated length %d must be between the prefix length %d and 128", p.DelegatedLen, p.PrefixLen)
	}
	if p.ExcludedPrefix != "" {
		excluded := dhcputil.ParseIP(p.GetCanonicalExcludedPrefix())
		if excluded == nil || excluded.Protocol != dhcputil.IPv6 {
			return errors.Errorf("excluded prefix %s with length %d is not a valid IPv6 prefix", p.ExcludedPrefix, p.ExcludedPrefixLen)
		}
		if p.ExcludedPrefixLen <= p.DelegatedLen || p.ExcludedPrefixLen > 128 {
			return errors.Errorf("excluded prefix length %d must be between the delegated length %d and 128", p.ExcludedPrefixLen, p.DelegatedLen)
		}
		if !excluded.IsInPrefixRange(p.Prefix, p.PrefixLen, p.ExcludedPrefixLen) {
			return errors.Errorf("excluded prefix %s is not within the pool prefix %s", p.GetCanonicalExcludedPrefix(), p.GetCanonicalPrefix())
		}
	}
	return nil
}
