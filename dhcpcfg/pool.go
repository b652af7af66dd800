package dhcpcfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	dhcputil "isc.org/dhcp6d/util"
)

// Represents an address pool within a subnet configuration.
type Pool struct {
	Pool        string `json:"pool"`
	ClientClass string `json:"client-class,omitempty"`
}

// A custom unmarshal function for an address pool. It removes whitespace
// from the pool range definition, so 2001:db8:1::10 - 2001:db8:1::20
// becomes 2001:db8:1::10-2001:db8:1::20. If the pool is specified using
// the prefix form, it converts it to the range form.
func (p *Pool) UnmarshalJSON(data []byte) error {
	type t Pool
	if err := json.Unmarshal(data, (*t)(p)); err != nil {
		return err
	}
	if strings.ContainsRune(p.Pool, '-') {
		buf := bytes.Buffer{}
		for i := 0; i < len(p.Pool); i++ {
			if !unicode.IsSpace(rune(p.Pool[i])) {
				buf.WriteByte(p.Pool[i])
			}
		}
		p.Pool = buf.String()
		return nil
	}
	lb, ub, err := dhcputil.ParseIPRange(p.Pool)
	if err != nil {
		return errors.Errorf("invalid pool prefix %s", p.Pool)
	}
	p.Pool = fmt.Sprintf("%s-%s", lb, ub)
	return nil
}

// Returns the pool boundaries (lower, upper bounds).
func (p Pool) GetBoundaries() (net.IP, net.IP, error) {
	lb, ub, err := dhcputil.ParseIPRange(p.Pool)
	return lb, ub, err
}

// Returns the number of addresses in the pool.
func (p Pool) Size() *big.Int {
	lb, ub, err := p.GetBoundaries()
	if err != nil {
		return big.NewInt(0)
	}
	return dhcputil.CalculateRangeSize(lb, ub)
}

// Checks if the address belongs to the pool.
func (p Pool) Contains(address net.IP) bool {
	lb, ub, err := p.GetBoundaries()
	if err != nil {
		return false
	}
	parsed := dhcputil.ParseIP(address.String())
	if parsed == nil {
		return false
	}
	return parsed.IsInRange(lb, ub)
}

// Checks if the pool accepts a client belonging to the given classes.
// A pool without a client class accepts everyone.
func (p Pool) Permits(classes []string) bool {
	return permitsClass(p.ClientClass, classes)
}

// Shared client class check for address and prefix pools.
func permitsClass(poolClass string, classes []string) bool {
	if poolClass == "" {
		return true
	}
	for _, class := range classes {
		if class == poolClass {
			return true
		}
	}
	return false
}
