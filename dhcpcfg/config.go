package dhcpcfg

import (
	"bytes"
	"net"
	"os"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/pkg/errors"
	"muzzammil.xyz/jsonc"
)

// Default lifetimes and processing intervals applied when the
// configuration leaves them unset. All values are in seconds.
const (
	DefaultPreferredLifetime           uint32 = 3600
	DefaultValidLifetime               uint32 = 7200
	DefaultDeclineProbationPeriod      uint32 = 86400
	DefaultAvoidReuseTTL               uint32 = 30
	DefaultStoreTimeout                uint32 = 5
	DefaultReclaimTimerWaitTime        uint32 = 10
	DefaultHoldReclaimedTime           uint32 = 3600
	DefaultFlushReclaimedTimerWaitTime uint32 = 25
	DefaultDDNSServerPort              uint16 = 53
	DefaultDDNSTTL                     uint32 = 3600
	DefaultHeartbeatInterval           uint32 = 10
)

// DDNS update forwarding configuration. Updates are disabled unless
// explicitly enabled here.
type DDNSConfig struct {
	EnableUpdates    bool   `json:"enable-updates"`
	ServerIP         string `json:"server-ip,omitempty"`
	ServerPort       uint16 `json:"server-port,omitempty"`
	TTL              uint32 `json:"ttl,omitempty"`
	QualifyingSuffix string `json:"qualifying-suffix,omitempty"`
}

// High availability partner configuration. The partner receives lease
// updates and periodic heartbeats.
type HAConfig struct {
	PartnerURL        string `json:"partner-url"`
	HeartbeatInterval uint32 `json:"heartbeat-interval,omitempty"`
}

// Returns the interval between heartbeats sent to the partner.
func (c *HAConfig) GetHeartbeatInterval() time.Duration {
	interval := c.HeartbeatInterval
	if interval == 0 {
		interval = DefaultHeartbeatInterval
	}
	return time.Duration(interval) * time.Second
}

// Controls the background reclamation of expired leases.
type ExpiredLeasesProcessing struct {
	ReclaimTimerWaitTime        *uint32 `json:"reclaim-timer-wait-time,omitempty"`
	HoldReclaimedTime           *uint32 `json:"hold-reclaimed-time,omitempty"`
	FlushReclaimedTimerWaitTime *uint32 `json:"flush-reclaimed-timer-wait-time,omitempty"`
}

// Returns the interval between reclamation passes.
func (p *ExpiredLeasesProcessing) GetReclaimTimerWaitTime() time.Duration {
	return time.Duration(valueOrDefault(p.ReclaimTimerWaitTime, DefaultReclaimTimerWaitTime)) * time.Second
}

// Returns how long reclaimed leases are held in the database before
// they are flushed.
func (p *ExpiredLeasesProcessing) GetHoldReclaimedTime() time.Duration {
	return time.Duration(valueOrDefault(p.HoldReclaimedTime, DefaultHoldReclaimedTime)) * time.Second
}

// Returns the interval between flushes of stale reclaimed leases.
func (p *ExpiredLeasesProcessing) GetFlushReclaimedTimerWaitTime() time.Duration {
	return time.Duration(valueOrDefault(p.FlushReclaimedTimerWaitTime, DefaultFlushReclaimedTimerWaitTime)) * time.Second
}

// Server configuration mirroring the Dhcp6 object of the configuration
// file. Global lifetimes propagate to the subnets which do not override
// them.
type Config struct {
	Interfaces              []string                 `json:"interfaces,omitempty"`
	ServerIDFile            string                   `json:"server-id-file,omitempty"`
	RenewTimer              *uint32                  `json:"renew-timer,omitempty"`
	RebindTimer             *uint32                  `json:"rebind-timer,omitempty"`
	PreferredLifetime       *uint32                  `json:"preferred-lifetime,omitempty"`
	ValidLifetime           *uint32                  `json:"valid-lifetime,omitempty"`
	DeclineProbationPeriod  *uint32                  `json:"decline-probation-period,omitempty"`
	AvoidReuseTTL           *uint32                  `json:"avoid-reuse-ttl,omitempty"`
	StoreTimeout            *uint32                  `json:"store-timeout,omitempty"`
	Subnets                 []Subnet                 `json:"subnet6,omitempty"`
	OptionData              []SingleOptionData       `json:"option-data,omitempty"`
	DDNS                    *DDNSConfig              `json:"dhcp-ddns,omitempty"`
	HA                      *HAConfig                `json:"high-availability,omitempty"`
	ExpiredLeasesProcessing *ExpiredLeasesProcessing `json:"expired-leases-processing,omitempty"`
}

// Creates the configuration from JSON text. The text may contain
// comments. Defaults are applied and the configuration is validated.
func NewFromJSON(rawCfg []byte) (*Config, error) {
	var root struct {
		DHCP6 *Config `json:"Dhcp6"`
	}
	if err := jsonc.Unmarshal(rawCfg, &root); err != nil {
		return nil, errors.Wrap(err, "problem parsing configuration JSON")
	}
	if root.DHCP6 == nil {
		return nil, errors.New("configuration lacks the top level Dhcp6 object")
	}
	cfg := root.DHCP6
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Creates the configuration from a file.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading configuration file %s", path)
	}
	cfg, err := NewFromJSON(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid configuration file %s", path)
	}
	return cfg, nil
}

// Fills unset values with defaults and propagates global lifetimes and
// timers to the subnets.
func (c *Config) applyDefaults() {
	if c.PreferredLifetime == nil {
		c.PreferredLifetime = newUint32(DefaultPreferredLifetime)
	}
	if c.ValidLifetime == nil {
		c.ValidLifetime = newUint32(DefaultValidLifetime)
	}
	if c.DeclineProbationPeriod == nil {
		c.DeclineProbationPeriod = newUint32(DefaultDeclineProbationPeriod)
	}
	if c.AvoidReuseTTL == nil {
		c.AvoidReuseTTL = newUint32(DefaultAvoidReuseTTL)
	}
	if c.StoreTimeout == nil {
		c.StoreTimeout = newUint32(DefaultStoreTimeout)
	}
	if c.ExpiredLeasesProcessing == nil {
		c.ExpiredLeasesProcessing = &ExpiredLeasesProcessing{}
	}
	if c.DDNS != nil {
		if c.DDNS.ServerPort == 0 {
			c.DDNS.ServerPort = DefaultDDNSServerPort
		}
		if c.DDNS.TTL == 0 {
			c.DDNS.TTL = DefaultDDNSTTL
		}
	}
	for i := range c.Subnets {
		subnet := &c.Subnets[i]
		if subnet.PreferredLifetime == nil {
			subnet.PreferredLifetime = c.PreferredLifetime
		}
		if subnet.ValidLifetime == nil {
			subnet.ValidLifetime = c.ValidLifetime
		}
		if subnet.RenewTimer == nil {
			subnet.RenewTimer = c.RenewTimer
		}
		if subnet.RebindTimer == nil {
			subnet.RebindTimer = c.RebindTimer
		}
	}
}

// Checks the configuration consistency. Subnet prefixes are parsed and
// cached as a side effect.
func (c *Config) validate() error {
	for _, name := range c.Interfaces {
		if name == "" {
			return errors.New("interface name must not be empty")
		}
	}
	ids := make(map[int64]bool)
	for i := range c.Subnets {
		subnet := &c.Subnets[i]
		if subnet.ID <= 0 {
			return errors.Errorf("subnet %s has no positive id", subnet.Prefix)
		}
		if ids[subnet.ID] {
			return errors.Errorf("duplicated subnet id %d", subnet.ID)
		}
		ids[subnet.ID] = true
		if err := subnet.finalize(); err != nil {
			return err
		}
		if err := c.validatePools(subnet); err != nil {
			return err
		}
		if err := validateOptionData(subnet.OptionData); err != nil {
			return errors.WithMessagef(err, "invalid option data in subnet %s", subnet.Prefix)
		}
	}
	if err := validateOptionData(c.OptionData); err != nil {
		return errors.WithMessage(err, "invalid global option data")
	}
	if c.DDNS != nil && c.DDNS.EnableUpdates {
		if !govalidator.IsIP(c.DDNS.ServerIP) {
			return errors.Errorf("DDNS server address %s is not a valid IP address", c.DDNS.ServerIP)
		}
		if c.DDNS.QualifyingSuffix != "" && !govalidator.IsDNSName(c.DDNS.QualifyingSuffix) {
			return errors.Errorf("DDNS qualifying suffix %s is not a valid DNS name", c.DDNS.QualifyingSuffix)
		}
	}
	if c.HA != nil {
		if !govalidator.IsURL(c.HA.PartnerURL) {
			return errors.Errorf("HA partner URL %s is not a valid URL", c.HA.PartnerURL)
		}
	}
	return nil
}

// Checks that the address pools fit within the subnet and the
// delegated prefix pools have consistent lengths.
func (c *Config) validatePools(subnet *Subnet) error {
	for i := range subnet.Pools {
		pool := &subnet.Pools[i]
		lb, ub, err := pool.GetBoundaries()
		if err != nil {
			return errors.WithMessagef(err, "invalid pool in subnet %s", subnet.Prefix)
		}
		if bytes.Compare(lb.To16(), ub.To16()) > 0 {
			return errors.Errorf("pool %s has the lower bound above the upper bound", pool.Pool)
		}
		if !subnet.Contains(lb) || !subnet.Contains(ub) {
			return errors.Errorf("pool %s is not within the subnet %s", pool.Pool, subnet.Prefix)
		}
	}
	for i := range subnet.PDPools {
		pdPool := &subnet.PDPools[i]
		if err := pdPool.validate(); err != nil {
			return errors.WithMessagef(err, "invalid pd-pool in subnet %s", subnet.Prefix)
		}
	}
	return nil
}

// Checks that the option data can be turned into wire format.
func validateOptionData(options []SingleOptionData) error {
	for i := range options {
		if _, err := options[i].ToWire(); err != nil {
			return err
		}
	}
	return nil
}

// Selects the subnet for a client. A relayed client is located by the
// link address extracted from the relay chain. A directly connected
// client matches the subnet bound to the receiving interface. Returns
// nil when no subnet matches.
func (c *Config) SelectSubnet(linkAddress net.IP, interfaceName string) *Subnet {
	if linkAddress != nil && !linkAddress.IsUnspecified() {
		for i := range c.Subnets {
			if c.Subnets[i].Contains(linkAddress) {
				return &c.Subnets[i]
			}
		}
		return nil
	}
	if interfaceName == "" {
		return nil
	}
	for i := range c.Subnets {
		if c.Subnets[i].Interface == interfaceName {
			return &c.Subnets[i]
		}
	}
	return nil
}

// Returns the subnet with the given id or nil.
func (c *Config) GetSubnet(id int64) *Subnet {
	for i := range c.Subnets {
		if c.Subnets[i].ID == id {
			return &c.Subnets[i]
		}
	}
	return nil
}

// Returns the probation period applied to declined leases.
func (c *Config) GetDeclineProbationPeriod() time.Duration {
	return time.Duration(valueOrDefault(c.DeclineProbationPeriod, DefaultDeclineProbationPeriod)) * time.Second
}

// Returns how long released and expired resources are avoided during
// allocation.
func (c *Config) GetAvoidReuseTTL() time.Duration {
	return time.Duration(valueOrDefault(c.AvoidReuseTTL, DefaultAvoidReuseTTL)) * time.Second
}

// Returns the deadline applied to a single lease store call.
func (c *Config) GetStoreTimeout() time.Duration {
	return time.Duration(valueOrDefault(c.StoreTimeout, DefaultStoreTimeout)) * time.Second
}

func newUint32(value uint32) *uint32 {
	return &value
}

func valueOrDefault(value *uint32, def uint32) uint32 {
	if value != nil {
		return *value
	}
	return def
}
