package dhcp6d

// Specifies the DHCPv6 server version.
const Version = "0.3.0"

// Specifies the build date. It is set during the build with ldflags.
var BuildDate = "unset"
