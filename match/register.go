package match

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"
)

// Registration advertises the matcher for one address family.
type Registration struct {
	Name     string
	Revision uint8
	Family   uint8
	Check    func(family uint8, proto layers.IPProtocol) error
	Match    func(p *Packet, info *Info) bool
}

// Registrations returns the matcher for IPv4 and, when withIPv6 is set,
// IPv6. It is called once at start-up.
func Registrations(withIPv6 bool) []Registration {
	fams := []uint8{unix.AF_INET}
	if withIPv6 {
		fams = append(fams, unix.AF_INET6)
	}
	regs := make([]Registration, 0, len(fams))
	for _, f := range fams {
		regs = append(regs, Registration{
			Name:   "tls",
			Family: f,
			Check:  CheckEntry,
			Match:  (*Packet).Match,
		})
	}
	return regs
}

// CheckEntry validates a rule at load time: the matcher only makes sense
// behind a TCP or UDP protocol selector.
func CheckEntry(family uint8, proto layers.IPProtocol) error {
	switch family {
	case unix.AF_INET, unix.AF_INET6:
	default:
		return fmt.Errorf("tls: unsupported address family %d", family)
	}
	if proto != layers.IPProtocolTCP && proto != layers.IPProtocolUDP {
		return fmt.Errorf("tls: can be used only in combination with -p tcp or -p udp (got %s)", proto)
	}
	return nil
}

// Family maps an IP version nibble to its address family.
func Family(version int) (uint8, bool) {
	switch version {
	case 4:
		return unix.AF_INET, true
	case 6:
		return unix.AF_INET6, true
	}
	return 0, false
}
