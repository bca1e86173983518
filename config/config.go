package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/daniellavrushin/b4sni/match"
	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"
)

const (
	VerboseSilent = iota - 1
	VerboseInfo
	VerboseDebug
	VerboseTrace
)

const (
	ActionAccept = "accept"
	ActionDrop   = "drop"
)

// MaxHostLen bounds a rule's host pattern.
const MaxHostLen = 255

// Rule is one hostname filter. Rules are checked in order; the first one
// whose protocol fits the packet and whose match succeeds decides.
type Rule struct {
	Name       string `yaml:"name"`
	match.Info `yaml:",inline"`
	Proto      string `yaml:"proto"`
	Action     string `yaml:"action"`
}

type Config struct {
	QueueStartNum uint
	Threads       int
	UseGSO        bool
	UseIPv6       bool
	UseConntrack  bool
	Mark          uint
	Syslog        bool
	Instaflush    bool
	SkipIpTables  bool

	ConnBytesLimit int

	Verbose int

	RulesFile string
	Rules     []Rule
}

var DefaultRule = Rule{
	Proto:  "tcp",
	Action: ActionDrop,
}

var DefaultConfig = Config{
	Threads:        1,
	QueueStartNum:  537,
	Mark:           1 << 15,
	UseIPv6:        true,
	ConnBytesLimit: 19,
	Verbose:        VerboseInfo,
	UseGSO:         true,
	UseConntrack:   false,
	Syslog:         false,
	Instaflush:     false,
}

// Protocol returns the IP protocol number selected by r.Proto.
func (r *Rule) Protocol() (layers.IPProtocol, error) {
	switch strings.ToLower(r.Proto) {
	case "tcp":
		return layers.IPProtocolTCP, nil
	case "udp":
		return layers.IPProtocolUDP, nil
	case "icmp":
		return layers.IPProtocolICMPv4, nil
	case "icmpv6":
		return layers.IPProtocolICMPv6, nil
	case "sctp":
		return layers.IPProtocolSCTP, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", r.Proto)
}

// Validate checks r for every family in fams.
func (r *Rule) Validate(fams ...uint8) error {
	if r.Host == "" {
		return errors.New("empty host pattern")
	}
	if len(r.Host) > MaxHostLen {
		return fmt.Errorf("host pattern longer than %d bytes", MaxHostLen)
	}
	if strings.IndexByte(r.Host, 0) >= 0 {
		return errors.New("host pattern contains NUL")
	}
	proto, err := r.Protocol()
	if err != nil {
		return err
	}
	for _, f := range fams {
		if err := match.CheckEntry(f, proto); err != nil {
			return err
		}
	}
	switch r.Action {
	case ActionAccept, ActionDrop:
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	return nil
}

// Families lists the address families rules are registered for.
func (c *Config) Families() []uint8 {
	fams := []uint8{unix.AF_INET}
	if c.UseIPv6 {
		fams = append(fams, unix.AF_INET6)
	}
	return fams
}

// Validate checks global settings and every rule.
func (c *Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("threads must be >= 1, got %d", c.Threads)
	}
	if c.QueueStartNum+uint(c.Threads)-1 > 0xffff {
		return fmt.Errorf("queue range %d..%d exceeds 65535", c.QueueStartNum, c.QueueStartNum+uint(c.Threads)-1)
	}
	if len(c.Rules) == 0 {
		return errors.New("no rules configured")
	}
	fams := c.Families()
	for i := range c.Rules {
		r := &c.Rules[i]
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule%d", i)
		}
		if err := r.Validate(fams...); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	return nil
}

// Protocols reports which transports the rule set uses.
func (c *Config) Protocols() (tcp, udp bool) {
	for i := range c.Rules {
		switch strings.ToLower(c.Rules[i].Proto) {
		case "tcp":
			tcp = true
		case "udp":
			udp = true
		}
	}
	return
}
