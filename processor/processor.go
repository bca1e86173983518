package processor

import (
	"github.com/daniellavrushin/b4sni/config"
	"github.com/daniellavrushin/b4sni/logx"
	"github.com/daniellavrushin/b4sni/match"
	nfqueue "github.com/florianl/go-nfqueue"
)

type Callback func(*nfqueue.Attribute) int

type Verdict int

const (
	VerdictAccept Verdict = iota
	VerdictDrop
)

// Ruleset is a validated rule list bound to the registered matchers.
type Ruleset struct {
	rules []config.Rule
	proto []uint8 // IP protocol per rule
	regs  map[uint8]match.Registration
}

// NewRuleset binds rules to regs. Rules must already be validated.
func NewRuleset(rules []config.Rule, regs []match.Registration) *Ruleset {
	rs := &Ruleset{
		rules: rules,
		proto: make([]uint8, len(rules)),
		regs:  make(map[uint8]match.Registration, len(regs)),
	}
	for i := range rules {
		p, _ := rules[i].Protocol()
		rs.proto[i] = uint8(p)
	}
	for _, r := range regs {
		rs.regs[r.Family] = r
	}
	return rs
}

// Verdict walks the rules for one IP packet. The first rule whose protocol
// fits and whose match succeeds decides; otherwise the packet is accepted.
func (rs *Ruleset) Verdict(raw []byte) Verdict {
	fam, ok := match.Family(match.IPVersion(raw))
	if !ok {
		return VerdictAccept
	}
	if _, ok := rs.regs[fam]; !ok {
		return VerdictAccept
	}
	p, err := match.Classify(raw)
	if err != nil {
		logx.Tracef("processor: %v", err)
		return VerdictAccept
	}
	r := rs.Find(p)
	if r == nil {
		return VerdictAccept
	}
	logx.Debugf("rule %q (%s) hit: %s", r.Name, r.Host, r.Action)
	if r.Action == config.ActionDrop {
		return VerdictDrop
	}
	return VerdictAccept
}

// Find returns the first rule that matches p, or nil.
func (rs *Ruleset) Find(p *match.Packet) *config.Rule {
	fam, ok := match.Family(p.Version)
	if !ok {
		return nil
	}
	reg, ok := rs.regs[fam]
	if !ok {
		return nil
	}
	for i := range rs.rules {
		r := &rs.rules[i]
		if rs.proto[i] != uint8(p.Proto) {
			continue
		}
		if reg.Match(p, &r.Info) {
			return r
		}
	}
	return nil
}

var processPacket = func(rs *Ruleset, raw []byte) Verdict { return rs.Verdict(raw) }

func New(cfg *config.Config, rs *Ruleset) Callback {
	return func(a *nfqueue.Attribute) int {
		// Skip packets that already carry our mark (avoid loops)
		if a.Mark != nil && ((*a.Mark)&uint32(cfg.Mark)) == uint32(cfg.Mark) {
			return nfqueue.NfAccept
		}
		if a.Payload == nil || len(*a.Payload) == 0 {
			return nfqueue.NfAccept
		}
		// SNI only shows up at the start of a flow
		if cfg.ConnBytesLimit > 0 && a.Ct != nil {
			if pkts, ok, _ := ctOrigPackets(*a.Ct); ok && pkts > uint64(cfg.ConnBytesLimit) {
				return nfqueue.NfAccept
			}
		}
		switch processPacket(rs, *a.Payload) {
		case VerdictDrop:
			return nfqueue.NfDrop
		default:
			return nfqueue.NfAccept
		}
	}
}
