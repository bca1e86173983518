package match

import (
	"bytes"

	"github.com/daniellavrushin/b4sni/glob"
	"github.com/daniellavrushin/b4sni/logx"
)

// Info is the per-rule match configuration. It is never written after the
// rule is loaded, so one Info may be shared by concurrent evaluations.
type Info struct {
	Host   string `yaml:"host"`
	Invert bool   `yaml:"invert"`
}

// Evaluate reports whether the IP packet raw matches info. Anything that
// cannot be classified or parsed is no match, whatever Invert says.
func Evaluate(raw []byte, info *Info) bool {
	p, err := Classify(raw)
	if err != nil {
		logx.Tracef("tls: classify: %v", err)
		return false
	}
	return p.Match(info)
}

func (p *Packet) Match(info *Info) bool {
	host, err := p.Hostname()
	if err != nil {
		logx.Tracef("tls: %s: %v", p.Proto, err)
		return false
	}

	// compared as a C string: up to the first NUL
	if i := bytes.IndexByte(host, 0); i >= 0 {
		host = host[:i]
	}
	matched := glob.Match(info.Host, host)
	logx.Tracef("tls: parsed domain %q, matches %q: %v, invert: %v", host, info.Host, matched, info.Invert)

	if info.Invert {
		matched = !matched
	}
	return matched
}
