// Package monitor watches interfaces passively and reports the hostnames
// seen in TLS and gQUIC client hellos together with the rule that would
// decide them. Nothing is ever dropped.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"github.com/daniellavrushin/b4sni/logx"
	"github.com/daniellavrushin/b4sni/match"
	"github.com/daniellavrushin/b4sni/processor"
)

type Event struct {
	Time   time.Time
	Iface  string
	Src    string
	Dst    string
	Proto  string // TLS or QUIC
	Host   string
	Rule   string // empty when no rule matched
	Action string
}

func (e Event) String() string {
	rule := "-"
	if e.Rule != "" {
		rule = e.Rule + "/" + e.Action
	}
	return fmt.Sprintf("%s %s %s -> %s %q rule=%s", e.Iface, e.Proto, e.Src, e.Dst, e.Host, rule)
}

type Sniffer struct {
	ifaces []string
	tps    []*afpacket.TPacket
	rs     *processor.Ruleset
}

var openTPacket = func(iface string) (*afpacket.TPacket, error) {
	return afpacket.NewTPacket(afpacket.OptInterface(iface))
}

// Open binds one AF_PACKET ring per interface.
func Open(ifaces []string, rs *processor.Ruleset) (*Sniffer, error) {
	if len(ifaces) == 0 {
		return nil, errors.New("monitor: no interfaces given")
	}
	s := &Sniffer{ifaces: ifaces, rs: rs}
	for _, name := range ifaces {
		tp, err := openTPacket(name)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("monitor: %s: %w", name, err)
		}
		s.tps = append(s.tps, tp)
	}
	return s, nil
}

// Run reads every interface until ctx is done. The channel is closed once
// all readers have stopped.
func (s *Sniffer) Run(ctx context.Context) <-chan Event {
	out := make(chan Event, 256)
	var wg sync.WaitGroup
	wg.Add(len(s.tps))
	for i, tp := range s.tps {
		src := gopacket.NewPacketSource(tp, layers.LinkTypeEthernet)
		go func(iface string, pkts <-chan gopacket.Packet) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case pkt, ok := <-pkts:
					if !ok {
						return
					}
					ev, ok := inspect(s.rs, iface, pkt)
					if !ok {
						continue
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(s.ifaces[i], src.Packets())
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (s *Sniffer) Close() error {
	if len(s.tps) == 0 {
		return errors.New("monitor: not open")
	}
	for _, tp := range s.tps {
		tp.Close()
	}
	s.tps = nil
	return nil
}

// inspect turns one captured frame into an Event if it carries a client
// hello with a hostname.
func inspect(rs *processor.Ruleset, iface string, pkt gopacket.Packet) (Event, bool) {
	netl := pkt.NetworkLayer()
	if netl == nil {
		return Event{}, false
	}
	raw := append(append([]byte(nil), netl.LayerContents()...), netl.LayerPayload()...)
	p, err := match.Classify(raw)
	if err != nil {
		return Event{}, false
	}
	host, err := p.Hostname()
	if err != nil {
		return Event{}, false
	}

	ev := Event{
		Time:  pkt.Metadata().Timestamp,
		Iface: iface,
		Src:   netl.NetworkFlow().Src().String(),
		Dst:   netl.NetworkFlow().Dst().String(),
		Proto: "TLS",
		Host:  string(host),
	}
	if tl := pkt.TransportLayer(); tl != nil {
		ev.Src += ":" + tl.TransportFlow().Src().String()
		ev.Dst += ":" + tl.TransportFlow().Dst().String()
	}
	if p.Proto == layers.IPProtocolUDP {
		ev.Proto = "QUIC"
	}
	if r := rs.Find(p); r != nil {
		ev.Rule, ev.Action = r.Name, r.Action
	}
	logx.Debugf("monitor: %s", ev)
	return ev, true
}
