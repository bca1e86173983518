package match

import (
	"fmt"

	"github.com/daniellavrushin/b4sni/sni"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Packet is one classified network-layer packet. Payload aliases the
// caller's buffer and must not be kept past the evaluation.
type Packet struct {
	Version int               // 4 or 6
	Proto   layers.IPProtocol // IPv4 protocol / IPv6 next header
	Payload []byte            // transport payload
}

func IPVersion(pkt []byte) int {
	if len(pkt) < 1 {
		return 0
	}
	switch pkt[0] >> 4 {
	case 4:
		return 4
	case 6:
		return 6
	default:
		return 0
	}
}

// Classify decodes the IP and transport headers of raw. All decoding state
// is local to the call.
func Classify(raw []byte) (*Packet, error) {
	var (
		ip4 layers.IPv4
		ip6 layers.IPv6
		tcp layers.TCP
		udp layers.UDP
		pl  gopacket.Payload
	)

	p := &Packet{Version: IPVersion(raw)}
	var first gopacket.LayerType
	switch p.Version {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return nil, sni.ErrUnsupportedIPVersion
	}

	parser := gopacket.NewDecodingLayerParser(first, &ip4, &ip6, &tcp, &udp, &pl)
	// fragments and IPv6 extension headers stop the walk; Proto then
	// decides below.
	parser.IgnoreUnsupported = true
	decoded := make([]gopacket.LayerType, 0, 4)
	if err := parser.DecodeLayers(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode v%d: %w", p.Version, err)
	}

	var l4 bool
	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			p.Proto = ip4.Protocol
		case layers.LayerTypeIPv6:
			p.Proto = ip6.NextHeader
		case layers.LayerTypeTCP:
			p.Payload, l4 = tcp.Payload, true
		case layers.LayerTypeUDP:
			p.Payload, l4 = udp.Payload, true
		}
	}

	switch p.Proto {
	case layers.IPProtocolTCP, layers.IPProtocolUDP:
	default:
		return nil, sni.ErrUnsupportedTransport
	}
	if !l4 {
		// fragment or cut short before the transport header
		return nil, sni.ErrTruncated
	}
	return p, nil
}

// Hostname runs the parser that fits the transport: TLS ClientHello over
// TCP, QUIC CHLO over UDP.
func (p *Packet) Hostname() ([]byte, error) {
	switch p.Proto {
	case layers.IPProtocolTCP:
		return sni.ParseTLS(p.Payload)
	case layers.IPProtocolUDP:
		return sni.ParseQUIC(p.Payload)
	}
	return nil, sni.ErrUnsupportedTransport
}
