package match

import (
	"encoding/binary"
	"net"

	"github.com/daniellavrushin/b4sni/sni"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

/* ---------- payload builders ---------- */

// clientHello builds a ClientHello record with a single server_name.
func clientHello(host string) []byte {
	h := []byte(host)

	name := append([]byte{0x00, byte(len(h) >> 8), byte(len(h))}, h...)
	nameList := append([]byte{byte(len(name) >> 8), byte(len(name))}, name...)
	ext := append([]byte{0x00, 0x00, byte(len(nameList) >> 8), byte(len(nameList))}, nameList...)

	body := make([]byte, 0, 64)
	body = append(body, 0x03, 0x03)          // legacy_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session-id len
	body = append(body, 0x00, 0x02, 0x13, 0x01)
	body = append(body, 0x01, 0x00) // compression
	body = append(body, byte(len(ext)>>8), byte(len(ext)))
	body = append(body, ext...)

	hs := []byte{0x01, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}
	hs = append(hs, body...)

	rec := []byte{0x16, 0x03, 0x01, byte(len(hs) >> 8), byte(len(hs))}
	return append(rec, hs...)
}

// chlo builds a padded gQUIC CHLO whose only tag is SNI=host.
func chlo(host string) []byte {
	p := make([]byte, sni.QUICDatagramLen)
	copy(p[30:], "CHLO")
	binary.LittleEndian.PutUint16(p[34:], 1)
	copy(p[38:], "SNI\x00")
	binary.LittleEndian.PutUint32(p[42:], uint32(len(host)))
	copy(p[46:], host)
	return p
}

/* ---------- packet builders ---------- */

var (
	src4 = net.IP{10, 0, 0, 2}
	dst4 = net.IP{93, 184, 216, 34}
	src6 = net.ParseIP("2001:db8::2")
	dst6 = net.ParseIP("2001:db8::443")
)

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func ip4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: src4, DstIP: dst4}
}

func ip6(next layers.IPProtocol) *layers.IPv6 {
	return &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: next, SrcIP: src6, DstIP: dst6}
}

func tcpPacket(v int, payload []byte) []byte {
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, Seq: 1, ACK: true, PSH: true, Window: 512}
	if v == 6 {
		l3 := ip6(layers.IPProtocolTCP)
		_ = tcp.SetNetworkLayerForChecksum(l3)
		return serialize(l3, tcp, gopacket.Payload(payload))
	}
	l3 := ip4(layers.IPProtocolTCP)
	_ = tcp.SetNetworkLayerForChecksum(l3)
	return serialize(l3, tcp, gopacket.Payload(payload))
}

func udpPacket(v int, payload []byte) []byte {
	udp := &layers.UDP{SrcPort: 40000, DstPort: 443}
	if v == 6 {
		l3 := ip6(layers.IPProtocolUDP)
		_ = udp.SetNetworkLayerForChecksum(l3)
		return serialize(l3, udp, gopacket.Payload(payload))
	}
	l3 := ip4(layers.IPProtocolUDP)
	_ = udp.SetNetworkLayerForChecksum(l3)
	return serialize(l3, udp, gopacket.Payload(payload))
}
