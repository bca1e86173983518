package sni

// gQUIC clients pad their first CHLO packet, so a client hello datagram is
// always QUICDatagramLen bytes long. Anything else is not looked at.
const QUICDatagramLen = 1358

const (
	quicBaseOffset = 13 // packet number
	quicChloOffset = quicBaseOffset + 17
)

var (
	quicTagCHLO = []byte("CHLO")
	quicTagSNI  = []byte("SNI\x00")
)

// ParseQUIC extracts the SNI value from the tag/value table of a gQUIC
// CHLO carried in one UDP datagram payload.
//
// Layout after the CHLO tag: tag count (uint16 LE) and two bytes of
// padding, then tag count entries of (tag[4], end offset uint32 LE), then
// the values back to back. End offsets are cumulative and relative to the
// first value byte.
func ParseQUIC(datagram []byte) ([]byte, error) {
	if len(datagram) != QUICDatagramLen {
		return nil, ErrUnsupportedLength
	}
	c := NewCursor(datagram)

	offset := quicChloOffset
	if !c.HasTag(offset, quicTagCHLO) {
		return nil, ErrNotQUICChlo
	}
	offset += len(quicTagCHLO)

	n, ok := c.Uint16LE(offset)
	if !ok {
		return nil, ErrTruncated
	}
	offset += 4 // tag count + padding

	table := offset
	values := table + int(n)*8

	var prevEnd uint32
	for i := 0; i < int(n); i++ {
		entry := table + i*8
		if _, ok := c.Bytes(entry, 8); !ok {
			return nil, ErrTruncated
		}
		end, _ := c.Uint32LE(entry + 4)
		if !c.HasTag(entry, quicTagSNI) {
			prevEnd = end
			continue
		}
		if end < prevEnd {
			return nil, ErrTruncated
		}
		name, ok := c.Bytes(values+int(prevEnd), int(end-prevEnd))
		if !ok {
			return nil, ErrTruncated
		}
		return append([]byte(nil), name...), nil
	}
	return nil, ErrNoSNITag
}
