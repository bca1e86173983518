package sni

// Fixed ClientHello layout up to the session id: record header(5) +
// handshake type(1) + length(3) + client_version(2) + random(32).
const (
	tlsRecordHeaderLen = 5
	tlsSessionIDOffset = 43
)

// ParseTLS extracts the server_name from a ClientHello that starts at the
// first byte of payload. Only the bytes of this one segment are looked at,
// so a ClientHello split over several segments fails with ErrTruncated.
//
// The returned hostname is a fresh copy of exactly name_len bytes; embedded
// NUL bytes are kept.
func ParseTLS(payload []byte) ([]byte, error) {
	c := NewCursor(payload)

	ct, ok := c.Uint8(0)
	if !ok {
		return nil, ErrTruncated
	}
	if ct != tlsContentTypeHandshake {
		return nil, ErrNotHandshake
	}
	rlen, ok := c.Uint16(3)
	if !ok {
		return nil, ErrTruncated
	}
	hsType, ok := c.Uint8(5)
	if !ok {
		return nil, ErrTruncated
	}

	// even if we don't have all the data, try matching anyway
	recordLen := int(rlen) + tlsRecordHeaderLen
	if recordLen > c.Len() {
		recordLen = c.Len()
	}
	if recordLen <= 4 || hsType != tlsHandshakeClientHello {
		return nil, ErrNotClientHello
	}

	if tlsSessionIDOffset+2 > c.Len() {
		return nil, ErrTruncated
	}
	sidLen, _ := c.Uint8(tlsSessionIDOffset)
	if int(sidLen)+tlsSessionIDOffset+2 > recordLen {
		return nil, ErrTruncated
	}

	cipherLen, ok := c.Uint16(tlsSessionIDOffset + int(sidLen) + 1)
	if !ok {
		return nil, ErrTruncated
	}
	// offset lands on the last cipher suite byte; the compression length
	// is therefore read one byte further on.
	offset := tlsSessionIDOffset + int(sidLen) + int(cipherLen) + 2
	if offset > recordLen {
		return nil, ErrTruncated
	}

	compLen, ok := c.Uint8(offset + 1)
	if !ok {
		return nil, ErrTruncated
	}
	offset += int(compLen) + 2
	if offset > recordLen {
		return nil, ErrTruncated
	}

	extLen, ok := c.Uint16(offset)
	if !ok {
		return nil, ErrTruncated
	}
	if int(extLen)+offset > recordLen {
		return nil, ErrTruncated
	}

	return walkExtensions(c, offset, int(extLen))
}

// walkExtensions scans the extension block whose 2-byte length field sits
// at base. pos is relative to base and grows by at least 4 per step.
func walkExtensions(c Cursor, base, extLen int) ([]byte, error) {
	pos := 2
	for pos < extLen {
		id, ok := c.Uint16(base + pos)
		if !ok {
			return nil, ErrTruncated
		}
		l, ok := c.Uint16(base + pos + 2)
		if !ok {
			return nil, ErrTruncated
		}
		pos += 4

		if id != tlsExtServerName {
			pos += int(l)
			continue
		}

		// server_name_list length(2), name_type(1)
		pos += 3
		nameLen, ok := c.Uint16(base + pos)
		if !ok {
			return nil, ErrTruncated
		}
		pos += 2
		name, ok := c.Bytes(base+pos, int(nameLen))
		if !ok {
			return nil, ErrTruncated
		}
		return append([]byte(nil), name...), nil
	}
	return nil, ErrNoSNIExtension
}
