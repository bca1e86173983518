package sni

// --- record & handshake -------------------------------------------------

const (
	tlsContentTypeHandshake uint8 = 22 // TLS record type "Handshake"
	tlsHandshakeClientHello uint8 = 1  // Handshake msg "ClientHello"
)

// --- extensions ---------------------------------------------------------

const (
	tlsExtServerName uint16 = 0 // SNI (Server Name Indication)
)

// Error is a sentinel parse failure. None of them is fatal: the match
// engine turns every one into "no match".
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotHandshake   Error = "not a TLS handshake record"
	ErrNotClientHello Error = "not a ClientHello"
	ErrNotQUICChlo    Error = "not a QUIC CHLO"
	ErrTruncated      Error = "field exceeds captured payload"
	ErrNoSNIExtension Error = "ClientHello has no server_name extension"
	ErrNoSNITag       Error = "CHLO has no SNI tag"

	ErrUnsupportedLength    Error = "unsupported QUIC datagram length"
	ErrUnsupportedIPVersion Error = "unsupported IP version"
	ErrUnsupportedTransport Error = "unsupported transport protocol"
)
