package sni

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

// putUint16 appends a big-endian uint16 to dst.
func putUint16(dst *[]byte, v uint16) {
	*dst = append(*dst, byte(v>>8), byte(v))
}

type ext struct {
	id   uint16
	data []byte
}

// sniExt builds a server_name extension carrying the given host names.
func sniExt(hosts ...[]byte) ext {
	list := make([]byte, 0, 32)
	for _, h := range hosts {
		list = append(list, 0x00) // name_type = host_name
		putUint16(&list, uint16(len(h)))
		list = append(list, h...)
	}
	data := make([]byte, 0, len(list)+2)
	putUint16(&data, uint16(len(list)))
	data = append(data, list...)
	return ext{id: tlsExtServerName, data: data}
}

// buildClientHello returns an RFC 5246 ClientHello record.
func buildClientHello(sessionID []byte, exts ...ext) []byte {
	body := make([]byte, 0, 128)
	body = append(body, 0x03, 0x03) // legacy_version

	rnd := make([]byte, 32)
	_, _ = rand.Read(rnd)
	body = append(body, rnd...)

	body = append(body, byte(len(sessionID)))
	body = append(body, sessionID...)

	putUint16(&body, 4) // cipher suites
	body = append(body, 0x13, 0x01, 0x13, 0x02)

	body = append(body, 0x01, 0x00) // compression methods (null)

	block := make([]byte, 0, 64)
	for _, e := range exts {
		putUint16(&block, e.id)
		putUint16(&block, uint16(len(e.data)))
		block = append(block, e.data...)
	}
	putUint16(&body, uint16(len(block)))
	body = append(body, block...)

	hs := []byte{tlsHandshakeClientHello, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}
	hs = append(hs, body...)

	rec := []byte{tlsContentTypeHandshake, 0x03, 0x01}
	putUint16(&rec, uint16(len(hs)))
	return append(rec, hs...)
}

func TestParseTLS(t *testing.T) {
	valid := buildClientHello(nil,
		ext{id: 0x000a, data: []byte{0x00, 0x02, 0x00, 0x1d}}, // supported_groups
		sniExt([]byte("example.com")),
	)
	got, err := ParseTLS(valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "example.com" {
		t.Fatalf("want example.com, got %q", got)
	}

	t.Run("session-id", func(t *testing.T) {
		pkt := buildClientHello(bytes.Repeat([]byte{0xab}, 32), sniExt([]byte("sid.test")))
		got, err := ParseTLS(pkt)
		if err != nil || string(got) != "sid.test" {
			t.Fatalf("got %q, %v", got, err)
		}
	})

	t.Run("first-name-wins", func(t *testing.T) {
		pkt := buildClientHello(nil, sniExt([]byte("first.test"), []byte("second.test")))
		got, err := ParseTLS(pkt)
		if err != nil || string(got) != "first.test" {
			t.Fatalf("got %q, %v", got, err)
		}
	})

	t.Run("no-sni", func(t *testing.T) {
		pkt := buildClientHello(nil, ext{id: 0x0010, data: []byte{0x00, 0x03, 0x02, 'h', '2'}})
		if _, err := ParseTLS(pkt); !errors.Is(err, ErrNoSNIExtension) {
			t.Fatalf("want ErrNoSNIExtension, got %v", err)
		}
	})

	t.Run("no-extensions", func(t *testing.T) {
		if _, err := ParseTLS(buildClientHello(nil)); !errors.Is(err, ErrNoSNIExtension) {
			t.Fatalf("want ErrNoSNIExtension, got %v", err)
		}
	})

	t.Run("wrong-content-type", func(t *testing.T) {
		pkt := append([]byte(nil), valid...)
		pkt[0] = 0x14 // ChangeCipherSpec
		if _, err := ParseTLS(pkt); !errors.Is(err, ErrNotHandshake) {
			t.Fatalf("want ErrNotHandshake, got %v", err)
		}
	})

	t.Run("server-hello", func(t *testing.T) {
		pkt := append([]byte(nil), valid...)
		pkt[5] = 0x02
		if _, err := ParseTLS(pkt); !errors.Is(err, ErrNotClientHello) {
			t.Fatalf("want ErrNotClientHello, got %v", err)
		}
	})

	t.Run("embedded-nul-kept", func(t *testing.T) {
		host := []byte("evil\x00.example.com")
		got, err := ParseTLS(buildClientHello(nil, sniExt(host)))
		if err != nil || !bytes.Equal(got, host) {
			t.Fatalf("got %q, %v", got, err)
		}
	})

	t.Run("result-is-a-copy", func(t *testing.T) {
		pkt := buildClientHello(nil, sniExt([]byte("copy.test")))
		got, err := ParseTLS(pkt)
		if err != nil {
			t.Fatal(err)
		}
		for i := range pkt {
			pkt[i] = 0
		}
		if string(got) != "copy.test" {
			t.Fatalf("hostname aliases the packet: %q", got)
		}
	})
}

// Fixed bytes from a hand-assembled ClientHello: no session id, one cipher
// suite, one compression method, and a single server_name "test".
func TestParseTLS_HandAssembled(t *testing.T) {
	pkt := []byte{
		0x16, 0x03, 0x01, 0x00, 0x3c, // record header, length 60
		0x01, 0x00, 0x00, 0x38, // ClientHello, length 56
		0x03, 0x03, // version
	}
	pkt = append(pkt, make([]byte, 32)...) // random
	pkt = append(pkt,
		0x00,                   // session id length
		0x00, 0x02, 0x13, 0x01, // cipher suites
		0x01, 0x00, // compression methods
		0x00, 0x0d, // extensions length
		0x00, 0x00, 0x00, 0x09, // server_name, len 9
		0x00, 0x07, 0x00, 0x00, 0x04, 't', 'e', 's', 't',
	)
	got, err := ParseTLS(pkt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "test" {
		t.Fatalf("want test, got %q", got)
	}
}

func TestParseTLS_PartialRecordStillParsed(t *testing.T) {
	pkt := buildClientHello(nil, sniExt([]byte("partial.test")))
	// claim a record far larger than what was captured
	pkt[3], pkt[4] = 0x40, 0x00
	got, err := ParseTLS(pkt)
	if err != nil || string(got) != "partial.test" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestParseTLS_Truncated(t *testing.T) {
	full := buildClientHello(nil,
		ext{id: 0x000a, data: []byte{0x00, 0x02, 0x00, 0x1d}},
		sniExt([]byte("truncated.example.com")),
	)
	for n := 0; n < len(full); n++ {
		_, err := ParseTLS(full[:n])
		if err == nil {
			t.Fatalf("prefix of %d bytes parsed successfully", n)
		}
		if n > 0 && n < 6 && !errors.Is(err, ErrTruncated) {
			t.Fatalf("prefix of %d bytes: want ErrTruncated, got %v", n, err)
		}
	}
}

func TestParseTLS_LengthFieldsOverrun(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p []byte)
	}{
		{"session-id", func(p []byte) { p[43] = 0xff }},
		{"cipher-suites", func(p []byte) { p[44], p[45] = 0xff, 0xff }},
		{"compression", func(p []byte) { p[50] = 0xff }},
		{"extensions", func(p []byte) { p[52], p[53] = 0xff, 0xff }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pkt := buildClientHello(nil, sniExt([]byte("overrun.test")))
			tc.mutate(pkt)
			if _, err := ParseTLS(pkt); !errors.Is(err, ErrTruncated) {
				t.Fatalf("want ErrTruncated, got %v", err)
			}
		})
	}
}

func TestParseTLS_NameLengthOverrun(t *testing.T) {
	pkt := buildClientHello(nil, sniExt([]byte("name.test")))
	// name length is the 2 bytes right before the host name
	i := bytes.Index(pkt, []byte("name.test"))
	pkt[i-2], pkt[i-1] = 0x7f, 0xff
	if _, err := ParseTLS(pkt); !errors.Is(err, ErrTruncated) {
		t.Fatalf("want ErrTruncated, got %v", err)
	}
}

// go test -fuzz=FuzzParseTLS -fuzztime=10s ./sni
func FuzzParseTLS(f *testing.F) {
	f.Add(buildClientHello(nil, sniExt([]byte("example.com"))))
	f.Add([]byte{0x16, 0x03, 0x01, 0x00, 0x05, 0x01})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		host, err := ParseTLS(data)
		if err == nil && len(host) > len(data) {
			t.Fatalf("hostname longer than payload: %d > %d", len(host), len(data))
		}
	})
}
