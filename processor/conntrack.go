package processor

import (
	"github.com/mdlayher/netlink"
)

// ctattr_type (linux/netfilter/nfnetlink_conntrack.h)
const (
	ctaCountersOrig = 9 // CTA_COUNTERS_ORIG
)

// ctattr_counters
const (
	ctaCountersPackets   = 1 // CTA_COUNTERS_PACKETS (u64)
	ctaCounters32Packets = 3 // CTA_COUNTERS32_PACKETS (u32)
)

// ctOrigPackets pulls the original-direction packet counter out of the
// NFQA_CT attribute blob.
func ctOrigPackets(ct []byte) (uint64, bool, error) {
	ad, err := netlink.NewAttributeDecoder(ct)
	if err != nil {
		return 0, false, err
	}
	var pkts uint64
	var have bool

	for ad.Next() {
		if ad.Type() != ctaCountersOrig {
			continue
		}
		ad.Nested(func(cad *netlink.AttributeDecoder) error {
			for cad.Next() {
				switch cad.Type() {
				case ctaCountersPackets:
					pkts = cad.Uint64()
					have = true
				case ctaCounters32Packets:
					pkts = uint64(cad.Uint32())
					have = true
				}
			}
			return cad.Err()
		})
	}
	if err := ad.Err(); err != nil {
		return 0, false, err
	}
	return pkts, have, nil
}
