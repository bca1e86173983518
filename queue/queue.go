package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	nfqueue "github.com/florianl/go-nfqueue"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"github.com/daniellavrushin/b4sni/logx"
	"github.com/daniellavrushin/b4sni/processor"
)

type nfqIface interface {
	RegisterWithErrorFunc(ctx context.Context, fn nfqueue.HookFunc, errFn nfqueue.ErrorFunc) error
	SetVerdict(id uint32, verdict int) error
	SetVerdictWithMark(id uint32, verdict, mark int) error
	Close() error
}

var openNFQ = func(c *nfqueue.Config) (nfqIface, error) {
	nf, err := nfqueue.Open(c)
	if err != nil {
		return nil, err
	}
	_ = nf.SetOption(netlink.NoENOBUFS, true)
	return nf, nil
}

var ipv6Available = func() bool {
	fi, err := os.Stat("/proc/net/if_inet6")
	if err != nil {
		return false
	}
	return fi.Size() > 0
}

type Worker struct {
	qs     []nfqIface // one per address family
	id     uint16
	ctx    context.Context
	cancel context.CancelFunc
}

type Config struct {
	ID            uint16
	Families      []uint8 // AF_INET and/or AF_INET6; empty means AF_INET
	WithGSO       bool
	WithConntrack bool
	FailOpen      bool
	// VerdictMark is set on accepted packets so the queue rules skip them
	// if they traverse another hooked chain. Zero leaves the mark alone.
	VerdictMark uint32
}

// ipv6Skippable reports whether err means the host simply has no usable
// IPv6 queue support.
func ipv6Skippable(err error) bool {
	es := strings.ToLower(err.Error())
	for _, s := range []string{
		"address family not supported",
		"eafnosupport",
		"protocol not supported",
		"operation not permitted",
		"permission denied",
	} {
		if strings.Contains(es, s) {
			return true
		}
	}
	return false
}

func NewWorker(conf Config, cb processor.Callback) (*Worker, error) {
	flags := uint32(0)
	if conf.FailOpen {
		flags |= nfqueue.NfQaCfgFlagFailOpen
	}
	if conf.WithGSO {
		flags |= nfqueue.NfQaCfgFlagGSO
	}
	if conf.WithConntrack {
		flags |= nfqueue.NfQaCfgFlagConntrack
	}
	logx.Tracef("nfqueue(%d): fail-open=%v gso=%v conntrack=%v flags=0x%x",
		conf.ID, conf.FailOpen, conf.WithGSO, conf.WithConntrack, flags)

	ctx, cancel := context.WithCancel(context.Background())

	errHook := func(err error) int {
		if ctx.Err() != nil ||
			errors.Is(err, os.ErrClosed) ||
			strings.Contains(err.Error(), "closed") {
			return 0
		}
		logx.Errorf("nfqueue(%d): %v", conf.ID, err)
		return 0
	}

	fams := conf.Families
	if len(fams) == 0 {
		fams = []uint8{unix.AF_INET}
	}

	var qs []nfqIface
	closeAll := func() {
		cancel()
		for _, z := range qs {
			_ = z.Close()
		}
	}
	for _, af := range fams {
		if af == unix.AF_INET6 && !ipv6Available() {
			logx.Infof("nfqueue(%d): no IPv6 on this host, continuing with IPv4", conf.ID)
			continue
		}
		q, err := openNFQ(&nfqueue.Config{
			AfFamily:     af,
			NfQueue:      conf.ID,
			MaxPacketLen: 0xFFFF,
			MaxQueueLen:  0x800, // 2048
			Copymode:     nfqueue.NfQnlCopyPacket,
			Flags:        flags,
		})
		if err != nil {
			if af == unix.AF_INET6 && ipv6Skippable(err) {
				logx.Infof("nfqueue(%d): IPv6 queue not available: %v (continuing with IPv4)", conf.ID, err)
				continue
			}
			closeAll()
			return nil, fmt.Errorf("nfqueue(%d, af=%d): %w", conf.ID, af, err)
		}
		// hook must capture this specific q
		hook := func(a nfqueue.Attribute) int {
			if a.PacketID == nil {
				return 0
			}
			v := cb(&a)
			var err error
			if v == nfqueue.NfAccept && conf.VerdictMark != 0 {
				err = q.SetVerdictWithMark(*a.PacketID, v, int(conf.VerdictMark))
			} else {
				err = q.SetVerdict(*a.PacketID, v)
			}
			if err != nil {
				logx.Errorf("nfqueue(%d) SetVerdict id=%d: %v", conf.ID, *a.PacketID, err)
			}
			return 0
		}

		if err := q.RegisterWithErrorFunc(ctx, hook, errHook); err != nil {
			_ = q.Close()
			if af == unix.AF_INET6 && ipv6Skippable(err) {
				logx.Infof("nfqueue(%d): IPv6 register skipped: %v (continuing with IPv4)", conf.ID, err)
				continue
			}
			closeAll()
			return nil, err
		}
		logx.Tracef("nfqueue(%d): bound af=%d", conf.ID, af)
		qs = append(qs, q)
	}
	if len(qs) == 0 {
		cancel()
		return nil, fmt.Errorf("nfqueue(%d): failed to bind any address family", conf.ID)
	}
	return &Worker{qs: qs, id: conf.ID, ctx: ctx, cancel: cancel}, nil
}

func (w *Worker) ID() uint16 { return w.id }

// Run blocks until Close is called.
func (w *Worker) Run() error { <-w.ctx.Done(); return nil }

func (w *Worker) Close() {
	if w == nil {
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	for _, q := range w.qs {
		_ = q.Close()
	}
}
