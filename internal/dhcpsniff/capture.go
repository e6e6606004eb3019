package dhcpsniff

import (
	"context"
	"time"

	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"

	"netwatch/ap_common/aputil"
	"netwatch/ap_common/network"
)

const deviceUpTimeout = time.Minute

const bpfFilter = "udp port 68"
const snaplen = 65536
const throttleBase = time.Second
const throttleMax = time.Minute

// rescanLimit/rescanWindow bound how often a flapping lease can
// re-trigger an opportunistic Phase-2 rescan (§4.5 describes the
// dispatch itself but not a ceiling on it, so this borrows the
// teacher's own pace guard rather than leaving qualifying packets
// free to retrigger without bound).
const rescanLimit = 5
const rescanWindow = time.Minute

// Trigger is the DHCP Capture Trigger: it owns a live pcap handle on
// device and, for each qualifying packet, asks onLease to run the
// Phase-2 portion of the Scan Pipeline for the observed client IP
// (§4.5). Modeled on bg/ap.watchd/sampler.go's openOne/sampleOne loop
// shape, with the decode itself hand-rolled rather than delegated to
// gopacket's layer parser.
type Trigger struct {
	device  string
	onLease func(ip string) error
	log     *aputil.ThrottledLogger
	pace    *aputil.PaceTracker
}

// New builds a Trigger bound to device, calling onLease whenever a
// qualifying Offer or Discover packet is observed, fewer than rescanLimit
// times within any rescanWindow (the rescanLimit-th call inside the
// window is suppressed).
func New(device string, onLease func(ip string) error, logger *zap.SugaredLogger) *Trigger {
	return &Trigger{
		device:  device,
		onLease: onLease,
		log:     aputil.GetThrottledLogger(logger, throttleBase, throttleMax),
		pace:    aputil.NewPaceTracker(rescanLimit, rescanWindow),
	}
}

// Run blocks, capturing and dispatching packets until ctx is cancelled.
// Clean teardown of the capture handle on process exit is not
// guaranteed (§5 Cancellation) — Run only closes the handle when ctx
// itself ends the loop.
func (t *Trigger) Run(ctx context.Context) error {
	if err := network.WaitForDevice(t.device, deviceUpTimeout); err != nil {
		return err
	}

	handle, err := pcap.OpenLive(t.device, snaplen, true, pcap.BlockForever)
	if err != nil {
		return err
	}
	defer handle.Close()

	if err := handle.SetBPFFilter(bpfFilter); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		handle.Close()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		default:
		}

		data, _, err := handle.ReadPacketData()
		if err != nil {
			select {
			case <-ctx.Done():
				<-done
				return nil
			default:
			}
			t.log.Warnf("reading packet data: %v", err)
			continue
		}
		t.handleFrame(data)
	}
}

func (t *Trigger) handleFrame(frame []byte) {
	payload, _, _, err := DecodeEthernetIPv4UDP(frame)
	if err != nil {
		return
	}

	pkt, err := DecodeDHCP(payload)
	if err != nil {
		t.log.Warnf("decoding dhcp payload: %v", err)
		return
	}

	var clientIP string
	switch pkt.MessageType() {
	case MsgOffer:
		clientIP = pkt.YIAddrString()
	case MsgDiscover:
		clientIP = pkt.RequestedIP()
	default:
		return
	}
	if clientIP == "" || clientIP == "0.0.0.0" {
		return
	}

	if err := t.pace.Tick(); err != nil {
		t.log.Warnf("suppressing rescan of %s: %v", clientIP, err)
		return
	}

	if err := t.onLease(clientIP); err != nil {
		t.log.Warnf("dhcp-triggered rescan of %s failed: %v", clientIP, err)
	}
}
