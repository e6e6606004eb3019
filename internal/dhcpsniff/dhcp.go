// Package dhcpsniff is the DHCP Capture Trigger: a passive background
// worker that opens a live pcap capture filtered to `udp port 68` and
// hand-decodes the Ethernet/IPv4/UDP/DHCP stack per §4.5, grounded on
// ap_common/network's old dhcp.go TLV loop (reimplemented here against
// this spec's own option table and BOOTP big-endian field order) and
// bg/ap.watchd/sampler.go's capture-loop lifecycle shape.
package dhcpsniff

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"

	"netwatch/ap_common/network"
)

// ErrNotIPv4, ErrNotUDP and friends classify a frame this trigger can't
// or shouldn't decode further (§4.5 step 1-2).
var (
	ErrNotIPv4   = errors.New("ethertype is not ipv4")
	ErrNotUDP    = errors.New("ip protocol is not udp")
	ErrShortFrame = errors.New("frame too short to decode")
)

const (
	etherHeaderLen = 14
	etherTypeIPv4  = 0x0800

	dhcpFixedHeaderLen = 240
	dhcpMagicCookie    = 0x63825363
)

// OptionCode is a recognised (or unrecognised) DHCP option tag (§4.5).
type OptionCode byte

const (
	OptNetmask             OptionCode = 1
	OptRouter              OptionCode = 3
	OptDNSServer           OptionCode = 6
	OptHostName            OptionCode = 12
	OptDomainName          OptionCode = 15
	OptRequestedIPAddress  OptionCode = 50
	OptLeaseTime           OptionCode = 51
	OptMessageType         OptionCode = 53
	OptDHCPServer          OptionCode = 54
	OptVendorIdentifier    OptionCode = 60
	OptEnd                 OptionCode = 255
)

// MessageType is the decoded value of option 53.
type MessageType byte

const (
	MsgUnknown   MessageType = 0
	MsgDiscover  MessageType = 1
	MsgOffer     MessageType = 2
	MsgRequest   MessageType = 3
	MsgDecline   MessageType = 4
	MsgAck       MessageType = 5
	MsgNak       MessageType = 6
	MsgRelease   MessageType = 7
	MsgInform    MessageType = 8
)

// Option is one decoded TLV; unrecognised codes are preserved verbatim
// rather than dropped (§4.5).
type Option struct {
	Code  OptionCode
	Bytes []byte
}

// Packet is the fully-decoded DHCP message this trigger acts on.
type Packet struct {
	Op      byte
	XID     uint32
	Secs    uint16
	CIAddr  [4]byte
	YIAddr  [4]byte
	SIAddr  [4]byte
	GIAddr  [4]byte
	CHAddr  [16]byte
	Options []Option
}

// MessageType returns the decoded option 53 value, or MsgUnknown if
// absent.
func (p *Packet) MessageType() MessageType {
	for _, o := range p.Options {
		if o.Code == OptMessageType && len(o.Bytes) == 1 {
			return MessageType(o.Bytes[0])
		}
	}
	return MsgUnknown
}

// YIAddrString returns the "your IP address" field as a dotted-quad
// string — the client IP on an Offer packet (§4.5 message dispatch).
func (p *Packet) YIAddrString() string {
	return net.IP(p.YIAddr[:]).String()
}

// RequestedIP returns the decoded option 50 value as a dotted-quad
// string, or "" if absent.
func (p *Packet) RequestedIP() string {
	for _, o := range p.Options {
		if o.Code == OptRequestedIPAddress && len(o.Bytes) == 4 {
			return net.IP(o.Bytes).String()
		}
	}
	return ""
}

// DecodeEthernetIPv4UDP walks §4.5 steps 1-3 and returns the UDP payload
// (the DHCP message) plus the source IP, or an error classifying why the
// frame was rejected.
func DecodeEthernetIPv4UDP(frame []byte) (payload []byte, srcIP [4]byte, dstIP [4]byte, err error) {
	if len(frame) < etherHeaderLen+20+8 {
		return nil, srcIP, dstIP, ErrShortFrame
	}

	etherType := binary.BigEndian.Uint16(frame[12:14])
	if etherType != etherTypeIPv4 {
		return nil, srcIP, dstIP, ErrNotIPv4
	}

	ipStart := etherHeaderLen
	ihl := int(frame[ipStart] & 0x0F)
	ipHeaderLen := ihl * 4
	if len(frame) < ipStart+ipHeaderLen+8 {
		return nil, srcIP, dstIP, ErrShortFrame
	}
	if frame[ipStart+9] != 17 {
		return nil, srcIP, dstIP, ErrNotUDP
	}
	// Decoded through network.Uint32ToIPAddr rather than a raw
	// slice copy, matching how the Route Resolver's callers expect IPv4
	// addresses to travel through this package.
	srcWord := binary.BigEndian.Uint32(frame[ipStart+12 : ipStart+16])
	dstWord := binary.BigEndian.Uint32(frame[ipStart+16 : ipStart+20])
	copy(srcIP[:], network.Uint32ToIPAddr(srcWord).To4())
	copy(dstIP[:], network.Uint32ToIPAddr(dstWord).To4())

	udpStart := ipStart + ipHeaderLen
	udpPayloadStart := udpStart + 8
	if len(frame) < udpPayloadStart {
		return nil, srcIP, dstIP, ErrShortFrame
	}
	return frame[udpPayloadStart:], srcIP, dstIP, nil
}

// DecodeDHCP parses the fixed 240-byte header plus TLV options per §4.5
// step 4. xid and secs are read big-endian (BOOTP network byte order);
// the source this spec is grounded on misread them little-endian (§9).
func DecodeDHCP(payload []byte) (*Packet, error) {
	if len(payload) < dhcpFixedHeaderLen {
		return nil, ErrShortFrame
	}

	p := &Packet{
		Op:   payload[0],
		XID:  binary.BigEndian.Uint32(payload[4:8]),
		Secs: binary.BigEndian.Uint16(payload[8:10]),
	}
	copy(p.CIAddr[:], payload[12:16])
	copy(p.YIAddr[:], payload[16:20])
	copy(p.SIAddr[:], payload[20:24])
	copy(p.GIAddr[:], payload[24:28])
	copy(p.CHAddr[:], payload[28:44])

	cookie := binary.BigEndian.Uint32(payload[236:240])
	if cookie != dhcpMagicCookie {
		return p, nil
	}

	opts, err := decodeOptions(payload[dhcpFixedHeaderLen:])
	if err != nil {
		return nil, err
	}
	p.Options = opts
	return p, nil
}

// decodeOptions walks the code/len/value TLV loop until option 255 (End)
// or buffer exhaustion, preserving unrecognised codes verbatim (§4.5).
func decodeOptions(buf []byte) ([]Option, error) {
	var opts []Option
	i := 0
	for i < len(buf) {
		code := OptionCode(buf[i])
		if code == OptEnd {
			break
		}
		if code == 0 { // pad
			i++
			continue
		}
		if i+1 >= len(buf) {
			break
		}
		length := int(buf[i+1])
		start := i + 2
		end := start + length
		if end > len(buf) {
			break
		}
		opts = append(opts, Option{Code: code, Bytes: append([]byte{}, buf[start:end]...)})
		i = end
	}
	return opts, nil
}
