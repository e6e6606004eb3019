package dhcpsniff

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildEthIPv4UDPFrame(udpPayload []byte) []byte {
	frame := make([]byte, 14+20+8+len(udpPayload))
	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv4)

	ipStart := 14
	frame[ipStart] = 0x45 // version 4, IHL 5
	frame[ipStart+9] = 17 // UDP
	copy(frame[ipStart+12:ipStart+16], []byte{192, 0, 2, 1})
	copy(frame[ipStart+16:ipStart+20], []byte{255, 255, 255, 255})

	udpStart := ipStart + 20
	copy(frame[udpStart+8:], udpPayload)
	return frame
}

func buildDHCPPayload(msgType MessageType, yiaddr [4]byte, requestedIP []byte) []byte {
	buf := make([]byte, dhcpFixedHeaderLen)
	binary.BigEndian.PutUint32(buf[4:8], 0xAABBCCDD)
	binary.BigEndian.PutUint16(buf[8:10], 7)
	copy(buf[16:20], yiaddr[:])
	binary.BigEndian.PutUint32(buf[236:240], dhcpMagicCookie)

	var opts []byte
	opts = append(opts, byte(OptMessageType), 1, byte(msgType))
	if requestedIP != nil {
		opts = append(opts, byte(OptRequestedIPAddress), 4)
		opts = append(opts, requestedIP...)
	}
	opts = append(opts, byte(OptEnd))
	return append(buf, opts...)
}

func TestDecodeEthernetIPv4UDPRejectsNonIPv4(t *testing.T) {
	frame := make([]byte, 64)
	binary.BigEndian.PutUint16(frame[12:14], 0x86DD)
	_, _, _, err := DecodeEthernetIPv4UDP(frame)
	require.ErrorIs(t, err, ErrNotIPv4)
}

func TestDecodeEthernetIPv4UDPRejectsNonUDP(t *testing.T) {
	frame := make([]byte, 64)
	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv4)
	frame[14] = 0x45
	frame[14+9] = 6 // TCP
	_, _, _, err := DecodeEthernetIPv4UDP(frame)
	require.ErrorIs(t, err, ErrNotUDP)
}

func TestDecodeDHCPReadsXIDAndSecsBigEndian(t *testing.T) {
	payload := buildDHCPPayload(MsgOffer, [4]byte{192, 0, 2, 50}, nil)
	pkt, err := DecodeDHCP(payload)
	require.NoError(t, err)
	require.Equal(t, uint32(0xAABBCCDD), pkt.XID)
	require.Equal(t, uint16(7), pkt.Secs)
}

func TestOfferMessageUsesYIAddr(t *testing.T) {
	payload := buildDHCPPayload(MsgOffer, [4]byte{192, 0, 2, 50}, nil)
	pkt, err := DecodeDHCP(payload)
	require.NoError(t, err)
	require.Equal(t, MsgOffer, pkt.MessageType())
	require.Equal(t, "192.0.2.50", pkt.YIAddrString())
}

func TestDiscoverMessageUsesRequestedIPOption(t *testing.T) {
	payload := buildDHCPPayload(MsgDiscover, [4]byte{}, []byte{192, 0, 2, 77})
	pkt, err := DecodeDHCP(payload)
	require.NoError(t, err)
	require.Equal(t, MsgDiscover, pkt.MessageType())
	require.Equal(t, "192.0.2.77", pkt.RequestedIP())
}

func TestDecodeOptionsPreservesUnknownCodes(t *testing.T) {
	opts, err := decodeOptions([]byte{200, 2, 0xAB, 0xCD, byte(OptEnd)})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	require.Equal(t, OptionCode(200), opts[0].Code)
	require.Equal(t, []byte{0xAB, 0xCD}, opts[0].Bytes)
}

func TestFullFrameDecodePipeline(t *testing.T) {
	dhcpPayload := buildDHCPPayload(MsgOffer, [4]byte{10, 0, 0, 5}, nil)
	frame := buildEthIPv4UDPFrame(dhcpPayload)

	payload, src, _, err := DecodeEthernetIPv4UDP(frame)
	require.NoError(t, err)
	require.Equal(t, [4]byte{192, 0, 2, 1}, src)

	pkt, err := DecodeDHCP(payload)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5", pkt.YIAddrString())
}
