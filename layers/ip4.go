package layers

import (
	"encoding/binary"
	"net"
)

const (
	IPProtocolICMPv4 uint8 = 1
	IPProtocolIGMP   uint8 = 2
	IPProtocolIPv4   uint8 = 4
	IPProtocolTCP    uint8 = 6
	IPProtocolUDP    uint8 = 17
	IPProtocolIPv6   uint8 = 41
	IPProtocolGRE    uint8 = 47
	IPProtocolESP    uint8 = 50
	IPProtocolAH     uint8 = 51
	IPProtocolICMPv6 uint8 = 58
	IPProtocolOSPF   uint8 = 89
	IPProtocolSCTP   uint8 = 132
)

// IPv4 is the header of an IP packet.
//  struct iphdr {
//  	__u8	version:4,
//    		ihl:4;
//  	__u8	tos;
//  	__be16	tot_len;
//  	__be16	id;
//  	__be16	frag_off;
//  	__u8	ttl;
//  	__u8	protocol;
//  	__sum16	check;
//  	__be32	saddr;
//  	__be32	daddr;
//  	/*The options start here. */
//  };
type IPv4 []byte

const (
	LengthIPv4Min = 20
	LengthIPv4Max = 60

	// DefaultTTL is used by Make.
	DefaultTTL = 64
)

func (p IPv4) GetVersion() uint8 {
	return p[0] >> 4
}

func (p IPv4) SetVersion(i uint8) {
	p[0] = p[0]&0x0f | i<<4
}

// GetIHL returns the header length in bytes.
func (p IPv4) GetIHL() uint8 {
	return (p[0] & 0x0f) * 4
}

// SetIHL takes the header length in bytes.
func (p IPv4) SetIHL(i uint8) {
	p[0] = p[0]&0xf0 | (i/4)&0x0f
}

func (p IPv4) GetTOS() uint8 {
	return p[1]
}

func (p IPv4) SetTOS(i uint8) {
	p[1] = i
}

// GetTotalLen returns header plus payload length.
func (p IPv4) GetTotalLen() uint16 {
	return binary.BigEndian.Uint16(p[2:4])
}

func (p IPv4) SetTotalLen(i uint16) {
	binary.BigEndian.PutUint16(p[2:4], i)
}

func (p IPv4) GetID() uint16 {
	return binary.BigEndian.Uint16(p[4:6])
}

func (p IPv4) SetID(i uint16) {
	binary.BigEndian.PutUint16(p[4:6], i)
}

func (p IPv4) GetFragOff() uint16 {
	return binary.BigEndian.Uint16(p[6:8]) & 0x1fff
}

func (p IPv4) SetFragOff(i uint16) {
	v := binary.BigEndian.Uint16(p[6:8])&0xe000 | i&0x1fff
	binary.BigEndian.PutUint16(p[6:8], v)
}

func (p IPv4) GetTTL() uint8 {
	return p[8]
}

func (p IPv4) SetTTL(i uint8) {
	p[8] = i
}

func (p IPv4) GetProtocol() uint8 {
	return p[9]
}

func (p IPv4) SetProtocol(i uint8) {
	p[9] = i
}

func (p IPv4) GetChecksum() uint16 {
	return binary.BigEndian.Uint16(p[10:12])
}

func (p IPv4) SetChecksum(i uint16) {
	binary.BigEndian.PutUint16(p[10:12], i)
}

func (p IPv4) GetSrcAddr() net.IP {
	return net.IP(p[12:16])
}

func (p IPv4) SetSrcAddr(i net.IP) {
	copy(p[12:16], i.To4())
}

func (p IPv4) GetDstAddr() net.IP {
	return net.IP(p[16:20])
}

func (p IPv4) SetDstAddr(i net.IP) {
	copy(p[16:20], i.To4())
}

func (p IPv4) IsFlagReserved() bool {
	return p[6]&128 == 128
}

func (p IPv4) SetFlagReserved(b bool) {
	p.setFlag(128, b)
}

func (p IPv4) IsFlagDontFrag() bool {
	return p[6]&64 == 64
}

func (p IPv4) SetFlagDontFrag(b bool) {
	p.setFlag(64, b)
}

func (p IPv4) IsFlagMoreFrag() bool {
	return p[6]&32 == 32
}

func (p IPv4) SetFlagMoreFrag(b bool) {
	p.setFlag(32, b)
}

func (p IPv4) setFlag(mask byte, b bool) {
	if b {
		p[6] |= mask
	} else {
		p[6] &^= mask
	}
}

// PayloadLen is the total length minus the header length.
func (p IPv4) PayloadLen() uint16 {
	return p.GetTotalLen() - uint16(p.GetIHL())
}

// Payload returns the bytes after the header, bounded by the total length
// field when the slice holds that much.
func (p IPv4) Payload() []byte {
	end := int(p.GetTotalLen())
	if end > len(p) || end < int(p.GetIHL()) {
		end = len(p)
	}
	return p[p.GetIHL():end]
}

// Make writes a 20 byte header without options for a payload of payloadLen
// bytes. The identification field is left 0 and DF is set: the stack never
// fragments, so every datagram is atomic (RFC 6864). The checksum is left 0
// for the MAC to insert.
func (p IPv4) Make(payloadLen uint16, proto uint8, src, dst net.IP) {
	p[0] = 0
	p.SetVersion(4)
	p.SetIHL(LengthIPv4Min)
	p.SetTOS(0)
	p.SetTotalLen(payloadLen + LengthIPv4Min)
	p.SetID(0)
	binary.BigEndian.PutUint16(p[6:8], 0)
	p.SetFlagDontFrag(true)
	p.SetTTL(DefaultTTL)
	p.SetProtocol(proto)
	p.SetChecksum(0)
	p.SetSrcAddr(src)
	p.SetDstAddr(dst)
}
