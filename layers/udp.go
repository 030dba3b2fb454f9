package layers

import "encoding/binary"

// struct udphdr {
//	__be16	source;
//	__be16	dest;
//	__be16	len;
//	__sum16	check;
// };

type UDP []byte

const LengthUDP = 8

func (u UDP) GetSrcPort() uint16 {
	return binary.BigEndian.Uint16(u[0:2])
}

func (u UDP) SetSrcPort(p uint16) {
	binary.BigEndian.PutUint16(u[0:2], p)
}

func (u UDP) GetDstPort() uint16 {
	return binary.BigEndian.Uint16(u[2:4])
}

func (u UDP) SetDstPort(p uint16) {
	binary.BigEndian.PutUint16(u[2:4], p)
}

// GetLen returns header plus payload length.
func (u UDP) GetLen() uint16 {
	return binary.BigEndian.Uint16(u[4:6])
}

func (u UDP) SetLen(l uint16) {
	binary.BigEndian.PutUint16(u[4:6], l)
}

func (u UDP) GetChecksum() uint16 {
	return binary.BigEndian.Uint16(u[6:8])
}

func (u UDP) SetChecksum(l uint16) {
	binary.BigEndian.PutUint16(u[6:8], l)
}

func (u UDP) PayloadLen() uint16 {
	return u.GetLen() - LengthUDP
}

// Make fills the header for payloadLen bytes of data. The checksum is left
// for the MAC.
func (u UDP) Make(srcPort, dstPort, payloadLen uint16) {
	u.SetSrcPort(srcPort)
	u.SetDstPort(dstPort)
	u.SetLen(payloadLen + LengthUDP)
	u.SetChecksum(0)
}
