package layers

import "encoding/binary"

//struct tcphdr {
//	__be16	source;
//	__be16	dest;
//	__be32	seq;
//	__be32	ack_seq;
//	__u16	doff:4,
//		res1:4,
//		cwr:1,
//		ece:1,
//		urg:1,
//		ack:1,
//		psh:1,
//		rst:1,
//		syn:1,
//		fin:1;
//	__be16	window;
//	__sum16	check;
//	__be16	urg_ptr;
//};

// TCP is a read-mostly view; the stack parses the header for logging and
// unreachable replies but keeps no connection state.
type TCP []byte

const (
	LengthTCPMin = 20
	LengthTCPMax = 60
)

const (
	TCPFlagFin uint8 = 1 << iota
	TCPFlagSyn
	TCPFlagRst
	TCPFlagPsh
	TCPFlagAck
	TCPFlagUrg
	TCPFlagECE
	TCPFlagCWR
)

func (t TCP) GetSrcPort() uint16 {
	return binary.BigEndian.Uint16(t[0:2])
}

func (t TCP) SetSrcPort(p uint16) {
	binary.BigEndian.PutUint16(t[0:2], p)
}

func (t TCP) GetDstPort() uint16 {
	return binary.BigEndian.Uint16(t[2:4])
}

func (t TCP) SetDstPort(p uint16) {
	binary.BigEndian.PutUint16(t[2:4], p)
}

func (t TCP) GetSeq() uint32 {
	return binary.BigEndian.Uint32(t[4:8])
}

func (t TCP) SetSeq(seq uint32) {
	binary.BigEndian.PutUint32(t[4:8], seq)
}

func (t TCP) GetAckSeq() uint32 {
	return binary.BigEndian.Uint32(t[8:12])
}

func (t TCP) SetAckSeq(seq uint32) {
	binary.BigEndian.PutUint32(t[8:12], seq)
}

// GetDataOffset returns the header length in bytes.
func (t TCP) GetDataOffset() uint8 {
	return (t[12] >> 4) * 4
}

// SetDataOffset takes the header length in bytes.
func (t TCP) SetDataOffset(i uint8) {
	t[12] = t[12]&0x0f | (i/4)<<4
}

func (t TCP) GetFlags() uint8 {
	return t[13]
}

func (t TCP) SetFlags(f uint8) {
	t[13] = f
}

func (t TCP) HasFlags(f uint8) bool {
	return t[13]&f == f
}

func (t TCP) GetWindow() uint16 {
	return binary.BigEndian.Uint16(t[14:16])
}

func (t TCP) SetWindow(w uint16) {
	binary.BigEndian.PutUint16(t[14:16], w)
}

func (t TCP) GetChecksum() uint16 {
	return binary.BigEndian.Uint16(t[16:18])
}

func (t TCP) SetChecksum(c uint16) {
	binary.BigEndian.PutUint16(t[16:18], c)
}

func (t TCP) GetUrgPointer() uint16 {
	return binary.BigEndian.Uint16(t[18:20])
}

func (t TCP) SetUrgPointer(w uint16) {
	binary.BigEndian.PutUint16(t[18:20], w)
}
