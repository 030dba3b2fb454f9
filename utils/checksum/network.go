package checksum

import (
	"encoding/binary"
	"net"
)

// TCPIPChecksum calculates the TCP/IP checksum defined in rfc1071. The
// passed-in baseCSum is any initial checksum data that's already been computed.
// GRE, ICMPv4, TCP/IP can use it.
func TCPIPChecksum(data []byte, baseCSum uint32) uint16 {
	length := len(data)
	for i := 0; i < length>>1; i++ {
		baseCSum += uint32(data[i*2])<<8 + uint32(data[i*2+1])
	}
	// odd trailing byte is padded with zero
	if length&0x01 == 0x01 {
		baseCSum += uint32(data[length-1]) << 8
	}
	for baseCSum > 0xffff {
		baseCSum = (baseCSum >> 16) + (baseCSum & 0xffff)
	}
	return ^uint16(baseCSum)
}

// PseudoHeaderSum returns the unfolded sum of the IPv4 pseudo header used as
// baseCSum for UDP and TCP.
func PseudoHeaderSum(src, dst net.IP, proto uint8, length uint16) uint32 {
	var sum uint32
	s, d := src.To4(), dst.To4()
	sum += uint32(binary.BigEndian.Uint16(s[0:2])) + uint32(binary.BigEndian.Uint16(s[2:4]))
	sum += uint32(binary.BigEndian.Uint16(d[0:2])) + uint32(binary.BigEndian.Uint16(d[2:4]))
	sum += uint32(proto)
	sum += uint32(length)
	return sum
}
