package layers

import "encoding/binary"

const (
	ICMPv4TypeEchoReply              = 0
	ICMPv4TypeDestinationUnreachable = 3
	ICMPv4TypeSourceQuench           = 4
	ICMPv4TypeRedirect               = 5
	ICMPv4TypeEchoRequest            = 8
	ICMPv4TypeRouterAdvertisement    = 9
	ICMPv4TypeRouterSolicitation     = 10
	ICMPv4TypeTimeExceeded           = 11
	ICMPv4TypeParameterProblem       = 12
	ICMPv4TypeTimestampRequest       = 13
	ICMPv4TypeTimestampReply         = 14
)

const (
	// DestinationUnreachable
	ICMPv4CodeNet                 = 0
	ICMPv4CodeHost                = 1
	ICMPv4CodeProtocol            = 2
	ICMPv4CodePort                = 3
	ICMPv4CodeFragmentationNeeded = 4
	ICMPv4CodeSourceRoutingFailed = 5

	// TimeExceeded
	ICMPv4CodeTTLExceeded                    = 0
	ICMPv4CodeFragmentReassemblyTimeExceeded = 1
)

// ICMPv4 is the 8 byte ICMP header: type, code, checksum and a 4 byte data
// word which echo messages split into identifier and sequence.
type ICMPv4 []byte

const LengthICMPv4 = 8

func (i ICMPv4) GetType() uint8 {
	return i[0]
}

func (i ICMPv4) SetType(u uint8) {
	i[0] = u
}

func (i ICMPv4) GetCode() uint8 {
	return i[1]
}

func (i ICMPv4) SetCode(u uint8) {
	i[1] = u
}

func (i ICMPv4) GetChecksum() uint16 {
	return binary.BigEndian.Uint16(i[2:4])
}

func (i ICMPv4) SetChecksum(u uint16) {
	binary.BigEndian.PutUint16(i[2:4], u)
}

// GetData returns the rest-of-header word.
func (i ICMPv4) GetData() uint32 {
	return binary.BigEndian.Uint32(i[4:8])
}

func (i ICMPv4) SetData(u uint32) {
	binary.BigEndian.PutUint32(i[4:8], u)
}

func (i ICMPv4) GetID() uint16 {
	return binary.BigEndian.Uint16(i[4:6])
}

func (i ICMPv4) SetID(u uint16) {
	binary.BigEndian.PutUint16(i[4:6], u)
}

func (i ICMPv4) GetSequence() uint16 {
	return binary.BigEndian.Uint16(i[6:8])
}

func (i ICMPv4) SetSequence(u uint16) {
	binary.BigEndian.PutUint16(i[6:8], u)
}

// Make fills the header with a zero checksum, which the MAC inserts.
func (i ICMPv4) Make(typ, code uint8, data uint32) {
	i.SetType(typ)
	i.SetCode(code)
	i.SetChecksum(0)
	i.SetData(data)
}
