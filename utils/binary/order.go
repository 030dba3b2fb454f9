// Package binary converts between host and network byte order for values
// handed to the kernel as integers, such as the protocol of an AF_PACKET
// socket.
package binary

import "unsafe"

func IsBigEndian() bool {
	var i uint16 = 0x0001
	return (*[2]byte)(unsafe.Pointer(&i))[0] == 0x00
}

func Swap16(i uint16) uint16 {
	return (i<<8)&0xff00 | i>>8
}

// Htons returns i in network byte order.
func Htons(i uint16) uint16 {
	if IsBigEndian() {
		return i
	}
	return Swap16(i)
}
