package binary

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestSwap16(t *testing.T) {
	assert.Equal(t, uint16(0x0300), Swap16(3))
	assert.Equal(t, uint16(0x3412), Swap16(0x1234))
}

func TestHtons(t *testing.T) {
	v := Htons(0x1234)
	b := (*[2]byte)(unsafe.Pointer(&v))
	assert.Equal(t, []byte{0x12, 0x34}, b[:])
}
