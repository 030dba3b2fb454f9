package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"stmeth/pkg/tap"
)

func TestReservedPHYReg(t *testing.T) {
	var dumped []uint16
	for reg := uint16(0); reg < 32; reg++ {
		if !reservedPHYReg(reg) {
			dumped = append(dumped, reg)
		}
	}
	assert.Equal(t, []uint16{0, 1, 2, 3, 4, 5, 6, 17, 18, 26, 27, 29, 30, 31}, dumped)
}

func TestCommandsNamed(t *testing.T) {
	names := map[string]bool{}
	for _, c := range commands {
		assert.False(t, names[c.Name], c.Name)
		assert.NotEmpty(t, c.Help, c.Name)
		names[c.Name] = true
	}
	for _, want := range []string{"stat", "phyregs", "ping", "udp", "arp", "arptable", "logmask", "link"} {
		assert.True(t, names[want], want)
	}
}

func TestTapWireHasHostMAC(t *testing.T) {
	var wire io.ReadWriteCloser = &tap.Device{}
	_, ok := wire.(hardwareAddresser)
	assert.True(t, ok)
}
