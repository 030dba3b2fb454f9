package eth

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Owner tells which side may touch a descriptor and its buffer.
type Owner uint8

const (
	OwnerSoftware Owner = iota
	OwnerHardware
)

func (o Owner) String() string {
	if o == OwnerHardware {
		return "dma"
	}
	return "cpu"
}

// RxState is the state of a receive descriptor as seen by the driver.
type RxState uint8

const (
	// RxEmpty: still owned by DMA, nothing received yet.
	RxEmpty RxState = iota
	// RxFrame: a complete error free frame sits in the buffer.
	RxFrame
	// RxError: DMA gave the descriptor back with an error or a partial frame.
	RxError
)

// LengthDesc is the size of a descriptor in memory.
const LengthDesc = 16

// Desc is a normal (non enhanced) DMA descriptor. The status word is the
// handoff point between CPU and DMA and is only accessed atomically; Ctrl and
// the buffer addresses are written by the owner before status flips.
// Buffer addresses are offsets into the owning Ring's Mem.
type Desc struct {
	status uint32
	Ctrl   uint32
	Buf1   uint32
	Buf2   uint32
}

func (d *Desc) Status() uint32 {
	return atomic.LoadUint32(&d.status)
}

// SetStatus publishes the status word, and with it every other field.
func (d *Desc) SetStatus(s uint32) {
	atomic.StoreUint32(&d.status, s)
}

// Owner is the same bit position for TX and RX descriptors.
func (d *Desc) Owner() Owner {
	if d.Status()&TxDesc_OWN != 0 {
		return OwnerHardware
	}
	return OwnerSoftware
}

func (d *Desc) RxState() RxState {
	s := d.Status()
	switch {
	case s&RxDesc_OWN != 0:
		return RxEmpty
	case s&(RxDesc_LS|RxDesc_FS|RxDesc_ES) != RxDesc_LS|RxDesc_FS:
		return RxError
	}
	return RxFrame
}

// FrameLength returns the RDES0 frame length field, CRC included.
func (d *Desc) FrameLength() int {
	return int(d.Status()&RxDesc_FL) >> RxDesc_FLShift
}

// MarshalBinary encodes the descriptor as the MCU lays it out in SRAM.
func (d *Desc) MarshalBinary() ([]byte, error) {
	b := make([]byte, LengthDesc)
	binary.LittleEndian.PutUint32(b[0:4], d.Status())
	binary.LittleEndian.PutUint32(b[4:8], d.Ctrl)
	binary.LittleEndian.PutUint32(b[8:12], d.Buf1)
	binary.LittleEndian.PutUint32(b[12:16], d.Buf2)
	return b, nil
}

func (d *Desc) UnmarshalBinary(b []byte) error {
	if len(b) != LengthDesc {
		return errors.Errorf("eth: descriptor is %d bytes, got %d", LengthDesc, len(b))
	}
	d.Ctrl = binary.LittleEndian.Uint32(b[4:8])
	d.Buf1 = binary.LittleEndian.Uint32(b[8:12])
	d.Buf2 = binary.LittleEndian.Uint32(b[12:16])
	d.SetStatus(binary.LittleEndian.Uint32(b[0:4]))
	return nil
}

// Ring is a descriptor list plus the buffer memory its descriptors point
// into, one BufSize slot per descriptor.
type Ring struct {
	Descs   []Desc
	Mem     []byte
	BufSize int

	cur int
}

func newRing(n, bufSize int) *Ring {
	return &Ring{
		Descs:   make([]Desc, n),
		Mem:     make([]byte, n*bufSize),
		BufSize: bufSize,
	}
}

func (r *Ring) Len() int {
	return len(r.Descs)
}

// Cur is the software cursor: the next descriptor the driver will use.
func (r *Ring) Cur() int {
	return r.cur
}

// Next returns the index following i, wrapping at the end of the ring.
func (r *Ring) Next(i int) int {
	return (i + 1) % len(r.Descs)
}

func (r *Ring) advance() {
	r.cur = r.Next(r.cur)
}

// Slot returns the buffer memory reserved for descriptor i.
func (r *Ring) Slot(i int) []byte {
	return r.Mem[i*r.BufSize : (i+1)*r.BufSize]
}

// Buffer returns n bytes of ring memory at addr, or nil if that range is
// outside the ring.
func (r *Ring) Buffer(addr uint32, n int) []byte {
	end := int(addr) + n
	if n < 0 || end > len(r.Mem) {
		return nil
	}
	return r.Mem[addr:end]
}
