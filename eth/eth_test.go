package eth_test

import (
	"bytes"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stmeth/eth"
	"stmeth/eth/softmac"
	"stmeth/layers"
)

var testMAC = net.HardwareAddr{0x02, 0x33, 0x44, 0x55, 0x66, 0x77}

type capture struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), p...))
	return len(p), nil
}

func (c *capture) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func testOptions() *eth.Options {
	opts := eth.DefaultOptions
	opts.Delay = func(time.Duration) {}
	opts.AutoNegRetries = 3
	opts.MDIORetries = 100
	return &opts
}

func newDriver(t *testing.T, opts *eth.Options, link bool) (*eth.Driver, *softmac.MAC, *capture) {
	t.Helper()
	wire := &capture{}
	mac := softmac.New(wire, nil)
	mac.SetLink(link, true, true)
	if opts == nil {
		opts = testOptions()
	}
	d := eth.New(mac, opts)
	require.NoError(t, d.Init(testMAC))
	return d, mac, wire
}

func frame(dst net.HardwareAddr, marker byte, size int) []byte {
	f := make([]byte, size)
	layers.Ethernet(f).Make(dst, net.HardwareAddr{0x02, 0, 0, 0, 0, 0x99}, layers.EthernetTypeIPv4)
	for i := layers.LengthEthernet; i < size; i++ {
		f[i] = marker
	}
	return f
}

func TestDriver_Init(t *testing.T) {
	d, mac, _ := newDriver(t, nil, true)

	maccr := mac.ReadReg(eth.MACCR)
	for _, bit := range []uint32{eth.MACCR_FES, eth.MACCR_DM, eth.MACCR_IPCO, eth.MACCR_APCS, eth.MACCR_TE, eth.MACCR_RE} {
		assert.NotZero(t, maccr&bit, "MACCR bit %#x", bit)
	}
	omr := mac.ReadReg(eth.DMAOMR)
	assert.Equal(t, eth.DMAOMR_RSF|eth.DMAOMR_TSF|eth.DMAOMR_ST|eth.DMAOMR_SR, omr&(eth.DMAOMR_RSF|eth.DMAOMR_TSF|eth.DMAOMR_ST|eth.DMAOMR_SR))
	assert.Equal(t, testMAC, mac.HardwareAddr())
	assert.Equal(t, testMAC, d.HardwareAddr())

	imr, err := d.PHYReadReg(eth.PHY_IMR)
	require.NoError(t, err)
	assert.Equal(t, eth.PHY_INT_AUTONEGO_COMPLETE|eth.PHY_INT_LINK_DOWN, imr)

	tx, rx := d.Rings()
	assert.Equal(t, 4, tx.Len())
	assert.Equal(t, 4, rx.Len())
	for i := range rx.Descs {
		assert.Equal(t, eth.OwnerHardware, rx.Descs[i].Owner())
		assert.Equal(t, i == rx.Len()-1, rx.Descs[i].Ctrl&eth.RxDesc_RER != 0, "end of ring at %d", i)
	}
	for i := range tx.Descs {
		assert.Equal(t, eth.OwnerSoftware, tx.Descs[i].Owner())
	}

	assert.True(t, d.LinkUp())
	ls, err := d.LinkStatus()
	require.NoError(t, err)
	assert.Equal(t, "100M FD", ls.String())
}

func TestDriver_InitLinkDown(t *testing.T) {
	d, mac, _ := newDriver(t, nil, false)

	assert.False(t, d.LinkUp())
	assert.Zero(t, mac.ReadReg(eth.MACCR)&(eth.MACCR_FES|eth.MACCR_DM))
	assert.NotZero(t, mac.ReadReg(eth.MACCR)&eth.MACCR_TE)

	ls, err := d.LinkStatus()
	require.NoError(t, err)
	assert.Equal(t, "DOWN", ls.String())
}

func TestDriver_InitMDIOTimeout(t *testing.T) {
	mac := softmac.New(&capture{}, nil)
	mac.SetUnresponsive(true)

	d := eth.New(mac, testOptions())
	err := d.Init(testMAC)
	require.Error(t, err)
	assert.True(t, errors.Is(err, eth.ErrTimeout))

	_, err = d.Receive()
	assert.Equal(t, eth.ErrNotInitialized, err)
	assert.Equal(t, eth.ErrNotInitialized, d.Transmit(nil, []byte{1}))

	_, err = d.PHYReadReg(eth.PHY_BSR)
	assert.True(t, errors.Is(err, eth.ErrTimeout))
}

func TestDriver_InitInvalid(t *testing.T) {
	d := eth.New(softmac.New(&capture{}, nil), testOptions())
	assert.Error(t, d.Init(net.HardwareAddr{1, 2, 3}))

	opts := testOptions()
	opts.RxBufSize = 1522
	d = eth.New(softmac.New(&capture{}, nil), opts)
	assert.Error(t, d.Init(testMAC))
}

func TestDriver_TransmitTwoParts(t *testing.T) {
	d, mac, wire := newDriver(t, nil, true)

	f := frame(layers.BroadcastAddress, 0xab, 100)
	require.NoError(t, d.Transmit(f[:layers.LengthEthernet], f[layers.LengthEthernet:]))
	assert.False(t, d.TxDone())

	assert.Equal(t, 1, mac.ProcessTx())
	require.Len(t, wire.Frames(), 1)
	assert.Equal(t, f, wire.Frames()[0])
	assert.True(t, d.TxDone())

	require.NoError(t, d.Transmit(nil, f))
	mac.ProcessTx()
	require.Len(t, wire.Frames(), 2)
	assert.Equal(t, f, wire.Frames()[1])

	assert.Equal(t, uint64(2), d.Stats().Transmitted)
}

func TestDriver_TransmitTooLarge(t *testing.T) {
	d, _, _ := newDriver(t, nil, true)

	err := d.Transmit(make([]byte, 24), make([]byte, 1501))
	assert.True(t, errors.Is(err, eth.ErrFrameTooLarge))
	assert.NoError(t, d.Transmit(make([]byte, 24), make([]byte, 1500)))
}

func TestDriver_TxFullDrain(t *testing.T) {
	d, mac, wire := newDriver(t, nil, true)
	tx, _ := d.Rings()
	n := tx.Len()

	for i := 0; i < n; i++ {
		f := frame(layers.BroadcastAddress, byte(i), 64)
		require.NoError(t, d.Transmit(f[:layers.LengthEthernet], f[layers.LengthEthernet:]))
	}
	last := frame(layers.BroadcastAddress, byte(n), 64)
	assert.Equal(t, eth.ErrQueueFull, d.Transmit(last[:layers.LengthEthernet], last[layers.LengthEthernet:]))
	assert.Equal(t, uint64(1), d.Stats().QueueFull)
	assert.Equal(t, 0, tx.Cur())

	for i := range tx.Descs {
		assert.Equal(t, i == n-1, tx.Descs[i].Status()&eth.TxDesc_TER != 0, "end of ring at %d", i)
	}

	require.True(t, mac.StepTx())
	require.Len(t, wire.Frames(), 1)
	assert.Equal(t, byte(0), wire.Frames()[0][layers.LengthEthernet])

	require.NoError(t, d.Transmit(last[:layers.LengthEthernet], last[layers.LengthEthernet:]))
	assert.Equal(t, n, mac.ProcessTx())

	frames := wire.Frames()
	require.Len(t, frames, n+1)
	for i, f := range frames {
		assert.Equal(t, byte(i), f[layers.LengthEthernet], "frame %d out of order", i)
	}
}

func TestDriver_TxHeldWhileLinkDown(t *testing.T) {
	d, mac, wire := newDriver(t, nil, false)

	require.NoError(t, d.Transmit(nil, frame(layers.BroadcastAddress, 1, 60)))
	assert.Equal(t, 0, mac.ProcessTx())
	assert.False(t, d.TxDone())
	assert.Empty(t, wire.Frames())

	mac.SetLink(true, true, true)
	assert.Equal(t, 1, mac.ProcessTx())
	assert.True(t, d.TxDone())
}

func TestDriver_Receive(t *testing.T) {
	d, mac, _ := newDriver(t, nil, true)

	_, err := d.Receive()
	assert.Equal(t, eth.ErrNoFrame, err)

	f := frame(testMAC, 0x5a, 100)
	require.True(t, mac.Inject(f))

	got, err := d.Receive()
	require.NoError(t, err)
	assert.Equal(t, f, got)

	again, err := d.Receive()
	require.NoError(t, err)
	assert.Equal(t, got, again)

	_, rx := d.Rings()
	d.Release()
	assert.Equal(t, 1, rx.Cur())
	d.Release()
	assert.Equal(t, 1, rx.Cur())

	_, err = d.Receive()
	assert.Equal(t, eth.ErrNoFrame, err)
	assert.Equal(t, uint64(2), d.Stats().Received)
}

func TestDriver_ReceivePadded(t *testing.T) {
	d, mac, _ := newDriver(t, nil, true)

	f := frame(layers.BroadcastAddress, 1, 42)
	require.True(t, mac.Inject(f))

	got, err := d.Receive()
	require.NoError(t, err)
	assert.Len(t, got, 60)
	assert.Equal(t, f, got[:42])
	d.Release()
}

func TestDriver_AddressFilter(t *testing.T) {
	d, mac, _ := newDriver(t, nil, true)

	assert.False(t, mac.Inject(frame(net.HardwareAddr{0x02, 1, 1, 1, 1, 1}, 1, 60)))
	assert.Equal(t, uint64(1), mac.Stats().RxFiltered)

	mac.WriteReg(eth.MACFFR, eth.MACFFR_PM)
	assert.True(t, mac.Inject(frame(net.HardwareAddr{0x02, 1, 1, 1, 1, 1}, 1, 60)))
	_, err := d.Receive()
	assert.NoError(t, err)
}

func TestDriver_SetHardwareAddr(t *testing.T) {
	d, mac, _ := newDriver(t, nil, true)
	other := net.HardwareAddr{0x02, 0xaa, 0xbb, 0xcc, 0xdd, 0xee}

	assert.Error(t, d.SetHardwareAddr(other[:5]))
	require.NoError(t, d.SetHardwareAddr(other))
	assert.Equal(t, other, d.HardwareAddr())
	assert.Equal(t, other, mac.HardwareAddr())

	assert.False(t, mac.Inject(frame(testMAC, 1, 60)))
	assert.True(t, mac.Inject(frame(other, 2, 60)))
	got, err := d.Receive()
	require.NoError(t, err)
	assert.Equal(t, byte(2), got[layers.LengthEthernet])
}

func TestDriver_RxWraparound(t *testing.T) {
	d, mac, _ := newDriver(t, nil, true)
	_, rx := d.Rings()
	n := rx.Len()

	for round := 0; round < 2; round++ {
		for i := 0; i < n; i++ {
			require.Equal(t, i, rx.Cur())
			f := frame(testMAC, byte(i+1), 80)
			require.True(t, mac.Inject(f))

			got, err := d.Receive()
			require.NoError(t, err)
			assert.Equal(t, f, got)
			d.Release()
		}
		assert.Equal(t, 0, rx.Cur())
	}

	for i := range rx.Descs {
		assert.Equal(t, i == n-1, rx.Descs[i].Ctrl&eth.RxDesc_RER != 0)
	}
}

func TestDriver_RxOverrun(t *testing.T) {
	d, mac, _ := newDriver(t, nil, true)
	_, rx := d.Rings()

	for i := 0; i < rx.Len(); i++ {
		require.True(t, mac.Inject(frame(testMAC, byte(i), 60)))
	}
	assert.False(t, mac.Inject(frame(testMAC, 0xff, 60)))
	assert.Equal(t, uint64(1), mac.Stats().RxMissed)
	assert.NotZero(t, mac.ReadReg(eth.DMASR)&eth.DMASR_RBUS)

	got, err := d.Receive()
	require.NoError(t, err)
	assert.Equal(t, byte(0), got[layers.LengthEthernet])
	d.Release()
	assert.Zero(t, mac.ReadReg(eth.DMASR)&eth.DMASR_RBUS)
	assert.True(t, mac.Inject(frame(testMAC, 0xff, 60)))
}

func TestDriver_FrameErrorReleased(t *testing.T) {
	d, mac, _ := newDriver(t, nil, true)
	_, rx := d.Rings()

	require.True(t, mac.InjectBadFCS(frame(testMAC, 1, 60)))
	_, err := d.Receive()
	assert.Equal(t, eth.ErrFrameError, err)
	assert.Equal(t, eth.OwnerHardware, rx.Descs[0].Owner())
	assert.Equal(t, 1, rx.Cur())

	f := frame(testMAC, 2, 60)
	require.True(t, mac.Inject(f))
	got, err := d.Receive()
	require.NoError(t, err)
	assert.Equal(t, f, got)
	d.Release()
	assert.Equal(t, uint64(1), d.Stats().FrameErrors)
}

func TestDriver_SplitFrameIsError(t *testing.T) {
	opts := testOptions()
	opts.RxBufSize = 128
	d, mac, _ := newDriver(t, opts, true)
	_, rx := d.Rings()

	require.True(t, mac.Inject(frame(testMAC, 1, 200)))
	_, err := d.Receive()
	assert.Equal(t, eth.ErrFrameError, err)
	_, err = d.Receive()
	assert.Equal(t, eth.ErrFrameError, err)
	_, err = d.Receive()
	assert.Equal(t, eth.ErrNoFrame, err)

	assert.Equal(t, 2, rx.Cur())
	for i := range rx.Descs {
		assert.Equal(t, eth.OwnerHardware, rx.Descs[i].Owner())
	}
}

type snapshot map[int][]byte

// hardwareOwned records every DMA owned descriptor together with its
// buffer slot.
func hardwareOwned(r *eth.Ring) snapshot {
	s := snapshot{}
	for i := range r.Descs {
		if r.Descs[i].Owner() != eth.OwnerHardware {
			continue
		}
		b, _ := r.Descs[i].MarshalBinary()
		s[i] = append(b, r.Slot(i)...)
	}
	return s
}

func assertUntouched(t *testing.T, r *eth.Ring, before snapshot, op string) {
	t.Helper()
	for i, want := range before {
		b, _ := r.Descs[i].MarshalBinary()
		got := append(b, r.Slot(i)...)
		if !bytes.Equal(want, got) {
			t.Fatalf("%s wrote descriptor %d while DMA owned it", op, i)
		}
	}
}

func TestDriver_OwnershipInvariant(t *testing.T) {
	d, mac, wire := newDriver(t, nil, true)
	tx, rx := d.Rings()
	rnd := rand.New(rand.NewSource(1))

	outstanding := false
	sent, received := 0, 0
	for step := 0; step < 2000; step++ {
		switch rnd.Intn(5) {
		case 0:
			before := hardwareOwned(tx)
			f := frame(layers.BroadcastAddress, byte(step), 60+rnd.Intn(100))
			err := d.Transmit(f[:layers.LengthEthernet], f[layers.LengthEthernet:])
			if err != nil {
				require.Equal(t, eth.ErrQueueFull, err)
			} else {
				sent++
			}
			assertUntouched(t, tx, before, "transmit")
		case 1:
			mac.StepTx()
		case 2:
			if rnd.Intn(4) == 0 {
				mac.InjectBadFCS(frame(testMAC, byte(step), 60))
			} else {
				mac.Inject(frame(testMAC, byte(step), 60+rnd.Intn(100)))
			}
		case 3:
			before := hardwareOwned(rx)
			_, err := d.Receive()
			switch err {
			case nil:
				outstanding = true
			case eth.ErrNoFrame, eth.ErrFrameError:
			default:
				t.Fatalf("receive: %v", err)
			}
			assertUntouched(t, rx, before, "receive")
		case 4:
			before := hardwareOwned(rx)
			d.Release()
			if outstanding {
				received++
				outstanding = false
			}
			assertUntouched(t, rx, before, "release")
		}
	}
	mac.ProcessTx()
	assert.Len(t, wire.Frames(), sent)
	assert.Greater(t, received, 0)
}

func TestDriver_OnPHYInterrupt(t *testing.T) {
	d, mac, _ := newDriver(t, nil, false)

	mac.SetLink(true, true, true)
	select {
	case <-mac.IRQ():
	default:
		t.Fatal("no interrupt on link up")
	}
	isr, err := d.OnPHYInterrupt()
	require.NoError(t, err)
	assert.NotZero(t, isr&eth.PHY_INT_AUTONEGO_COMPLETE)

	maccr := mac.ReadReg(eth.MACCR)
	assert.NotZero(t, maccr&eth.MACCR_FES)
	assert.NotZero(t, maccr&eth.MACCR_DM)
	assert.NotZero(t, maccr&(eth.MACCR_TE|eth.MACCR_RE))

	mac.SetLink(true, false, false)
	<-mac.IRQ()
	_, err = d.OnPHYInterrupt()
	require.NoError(t, err)
	maccr = mac.ReadReg(eth.MACCR)
	assert.Zero(t, maccr&(eth.MACCR_FES|eth.MACCR_DM))
	assert.Equal(t, eth.MACCR_TE|eth.MACCR_RE, maccr&(eth.MACCR_TE|eth.MACCR_RE))

	mac.SetLink(false, false, false)
	<-mac.IRQ()
	isr, err = d.OnPHYInterrupt()
	require.NoError(t, err)
	assert.NotZero(t, isr&eth.PHY_INT_LINK_DOWN)
	assert.False(t, d.LinkUp())
	assert.Equal(t, uint64(3), d.Stats().PHYInterrupts)
}

func TestDesc_Binary(t *testing.T) {
	var d eth.Desc
	d.SetStatus(eth.TxDesc_OWN | eth.TxDesc_FS)
	d.Ctrl = 0x00400016
	d.Buf1 = 0x20000000
	d.Buf2 = 0x20000016

	b, err := d.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x90,
		0x16, 0x00, 0x40, 0x00,
		0x00, 0x00, 0x00, 0x20,
		0x16, 0x00, 0x00, 0x20,
	}, b)

	var e eth.Desc
	require.NoError(t, e.UnmarshalBinary(b))
	assert.Equal(t, eth.OwnerHardware, e.Owner())
	assert.Equal(t, d.Ctrl, e.Ctrl)
	assert.Error(t, e.UnmarshalBinary(b[:8]))
}
