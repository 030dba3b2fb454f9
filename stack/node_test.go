package stack_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	glayers "github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stmeth/eth"
	"stmeth/eth/softmac"
	"stmeth/pkg/timer"
	"stmeth/stack"
	"stmeth/utils/checksum"
)

type wire struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *wire) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte(nil), p...))
	return len(p), nil
}

func (w *wire) take() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	f := w.frames
	w.frames = nil
	return f
}

func newNode(t *testing.T) (*stack.Stack, *softmac.MAC, *wire) {
	t.Helper()
	w := &wire{}
	mac := softmac.New(w, &softmac.Options{MDIOLatency: 1, Logger: quietLogger()})
	mac.SetLink(true, true, true)

	opts := eth.DefaultOptions
	opts.Delay = func(time.Duration) {}
	opts.Logger = quietLogger()
	d := eth.New(mac, &opts)
	require.NoError(t, d.Init(myMAC))

	s, err := stack.New(d, timer.NewClock(), stack.Config{
		IP:      myIP,
		Netmask: netmask,
		MAC:     myMAC,
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	return s, mac, w
}

func TestNode_PingedThroughMAC(t *testing.T) {
	s, mac, w := newNode(t)

	require.True(t, mac.Inject(arpFrame(t, glayers.ARPRequest, peerIP, myIP)))
	require.True(t, s.Poll())
	mac.ProcessTx()
	out := w.take()
	require.Len(t, out, 1)
	a := decode(t, out[0]).Layer(glayers.LayerTypeARP).(*glayers.ARP)
	assert.Equal(t, uint16(glayers.ARPReply), a.Operation)
	// padded to the minimum frame length by the MAC
	assert.Len(t, out[0], 60)

	data := []byte("ping through the DMA rings")
	require.True(t, mac.Inject(echoRequest(t, 0x1234, 9, data)))
	require.True(t, s.Poll())
	assert.Equal(t, 1, mac.ProcessTx())
	out = w.take()
	require.Len(t, out, 1)

	p := decode(t, out[0])
	ip := p.Layer(glayers.LayerTypeIPv4).(*glayers.IPv4)
	icmp := p.Layer(glayers.LayerTypeICMPv4).(*glayers.ICMPv4)
	assert.Equal(t, uint8(glayers.ICMPv4TypeEchoReply), icmp.TypeCode.Type())
	assert.Equal(t, uint16(0x1234), icmp.Id)
	assert.Equal(t, uint16(9), icmp.Seq)
	assert.Equal(t, data, icmp.Payload)

	// checksums inserted by the MAC verify to zero
	assert.Zero(t, checksum.TCPIPChecksum(ip.Contents, 0))
	assert.Zero(t, checksum.TCPIPChecksum(out[0][14+20:14+20+8+len(data)], 0))

	assert.False(t, s.Poll())
	assert.Equal(t, uint64(2), s.Stats().Received)
}

func TestNode_UDPChecksumOffload(t *testing.T) {
	s, mac, w := newNode(t)
	require.True(t, mac.Inject(arpFrame(t, glayers.ARPRequest, peerIP, myIP)))
	s.Poll()
	mac.ProcessTx()
	w.take()

	require.NoError(t, s.SendUDP(peerIP, 0, 9000, []byte("odd")))
	mac.ProcessTx()
	out := w.take()
	require.Len(t, out, 1)

	p := decode(t, out[0])
	ip := p.Layer(glayers.LayerTypeIPv4).(*glayers.IPv4)
	udp := p.Layer(glayers.LayerTypeUDP).(*glayers.UDP)
	require.NotZero(t, udp.Checksum)

	want := glayers.UDP{SrcPort: udp.SrcPort, DstPort: udp.DstPort}
	require.NoError(t, want.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &want, gopacket.Payload("odd")))
	assert.Equal(t, buf.Bytes()[6:8], out[0][14+20+6:14+20+8])
}
