// Package raw is an AF_PACKET wire: whole Ethernet frames to and from an
// existing interface, for running a node on a veth or bridge port instead
// of a TAP.
package raw

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"stmeth/utils/binary"
)

var ErrTruncated = errors.New("raw: frame larger than buffer")

// Socket is an io.ReadWriteCloser of frames seen on one interface. Frames
// the socket sends itself are not read back.
type Socket struct {
	fd        int
	linkLayer unix.SockaddrLinklayer
}

func Open(interfaceName string) (*Socket, error) {
	iface, err := net.InterfaceByName(interfaceName)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	proto := binary.Htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, errors.Wrap(err, "open packet socket failed")
	}

	ll := unix.SockaddrLinklayer{
		Protocol: proto,
		Ifindex:  iface.Index,
		Halen:    6,
	}
	if err = unix.Bind(fd, &ll); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind to %s failed", interfaceName)
	}

	return &Socket{fd: fd, linkLayer: ll}, nil
}

func (s *Socket) Read(buf []byte) (int, error) {
	for {
		n, from, err := unix.Recvfrom(s.fd, buf, unix.MSG_TRUNC)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, errors.WithStack(err)
		}
		if ll, ok := from.(*unix.SockaddrLinklayer); ok && ll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}
		if n > len(buf) {
			return 0, errors.WithStack(ErrTruncated)
		}
		return n, nil
	}
}

func (s *Socket) Write(buf []byte) (int, error) {
	if err := unix.Sendto(s.fd, buf, 0, &s.linkLayer); err != nil {
		return 0, errors.WithStack(err)
	}
	return len(buf), nil
}

func (s *Socket) Close() error {
	return unix.Close(s.fd)
}
