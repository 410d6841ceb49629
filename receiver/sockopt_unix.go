//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package receiver

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl sets SO_REUSEADDR, plus SO_REUSEPORT for multicast
// sockets so several receivers can share the group port.
func socketControl(multicast bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if opErr == nil && multicast {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}

// joinGroup adds the socket to an IPv4 multicast group on any interface
// and turns off loopback of locally sent multicast traffic.
func joinGroup(pc net.PacketConn, group net.IP) error {
	sc, ok := pc.(syscall.Conn)
	if !ok {
		return errUnsupportedConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.To4())

	var opErr error
	err = raw.Control(func(fd uintptr) {
		opErr = unix.SetsockoptIPMreq(int(fd), unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
		if opErr == nil {
			opErr = unix.SetsockoptByte(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 0)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
