//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package receiver

import (
	"errors"
	"net"
	"syscall"
)

func socketControl(multicast bool) func(network, address string, c syscall.RawConn) error {
	return nil
}

func joinGroup(pc net.PacketConn, group net.IP) error {
	return errors.New("multicast is not supported on this platform")
}
