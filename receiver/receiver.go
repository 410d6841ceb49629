// Package receiver listens for carbon plaintext traffic on UDP (unicast or
// multicast) and TCP and hands out raw buffers one at a time.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultPort      = 2003
	DefaultIPv4Group = "239.192.74.66"
	DefaultIPv6Group = "ff18::efc0:4a42"

	// BufferSize bounds every read. Carbon truncates lines longer than
	// 400 characters, so longer input is cut here and never reassembled.
	BufferSize = 445
)

var (
	ErrNoTransport              = errors.New("receiver: you must define a TCP or a UDP connection")
	ErrIPv6MulticastUnsupported = errors.New("receiver: IPv6 multicast is not implemented")
	ErrClosed                   = errors.New("receiver: closed")

	errUnsupportedConn = errors.New("connection does not expose its file descriptor")
)

type UDPConfig struct {
	// Host is the address to bind, or the multicast group to join. Empty
	// means DefaultIPv4Group with Multicast forced on.
	Host      string
	Port      int
	Multicast bool
}

type TCPConfig struct {
	Host string
	Port int
}

// Receiver multiplexes a UDP socket and a TCP listener. Each transport is
// read by its own goroutine which holds at most one buffer until Receive
// takes it.
type Receiver struct {
	udp net.PacketConn
	tcp net.Listener

	buffers chan []byte
	errs    chan error
	closed  chan struct{}

	// conn is the accepted TCP connection being read, closed by Close.
	connMu sync.Mutex
	conn   net.Conn

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New binds the configured transports. A nil config disables the
// transport. Any bind failure closes what was already opened.
func New(udp *UDPConfig, tcp *TCPConfig) (*Receiver, error) {
	if udp == nil && tcp == nil {
		return nil, ErrNoTransport
	}

	r := &Receiver{
		buffers: make(chan []byte),
		errs:    make(chan error, 2),
		closed:  make(chan struct{}),
	}

	if tcp != nil {
		l, err := listenTCP(tcp)
		if err != nil {
			return nil, err
		}
		r.tcp = l
	}

	if udp != nil {
		pc, err := listenUDP(udp)
		if err != nil {
			if r.tcp != nil {
				r.tcp.Close()
			}
			return nil, err
		}
		r.udp = pc
	}

	if r.tcp != nil {
		r.wg.Add(1)
		go r.tcpLoop()
	}
	if r.udp != nil {
		r.wg.Add(1)
		go r.udpLoop()
	}
	return r, nil
}

func isIPv6(host string) bool {
	return strings.Contains(host, ":")
}

func listenTCP(cfg *TCPConfig) (net.Listener, error) {
	network := "tcp"
	if isIPv6(cfg.Host) {
		network = "tcp6"
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	lc := net.ListenConfig{Control: socketControl(false)}
	l, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, fmt.Errorf("receiver: listen tcp %s: %w", addr, err)
	}
	log.Infof("listening for carbon on tcp %s", l.Addr())
	return l, nil
}

func listenUDP(cfg *UDPConfig) (net.PacketConn, error) {
	host, multicast := cfg.Host, cfg.Multicast
	if host == "" {
		host, multicast = DefaultIPv4Group, true
	}

	network, bindHost := "udp", host
	if isIPv6(host) {
		network = "udp6"
	}
	var group net.IP
	if multicast {
		if isIPv6(host) {
			return nil, ErrIPv6MulticastUnsupported
		}
		group = net.ParseIP(host).To4()
		if group == nil || !group.IsMulticast() {
			return nil, fmt.Errorf("receiver: %q is not an IPv4 multicast group", host)
		}
		network, bindHost = "udp4", ""
	}

	addr := net.JoinHostPort(bindHost, strconv.Itoa(cfg.Port))
	lc := net.ListenConfig{Control: socketControl(multicast)}
	pc, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, fmt.Errorf("receiver: listen udp %s: %w", addr, err)
	}

	if multicast {
		if err := joinGroup(pc, group); err != nil {
			pc.Close()
			return nil, fmt.Errorf("receiver: join multicast group %s: %w", group, err)
		}
	}
	log.Infof("listening for carbon on udp %s (multicast=%t)", pc.LocalAddr(), multicast)
	return pc, nil
}

// Receive blocks until one of the transports produced a buffer. There is
// no timeout; Close unblocks it with ErrClosed.
func (r *Receiver) Receive() ([]byte, error) {
	select {
	case buf := <-r.buffers:
		return buf, nil
	case err := <-r.errs:
		return nil, err
	case <-r.closed:
		return nil, ErrClosed
	}
}

// Close releases both sockets and waits for the readers to exit. It is
// safe to call more than once.
func (r *Receiver) Close() error {
	var errs []error
	r.closeOnce.Do(func() {
		r.connMu.Lock()
		close(r.closed)
		if r.conn != nil {
			r.conn.Close()
		}
		r.connMu.Unlock()
		if r.tcp != nil {
			if err := r.tcp.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if r.udp != nil {
			if err := r.udp.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	r.wg.Wait()
	return errors.Join(errs...)
}

// UDPAddr returns the bound UDP address, or nil.
func (r *Receiver) UDPAddr() net.Addr {
	if r.udp == nil {
		return nil
	}
	return r.udp.LocalAddr()
}

// TCPAddr returns the bound TCP address, or nil.
func (r *Receiver) TCPAddr() net.Addr {
	if r.tcp == nil {
		return nil
	}
	return r.tcp.Addr()
}

func (r *Receiver) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *Receiver) fail(err error) {
	if r.isClosed() {
		return
	}
	select {
	case r.errs <- err:
	default:
	}
}

func (r *Receiver) deliver(buf []byte) bool {
	select {
	case r.buffers <- buf:
		return true
	case <-r.closed:
		return false
	}
}

// tcpLoop accepts a connection, does exactly one bounded read from it
// and closes it.
func (r *Receiver) tcpLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.tcp.Accept()
		if err != nil {
			r.fail(fmt.Errorf("receiver: accept: %w", err))
			return
		}
		if !r.track(conn) {
			conn.Close()
			return
		}
		buf := make([]byte, BufferSize)
		n, err := conn.Read(buf)
		r.track(nil)
		conn.Close()
		if r.isClosed() {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			r.fail(fmt.Errorf("receiver: read tcp %s: %w", conn.RemoteAddr(), err))
			return
		}
		if n == 0 {
			continue
		}
		if !r.deliver(buf[:n]) {
			return
		}
	}
}

// track records conn as the connection in flight. It reports false once
// the receiver is closed.
func (r *Receiver) track(conn net.Conn) bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.isClosed() {
		return false
	}
	r.conn = conn
	return true
}

func (r *Receiver) udpLoop() {
	defer r.wg.Done()
	buf := make([]byte, BufferSize)
	for {
		n, _, err := r.udp.ReadFrom(buf)
		if err != nil {
			r.fail(fmt.Errorf("receiver: read udp: %w", err))
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if !r.deliver(data) {
			return
		}
	}
}
