package receiver

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receiveWithin(t *testing.T, r *Receiver, d time.Duration) []byte {
	t.Helper()
	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf, err := r.Receive()
		done <- result{buf, err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			t.Fatal(res.err)
		}
		return res.buf
	case <-time.After(d):
		t.Fatal("timed out waiting for a buffer")
	}
	return nil
}

func TestReceiveUDP(t *testing.T) {
	r, err := New(&UDPConfig{Host: "127.0.0.1", Port: 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	require.Nil(t, r.TCPAddr())

	conn, err := net.Dial("udp", r.UDPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, err = conn.Write([]byte("mycomputer.testcarbon.toto 10\n"))
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, []byte("mycomputer.testcarbon.toto 10\n"), receiveWithin(t, r, 5*time.Second))
}

func TestReceiveTCP(t *testing.T) {
	r, err := New(nil, &TCPConfig{Host: "127.0.0.1", Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	require.Nil(t, r.UDPAddr())

	for _, line := range []string{"a.b.c 1 1492439949\n", "a.b.c 2 1492439950\n"} {
		conn, err := net.Dial("tcp", r.TCPAddr().String())
		if err != nil {
			t.Fatal(err)
		}
		_, err = conn.Write([]byte(line))
		conn.Close()
		if err != nil {
			t.Fatal(err)
		}
		require.Equal(t, []byte(line), receiveWithin(t, r, 5*time.Second))
	}
}

func TestReceiveBothTransports(t *testing.T) {
	r, err := New(&UDPConfig{Host: "127.0.0.1"}, &TCPConfig{Host: "127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	udpConn, err := net.Dial("udp", r.UDPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer udpConn.Close()
	if _, err := udpConn.Write([]byte("u.d.p 1")); err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []byte("u.d.p 1"), receiveWithin(t, r, 5*time.Second))

	tcpConn, err := net.Dial("tcp", r.TCPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tcpConn.Write([]byte("t.c.p 2")); err != nil {
		t.Fatal(err)
	}
	tcpConn.Close()
	require.Equal(t, []byte("t.c.p 2"), receiveWithin(t, r, 5*time.Second))
}

func TestReceiveTruncates(t *testing.T) {
	r, err := New(&UDPConfig{Host: "127.0.0.1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	conn, err := net.Dial("udp", r.UDPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	long := bytes.Repeat([]byte("x"), 1000)
	if _, err := conn.Write(long); err != nil {
		t.Fatal(err)
	}
	require.Len(t, receiveWithin(t, r, 5*time.Second), BufferSize)
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, nil)
	require.True(t, errors.Is(err, ErrNoTransport))

	_, err = New(&UDPConfig{Host: DefaultIPv6Group, Multicast: true}, nil)
	require.True(t, errors.Is(err, ErrIPv6MulticastUnsupported))

	_, err = New(&UDPConfig{Host: "127.0.0.1", Multicast: true}, nil)
	require.Error(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port
	_, err = New(nil, &TCPConfig{Host: "127.0.0.1", Port: port})
	require.Error(t, err)

}

func TestNewReleasesTCPOnUDPFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	_, err = New(&UDPConfig{Host: "127.0.0.1", Port: -1}, &TCPConfig{Host: "127.0.0.1", Port: port})
	require.Error(t, err)

	// the port is free again only if New closed its listener
	l, err = net.Listen("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	l.Close()
}

func TestCloseWithSilentTCPClient(t *testing.T) {
	r, err := New(nil, &TCPConfig{Host: "127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}

	conn, err := net.Dial("tcp", r.TCPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// let the receiver accept and block reading from the client
	time.Sleep(100 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked by a connected client that sends nothing")
	}

	_, err = r.Receive()
	require.True(t, errors.Is(err, ErrClosed))
}

func TestCloseUnblocksReceive(t *testing.T) {
	r, err := New(&UDPConfig{Host: "127.0.0.1"}, &TCPConfig{Host: "127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.Receive()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	select {
	case err := <-done:
		require.True(t, errors.Is(err, ErrClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("Receive still blocked after Close")
	}

	_, err = r.Receive()
	require.True(t, errors.Is(err, ErrClosed))
}

func TestMulticastDefaultGroup(t *testing.T) {
	r, err := New(&UDPConfig{Port: 0}, nil)
	if err != nil {
		t.Skipf("multicast unavailable here: %s", err)
	}
	defer r.Close()
	require.Equal(t, "0.0.0.0", r.UDPAddr().(*net.UDPAddr).IP.String())
}
