package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerAcceptAndDatagram(t *testing.T) {
	accepted := make(chan net.Conn, 1)
	datagrams := make(chan []byte, 1)

	l, err := Listen(ListenerConfig{
		Host:   "127.0.0.1",
		Family: "tcp4",
		TCP:    true,
		UDP:    true,
		OnAccept: func(conn net.Conn) {
			accepted <- conn
		},
		OnDatagram: func(data []byte, from *net.UDPAddr) {
			datagrams <- data
		},
	})
	require.NoError(t, err)
	assert.True(t, l.TCPAccept())
	assert.True(t, l.UDPAccept())
	require.NotZero(t, l.Port())
	assert.Len(t, l.Addrs(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Serve(ctx)
	}()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(l.Port()))
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("connection not dispatched")
	}

	sender := NewUDPSender(time.Second)
	defer sender.Close()
	_, err = sender.SendTo(addr, []byte("datagram"))
	require.NoError(t, err)

	select {
	case d := <-datagrams:
		assert.Equal(t, []byte("datagram"), d)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not dispatched")
	}

	cancel()
	wg.Wait()

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestListenerCloseStopsServe(t *testing.T) {
	l, err := Listen(ListenerConfig{Host: "127.0.0.1", TCP: true})
	require.NoError(t, err)
	assert.False(t, l.UDPAccept())

	done := make(chan error, 1)
	go func() { done <- l.Serve(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestListenerNothingToOpen(t *testing.T) {
	_, err := Listen(ListenerConfig{Host: "127.0.0.1"})
	assert.ErrorIs(t, err, ErrNoSockets)
}

func TestBindHosts(t *testing.T) {
	hosts, err := bindHosts("", "tcp")
	require.NoError(t, err)
	assert.Equal(t, []bindHost{{"tcp4", "0.0.0.0"}, {"tcp6", "::"}}, hosts)

	hosts, err = bindHosts("", "tcp6")
	require.NoError(t, err)
	assert.Equal(t, []bindHost{{"tcp6", "::"}}, hosts)

	hosts, err = bindHosts("::1", "tcp")
	require.NoError(t, err)
	assert.Equal(t, []bindHost{{"tcp6", "::1"}}, hosts)

	_, err = bindHosts("127.0.0.1", "tcp6")
	assert.Error(t, err)

	_, err = bindHosts("", "udp")
	assert.Error(t, err)
}

func TestUDPSenderClosed(t *testing.T) {
	s := NewUDPSender(0)
	require.NoError(t, s.Close())
	_, err := s.SendTo("127.0.0.1:9", []byte("x"))
	assert.ErrorIs(t, err, ErrSenderClosed)
}
