// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// UDPTransport implements Transport on a single UDP socket.
type UDPTransport struct {
	conn *net.UDPConn
	mtu  int
}

// DialUDP creates a transport bound to an ephemeral local port, used by the
// active side. The returned address is the peer's resolved address.
func DialUDP(host string, port int, mtu int) (*UDPTransport, net.Addr, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, nil, errors.Wrap(err, "resolving peer address")
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "binding local socket")
	}

	return &UDPTransport{conn: conn, mtu: mtu}, raddr, nil
}

// ListenUDP creates a transport bound to address, used by the passive side.
func ListenUDP(address string, mtu int) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, errors.Wrap(err, "resolving listen address")
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "binding listen socket")
	}

	return &UDPTransport{conn: conn, mtu: mtu}, nil
}

// LocalAddr returns the bound socket address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// SendTo transmits one datagram to addr.
func (t *UDPTransport) SendTo(data []byte, addr net.Addr) error {
	if len(data) > t.mtu {
		return errors.Errorf("datagram of %d bytes exceeds MTU of %d", len(data), t.mtu)
	}

	_, err := t.conn.WriteTo(data, addr)
	return errors.Wrap(err, "writing datagram")
}

// ReceiveFrom blocks for up to timeout and returns the next datagram, or
// ErrTimeout after an idle interval.
func (t *UDPTransport) ReceiveFrom(timeout time.Duration) ([]byte, net.Addr, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, errors.Wrap(err, "setting read deadline")
	}

	buf := make([]byte, t.mtu)
	n, addr, err := t.conn.ReadFrom(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, ErrTimeout
		}
		return nil, nil, errors.Wrap(err, "reading datagram")
	}

	return buf[:n], addr, nil
}

// Close releases the socket, waking a blocked ReceiveFrom.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
