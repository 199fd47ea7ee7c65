// Package tcp implements the stream-oriented MTS transport: one
// envelope per incoming connection, framed by the peer closing after
// it writes.
package tcp

import (
	"context"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/address"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/errs"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/transport"
)

// Transport is the TCP implementation of transport.Transport. Unlike
// the generic §4.E cache contract, TCP never keeps an outgoing socket
// open across sends: each incoming connection is framed by the peer
// closing after writing exactly one envelope (read-to-EOF), so an
// outgoing send must itself open, write, and close every time for the
// remote side's read loop to ever observe EOF. Send keeps no
// per-receiver state; it only retries a failed attempt once.
type Transport struct {
	mu        sync.Mutex
	listener  *net.TCPListener
	incoming  []net.Conn
	observers transport.Observers
	debug     bool
}

// New returns an unstarted TCP transport.
func New() *Transport {
	return &Transport{}
}

func (t *Transport) Protocol() string { return "tcp" }

// SetDebug toggles verbose logging of accept/read activity.
func (t *Transport) SetDebug(debug bool) { t.debug = debug }

// Start opens a listener on port (0 = OS-chosen), configured with
// SO_REUSEADDR so a restarted MTS can rebind immediately.
func (t *Transport) Start(port int, maxClients int) error {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return errs.New(errs.TransportError, "tcp.Start", err)
	}
	t.mu.Lock()
	t.listener = ln.(*net.TCPListener)
	t.mu.Unlock()
	return nil
}

// Update accepts any pending incoming connections (non-blocking, via a
// short read deadline on the listener) then reads each accepted
// connection to EOF, notifying observers with the resulting frame and
// dropping the connection from the incoming list. With readAll=true it
// loops until a full pass accepts and reads nothing.
func (t *Transport) Update(readAll bool) error {
	for {
		progressed := t.acceptPending()
		progressed = t.readPending() || progressed
		if !readAll || !progressed {
			return nil
		}
	}
}

func (t *Transport) acceptPending() bool {
	t.mu.Lock()
	ln := t.listener
	t.mu.Unlock()
	if ln == nil {
		return false
	}

	accepted := false
	for {
		_ = ln.SetDeadline(time.Now().Add(time.Millisecond))
		conn, err := ln.Accept()
		if err != nil {
			return accepted
		}
		accepted = true
		t.mu.Lock()
		t.incoming = append(t.incoming, conn)
		t.mu.Unlock()
		if t.debug {
			log.Printf("[tcp] accepted %s", conn.RemoteAddr())
		}
	}
}

func (t *Transport) readPending() bool {
	t.mu.Lock()
	pending := append([]net.Conn(nil), t.incoming...)
	t.incoming = nil
	t.mu.Unlock()

	progressed := false
	for _, conn := range pending {
		data, err := io.ReadAll(conn)
		_ = conn.Close()
		if err != nil {
			if t.debug {
				log.Printf("[tcp] read error from %s: %v", conn.RemoteAddr(), err)
			}
			continue
		}
		if len(data) == 0 {
			continue
		}
		progressed = true
		t.observers.Notify(data)
	}
	return progressed
}

// Addresses enumerates this transport's address across every
// non-loopback interface carrying an IPv4 address.
func (t *Transport) Addresses() ([]address.Address, error) {
	port := t.listenerPort()
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errs.New(errs.TransportError, "tcp.Addresses", err)
	}
	var out []address.Address
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			out = append(out, address.Address{Protocol: "tcp", IP: ipNet.IP.String(), Port: port})
		}
	}
	return out, nil
}

// AddressOn returns this transport's address on a single named
// interface.
func (t *Transport) AddressOn(interfaceName string) (address.Address, error) {
	iface, err := net.InterfaceByName(interfaceName)
	if err != nil {
		return address.Address{}, errs.New(errs.NotFound, "tcp.AddressOn", err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return address.Address{}, errs.New(errs.TransportError, "tcp.AddressOn", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if ok && ipNet.IP.To4() != nil {
			return address.Address{Protocol: "tcp", IP: ipNet.IP.String(), Port: t.listenerPort()}, nil
		}
	}
	return address.Address{}, errs.New(errs.NotFound, "tcp.AddressOn", nil)
}

func (t *Transport) listenerPort() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return 0
	}
	return uint16(t.listener.Addr().(*net.TCPAddr).Port)
}

// Send opens a connection to addr, writes data in full, and closes the
// socket so the peer's read-to-EOF loop observes a complete frame. A
// write failure is retried exactly once with a fresh dial, matching
// the two-attempt contract of §4.E even though no connection is ever
// cached here.
func (t *Transport) Send(receiverName string, addr address.Address, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := sendOnce(addr, data); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errs.New(errs.TransportError, "tcp.Send", lastErr)
}

func sendOnce(addr address.Address, data []byte) error {
	conn, err := net.Dial("tcp", net.JoinHostPort(addr.IP, strconv.Itoa(int(addr.Port))))
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		return err
	}
	return nil
}

func (t *Transport) RegisterObserver(cb func([]byte)) { t.observers.Register(cb) }

// Cleanup is a no-op for TCP: there is no cached connection to evict,
// since every send opens and closes its own socket.
func (t *Transport) Cleanup(receiverName string) {}

// Close releases the listener and every accepted incoming connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	ln := t.listener
	incoming := t.incoming
	t.incoming = nil
	t.mu.Unlock()

	for _, conn := range incoming {
		_ = conn.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}
