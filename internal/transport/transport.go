// Package transport defines the polymorphic Transport contract shared
// by the TCP and UDT implementations: a connection cache providing
// at-most-one live outgoing connection per receiver, an observer list
// for delivered frames, and listener lifecycle management.
package transport

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/address"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/errs"
)

// Transport is the capability set the router dispatches against by
// protocol string; TCP and UDT each implement it.
type Transport interface {
	Protocol() string
	Start(port int, maxClients int) error
	Update(readAll bool) error
	Addresses() ([]address.Address, error)
	AddressOn(interfaceName string) (address.Address, error)
	Send(receiverName string, addr address.Address, data []byte) error
	RegisterObserver(cb func([]byte))
	Cleanup(receiverName string)
	Close() error
}

// Observers is an append-only, mutex-protected list of frame
// callbacks. Notify snapshots the list and releases the lock before
// invoking callbacks, so an observer that re-enters Send on this or
// another transport never deadlocks against the transport's own lock.
// A panicking callback is recovered and logged; the remaining
// callbacks still run.
type Observers struct {
	mu  sync.Mutex
	cbs []func([]byte)
}

func (o *Observers) Register(cb func([]byte)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cbs = append(o.cbs, cb)
}

func (o *Observers) Notify(data []byte) {
	o.mu.Lock()
	snapshot := append([]func([]byte){}, o.cbs...)
	o.mu.Unlock()
	for _, cb := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[transport] observer panicked: %v", r)
				}
			}()
			cb(data)
		}()
	}
}

// outgoing is one cached outgoing connection: the address it was
// established for, and the live writer.
type outgoing struct {
	addr address.Address
	conn io.WriteCloser
}

// ConnCache implements the send contract of §4.E: look up by receiver
// name, evict on address mismatch, dial lazily, write, and retry once
// from the top on write failure before giving up.
type ConnCache struct {
	mu    sync.Mutex
	conns map[string]outgoing
}

// NewConnCache returns an empty cache.
func NewConnCache() *ConnCache {
	return &ConnCache{conns: make(map[string]outgoing)}
}

// Dialer opens a fresh outgoing connection to addr.
type Dialer func(addr address.Address) (io.WriteCloser, error)

// Send implements the four-step contract: reuse a cached connection
// bound to the same address, or dial a new one; on write failure evict
// and retry exactly once; after two failures return TransportError.
func (c *ConnCache) Send(op string, receiverName string, addr address.Address, dial Dialer, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := c.acquire(receiverName, addr, dial)
		if err != nil {
			return errs.New(errs.TransportError, op, err)
		}
		if _, err := conn.Write(data); err != nil {
			lastErr = err
			c.evictLocked(receiverName, conn)
			continue
		}
		return nil
	}
	return errs.New(errs.TransportError, op, fmt.Errorf("send failed after retry: %w", lastErr))
}

func (c *ConnCache) acquire(receiverName string, addr address.Address, dial Dialer) (io.WriteCloser, error) {
	c.mu.Lock()
	cached, ok := c.conns[receiverName]
	if ok && !cached.addr.Equal(addr) {
		delete(c.conns, receiverName)
		ok = false
		c.mu.Unlock()
		_ = cached.conn.Close()
	} else {
		c.mu.Unlock()
	}
	if ok {
		return cached.conn, nil
	}

	conn, err := dial(addr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.conns[receiverName] = outgoing{addr: addr, conn: conn}
	c.mu.Unlock()
	return conn, nil
}

// evictLocked drops receiverName's cache entry if it still points at
// conn (another goroutine may already have replaced it) and closes it.
func (c *ConnCache) evictLocked(receiverName string, conn io.WriteCloser) {
	c.mu.Lock()
	if cached, ok := c.conns[receiverName]; ok && cached.conn == conn {
		delete(c.conns, receiverName)
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// Cleanup drops any cached outgoing connection for receiverName.
func (c *ConnCache) Cleanup(receiverName string) {
	c.mu.Lock()
	cached, ok := c.conns[receiverName]
	delete(c.conns, receiverName)
	c.mu.Unlock()
	if ok {
		_ = cached.conn.Close()
	}
}

// CloseAll closes every cached connection, used during transport
// teardown.
func (c *ConnCache) CloseAll() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]outgoing)
	c.mu.Unlock()
	for _, cached := range conns {
		_ = cached.conn.Close()
	}
}
