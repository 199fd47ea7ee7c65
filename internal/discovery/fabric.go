// Package discovery implements a simplified UDP-multicast announce/query
// fabric that backs the distributed service directory. It borrows the
// transport shape of a production mDNS responder (one multicast socket
// per scope, a registry of locally-held records, a background
// query-handling goroutine) without RFC 6762's probing, conflict
// resolution, or lease renewal: the directory only needs "advertise a
// name, answer a query, withdraw on deregister".
package discovery

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultScope is the scope a DistributedServiceDirectory listens on
// unless configured otherwise.
const DefaultScope = "_fipa_service_directory._udp"

// Record is the wire representation of one advertised directory entry.
// Field is an arbitrary discriminator (directory.Field's integer value)
// carried as a plain int so the fabric does not depend on the directory
// package. Query does not filter on Field or Content.
type Record struct {
	Nonce     string
	Name      string
	Field     int
	Content   string
	Payload   []byte // msgpack-encoded directory.Entry, opaque to the fabric
	Withdrawn bool
}

type packetKind int

const (
	kindAnnounce packetKind = iota
	kindQuery
	kindReply
)

type wirePacket struct {
	Kind    packetKind
	Scope   string
	Query   string // regex, only set for kindQuery
	Field   int
	Records []Record
}

// Fabric owns one multicast UDP socket per scope it has joined, a
// registry of locally-advertised records, and a passive cache of
// announcements seen from peers.
type Fabric struct {
	mu       sync.Mutex
	scopes   map[string]*scopeState
	multicastAddr string
}

type scopeState struct {
	conn     *net.UDPConn
	group    *net.UDPAddr
	local    map[string]Record // name -> record, locally advertised
	cache    map[string]Record // name -> record, learned from peers
	cancel   context.CancelFunc
}

// New returns a Fabric that joins multicastAddr (e.g.
// "239.255.76.67:9999") lazily, one socket per scope, as scopes are
// first used.
func New(multicastAddr string) *Fabric {
	return &Fabric{
		scopes:        make(map[string]*scopeState),
		multicastAddr: multicastAddr,
	}
}

func (f *Fabric) ensureScope(scope string) (*scopeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.scopes[scope]; ok {
		return s, nil
	}

	group, err := net.ResolveUDPAddr("udp4", f.multicastAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadBuffer(65536)

	ctx, cancel := context.WithCancel(context.Background())
	s := &scopeState{
		conn:   conn,
		group:  group,
		local:  make(map[string]Record),
		cache:  make(map[string]Record),
		cancel: cancel,
	}
	f.scopes[scope] = s
	go f.readLoop(ctx, scope, s)
	return s, nil
}

// readLoop answers queries against locally-held records and folds
// announcements from peers into the passive cache. It never retries or
// resolves conflicts: a later announce for the same name simply
// replaces the cached one.
func (f *Fabric) readLoop(ctx context.Context, scope string, s *scopeState) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		var pkt wirePacket
		if err := msgpack.Unmarshal(buf[:n], &pkt); err != nil {
			continue
		}
		if pkt.Scope != scope {
			continue
		}
		f.handlePacket(scope, s, pkt, addr)
	}
}

func (f *Fabric) handlePacket(scope string, s *scopeState, pkt wirePacket, from *net.UDPAddr) {
	f.mu.Lock()
	switch pkt.Kind {
	case kindAnnounce:
		for _, r := range pkt.Records {
			if r.Withdrawn {
				delete(s.cache, r.Name)
			} else {
				s.cache[r.Name] = r
			}
		}
		f.mu.Unlock()
	case kindQuery:
		var matches []Record
		for _, r := range s.local {
			matches = append(matches, r)
		}
		f.mu.Unlock()
		if len(matches) == 0 {
			return
		}
		reply := wirePacket{Kind: kindReply, Scope: scope, Records: matches}
		data, err := msgpack.Marshal(reply)
		if err != nil {
			log.Printf("[discovery] marshal reply: %v", err)
			return
		}
		if _, err := s.conn.WriteToUDP(data, from); err != nil {
			log.Printf("[discovery] send reply: %v", err)
		}
	case kindReply:
		for _, r := range pkt.Records {
			s.cache[r.Name] = r
		}
		f.mu.Unlock()
	default:
		f.mu.Unlock()
	}
}

// Advertise stores the record locally and sends one announce packet.
// Failure to reach any peer is not retried in-band: it simply surfaces
// as absence at the next Query by a peer that missed the packet.
func (f *Fabric) Advertise(scope string, name, content string, field int, payload []byte) error {
	s, err := f.ensureScope(scope)
	if err != nil {
		return err
	}
	rec := Record{Nonce: uuid.NewString(), Name: name, Field: field, Content: content, Payload: payload}

	f.mu.Lock()
	s.local[name] = rec
	f.mu.Unlock()

	return f.announce(scope, s, rec)
}

// Withdraw sends one goodbye (Withdrawn=true) packet and removes the
// record from the local registry.
func (f *Fabric) Withdraw(scope string, name string) error {
	s, err := f.ensureScope(scope)
	if err != nil {
		return err
	}
	f.mu.Lock()
	rec, ok := s.local[name]
	delete(s.local, name)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	rec.Withdrawn = true
	return f.announce(scope, s, rec)
}

func (f *Fabric) announce(scope string, s *scopeState, rec Record) error {
	pkt := wirePacket{Kind: kindAnnounce, Scope: scope, Records: []Record{rec}}
	data, err := msgpack.Marshal(pkt)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, s.group)
	return err
}

// Query broadcasts a query packet and collects replies for at most
// 200ms (less if ctx is done first), then returns every locally-held
// record plus every cached peer record for the scope; regex and field
// are sent in the packet but not used to filter. It fails only if the
// scope socket cannot be opened or the query cannot be sent; an empty
// result simply means nothing answered within the window.
func (f *Fabric) Query(ctx context.Context, scope string, regex string, field int) ([]Record, error) {
	s, err := f.ensureScope(scope)
	if err != nil {
		return nil, err
	}

	pkt := wirePacket{Kind: kindQuery, Scope: scope, Query: regex, Field: field}
	data, err := msgpack.Marshal(pkt)
	if err != nil {
		return nil, err
	}
	if _, err := s.conn.WriteToUDP(data, s.group); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
	case <-time.After(200 * time.Millisecond):
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, 0, len(s.cache)+len(s.local))
	for _, r := range s.local {
		out = append(out, r)
	}
	for name, r := range s.cache {
		if _, isLocal := s.local[name]; !isLocal {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close tears down every scope's socket and read loop.
func (f *Fabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, s := range f.scopes {
		s.cancel()
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
