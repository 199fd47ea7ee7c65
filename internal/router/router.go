// Package router implements MessageTransport: the component that owns
// a set of active Transports and a ServiceDirectory, and routes
// letters to their intended receivers — locally, to a registered
// handler, or over the network to another MTS.
package router

import (
	"bytes"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/acl"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/address"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/codec"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/directory"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/envelope"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/errs"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/svcloc"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/transport"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/transport/tcp"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/transport/udt"
)

// ServiceSignature is the signature this MTS publishes for its own
// endpoints and accepts by default from peers.
const ServiceSignature = "fipa::services::transports::MessageTransport"

// JadeProxyAgentSignature marks a peer as a foreign JADE proxy, which
// receives the XML/string-representation wire form instead of binary.
const JadeProxyAgentSignature = "JadeProxyAgent"

// TransportFlag is a bit tag identifying one transport kind, used by
// ActivateTransports to activate several at once.
type TransportFlag uint

const (
	TransportTCP TransportFlag = 1 << iota
	TransportUDT
)

func (f TransportFlag) protocol() string {
	switch f {
	case TransportTCP:
		return "tcp"
	case TransportUDT:
		return "udt"
	default:
		return ""
	}
}

func newTransportFor(flag TransportFlag) (transport.Transport, error) {
	switch flag {
	case TransportTCP:
		return tcp.New(), nil
	case TransportUDT:
		return udt.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport flag %d", flag)
	}
}

var knownFlags = []TransportFlag{TransportTCP, TransportUDT}

// HandlerFunc is a local-delivery callback: given the receiver name
// the letter resolved to and the letter itself, it returns whether it
// accepted delivery.
type HandlerFunc func(receiverName string, letter *envelope.Letter) bool

// MessageTransport is the router: it owns the active transports for
// this agent, holds (or is bound to) a ServiceDirectory, and decides
// for each letter whether to deliver it to a local handler or forward
// it over the network.
type MessageTransport struct {
	mu sync.Mutex

	agentID string
	dir     *directory.ServiceDirectory

	transports map[string]transport.Transport // protocol -> transport
	locations  []svcloc.ServiceLocation        // this MTS's own published endpoints

	acceptedSignatures map[string]struct{}

	handlers     map[string]HandlerFunc
	handlerOrder []string

	representation envelope.Representation
	debug          bool
}

// New returns a MessageTransport for agentID, bound to dir. The own
// service signature is accepted by default.
func New(agentID string, dir *directory.ServiceDirectory) *MessageTransport {
	t := &MessageTransport{
		agentID:            agentID,
		dir:                dir,
		transports:         make(map[string]transport.Transport),
		acceptedSignatures: make(map[string]struct{}),
		handlers:           make(map[string]HandlerFunc),
		representation:     envelope.RepresentationBinary,
	}
	t.acceptedSignatures[ServiceSignature] = struct{}{}
	return t
}

// SetDebug toggles verbose logging of routing decisions.
func (t *MessageTransport) SetDebug(debug bool) { t.debug = debug }

// AddAcceptedSignature extends the set of peer service signatures this
// MTS is willing to forward to (e.g. "JadeProxyAgent").
func (t *MessageTransport) AddAcceptedSignature(sig string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acceptedSignatures[sig] = struct{}{}
}

func (t *MessageTransport) signatureAccepted(sig string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.acceptedSignatures[sig]
	return ok
}

// ttlSetter is implemented by transports that support a per-message
// TTL (currently only UDT; TCP uses the OS default per §4.F).
type ttlSetter interface {
	SetTTL(ttl int)
}

// ActivateTransport creates, starts, and registers the transport named
// by flag. ttl configures a per-message TTL on transports that support
// it (see ttlSetter); it is ignored otherwise. Double-activation of
// the same transport fails with AlreadyActive.
func (t *MessageTransport) ActivateTransport(flag TransportFlag, port int, maxClients int, ttl int) error {
	protocol := flag.protocol()
	if protocol == "" {
		return errs.New(errs.InvalidArgument, "MessageTransport.ActivateTransport", fmt.Errorf("unknown transport flag %d", flag))
	}

	t.mu.Lock()
	if _, exists := t.transports[protocol]; exists {
		t.mu.Unlock()
		return errs.New(errs.AlreadyActive, "MessageTransport.ActivateTransport", fmt.Errorf("%s already active", protocol))
	}
	t.mu.Unlock()

	tr, err := newTransportFor(flag)
	if err != nil {
		return errs.New(errs.InvalidArgument, "MessageTransport.ActivateTransport", err)
	}
	if s, ok := tr.(ttlSetter); ok {
		s.SetTTL(ttl)
	}
	if err := tr.Start(port, maxClients); err != nil {
		return errs.New(errs.TransportError, "MessageTransport.ActivateTransport", err)
	}
	tr.RegisterObserver(t.onFrame)

	addrs, err := tr.Addresses()
	if err != nil {
		return errs.New(errs.TransportError, "MessageTransport.ActivateTransport", err)
	}

	t.mu.Lock()
	t.transports[protocol] = tr
	for _, a := range addrs {
		t.locations = append(t.locations, svcloc.ServiceLocation{
			ServiceAddress:   a.String(),
			SignatureType:    ServiceSignature,
			ServiceSignature: ServiceSignature,
		})
	}
	t.mu.Unlock()

	if t.debug {
		log.Printf("[router] activated %s transport with %d endpoints", protocol, len(addrs))
	}
	return nil
}

// ActivateTransports activates every transport named by the bit-set
// flags, testing membership with bitwise AND.
func (t *MessageTransport) ActivateTransports(flags TransportFlag, port int, maxClients int, ttl int) error {
	for _, f := range knownFlags {
		if flags&f == 0 {
			continue
		}
		if err := t.ActivateTransport(f, port, maxClients, ttl); err != nil {
			return err
		}
	}
	return nil
}

// RegisterMessageTransport registers a local-delivery handler under
// name, appended to the end of the priority list. Duplicate names
// fail.
func (t *MessageTransport) RegisterMessageTransport(name string, handler HandlerFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[name]; exists {
		return errs.New(errs.DuplicateEntry, "MessageTransport.RegisterMessageTransport", fmt.Errorf("%s", name))
	}
	t.handlers[name] = handler
	t.handlerOrder = append(t.handlerOrder, name)
	return nil
}

// DeregisterMessageTransport removes a previously registered handler.
func (t *MessageTransport) DeregisterMessageTransport(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[name]; !exists {
		return errs.New(errs.NotFound, "MessageTransport.DeregisterMessageTransport", fmt.Errorf("%s", name))
	}
	delete(t.handlers, name)
	t.handlerOrder = removeString(t.handlerOrder, name)
	return nil
}

// ModifyMessageTransport replaces the handler registered under name,
// preserving its position in the priority list.
func (t *MessageTransport) ModifyMessageTransport(name string, handler HandlerFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[name]; !exists {
		return errs.New(errs.NotFound, "MessageTransport.ModifyMessageTransport", fmt.Errorf("%s", name))
	}
	t.handlers[name] = handler
	return nil
}

// RegisterClient registers a directory entry for clientName whose
// locator is the set of this MTS's own endpoints. Fails if no
// endpoint has been activated yet.
func (t *MessageTransport) RegisterClient(clientName, description string) error {
	t.mu.Lock()
	if len(t.locations) == 0 {
		t.mu.Unlock()
		return errs.New(errs.InvalidArgument, "MessageTransport.RegisterClient", fmt.Errorf("no active transport endpoints"))
	}
	locator := svcloc.ServiceLocator{Locations: append([]svcloc.ServiceLocation(nil), t.locations...)}
	t.mu.Unlock()

	return t.dir.Register(directory.Entry{
		Name:        clientName,
		Type:        "client",
		Locator:     locator,
		Description: description,
		Timestamp:   time.Now(),
	})
}

// DeregisterClient removes clientName's directory entry.
func (t *MessageTransport) DeregisterClient(clientName string) error {
	return t.dir.DeregisterEntry(directory.Entry{Name: clientName})
}

// TransportEndpoints returns a snapshot of this MTS's own published
// endpoints.
func (t *MessageTransport) TransportEndpoints() svcloc.ServiceLocator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return svcloc.ServiceLocator{Locations: append([]svcloc.ServiceLocation(nil), t.locations...)}
}

// ServiceSignature returns this MTS's own service signature.
func (t *MessageTransport) ServiceSignature() string { return ServiceSignature }

// ServiceDirectory returns the bound directory handle.
func (t *MessageTransport) ServiceDirectory() *directory.ServiceDirectory { return t.dir }

// Trigger pumps every active transport once, reading to quiescence.
func (t *MessageTransport) Trigger() error {
	t.mu.Lock()
	transports := make([]transport.Transport, 0, len(t.transports))
	for _, tr := range t.transports {
		transports = append(transports, tr)
	}
	t.mu.Unlock()

	var firstErr error
	for _, tr := range transports {
		if err := tr.Update(true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close tears down every active transport.
func (t *MessageTransport) Close() error {
	t.mu.Lock()
	transports := make([]transport.Transport, 0, len(t.transports))
	for _, tr := range t.transports {
		transports = append(transports, tr)
	}
	t.transports = make(map[string]transport.Transport)
	t.mu.Unlock()

	var firstErr error
	for _, tr := range transports {
		if err := tr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// onFrame is the observer callback registered on every transport: it
// decodes the frame and hands the resulting letter to Handle.
func (t *MessageTransport) onFrame(data []byte) {
	letter, err := decodeFrame(data)
	if err != nil {
		log.Printf("[router] dropping undecodable frame: %v", err)
		return
	}
	if err := t.Handle(letter); err != nil {
		log.Printf("[router] handle error: %v", err)
	}
}

// decodeFrame distinguishes the XML wire form (leading '<' after
// trimming) from the default msgpack binary form.
func decodeFrame(data []byte) (*envelope.Letter, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return codec.DecodeXML(data)
	}
	return codec.DecodeBinary(data)
}

// Handle is the main entry point for a letter arriving from a
// transport or handed in directly by a caller.
func (t *MessageTransport) Handle(letter *envelope.Letter) error {
	if letter.HasStamp(t.agentID) {
		if t.debug {
			log.Printf("[router] dropping letter %s: loop detected", letter.ID)
		}
		return nil
	}
	letter.Stamp(t.agentID)

	if containsString(letter.Base.To, t.agentID) {
		if t.debug {
			log.Printf("[router] internal letter %s: %s", letter.ID, letter.Msg.Content)
		}
		return nil
	}

	remaining := t.Forward(letter)
	if len(remaining) == 0 {
		return nil
	}

	errLetter := t.synthesizeErrorLetter(letter, remaining)
	errLetter.Stamp(t.agentID)
	stillRemaining := t.Forward(errLetter)
	if len(stillRemaining) > 0 {
		log.Printf("[router] could not deliver error letter for receivers %v, giving up", stillRemaining)
	}
	return nil
}

// Forward attempts delivery of letter to every intended receiver and
// returns those it could not place anywhere.
func (t *MessageTransport) Forward(letter *envelope.Letter) []string {
	flat := letter.Flattened()
	remaining := append([]string(nil), flat.IntendedReceivers...)

	for _, r := range flat.IntendedReceivers {
		// r is used directly (not regexp.QuoteMeta-escaped); Search
		// full-string-anchors the compiled pattern itself, so the
		// trailing "$" here is redundant but harmless, kept to match
		// §4.H's documented lookup literally.
		entries, err := t.dir.Search(r+"$", directory.NAME, false)
		if err != nil {
			log.Printf("[router] directory search for %q failed: %v", r, err)
			continue
		}

		if len(entries) == 0 {
			if t.tryLocalDeliver(r, letter) {
				remaining = removeString(remaining, r)
				continue
			}
			t.cleanupAll(r)
			continue
		}

		if t.deliverToEntries(r, flat.From, entries, letter) {
			remaining = removeString(remaining, r)
		}
	}
	return remaining
}

func (t *MessageTransport) deliverToEntries(r, from string, entries []directory.Entry, letter *envelope.Letter) bool {
	for _, entry := range entries {
		if entry.Name == from {
			continue // suppress broadcast-to-self
		}
		dedicated := letter.CreateDedicatedEnvelope(entry.Name)
		for _, loc := range entry.Locator.Locations {
			if err := t.ForwardTo(entry.Name, loc, dedicated); err == nil {
				return true
			} else if t.debug {
				log.Printf("[router] delivery to %s at %s failed: %v", entry.Name, loc.ServiceAddress, err)
			}
		}
	}
	return false
}

func (t *MessageTransport) tryLocalDeliver(r string, letter *envelope.Letter) bool {
	t.mu.Lock()
	order := append([]string(nil), t.handlerOrder...)
	handlers := make(map[string]HandlerFunc, len(t.handlers))
	for k, v := range t.handlers {
		handlers[k] = v
	}
	t.mu.Unlock()

	for _, name := range order {
		if handlers[name](r, letter) {
			return true
		}
	}
	return false
}

func (t *MessageTransport) cleanupAll(receiverName string) {
	t.mu.Lock()
	transports := make([]transport.Transport, 0, len(t.transports))
	for _, tr := range t.transports {
		transports = append(transports, tr)
	}
	t.mu.Unlock()
	for _, tr := range transports {
		tr.Cleanup(receiverName)
	}
}

// ForwardTo delivers letter to name at location: locally if location
// is one of this MTS's own endpoints, otherwise over the network.
func (t *MessageTransport) ForwardTo(name string, location svcloc.ServiceLocation, letter *envelope.Letter) error {
	addr, err := address.Parse(location.ServiceAddress)
	if err != nil {
		return errs.New(errs.TransportError, "MessageTransport.ForwardTo", err)
	}

	if t.isOwnEndpoint(location) {
		if !t.tryLocalDeliver(name, letter) {
			return errs.New(errs.TransportError, "MessageTransport.ForwardTo", fmt.Errorf("local delivery to %s refused", name))
		}
		return nil
	}

	t.mu.Lock()
	tr, ok := t.transports[addr.Protocol]
	t.mu.Unlock()
	if !ok {
		return errs.New(errs.ProtocolNotActive, "MessageTransport.ForwardTo", fmt.Errorf("%s not active", addr.Protocol))
	}
	if !t.signatureAccepted(location.SignatureType) {
		return errs.New(errs.SignatureRejected, "MessageTransport.ForwardTo", fmt.Errorf("%s", location.SignatureType))
	}

	data, err := t.serialize(location, letter)
	if err != nil {
		return err
	}
	return tr.Send(name, addr, data)
}

func (t *MessageTransport) isOwnEndpoint(location svcloc.ServiceLocation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.locations {
		if l.Equal(location) {
			return true
		}
	}
	return false
}

// serialize produces the wire bytes for letter bound to location: XML
// (string-represented ACL) for a JadeProxyAgent peer, binary
// (msgpack) otherwise. A clone is serialized so that retrying a
// second location for the same entry never observes a mutation left
// behind by a failed first attempt.
func (t *MessageTransport) serialize(location svcloc.ServiceLocation, letter *envelope.Letter) ([]byte, error) {
	if location.SignatureType != JadeProxyAgentSignature {
		return codec.EncodeBinary(letter)
	}

	clone := letter.Clone()
	content := clone.Msg.String()
	clone.AddExtraEnvelope(envelope.Overlay{SenderAddresses: t.ownAddressStrings()})
	clone.SetPayload([]byte(content), envelope.RepresentationString)
	return codec.EncodeXML(clone)
}

func (t *MessageTransport) ownAddressStrings() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.locations))
	for _, l := range t.locations {
		out = append(out, l.ServiceAddress)
	}
	return out
}

// synthesizeErrorLetter builds the FAILURE/fipa-agent-management
// letter reporting that original could not reach the receivers in
// remaining; only those receivers are listed in the inner message.
func (t *MessageTransport) synthesizeErrorLetter(original *envelope.Letter, remaining []string) *envelope.Letter {
	flat := original.Flattened()

	inner := acl.Message{
		Sender:    flat.From,
		Receivers: remaining,
		Language:  "internal-error",
		Content:   fmt.Sprintf("description: message delivery failed\ndelivery path: %s", original.DeliveryPathString()),
	}

	outer := acl.Message{
		Performative:   acl.Failure,
		Sender:         t.agentID,
		Receivers:      []string{flat.From},
		Content:        inner.String(),
		Ontology:       "fipa-agent-management",
		Protocol:       original.Msg.Protocol,
		ConversationID: original.Msg.ConversationID,
		InReplyTo:      original.Msg.InReplyTo,
	}

	return envelope.New(envelope.Overlay{
		From:              t.agentID,
		To:                []string{flat.From},
		IntendedReceivers: []string{flat.From},
		Representation:    envelope.RepresentationBinary,
	}, outer)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
