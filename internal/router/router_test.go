package router

import (
	"testing"
	"time"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/acl"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/directory"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/envelope"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/errs"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/svcloc"
)

func newLetter(from string, to ...string) *envelope.Letter {
	return envelope.New(envelope.Overlay{
		From:              from,
		To:                to,
		IntendedReceivers: to,
		Representation:    envelope.RepresentationBinary,
	}, acl.Message{Sender: from, Receivers: to})
}

func TestHandleDropsAlreadyStampedLetter(t *testing.T) {
	mt := New("mts1", directory.New())
	letter := newLetter("a", "b")
	letter.Stamp("mts1")
	if err := mt.Handle(letter); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}
}

func TestHandleTreatsSelfAddressedLetterAsInternal(t *testing.T) {
	mt := New("mts1", directory.New())
	letter := newLetter("a", "mts1")
	if err := mt.Handle(letter); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !letter.HasStamp("mts1") {
		t.Fatal("expected the letter to be stamped")
	}
}

func TestForwardDeliversLocallyWhenNoDirectoryEntry(t *testing.T) {
	mt := New("mts1", directory.New())
	delivered := false
	if err := mt.RegisterMessageTransport("local", func(receiver string, letter *envelope.Letter) bool {
		delivered = receiver == "b"
		return delivered
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	remaining := mt.Forward(newLetter("a", "b"))
	if len(remaining) != 0 {
		t.Fatalf("expected full delivery, remaining=%v", remaining)
	}
	if !delivered {
		t.Fatal("expected local handler to be invoked")
	}
}

func TestForwardReturnsUndeliveredReceiverWhenNoHandlerAccepts(t *testing.T) {
	mt := New("mts1", directory.New())
	_ = mt.RegisterMessageTransport("local", func(string, *envelope.Letter) bool { return false })

	remaining := mt.Forward(newLetter("a", "b"))
	if len(remaining) != 1 || remaining[0] != "b" {
		t.Fatalf("expected b to remain undelivered, got %v", remaining)
	}
}

func TestForwardSuppressesBroadcastToSelf(t *testing.T) {
	dir := directory.New()
	mt := New("mts1", dir)

	if err := dir.Register(directory.Entry{
		Name: "a",
		Locator: svcloc.ServiceLocator{Locations: []svcloc.ServiceLocation{
			{ServiceAddress: "tcp://127.0.0.1:9", SignatureType: ServiceSignature, ServiceSignature: ServiceSignature},
		}},
	}); err != nil {
		t.Fatalf("register entry: %v", err)
	}

	// "a" sends to "a": the directory resolves an entry named "a", but
	// it must be skipped because it equals the envelope's from.
	remaining := mt.Forward(newLetter("a", "a"))
	if len(remaining) != 1 || remaining[0] != "a" {
		t.Fatalf("expected broadcast-to-self to be suppressed and left undelivered, got %v", remaining)
	}
}

func TestForwardToOwnEndpointDeliversLocally(t *testing.T) {
	mt := New("mts1", directory.New())
	mt.locations = []svcloc.ServiceLocation{
		{ServiceAddress: "tcp://127.0.0.1:4000", SignatureType: ServiceSignature, ServiceSignature: ServiceSignature},
	}
	delivered := false
	_ = mt.RegisterMessageTransport("local", func(receiver string, letter *envelope.Letter) bool {
		delivered = true
		return true
	})

	loc := svcloc.ServiceLocation{ServiceAddress: "tcp://127.0.0.1:4000", SignatureType: ServiceSignature, ServiceSignature: ServiceSignature}
	if err := mt.ForwardTo("b", loc, newLetter("a", "b")); err != nil {
		t.Fatalf("ForwardTo: %v", err)
	}
	if !delivered {
		t.Fatal("expected local delivery for an own endpoint")
	}
}

func TestForwardToFailsWithProtocolNotActiveForUnknownTransport(t *testing.T) {
	mt := New("mts1", directory.New())
	loc := svcloc.ServiceLocation{ServiceAddress: "tcp://10.0.0.5:4000", SignatureType: ServiceSignature}
	err := mt.ForwardTo("b", loc, newLetter("a", "b"))
	if !errs.Is(err, errs.ProtocolNotActive) {
		t.Fatalf("expected ProtocolNotActive, got %v", err)
	}
}

func TestRegisterMessageTransportRejectsDuplicate(t *testing.T) {
	mt := New("mts1", directory.New())
	handler := func(string, *envelope.Letter) bool { return true }
	if err := mt.RegisterMessageTransport("h", handler); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := mt.RegisterMessageTransport("h", handler)
	if !errs.Is(err, errs.DuplicateEntry) {
		t.Fatalf("expected DuplicateEntry, got %v", err)
	}
}

func TestDeregisterMessageTransportFailsWhenMissing(t *testing.T) {
	mt := New("mts1", directory.New())
	err := mt.DeregisterMessageTransport("missing")
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRegisterClientFailsWithoutEndpoints(t *testing.T) {
	mt := New("mts1", directory.New())
	err := mt.RegisterClient("alice", "a test client")
	if !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestRegisterClientUsesOwnEndpoints(t *testing.T) {
	dir := directory.New()
	mt := New("mts1", dir)
	mt.locations = []svcloc.ServiceLocation{
		{ServiceAddress: "tcp://127.0.0.1:4000", SignatureType: ServiceSignature, ServiceSignature: ServiceSignature},
	}
	if err := mt.RegisterClient("alice", "a test client"); err != nil {
		t.Fatalf("register client: %v", err)
	}
	entries, err := dir.Search("^alice$", directory.NAME, true)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 1 || len(entries[0].Locator.Locations) != 1 {
		t.Fatalf("expected one entry with one location, got %+v", entries)
	}
}

func TestHandleSynthesizesErrorLetterOnUndeliveredReceiver(t *testing.T) {
	dir := directory.New()
	mt := New("mts1", dir)
	// No directory entries and a handler that refuses everything: "b" is
	// unreachable, and the synthesized FAILURE letter (addressed back to
	// "a") is offered to the handler and refused too, so Handle must not
	// panic or recurse forever.
	var offered []*envelope.Letter
	_ = mt.RegisterMessageTransport("local", func(receiver string, letter *envelope.Letter) bool {
		if receiver == "a" {
			offered = append(offered, letter)
		}
		return false
	})
	if err := mt.Handle(newLetter("a", "b")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(offered) != 1 || offered[0].Msg.Performative != acl.Failure || offered[0].Msg.Ontology != "fipa-agent-management" {
		t.Fatalf("expected exactly one FAILURE/fipa-agent-management letter offered for a, got %+v", offered)
	}
}

// TestForwardDeliversOverRealTCPBetweenTwoRouters exercises S1 over
// an actual socket rather than through a directly-injected local
// handler: two MessageTransports share a directory (as two MTS
// instances on the same deployment would via a DistributedServiceDirectory),
// each activates its own TCP transport, and delivery from one to a
// client registered on the other must cross the wire and be accepted
// under the client's own published signature type.
func TestForwardDeliversOverRealTCPBetweenTwoRouters(t *testing.T) {
	sharedDir := directory.New()

	mt0 := New("mts0", sharedDir)
	if err := mt0.ActivateTransport(TransportTCP, 0, 10, -1); err != nil {
		t.Fatalf("activate mts0 transport: %v", err)
	}
	defer mt0.Close()

	mt1 := New("mts1", sharedDir)
	if err := mt1.ActivateTransport(TransportTCP, 0, 10, -1); err != nil {
		t.Fatalf("activate mts1 transport: %v", err)
	}
	defer mt1.Close()

	delivered := make(chan string, 1)
	if err := mt1.RegisterMessageTransport("local", func(receiverName string, letter *envelope.Letter) bool {
		delivered <- receiverName
		return true
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	if err := mt1.RegisterClient("c1", "test client"); err != nil {
		t.Fatalf("register client: %v", err)
	}

	letter := newLetter("c0", "c1")
	if err := mt0.Handle(letter); err != nil {
		t.Fatalf("handle: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := mt1.Trigger(); err != nil {
			t.Fatalf("trigger: %v", err)
		}
		select {
		case receiver := <-delivered:
			if receiver != "c1" {
				t.Fatalf("expected delivery to c1, got %s", receiver)
			}
			return
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the letter to be delivered to mts1's local handler over TCP")
}

func TestActivateTransportTwiceFails(t *testing.T) {
	mt := New("mts1", directory.New())
	if err := mt.ActivateTransport(TransportTCP, 0, 10, -1); err != nil {
		t.Fatalf("first activation: %v", err)
	}
	defer mt.Close()
	err := mt.ActivateTransport(TransportTCP, 0, 10, -1)
	if !errs.Is(err, errs.AlreadyActive) {
		t.Fatalf("expected AlreadyActive, got %v", err)
	}
}
