// Package envelope implements the letter/envelope model: a base
// envelope plus an ordered sequence of overlays, flattened by a pure
// fold rather than mutated in place.
package envelope

import (
	"strings"

	"github.com/google/uuid"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/acl"
)

// Representation names the wire form a payload is encoded in.
type Representation string

const (
	RepresentationBinary Representation = "binary"
	RepresentationXML    Representation = "xml"
	RepresentationString Representation = "string"
)

// Overlay is one layer of envelope metadata. The base envelope is the
// first overlay in a Letter; every subsequent overlay may override any
// subset of these fields — a zero value for a field means "no
// override, inherit from the fold so far".
type Overlay struct {
	From              string
	To                []string
	IntendedReceivers []string
	Payload           []byte
	Representation    Representation
	PayloadLength     int
	SenderAddresses   []string
}

// Flattened is the effective envelope produced by folding a Letter's
// base plus extras left to right.
type Flattened struct {
	From              string
	To                []string
	IntendedReceivers []string
	Payload           []byte
	Representation    Representation
	PayloadLength     int
	SenderAddresses   []string
}

// Letter is a base envelope, zero or more overlays, and the delivery
// path accumulated by stamping. Msg carries the decoded ACL message;
// the wire codec (internal/codec) is responsible for producing the
// Payload bytes from Msg and for the reverse parse.
type Letter struct {
	ID     string
	Base   Overlay
	Extras []Overlay
	Path   []string
	Msg    acl.Message
}

// New builds a letter whose base envelope is the given overlay.
func New(base Overlay, msg acl.Message) *Letter {
	return &Letter{ID: uuid.NewString(), Base: base, Msg: msg}
}

// Flattened folds Base then each Extra, left to right: a later
// overlay's non-zero fields win.
func (l *Letter) Flattened() Flattened {
	f := Flattened{
		From:              l.Base.From,
		To:                l.Base.To,
		IntendedReceivers: l.Base.IntendedReceivers,
		Payload:           l.Base.Payload,
		Representation:    l.Base.Representation,
		PayloadLength:     l.Base.PayloadLength,
		SenderAddresses:   l.Base.SenderAddresses,
	}
	for _, ov := range l.Extras {
		if ov.From != "" {
			f.From = ov.From
		}
		if ov.To != nil {
			f.To = ov.To
		}
		if ov.IntendedReceivers != nil {
			f.IntendedReceivers = ov.IntendedReceivers
		}
		if ov.Payload != nil {
			f.Payload = ov.Payload
		}
		if ov.Representation != "" {
			f.Representation = ov.Representation
		}
		if ov.PayloadLength != 0 {
			f.PayloadLength = ov.PayloadLength
		}
		if ov.SenderAddresses != nil {
			f.SenderAddresses = ov.SenderAddresses
		}
	}
	return f
}

// Stamp appends agentID to the delivery path, recording that this MTS
// has already dispatched the letter once (loop-prevention invariant).
func (l *Letter) Stamp(agentID string) {
	l.Path = append(l.Path, agentID)
}

// HasStamp reports whether agentID already appears in the delivery
// path.
func (l *Letter) HasStamp(agentID string) bool {
	for _, p := range l.Path {
		if p == agentID {
			return true
		}
	}
	return false
}

// DeliveryPathString renders the path for error descriptions.
func (l *Letter) DeliveryPathString() string {
	return strings.Join(l.Path, " -> ")
}

// AddExtraEnvelope appends an overlay on top of the letter.
func (l *Letter) AddExtraEnvelope(ov Overlay) {
	l.Extras = append(l.Extras, ov)
}

// SetPayload is shorthand for appending an overlay that only overrides
// Payload, Representation, and PayloadLength — the fields rewritten
// when re-serializing for a foreign-signature peer.
func (l *Letter) SetPayload(payload []byte, rep Representation) {
	l.AddExtraEnvelope(Overlay{
		Payload:        payload,
		Representation: rep,
		PayloadLength:  len(payload),
	})
}

// Clone produces a deep-enough copy for fan-out: the path and extras
// slices are copied so that stamping or overlaying one receiver's copy
// never affects another.
func (l *Letter) Clone() *Letter {
	clone := &Letter{
		ID:   l.ID,
		Base: l.Base,
		Msg:  l.Msg,
	}
	clone.Path = append([]string(nil), l.Path...)
	clone.Extras = append([]Overlay(nil), l.Extras...)
	return clone
}

// CreateDedicatedEnvelope returns a copy of the letter whose intended
// receivers is exactly {agentID}, used for per-receiver fan-out so that
// a letter addressed to several agents is delivered to each as if it
// had been addressed solely to them.
func (l *Letter) CreateDedicatedEnvelope(agentID string) *Letter {
	dedicated := l.Clone()
	dedicated.AddExtraEnvelope(Overlay{IntendedReceivers: []string{agentID}})
	return dedicated
}
