// Package codec implements the two on-the-wire envelope
// representations: a compact msgpack binary form used between two MTS
// instances, and an XML form used when the peer's signature type
// indicates a foreign proxy (e.g. a JadeProxyAgent).
package codec

import (
	"encoding/xml"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/acl"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/envelope"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/errs"
)

// wireLetter is the flat, serialization-friendly shape both codecs
// read and write; it mirrors envelope.Letter's flattened view rather
// than its overlay structure, since only the effective envelope ever
// crosses the wire.
type wireLetter struct {
	ID                string   `msgpack:"id" xml:"id,attr"`
	From              string   `msgpack:"from" xml:"from"`
	To                []string `msgpack:"to" xml:"to>agent"`
	IntendedReceivers []string `msgpack:"intended_receivers" xml:"intended-receivers>agent"`
	Payload           []byte   `msgpack:"payload" xml:"-"`
	PayloadString     string   `msgpack:"-" xml:"payload"`
	Representation    string   `msgpack:"representation" xml:"representation"`
	PayloadLength     int      `msgpack:"payload_length" xml:"payload-length"`
	SenderAddresses   []string `msgpack:"sender_addresses" xml:"sender-addresses>address"`
	Path              []string `msgpack:"path" xml:"path>hop"`

	Performative   acl.Performative `msgpack:"performative" xml:"performative"`
	Language       string           `msgpack:"language" xml:"language"`
	Ontology       string           `msgpack:"ontology" xml:"ontology"`
	Protocol       string           `msgpack:"protocol" xml:"protocol"`
	ConversationID string           `msgpack:"conversation_id" xml:"conversation-id"`
	InReplyTo      string           `msgpack:"in_reply_to" xml:"in-reply-to"`
	Encoding       string           `msgpack:"encoding" xml:"encoding"`
}

func toWire(l *envelope.Letter) wireLetter {
	flat := l.Flattened()
	return wireLetter{
		ID:                l.ID,
		From:              flat.From,
		To:                flat.To,
		IntendedReceivers: flat.IntendedReceivers,
		Payload:           flat.Payload,
		PayloadString:     string(flat.Payload),
		Representation:    string(flat.Representation),
		PayloadLength:     flat.PayloadLength,
		SenderAddresses:   flat.SenderAddresses,
		Path:              l.Path,
		Performative:      l.Msg.Performative,
		Language:          l.Msg.Language,
		Ontology:          l.Msg.Ontology,
		Protocol:          l.Msg.Protocol,
		ConversationID:    l.Msg.ConversationID,
		InReplyTo:         l.Msg.InReplyTo,
		Encoding:          l.Msg.Encoding,
	}
}

func fromWire(w wireLetter, payload []byte) *envelope.Letter {
	l := envelope.New(envelope.Overlay{
		From:              w.From,
		To:                w.To,
		IntendedReceivers: w.IntendedReceivers,
		Payload:           payload,
		Representation:    envelope.Representation(w.Representation),
		PayloadLength:     w.PayloadLength,
		SenderAddresses:   w.SenderAddresses,
	}, acl.Message{
		Performative:   w.Performative,
		Sender:         w.From,
		Receivers:      w.To,
		Content:        string(payload),
		Language:       w.Language,
		Ontology:       w.Ontology,
		Protocol:       w.Protocol,
		ConversationID: w.ConversationID,
		InReplyTo:      w.InReplyTo,
		Encoding:       w.Encoding,
	})
	l.ID = w.ID
	l.Path = w.Path
	return l
}

// EncodeBinary produces the compact msgpack form used between two MTS
// instances that accept each other's service signature.
func EncodeBinary(l *envelope.Letter) ([]byte, error) {
	data, err := msgpack.Marshal(toWire(l))
	if err != nil {
		return nil, errs.New(errs.InvalidArgument, "codec.EncodeBinary", err)
	}
	return data, nil
}

// DecodeBinary parses the msgpack form produced by EncodeBinary.
func DecodeBinary(data []byte) (*envelope.Letter, error) {
	var w wireLetter
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, errs.New(errs.InvalidArgument, "codec.DecodeBinary", err)
	}
	return fromWire(w, w.Payload), nil
}

// EncodeXML produces the XML form used for a JadeProxyAgent peer: the
// payload travels as the string-form ACL message, not as raw bytes.
func EncodeXML(l *envelope.Letter) ([]byte, error) {
	w := toWire(l)
	w.Representation = string(envelope.RepresentationString)
	w.PayloadString = string(w.Payload)
	w.PayloadLength = len(w.PayloadString)
	data, err := xml.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, errs.New(errs.InvalidArgument, "codec.EncodeXML", err)
	}
	return data, nil
}

// DecodeXML parses the XML form produced by EncodeXML.
func DecodeXML(data []byte) (*envelope.Letter, error) {
	var w wireLetter
	if err := xml.Unmarshal(data, &w); err != nil {
		return nil, errs.New(errs.InvalidArgument, "codec.DecodeXML", err)
	}
	return fromWire(w, []byte(w.PayloadString)), nil
}
