package directory

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/discovery"
	"github.com/rock-multiagent/multiagent-fipa-services/internal/errs"
)

// Fabric is the subset of discovery.Fabric the distributed directory
// needs; kept as an interface so tests can substitute an in-memory
// double without opening real sockets.
type Fabric interface {
	Advertise(scope string, name, content string, field int, payload []byte) error
	Withdraw(scope string, name string) error
	Query(ctx context.Context, scope string, regex string, field int) ([]discovery.Record, error)
}

// DistributedServiceDirectory implements the same operations as
// ServiceDirectory but backs them with a discovery fabric bound to one
// or more scopes, so that entries registered on one host are visible
// to Search calls on another.
//
// Names are canonicalized before publication (every "." replaced with
// "?") so a name containing dots cannot accidentally act as a regex
// wildcard when another peer searches for it literally; the inverse
// substitution is applied on read.
type DistributedServiceDirectory struct {
	fabric Fabric
	scopes []string
}

// NewDistributed binds to the given scopes (defaulting to
// discovery.DefaultScope when scopes is empty).
func NewDistributed(fabric Fabric, scopes ...string) *DistributedServiceDirectory {
	if len(scopes) == 0 {
		scopes = []string{discovery.DefaultScope}
	}
	return &DistributedServiceDirectory{fabric: fabric, scopes: scopes}
}

func canonicalize(name string) string   { return strings.ReplaceAll(name, ".", "?") }
func decanonicalize(name string) string { return strings.ReplaceAll(name, "?", ".") }

// Register publishes entry on every bound scope under its canonicalized
// name.
func (d *DistributedServiceDirectory) Register(entry Entry) error {
	canon := entry
	canon.Name = canonicalize(entry.Name)
	canon.Timestamp = time.Now()

	payload, err := msgpack.Marshal(canon)
	if err != nil {
		return errs.New(errs.InvalidArgument, "DistributedServiceDirectory.Register", err)
	}
	for _, scope := range d.scopes {
		if err := d.fabric.Advertise(scope, canon.Name, canon.FieldContent(NAME), int(NAME), payload); err != nil {
			return errs.New(errs.TransportError, "DistributedServiceDirectory.Register", err)
		}
	}
	return nil
}

// Deregister withdraws the advertisement for entry.Name from every
// bound scope.
func (d *DistributedServiceDirectory) Deregister(entry Entry) error {
	canonName := canonicalize(entry.Name)
	for _, scope := range d.scopes {
		if err := d.fabric.Withdraw(scope, canonName); err != nil {
			return errs.New(errs.TransportError, "DistributedServiceDirectory.Deregister", err)
		}
	}
	return nil
}

// Search queries the fabric across every bound scope within a short,
// context-bounded window and returns matching entries with their
// original (non-canonicalized) names restored.
//
// The fabric does not filter: it returns every record it holds for the
// scope, whatever regex and field are passed to Query. The actual
// regex/field match against the decoded Entry happens here, exactly as
// the local ServiceDirectory.Search does, so callers can search by
// TYPE, DESCRIPTION, and so on, not only NAME.
func (d *DistributedServiceDirectory) Search(ctx context.Context, regex string, field Field, throwIfEmpty bool) ([]Entry, error) {
	// Full-string match, not substring, matching local
	// ServiceDirectory.Search's use of compileFullMatch.
	r, err := regexp.Compile("^(?:" + regex + ")$")
	if err != nil {
		return nil, errs.New(errs.InvalidArgument, "DistributedServiceDirectory.Search", err)
	}

	seen := make(map[string]struct{})
	var out []Entry
	for _, scope := range d.scopes {
		records, err := d.fabric.Query(ctx, scope, regex, int(field))
		if err != nil {
			return nil, errs.New(errs.TransportError, "DistributedServiceDirectory.Search", err)
		}
		for _, rec := range records {
			var entry Entry
			if err := msgpack.Unmarshal(rec.Payload, &entry); err != nil {
				continue
			}
			entry.Name = decanonicalize(entry.Name)
			if !r.MatchString(entry.FieldContent(field)) {
				continue
			}
			if _, dup := seen[entry.Name]; dup {
				continue
			}
			seen[entry.Name] = struct{}{}
			out = append(out, entry)
		}
	}
	if len(out) == 0 && throwIfEmpty {
		return nil, errs.New(errs.NotFound, "DistributedServiceDirectory.Search", nil)
	}
	return out, nil
}
