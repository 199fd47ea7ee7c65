package directory

import (
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/errs"
)

// ServiceDirectory is a thread-safe, in-memory registry of Entry
// values keyed by name. A single mutex serializes every operation,
// matching the teacher broker's map-plus-mutex idiom rather than a
// reader/writer split: contention here is expected to be low (local
// directory lookups are cheap map reads under a short-held lock).
type ServiceDirectory struct {
	mu        sync.Mutex
	services  map[string]Entry
	timestamp time.Time
	debug     bool
}

// compileFullMatch compiles regex so that MatchString only succeeds
// against the entire subject, mirroring boost::regex_match rather than
// Go's default unanchored MatchString.
func compileFullMatch(regex string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + regex + ")$")
}

// New returns an empty directory, timestamped at construction.
func New() *ServiceDirectory {
	return &ServiceDirectory{
		services:  make(map[string]Entry),
		timestamp: time.Now(),
	}
}

// SetDebug toggles verbose logging of directory mutations.
func (d *ServiceDirectory) SetDebug(debug bool) { d.debug = debug }

func (d *ServiceDirectory) updateTimestamp() {
	d.timestamp = time.Now()
}

// Timestamp returns the time of the most recent successful mutation.
func (d *ServiceDirectory) Timestamp() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timestamp
}

// Register fails with DuplicateEntry if entry.Name already exists.
func (d *ServiceDirectory) Register(entry Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.debug {
		log.Printf("[directory] register %s", entry.Name)
	}
	if _, exists := d.services[entry.Name]; exists {
		return errs.New(errs.DuplicateEntry, "ServiceDirectory.Register", fmt.Errorf("%s", entry.Name))
	}
	d.services[entry.Name] = entry
	d.updateTimestamp()
	return nil
}

// DeregisterEntry removes the entry whose name equals entry.Name.
func (d *ServiceDirectory) DeregisterEntry(entry Entry) error {
	return d.Deregister("^"+regexp.QuoteMeta(entry.Name)+"$", NAME)
}

// Deregister removes the FIRST entry (in map iteration order) whose
// field matches regex, and returns. It fails with NotFound if no entry
// matches at all. This single-removal-per-call behavior is preserved
// from the source even though Search (below) is plural; callers that
// need "remove every match" use ClearSelectively.
func (d *ServiceDirectory) Deregister(regex string, field Field) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, err := compileFullMatch(regex)
	if err != nil {
		return errs.New(errs.InvalidArgument, "ServiceDirectory.Deregister", err)
	}
	for name, entry := range d.services {
		if r.MatchString(entry.FieldContent(field)) {
			delete(d.services, name)
			d.updateTimestamp()
			return nil
		}
	}
	return errs.New(errs.NotFound, "ServiceDirectory.Deregister", fmt.Errorf("ServiceDirectoryEntry matching '%s'", regex))
}

// Search returns every entry whose field matches regex as a full-string
// match. If throwIfEmpty is set and the result is empty, it fails with
// NotFound; otherwise an empty result is returned without error.
func (d *ServiceDirectory) Search(regex string, field Field, throwIfEmpty bool) ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, err := compileFullMatch(regex)
	if err != nil {
		return nil, errs.New(errs.InvalidArgument, "ServiceDirectory.Search", err)
	}
	var result []Entry
	for _, entry := range d.services {
		if r.MatchString(entry.FieldContent(field)) {
			result = append(result, entry)
		}
	}
	if len(result) == 0 && throwIfEmpty {
		return nil, errs.New(errs.NotFound, "ServiceDirectory.Search", fmt.Errorf("ServiceDirectoryEntry matching '%s'", regex))
	}
	return result, nil
}

// SearchEntry is the entry-keyed convenience overload: search by exact
// name.
func (d *ServiceDirectory) SearchEntry(entry Entry) ([]Entry, error) {
	return d.Search("^"+regexp.QuoteMeta(entry.Name)+"$", NAME, false)
}

// Modify replaces the entry with the same name as entry. Fails with
// NotFound if no such entry exists.
func (d *ServiceDirectory) Modify(entry Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.services[entry.Name]; !exists {
		return errs.New(errs.NotFound, "ServiceDirectory.Modify", fmt.Errorf("%s", entry.Name))
	}
	d.services[entry.Name] = entry
	d.updateTimestamp()
	return nil
}

// All returns a snapshot of every entry currently registered.
func (d *ServiceDirectory) All() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, 0, len(d.services))
	for _, e := range d.services {
		out = append(out, e)
	}
	return out
}

// uniqueFieldValues collects the distinct FieldContent(field) values
// across list.
func uniqueFieldValues(list []Entry, field Field) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range list {
		v := e.FieldContent(field)
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// ClearSelectively removes every entry whose field matches regex,
// unlike Deregister which stops at the first match. It does not fail
// when nothing matches; an invalid regex fails with InvalidArgument.
func (d *ServiceDirectory) ClearSelectively(regex string, field Field) error {
	// Search and Deregister each take the lock themselves; this method
	// only sequences them, mirroring the source's own composition.
	list, err := d.Search(regex, field, false)
	if err != nil {
		return err
	}
	for _, entry := range list {
		if err := d.Deregister("^"+regexp.QuoteMeta(entry.Name)+"$", NAME); err != nil {
			return err
		}
	}
	return nil
}

// MergeSelectively computes the unique field values present in
// updates, clears every existing entry whose field matches one of
// those values (interpreted as a regex literal), then registers every
// entry in updates, in order. A duplicate name within updates itself
// propagates as DuplicateEntry.
func (d *ServiceDirectory) MergeSelectively(updates []Entry, field Field) error {
	for _, value := range uniqueFieldValues(updates, field) {
		// value is used directly as the regex, not escaped: this
		// matches the source's clearSelectively(*cit, field) call,
		// which passes the raw field content straight through.
		if err := d.ClearSelectively(value, field); err != nil {
			return err
		}
	}
	for _, entry := range updates {
		if err := d.Register(entry); err != nil {
			return err
		}
	}
	return nil
}
