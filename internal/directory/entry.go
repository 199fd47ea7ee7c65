// Package directory implements ServiceDirectoryEntry and the local,
// thread-safe ServiceDirectory registry.
package directory

import (
	"time"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/svcloc"
)

// Field selects which attribute of an Entry a regex search matches
// against.
type Field int

const (
	NAME Field = iota
	TYPE
	LOCATOR
	DESCRIPTION
	TIMESTAMP
)

// Entry is a directory record: a name (the primary key), a type tag, an
// ordered locator, a free-form description, and the time it was last
// mutated.
type Entry struct {
	Name        string
	Type        string
	Locator     svcloc.ServiceLocator
	Description string
	Timestamp   time.Time
}

// FieldContent returns the string form of the requested field, the
// basis for all regex-based directory search.
func (e Entry) FieldContent(f Field) string {
	switch f {
	case NAME:
		return e.Name
	case TYPE:
		return e.Type
	case LOCATOR:
		return e.Locator.String()
	case DESCRIPTION:
		return e.Description
	case TIMESTAMP:
		return e.Timestamp.Format(time.RFC3339Nano)
	default:
		return ""
	}
}
