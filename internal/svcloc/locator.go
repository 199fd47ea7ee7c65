package svcloc

import "strings"

// ServiceLocator is an ordered sequence of ServiceLocation; order
// expresses priority (head = highest). Duplicates are not rejected.
type ServiceLocator struct {
	Locations []ServiceLocation
}

// String semicolon-joins each location's String form, including the
// trailing ";" the source grammar always produces.
func (s ServiceLocator) String() string {
	var b strings.Builder
	for _, l := range s.Locations {
		b.WriteString(l.String())
		b.WriteByte(';')
	}
	return b.String()
}

// ParseLocator splits on ";" and parses each non-empty token as a
// ServiceLocation, preserving order and duplicates.
func ParseLocator(s string) ServiceLocator {
	var out ServiceLocator
	for _, tok := range strings.Split(s, ";") {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		out.Locations = append(out.Locations, ParseLocation(tok))
	}
	return out
}

// Add appends a location, keeping priority order (head = highest,
// appended entries rank lowest).
func (s *ServiceLocator) Add(l ServiceLocation) {
	s.Locations = append(s.Locations, l)
}

// Contains reports whether any location in the locator equals l.
func (s ServiceLocator) Contains(l ServiceLocation) bool {
	for _, existing := range s.Locations {
		if existing.Equal(l) {
			return true
		}
	}
	return false
}
