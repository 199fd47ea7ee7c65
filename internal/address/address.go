// Package address implements the Address value type: a
// (protocol, ip, port) triple with a canonical "proto://ip:port" wire
// form.
package address

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/errs"
)

var grammar = regexp.MustCompile(`^([^:]+)://([^:]+):([0-9]{1,5})$`)

// Address is a network endpoint tagged with the transport protocol that
// serves it.
type Address struct {
	Protocol string
	IP       string
	Port     uint16
}

// Parse accepts exactly "<proto>://<ip>:<port>". port must fit in 16
// bits (1-5 digits is accepted by the grammar; a value above 65535 is
// rejected after the digits are parsed).
func Parse(s string) (Address, error) {
	m := grammar.FindStringSubmatch(s)
	if m == nil {
		return Address{}, errs.New(errs.InvalidArgument, "address.Parse", fmt.Errorf("malformed address %q", s))
	}
	port, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil || port == 0 || port > 65535 {
		return Address{}, errs.New(errs.InvalidArgument, "address.Parse", fmt.Errorf("port out of range in %q", s))
	}
	return Address{Protocol: m[1], IP: m[2], Port: uint16(port)}, nil
}

// String is the inverse of Parse and round-trips.
func (a Address) String() string {
	return fmt.Sprintf("%s://%s:%d", a.Protocol, a.IP, a.Port)
}

// Equal compares only (IP, Port); two different protocols bound to the
// same endpoint collide, matching the source's Connection-level
// comparison.
func (a Address) Equal(o Address) bool {
	return a.IP == o.IP && a.Port == o.Port
}

// Less implements a proper three-tier lexicographic order over
// (ip, port, protocol), used when Address participates as a sorted-map
// key. Each tier is only consulted once the higher tiers compare equal.
func (a Address) Less(o Address) bool {
	if a.IP != o.IP {
		return a.IP < o.IP
	}
	if a.Port != o.Port {
		return a.Port < o.Port
	}
	return a.Protocol < o.Protocol
}
