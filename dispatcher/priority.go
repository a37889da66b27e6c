package dispatcher

import (
	"fmt"
	"strings"
)

// Urgency ranks requests to the same origin. Lower values are more urgent.
type Urgency uint8

const (
	urgencyUnset Urgency = iota
	UrgencyImmediate
	UrgencySoon
	UrgencyEventually
	UrgencyOptional

	urgencyCount = int(UrgencyOptional)
)

func (u Urgency) String() string {
	switch u {
	case UrgencyImmediate:
		return "immediate"
	case UrgencySoon:
		return "soon"
	case UrgencyEventually:
		return "eventually"
	case UrgencyOptional:
		return "optional"
	default:
		return "unset"
	}
}

// Priority is either an urgency level or the Spaced delivery mode.
//
// Spaced is not a rank. It changes policy: a Spaced request waits for the
// urgency queues, at most one Spaced request per origin is in flight, and
// successive Spaced starts are kept Config.SpacedGap apart.
//
// The zero Priority behaves as Soon.
type Priority struct {
	urgency Urgency
	spaced  bool
}

var (
	// Immediate starts synchronously inside the dispatch call when the
	// origin is not backed off.
	Immediate = Priority{urgency: UrgencyImmediate}
	Soon      = Priority{urgency: UrgencySoon}
	// Eventually and Optional share Soon's retry policy and only queue
	// behind it.
	Eventually = Priority{urgency: UrgencyEventually}
	Optional   = Priority{urgency: UrgencyOptional}
	// Spaced throttles bulk delivery even when every request succeeds.
	Spaced = Priority{spaced: true}
)

// ParsePriority parses the lowercase name of a priority. An empty string is
// Soon.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "soon":
		return Soon, nil
	case "immediate":
		return Immediate, nil
	case "eventually":
		return Eventually, nil
	case "optional":
		return Optional, nil
	case "spaced":
		return Spaced, nil
	}
	return Priority{}, fmt.Errorf("dispatcher: unknown priority %q", s)
}

// IsSpaced reports whether p is the Spaced mode.
func (p Priority) IsSpaced() bool {
	return p.spaced
}

// Urgency returns the urgency level. Spaced requests report Soon, whose
// retry policy they share.
func (p Priority) Urgency() Urgency {
	if p.spaced || p.urgency == urgencyUnset {
		return UrgencySoon
	}
	return p.urgency
}

func (p Priority) String() string {
	if p.spaced {
		return "spaced"
	}
	return p.Urgency().String()
}

func (p Priority) normalize() Priority {
	if p.spaced {
		return Spaced
	}
	return Priority{urgency: p.Urgency()}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
