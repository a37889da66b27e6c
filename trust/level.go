// Package trust decides whether outgoing requests may be sent to a remote
// domain at all.
package trust

import (
	"fmt"
	"strings"
)

// Level is an outgoing-request trust level. Levels are ordered: a lower
// value is less trusted.
type Level int8

const (
	BlockUnconditional  Level = -2
	BlockUnlessFollowed Level = -1
	Unset               Level = 0
	Trusted             Level = 1
)

// Blocks reports whether a request at this level is refused when the caller
// has not overridden the check.
func (l Level) Blocks() bool {
	return l <= BlockUnlessFollowed
}

func (l Level) String() string {
	switch l {
	case BlockUnconditional:
		return "block_unconditional"
	case BlockUnlessFollowed:
		return "block_unless_followed"
	case Unset:
		return "unset"
	case Trusted:
		return "trusted"
	default:
		return fmt.Sprintf("level(%d)", int8(l))
	}
}

// ParseLevel parses the names produced by Level.String. Matching is case
// insensitive and accepts '-' in place of '_'.
func ParseLevel(s string) (Level, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "block_unconditional", "block":
		return BlockUnconditional, nil
	case "block_unless_followed":
		return BlockUnlessFollowed, nil
	case "unset", "":
		return Unset, nil
	case "trusted":
		return Trusted, nil
	}
	return Unset, fmt.Errorf("trust: unknown level %q", s)
}
