package trust

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrBlocked is returned when the destination's trust level forbids the request.
var ErrBlocked = errors.New("trust: destination blocked")

// Store looks up the outgoing-request trust level for a destination.
type Store interface {
	RequestToTrust(ctx context.Context, u *url.URL) (Level, error)
}

// BlockedError describes a request refused by the Gate.
type BlockedError struct {
	Host  string
	Level Level
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("trust: requests to %s are blocked (%s)", e.Host, e.Level)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// Gate vetoes requests to blocked destinations before any scheduling or
// network cost is spent. A Gate with a nil Store admits everything.
type Gate struct {
	store Store
}

// NewGate returns a Gate backed by store.
func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// Admit returns nil if a request to u may proceed. override skips the level
// check but still requires a well-formed destination.
func (g *Gate) Admit(ctx context.Context, u *url.URL, override bool) error {
	if u == nil || u.Hostname() == "" {
		return fmt.Errorf("trust: request has no destination host")
	}
	if override || g == nil || g.store == nil {
		return nil
	}

	level, err := g.store.RequestToTrust(ctx, u)
	if err != nil {
		return fmt.Errorf("trust: lookup %s: %w", u.Hostname(), err)
	}
	if level.Blocks() {
		return &BlockedError{Host: u.Hostname(), Level: level}
	}
	return nil
}

// domainCandidates returns host followed by each parent domain, most
// specific first: a.b.example → [a.b.example b.example example].
func domainCandidates(host string) []string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return nil
	}

	candidates := []string{host}
	for {
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return candidates
		}
		host = host[i+1:]
		if host == "" {
			return candidates
		}
		candidates = append(candidates, host)
	}
}

func normalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
