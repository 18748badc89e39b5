// ABOUTME: Pluggable ordering policies for eligible backend credentials
// ABOUTME: RoundRobin rotates the starting credential, FirstMatch keeps store order

package credential

import (
	"fmt"
	"sync/atomic"

	"github.com/2389/chat-gateway/internal/store"
)

// Strategy decides the order in which eligible credentials are tried.
// The first entry serves the exchange, the second is the retry candidate.
type Strategy interface {
	Order(candidates []*store.Credential) []*store.Credential
}

// RoundRobin rotates the start index on every call.
type RoundRobin struct {
	next atomic.Uint64
}

// Order returns candidates rotated by an ever increasing offset.
func (r *RoundRobin) Order(candidates []*store.Credential) []*store.Credential {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	start := int((r.next.Add(1) - 1) % uint64(n))
	ordered := make([]*store.Credential, 0, n)
	ordered = append(ordered, candidates[start:]...)
	ordered = append(ordered, candidates[:start]...)
	return ordered
}

// FirstMatch keeps the store order.
type FirstMatch struct{}

// Order returns candidates unchanged.
func (FirstMatch) Order(candidates []*store.Credential) []*store.Credential {
	return candidates
}

// NewStrategy builds a strategy from its config name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobin{}, nil
	case "first_match":
		return FirstMatch{}, nil
	default:
		return nil, fmt.Errorf("unknown credential strategy: %q", name)
	}
}
