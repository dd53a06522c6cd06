// Package phase tracks which of the four venue phases is active and gates
// operations on it.
package phase

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
)

type Phase uint8

const (
	Deposit Phase = iota
	Offer
	Bid
	Matching
)

func (p Phase) String() string {
	switch p {
	case Deposit:
		return "deposit"
	case Offer:
		return "offer"
	case Bid:
		return "bid"
	case Matching:
		return "matching"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the four defined phases.
func (p Phase) Valid() bool {
	return p <= Matching
}

// Parse accepts a phase name or its numeric code ("0".."3").
func Parse(s string) (Phase, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p := Deposit; p <= Matching; p++ {
		if s == p.String() || s == fmt.Sprintf("%d", uint8(p)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Error is returned when an operation is attempted outside its phase.
// It matches core.ErrWrongPhase.
type Error struct {
	Required []Phase
	Current  Phase
}

func (e *Error) Error() string {
	names := make([]string, len(e.Required))
	for i, p := range e.Required {
		names[i] = p.String()
	}
	return fmt.Sprintf("wrong phase: requires %s, current %s", strings.Join(names, " or "), e.Current)
}

func (e *Error) Is(target error) bool { return target == core.ErrWrongPhase }

// Controller holds the current phase. The zero value is in Deposit.
type Controller struct {
	mu      sync.RWMutex
	current Phase
}

func NewController() *Controller {
	return &Controller{current: Deposit}
}

// Set moves to p. Any transition is permitted, including to the current
// phase. Out-of-range values are rejected.
func (c *Controller) Set(p Phase) error {
	if !p.Valid() {
		return fmt.Errorf("unknown phase %d", uint8(p))
	}
	c.mu.Lock()
	c.current = p
	c.mu.Unlock()
	return nil
}

func (c *Controller) Current() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Require fails with *Error unless the current phase is one of allowed.
func (c *Controller) Require(allowed ...Phase) error {
	cur := c.Current()
	if slices.Contains(allowed, cur) {
		return nil
	}
	return &Error{Required: allowed, Current: cur}
}
