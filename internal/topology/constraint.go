package topology

import (
	"fmt"
	"iter"
	"net/netip"

	"go4.org/netipx"

	"seedemu/internal/errdefs"
)

// Default host and router offsets for prefixes of /24 and larger.
const (
	DefaultHostFrom   = 71
	DefaultHostTo     = 99
	DefaultRouterFrom = 254
	DefaultRouterTo   = 200
)

// OffsetRange is an inclusive range of host offsets within a prefix. From
// greater than To walks the range downwards.
type OffsetRange struct {
	From int `yaml:"from" json:"from"`
	To   int `yaml:"to" json:"to"`
}

// Offsets yields the offsets of the range in walk order
func (r OffsetRange) Offsets() iter.Seq[int] {
	return func(yield func(int) bool) {
		step := 1
		if r.From > r.To {
			step = -1
		}
		for off := r.From; ; off += step {
			if !yield(off) || off == r.To {
				return
			}
		}
	}
}

func (r OffsetRange) bounds() (lo, hi int) {
	return min(r.From, r.To), max(r.From, r.To)
}

// AddressRange is an inclusive range of addresses
type AddressRange struct {
	From netip.Addr `yaml:"from" json:"from"`
	To   netip.Addr `yaml:"to" json:"to"`
}

// AddressAssignmentConstraint decides which addresses a network hands out.
// Hosts walk Hosts, routers and route servers walk Routers. In Exchange mode
// routers and route servers get the address whose offset is their ASN.
type AddressAssignmentConstraint struct {
	Hosts    OffsetRange    `yaml:"hosts" json:"hosts"`
	Routers  OffsetRange    `yaml:"routers" json:"routers"`
	Excluded []AddressRange `yaml:"excluded,omitempty" json:"excluded,omitempty"`
	Exchange bool           `yaml:"exchange,omitempty" json:"exchange,omitempty"`
}

// DefaultConstraint returns the constraint used when a network is created
// without one. Prefixes smaller than /24 split their usable range in two:
// the lower half for hosts, the upper half for routers.
func DefaultConstraint(prefix netip.Prefix) (*AddressAssignmentConstraint, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	if prefix.Bits() <= 24 {
		return &AddressAssignmentConstraint{
			Hosts:   OffsetRange{From: DefaultHostFrom, To: DefaultHostTo},
			Routers: OffsetRange{From: DefaultRouterFrom, To: DefaultRouterTo},
		}, nil
	}
	usable := prefixSize(prefix) - 2
	if usable < 2 {
		return nil, fmt.Errorf("prefix %s too small: %w", prefix, errdefs.ErrInvalidTopology)
	}
	half := usable / 2
	return &AddressAssignmentConstraint{
		Hosts:   OffsetRange{From: 1, To: half},
		Routers: OffsetRange{From: usable, To: half + 1},
	}, nil
}

// Exclude keeps the addresses from..to out of automatic assignment
func (c *AddressAssignmentConstraint) Exclude(from, to netip.Addr) error {
	if !netipx.IPRangeFrom(from, to).IsValid() {
		return fmt.Errorf("exclude %s-%s: invalid range: %w", from, to, errdefs.ErrInvalidTopology)
	}
	c.Excluded = append(c.Excluded, AddressRange{From: from, To: to})
	return nil
}

// Validate checks that every offset range lies inside the usable part of
// prefix.
func (c *AddressAssignmentConstraint) Validate(prefix netip.Prefix) error {
	if err := checkPrefix(prefix); err != nil {
		return err
	}
	last := prefixSize(prefix) - 2
	for _, role := range []Role{RoleHost, RoleRouter} {
		if c.Exchange && role == RoleRouter {
			continue
		}
		r := c.rangeFor(role)
		lo, hi := r.bounds()
		if lo < 1 || hi > last {
			return fmt.Errorf("prefix %s too small for %s offsets %d-%d: %w", prefix, role, r.From, r.To, errdefs.ErrInvalidTopology)
		}
	}
	_, err := c.excludedSet()
	return err
}

func (c *AddressAssignmentConstraint) rangeFor(role Role) OffsetRange {
	if role == RoleHost {
		return c.Hosts
	}
	return c.Routers
}

func (c *AddressAssignmentConstraint) excludedSet() (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, r := range c.Excluded {
		rng := netipx.IPRangeFrom(r.From, r.To)
		if !rng.IsValid() {
			return nil, fmt.Errorf("excluded range %s-%s: %w", r.From, r.To, errdefs.ErrInvalidTopology)
		}
		b.AddRange(rng)
	}
	return b.IPSet()
}

func checkPrefix(prefix netip.Prefix) error {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return fmt.Errorf("prefix %s: only IPv4 prefixes are supported: %w", prefix, errdefs.ErrInvalidTopology)
	}
	return nil
}

func prefixSize(prefix netip.Prefix) int {
	return 1 << (32 - prefix.Bits())
}
