package topology

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"slices"

	"go4.org/netipx"

	"seedemu/internal/errdefs"
)

// NetworkType represents the kind of layer 2 segment
type NetworkType string

const (
	NetworkLocal    NetworkType = "local"
	NetworkExchange NetworkType = "internet_exchange"
	NetworkBridge   NetworkType = "bridge"
)

// DefaultMTU is the MTU of a new network.
const DefaultMTU = 1500

// Lease records that an address is held by a node
type Lease struct {
	Addr  netip.Addr `yaml:"addr" json:"addr"`
	Owner string     `yaml:"owner" json:"owner"`
}

// Network represents a layer 2 segment scoped to an AS, an exchange or the
// emulator itself.
type Network struct {
	Name       string                      `yaml:"name" json:"name"`
	Scope      string                      `yaml:"scope" json:"scope"`
	Type       NetworkType                 `yaml:"type" json:"type"`
	Prefix     netip.Prefix                `yaml:"prefix" json:"prefix"`
	MTU        int                         `yaml:"mtu" json:"mtu"`
	Direct     bool                        `yaml:"direct,omitempty" json:"direct,omitempty"`
	Link       LinkProperties              `yaml:"link" json:"link"`
	Constraint AddressAssignmentConstraint `yaml:"constraint" json:"constraint"`
	Leases     []Lease                     `yaml:"leases,omitempty" json:"leases,omitempty"`

	// RemoteAccess is persisted by the snapshot codec, not by this struct
	RemoteAccess RemoteAccessProvider `yaml:"-" json:"-"`
}

// NewNetwork creates a network. A nil constraint selects DefaultConstraint;
// exchange networks always map router addresses to ASNs.
func NewNetwork(name, scope string, typ NetworkType, prefix netip.Prefix, aac *AddressAssignmentConstraint) (*Network, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, fmt.Errorf("network %s: %w", name, err)
	}
	prefix = prefix.Masked()
	if aac == nil {
		def, err := DefaultConstraint(prefix)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}
		aac = def
	}
	constraint := *aac
	if typ == NetworkExchange {
		constraint.Exchange = true
	}
	if err := constraint.Validate(prefix); err != nil {
		return nil, fmt.Errorf("network %s: %w", name, err)
	}
	return &Network{
		Name:       name,
		Scope:      scope,
		Type:       typ,
		Prefix:     prefix,
		MTU:        DefaultMTU,
		Constraint: constraint,
	}, nil
}

// SetDefaultLinkProperties sets the shaping inherited by interfaces that do
// not set their own
func (n *Network) SetDefaultLinkProperties(link LinkProperties) error {
	if err := link.Validate(); err != nil {
		return fmt.Errorf("network %s: %w", n.Name, err)
	}
	n.Link = link
	return nil
}

// Clone returns a copy of n that shares no slices with it. The provider is
// shared.
func (n *Network) Clone() *Network {
	c := *n
	c.Constraint.Excluded = slices.Clone(n.Constraint.Excluded)
	c.Leases = slices.Clone(n.Leases)
	return &c
}

// EnableRemoteAccess attaches a remote access provider
func (n *Network) EnableRemoteAccess(p RemoteAccessProvider) {
	n.RemoteAccess = p
}

// UsableRange returns the addresses between the network and broadcast
// addresses
func (n *Network) UsableRange() netipx.IPRange {
	r := netipx.RangeOfPrefix(n.Prefix)
	return netipx.IPRangeFrom(r.From().Next(), r.To().Prev())
}

// Holder returns the owner of addr
func (n *Network) Holder(addr netip.Addr) (string, bool) {
	for _, l := range n.Leases {
		if l.Addr == addr {
			return l.Owner, true
		}
	}
	return "", false
}

// LeaseOf returns the address held by owner
func (n *Network) LeaseOf(owner string) (netip.Addr, bool) {
	for _, l := range n.Leases {
		if l.Owner == owner {
			return l.Addr, true
		}
	}
	return netip.Addr{}, false
}

// Assign picks the next free address for a node. Repeated calls for the
// same owner return its existing lease.
func (n *Network) Assign(role Role, asn int, owner string) (netip.Addr, error) {
	if addr, ok := n.LeaseOf(owner); ok {
		return addr, nil
	}
	if n.Constraint.Exchange && role != RoleHost {
		addr, ok := n.addrAt(asn)
		if !ok || !n.usable(addr) {
			return netip.Addr{}, fmt.Errorf("network %s: asn %d does not map into %s: %w", n.Name, asn, n.Prefix, errdefs.ErrInvalidTopology)
		}
		if err := n.Claim(addr, owner); err != nil {
			return netip.Addr{}, err
		}
		return addr, nil
	}
	excluded, err := n.Constraint.excludedSet()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("network %s: %w", n.Name, err)
	}
	for off := range n.Constraint.rangeFor(role).Offsets() {
		addr, ok := n.addrAt(off)
		if !ok || !n.usable(addr) || excluded.Contains(addr) {
			continue
		}
		if _, held := n.Holder(addr); held {
			continue
		}
		n.Leases = append(n.Leases, Lease{Addr: addr, Owner: owner})
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("network %s: no free %s address for %s: %w", n.Name, role, owner, errdefs.ErrAddressSpaceExhausted)
}

// Claim reserves a specific address for owner. The address must be a usable
// address of the prefix and must not be held by anyone else.
func (n *Network) Claim(addr netip.Addr, owner string) error {
	if !n.Prefix.Contains(addr) || !n.usable(addr) {
		return fmt.Errorf("network %s: %s is not a usable address of %s: %w", n.Name, addr, n.Prefix, errdefs.ErrInvalidTopology)
	}
	if holder, held := n.Holder(addr); held {
		if holder == owner {
			return nil
		}
		return fmt.Errorf("network %s: %s already held by %s: %w", n.Name, addr, holder, errdefs.ErrInvalidTopology)
	}
	n.Leases = append(n.Leases, Lease{Addr: addr, Owner: owner})
	return nil
}

// AddressAt returns the address at offset from the network address when it
// is a usable address of the prefix
func (n *Network) AddressAt(offset int) (netip.Addr, bool) {
	addr, ok := n.addrAt(offset)
	if !ok || !n.usable(addr) {
		return netip.Addr{}, false
	}
	return addr, true
}

func (n *Network) usable(addr netip.Addr) bool {
	return n.UsableRange().Contains(addr)
}

func (n *Network) addrAt(offset int) (netip.Addr, bool) {
	if offset < 0 || offset >= prefixSize(n.Prefix) {
		return netip.Addr{}, false
	}
	b := n.Prefix.Addr().As4()
	base := binary.BigEndian.Uint32(b[:])
	binary.BigEndian.PutUint32(b[:], base+uint32(offset))
	return netip.AddrFrom4(b), true
}
