package topology

import (
	"fmt"
	"net/netip"
	"strconv"

	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
)

// MaxAutoID is the largest ASN or exchange id that can derive a prefix.
const MaxAutoID = 255

// AutonomousSystem owns networks and nodes in creation order
type AutonomousSystem struct {
	ASN         int        `yaml:"asn" json:"asn"`
	Networks    []*Network `yaml:"networks" json:"networks"`
	Nodes       []*Node    `yaml:"nodes" json:"nodes"`
	Bridges     []*Node    `yaml:"bridges,omitempty" json:"bridges,omitempty"`
	NameServers []string   `yaml:"name_servers,omitempty" json:"name_servers,omitempty"`
}

// NewAutonomousSystem creates an empty AS
func NewAutonomousSystem(asn int) *AutonomousSystem {
	return &AutonomousSystem{ASN: asn}
}

// Scope returns the registry scope of the AS
func (a *AutonomousSystem) Scope() string {
	return strconv.Itoa(a.ASN)
}

// CreateNetwork adds a local network. A zero prefix derives
// 10.<asn>.<index>.0/24 where index counts the networks created so far.
// AS networks are direct: routers load them into their RIB.
func (a *AutonomousSystem) CreateNetwork(name string, prefix netip.Prefix, aac *AddressAssignmentConstraint) (*Network, error) {
	if a.Network(name) != nil {
		return nil, fmt.Errorf("as%d: network %s: %w", a.ASN, name, errdefs.ErrDuplicateKey)
	}
	if !prefix.IsValid() {
		if a.ASN > MaxAutoID || len(a.Networks) > 255 {
			return nil, fmt.Errorf("as%d: network %s: no auto prefix for asn > %d: %w", a.ASN, name, MaxAutoID, errdefs.ErrInvalidTopology)
		}
		prefix = netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(a.ASN), byte(len(a.Networks)), 0}), 24)
	}
	net, err := NewNetwork(name, a.Scope(), NetworkLocal, prefix, aac)
	if err != nil {
		return nil, fmt.Errorf("as%d: %w", a.ASN, err)
	}
	net.Direct = true
	a.Networks = append(a.Networks, net)
	return net, nil
}

// CreateRouter adds a router
func (a *AutonomousSystem) CreateRouter(name string) (*Node, error) {
	return a.createNode(name, RoleRouter)
}

// CreateHost adds a host
func (a *AutonomousSystem) CreateHost(name string) (*Node, error) {
	return a.createNode(name, RoleHost)
}

func (a *AutonomousSystem) createNode(name string, role Role) (*Node, error) {
	if a.Node(name) != nil {
		return nil, fmt.Errorf("as%d: node %s: %w", a.ASN, name, errdefs.ErrDuplicateKey)
	}
	n := NewNode(name, role, a.ASN, a.Scope())
	a.Nodes = append(a.Nodes, n)
	return n, nil
}

// Network returns a network by name, or nil
func (a *AutonomousSystem) Network(name string) *Network {
	for _, n := range a.Networks {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Node returns a node by name, or nil
func (a *AutonomousSystem) Node(name string) *Node {
	for _, n := range a.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Routers returns the routers in creation order
func (a *AutonomousSystem) Routers() []*Node {
	return a.byRole(RoleRouter)
}

// Hosts returns the hosts in creation order
func (a *AutonomousSystem) Hosts() []*Node {
	return a.byRole(RoleHost)
}

func (a *AutonomousSystem) byRole(role Role) []*Node {
	var out []*Node
	for _, n := range a.Nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	return out
}

// Bridge returns the bridge node of a network, or nil
func (a *AutonomousSystem) Bridge(network string) *Node {
	name := BridgeName(network)
	for _, b := range a.Bridges {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// RegisterNodes publishes the networks and nodes of the AS, creating a bridge
// node for every network with remote access.
func (a *AutonomousSystem) RegisterNodes(reg *registry.Registry) error {
	scope := a.Scope()
	for _, net := range a.Networks {
		if err := reg.Register(scope, registry.ClassNetwork, net.Name, net); err != nil {
			return fmt.Errorf("as%d: %w", a.ASN, err)
		}
	}
	for _, n := range a.Nodes {
		if err := reg.Register(scope, n.Role.Class(), n.Name, n); err != nil {
			return fmt.Errorf("as%d: %w", a.ASN, err)
		}
	}
	for _, net := range a.Networks {
		if net.RemoteAccess == nil {
			continue
		}
		bridge := a.Bridge(net.Name)
		if bridge == nil {
			bridge = NewNode(BridgeName(net.Name), RoleHost, a.ASN, scope)
			a.Bridges = append(a.Bridges, bridge)
		}
		if err := reg.Register(scope, registry.ClassBridge, bridge.Name, bridge); err != nil {
			return fmt.Errorf("as%d: %w", a.ASN, err)
		}
	}
	return nil
}
