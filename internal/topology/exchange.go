package topology

import (
	"fmt"
	"net/netip"
	"strconv"

	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
)

// InternetExchange owns a peering LAN and the route server on it
type InternetExchange struct {
	ID          int      `yaml:"id" json:"id"`
	Network     *Network `yaml:"network" json:"network"`
	RouteServer *Node    `yaml:"route_server" json:"route_server"`
	Bridge      *Node    `yaml:"bridge,omitempty" json:"bridge,omitempty"`
}

// ExchangeName returns ix<id>, the name of both the peering LAN and the
// route server.
func ExchangeName(id int) string {
	return "ix" + strconv.Itoa(id)
}

// NewInternetExchange creates an exchange. A zero prefix derives
// 10.<id>.0.0/24.
func NewInternetExchange(id int, prefix netip.Prefix, aac *AddressAssignmentConstraint) (*InternetExchange, error) {
	name := ExchangeName(id)
	if !prefix.IsValid() {
		if id > MaxAutoID || id < 0 {
			return nil, fmt.Errorf("%s: can't use auto prefix for id > %d: %w", name, MaxAutoID, errdefs.ErrInvalidTopology)
		}
		prefix = netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(id), 0, 0}), 24)
	}
	net, err := NewNetwork(name, registry.ScopeExchange, NetworkExchange, prefix, aac)
	if err != nil {
		return nil, err
	}
	rs := NewNode(name, RoleRouteServer, id, registry.ScopeExchange)
	if err := rs.JoinNetwork(name); err != nil {
		return nil, err
	}
	return &InternetExchange{
		ID:          id,
		Network:     net,
		RouteServer: rs,
	}, nil
}

// Name returns ix<id>
func (ix *InternetExchange) Name() string {
	return ExchangeName(ix.ID)
}

// RegisterNodes publishes the peering LAN and the route server. The bridge
// node is created here, the first time the exchange is registered with
// remote access enabled.
func (ix *InternetExchange) RegisterNodes(reg *registry.Registry) error {
	name := ix.Name()
	if err := reg.Register(registry.ScopeExchange, registry.ClassNetwork, name, ix.Network); err != nil {
		return err
	}
	if err := reg.Register(registry.ScopeExchange, registry.ClassRouteServer, name, ix.RouteServer); err != nil {
		return err
	}
	if ix.Network.RemoteAccess == nil {
		return nil
	}
	if ix.Bridge == nil {
		ix.Bridge = NewNode(BridgeName(name), RoleHost, ix.ID, registry.ScopeExchange)
	}
	return reg.Register(registry.ScopeExchange, registry.ClassBridge, ix.Bridge.Name, ix.Bridge)
}
