// Package layers implements the configuration layers of an emulation: the
// base topology, intra-domain routing, inter-domain peering and name
// resolution. Every layer satisfies emulator.Layer and keeps its own state
// so an emulator can be snapshotted, merged and rendered again.
package layers

import (
	"fmt"
	"net/netip"
	"strconv"

	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// Layer names.
const (
	BaseLayer    = "Base"
	RoutingLayer = "Routing"
	OspfLayer    = "Ospf"
	IbgpLayer    = "Ibgp"
	EbgpLayer    = "Ebgp"
	DNSLayer     = "DomainNameService"
)

// nodesOf returns the nodes registered under class in registration order
func nodesOf(reg *registry.Registry, class string) ([]*topology.Node, error) {
	var out []*topology.Node
	for key, obj := range reg.ListByClass(class) {
		n, ok := obj.(*topology.Node)
		if !ok {
			return nil, fmt.Errorf("%s is %T: %w", key, obj, errdefs.ErrInvalidTopology)
		}
		out = append(out, n)
	}
	return out, nil
}

// networkOf returns the network a configured interface is attached to
func networkOf(reg *registry.Registry, iface *topology.Interface) (*topology.Network, error) {
	return registry.GetAs[*topology.Network](reg, iface.NetworkScope, registry.ClassNetwork, iface.Network)
}

// routerAt finds the router of asn attached to the named exchange LAN
func routerAt(reg *registry.Registry, asn int, network string) (*topology.Node, netip.Addr, error) {
	for _, obj := range reg.ListByScopeAndClass(strconv.Itoa(asn), registry.ClassRouter) {
		n, ok := obj.(*topology.Node)
		if !ok {
			continue
		}
		if iface := n.Interface(network); iface != nil && iface.NetworkScope == registry.ScopeExchange {
			return n, iface.Address, nil
		}
	}
	return nil, netip.Addr{}, fmt.Errorf("as%d has no router on %s: %w", asn, network, errdefs.ErrNotFound)
}
