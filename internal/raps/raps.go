// Package raps provides remote access providers. A provider turns the
// bridge node of a network into a VPN endpoint published on the emulation
// host, so machines outside the emulation can join the network.
//
// Host ports are handed out from per-provider cursors and recorded in the
// registry under seedemu/hostport/<proto>/<port>. A cursor that runs into a
// port taken by another provider moves on until it finds a free one.
package raps

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

const maxPort = 65535

// PortCursor is the next host port to publish a container port on
type PortCursor struct {
	Container int    `yaml:"container" json:"container"`
	Proto     string `yaml:"proto" json:"proto"`
	Next      int    `yaml:"next" json:"next"`
}

// HostPortKey returns the registry name of a published host port
func HostPortKey(proto string, port int) string {
	return proto + "/" + strconv.Itoa(port)
}

// reserve takes the next free host port and records owner in the registry
// ledger
func (c *PortCursor) reserve(reg *registry.Registry, owner string) (int, error) {
	for ; c.Next > 0 && c.Next <= maxPort; c.Next++ {
		err := reg.Register(registry.ScopeEmulator, registry.ClassHostPort, HostPortKey(c.Proto, c.Next), owner)
		if errors.Is(err, errdefs.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return 0, err
		}
		port := c.Next
		c.Next++
		return port, nil
	}
	return 0, fmt.Errorf("host port for %s/%d: %w", c.Proto, c.Container, errdefs.ErrAddressSpaceExhausted)
}

// publish reserves a host port for every cursor and maps it on bridge
func publish(reg *registry.Registry, bridge *topology.Node, cursors []PortCursor) error {
	for i := range cursors {
		port, err := cursors[i].reserve(reg, bridge.ID())
		if err != nil {
			return err
		}
		bridge.AddPort(port, cursors[i].Container, cursors[i].Proto)
	}
	return nil
}

// bridgeAddress returns the address the bridge takes on network. Offset
// zero means the second to last usable address.
func bridgeAddress(network *topology.Network, offset int) (netip.Addr, error) {
	if offset == 0 {
		r := network.UsableRange()
		addr := r.To().Prev()
		if !r.Contains(addr) {
			return netip.Addr{}, fmt.Errorf("network %s: no room for a bridge: %w", network.Name, errdefs.ErrAddressSpaceExhausted)
		}
		return addr, nil
	}
	addr, ok := network.AddressAt(offset)
	if !ok {
		return netip.Addr{}, fmt.Errorf("network %s: bridge offset %d outside %s: %w", network.Name, offset, network.Prefix, errdefs.ErrInvalidTopology)
	}
	return addr, nil
}

// attach reserves the bridge address on network and joins bridge to the
// service network and to network
func attach(network *topology.Network, bridge *topology.Node, service *topology.Network, offset int) (netip.Addr, error) {
	addr, err := bridgeAddress(network, offset)
	if err != nil {
		return netip.Addr{}, err
	}
	if err := network.Claim(addr, bridge.ID()); err != nil {
		return netip.Addr{}, err
	}
	if err := bridge.JoinNetwork(service.Name); err != nil {
		return netip.Addr{}, err
	}
	if err := bridge.JoinNetworkAt(network.Name, addr); err != nil {
		return netip.Addr{}, err
	}
	return addr, nil
}
