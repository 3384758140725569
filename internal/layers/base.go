package layers

import (
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// remoteAccessMarker marks bridge nodes whose provider already ran
const remoteAccessMarker = "RemoteAccess"

// nodeClasses are the registry classes holding nodes, in configure order
var nodeClasses = []string{
	registry.ClassRouteServer,
	registry.ClassBridge,
	registry.ClassRouter,
	registry.ClassHost,
}

const interfaceSetupScript = `#!/bin/bash
cidr_to_net() {
    ipcalc -n "$1" | sed -E -n 's/^Network: +([0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\/[0-9]{1,2}) +.*/\1/p'
}

ip -j addr | jq -cr '.[]' | while read -r iface; do {
    ifname="$(jq -cr '.ifname' <<< "$iface")"
    jq -cr '.addr_info[]' <<< "$iface" | while read -r iaddr; do {
        addr="$(jq -cr '"\(.local)/\(.prefixlen)"' <<< "$iaddr")"
        net="$(cidr_to_net "$addr")"
        [ -z "$net" ] && continue
        line="$(grep "$net" < /ifinfo.txt)"
        new_ifname="$(cut -d: -f1 <<< "$line")"
        latency="$(cut -d: -f3 <<< "$line")"
        bw="$(cut -d: -f4 <<< "$line")"
        [ "$bw" = 0 ] && bw=1000000000000
        loss="$(cut -d: -f5 <<< "$line")"
        [ ! -z "$new_ifname" ] && {
            ip li set "$ifname" down
            ip li set "$ifname" name "$new_ifname"
            ip li set "$new_ifname" up
            tc qdisc add dev "$new_ifname" root handle 1:0 tbf rate "${bw}bit" buffer 1000000 limit 1000
            tc qdisc add dev "$new_ifname" parent 1:0 handle 10: netem delay "${latency}ms" loss "${loss}%"
        }
    }; done
}; done
`

// Base owns the autonomous systems and internet exchanges of an emulation
type Base struct {
	ases []*topology.AutonomousSystem
	ixes []*topology.InternetExchange

	// NameServers is the resolver list of nodes whose AS sets none
	NameServers []string
}

// NewBase creates an empty base layer
func NewBase() *Base {
	return &Base{}
}

func (b *Base) Name() string { return BaseLayer }

func (b *Base) Dependencies() []emulator.Dependency { return nil }

// CreateAutonomousSystem adds a new AS. An ASN can be used once.
func (b *Base) CreateAutonomousSystem(asn int) (*topology.AutonomousSystem, error) {
	as := topology.NewAutonomousSystem(asn)
	if err := b.AddAutonomousSystem(as); err != nil {
		return nil, err
	}
	return as, nil
}

// AddAutonomousSystem adds an existing AS
func (b *Base) AddAutonomousSystem(as *topology.AutonomousSystem) error {
	if b.AutonomousSystem(as.ASN) != nil {
		return fmt.Errorf("as%d already exists: %w", as.ASN, errdefs.ErrInvalidTopology)
	}
	b.ases = append(b.ases, as)
	return nil
}

// AutonomousSystem returns the AS with the given ASN, or nil
func (b *Base) AutonomousSystem(asn int) *topology.AutonomousSystem {
	for _, as := range b.ases {
		if as.ASN == asn {
			return as
		}
	}
	return nil
}

// AutonomousSystems returns the ASes in creation order
func (b *Base) AutonomousSystems() []*topology.AutonomousSystem {
	return append([]*topology.AutonomousSystem(nil), b.ases...)
}

// CreateInternetExchange adds a new exchange. A zero prefix derives one
// from the id.
func (b *Base) CreateInternetExchange(id int, prefix netip.Prefix, aac *topology.AddressAssignmentConstraint) (*topology.InternetExchange, error) {
	if b.InternetExchange(id) != nil {
		return nil, fmt.Errorf("ix%d already exists: %w", id, errdefs.ErrInvalidTopology)
	}
	ix, err := topology.NewInternetExchange(id, prefix, aac)
	if err != nil {
		return nil, err
	}
	b.ixes = append(b.ixes, ix)
	return ix, nil
}

// AddInternetExchange adds an existing exchange
func (b *Base) AddInternetExchange(ix *topology.InternetExchange) error {
	if b.InternetExchange(ix.ID) != nil {
		return fmt.Errorf("ix%d already exists: %w", ix.ID, errdefs.ErrInvalidTopology)
	}
	b.ixes = append(b.ixes, ix)
	return nil
}

// InternetExchange returns the exchange with the given id, or nil
func (b *Base) InternetExchange(id int) *topology.InternetExchange {
	for _, ix := range b.ixes {
		if ix.ID == id {
			return ix
		}
	}
	return nil
}

// InternetExchanges returns the exchanges in creation order
func (b *Base) InternetExchanges() []*topology.InternetExchange {
	return append([]*topology.InternetExchange(nil), b.ixes...)
}

func (b *Base) RegisterNodes(emu *emulator.Emulator) error {
	reg := emu.Registry()
	log := emu.Logger().Named(b.Name())

	for _, as := range b.ases {
		servers := as.NameServers
		if len(servers) == 0 {
			servers = b.NameServers
		}
		for _, n := range as.Nodes {
			if len(n.NameServers) == 0 && len(servers) > 0 {
				n.NameServers = append([]string(nil), servers...)
			}
		}
		if err := as.RegisterNodes(reg); err != nil {
			return err
		}
		log.Debug("registered autonomous system", zap.Int("asn", as.ASN),
			zap.Int("networks", len(as.Networks)), zap.Int("nodes", len(as.Nodes)))
	}
	for _, ix := range b.ixes {
		if err := ix.RegisterNodes(reg); err != nil {
			return err
		}
		log.Debug("registered internet exchange", zap.Int("ix", ix.ID))
	}
	return nil
}

func (b *Base) Configure(emu *emulator.Emulator) error {
	reg := emu.Registry()
	log := emu.Logger().Named(b.Name())

	// bridges reserve their addresses before anyone is auto assigned
	for _, ix := range b.ixes {
		if ix.Network.RemoteAccess == nil {
			continue
		}
		if err := configureBridge(emu, ix.Network, ix.Bridge); err != nil {
			return fmt.Errorf("ix%d: %w", ix.ID, err)
		}
	}
	for _, as := range b.ases {
		for _, net := range as.Networks {
			if net.RemoteAccess == nil {
				continue
			}
			if err := configureBridge(emu, net, as.Bridge(net.Name)); err != nil {
				return fmt.Errorf("as%d: %w", as.ASN, err)
			}
		}
	}

	log.Debug("setting up internet exchanges")
	for _, ix := range b.ixes {
		if err := ix.RouteServer.Configure(reg); err != nil {
			return err
		}
		if ix.Bridge != nil {
			if err := ix.Bridge.Configure(reg); err != nil {
				return err
			}
		}
	}

	log.Debug("setting up autonomous systems")
	for _, as := range b.ases {
		for _, n := range as.Bridges {
			if err := n.Configure(reg); err != nil {
				return err
			}
		}
		for _, n := range as.Nodes {
			if err := n.Configure(reg); err != nil {
				return err
			}
		}
	}

	for _, class := range nodeClasses {
		for key, obj := range reg.ListByClass(class) {
			n, ok := obj.(*topology.Node)
			if !ok {
				return fmt.Errorf("%s is %T: %w", key, obj, errdefs.ErrInvalidTopology)
			}
			if err := b.writeInterfaceSetup(reg, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Base) writeInterfaceSetup(reg *registry.Registry, n *topology.Node) error {
	var info strings.Builder
	for _, iface := range n.Interfaces {
		net, err := registry.GetAs[*topology.Network](reg, iface.NetworkScope, registry.ClassNetwork, iface.Network)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID(), err)
		}
		fmt.Fprintf(&info, "%s:%s:%d:%d:%g\n", net.Name, net.Prefix, iface.Link.LatencyMs, iface.Link.BandwidthBps, iface.Link.DropPercent)
	}
	n.SetFile("/ifinfo.txt", info.String())
	n.SetFile("/interface_setup", interfaceSetupScript)
	if n.IsConfiguredBy(b.Name()) {
		return nil
	}
	n.InsertStartCommand(0, "/interface_setup", false)
	n.InsertStartCommand(0, "chmod +x /interface_setup", false)
	n.MarkConfiguredBy(b.Name())
	return nil
}

func configureBridge(emu *emulator.Emulator, net *topology.Network, bridge *topology.Node) error {
	if bridge == nil {
		return fmt.Errorf("network %s: bridge node %w", net.Name, errdefs.ErrNotFound)
	}
	if bridge.IsConfiguredBy(remoteAccessMarker) {
		return nil
	}
	svc, err := emu.ServiceNetwork()
	if err != nil {
		return err
	}
	emu.Logger().Named(BaseLayer).Info("configuring remote access",
		zap.String("net", net.Name),
		zap.String("scope", net.Scope),
		zap.String("provider", net.RemoteAccess.Name()))
	if err := net.RemoteAccess.ConfigureRemoteAccess(emu, net, bridge, svc); err != nil {
		return fmt.Errorf("remote access %s on %s: %w", net.RemoteAccess.Name(), net.Name, err)
	}
	bridge.MarkConfiguredBy(remoteAccessMarker)
	return nil
}
