package layers

import (
	"fmt"
	"slices"
	"strings"

	"seedemu/internal/emulator"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// NetworkRef names a network by scope and name
type NetworkRef struct {
	Scope string `yaml:"scope" json:"scope"`
	Name  string `yaml:"name" json:"name"`
}

// Ospf runs OSPF area 0 inside every AS. Local networks are active OSPF
// interfaces unless masked, in which case they become stubs. Exchange LANs
// are never part of OSPF.
type Ospf struct {
	MaskedASNs     []int        `yaml:"masked_asns,omitempty" json:"masked_asns,omitempty"`
	MaskedNetworks []NetworkRef `yaml:"masked_networks,omitempty" json:"masked_networks,omitempty"`
}

func NewOspf() *Ospf { return &Ospf{} }

func (o *Ospf) Name() string { return OspfLayer }

func (o *Ospf) Dependencies() []emulator.Dependency {
	return []emulator.Dependency{emulator.Requires(RoutingLayer)}
}

// MaskAsn leaves every router of asn out of OSPF
func (o *Ospf) MaskAsn(asn int) {
	if !slices.Contains(o.MaskedASNs, asn) {
		o.MaskedASNs = append(o.MaskedASNs, asn)
	}
}

// MaskNetwork turns a network into an OSPF stub
func (o *Ospf) MaskNetwork(scope, name string) {
	ref := NetworkRef{Scope: scope, Name: name}
	if !slices.Contains(o.MaskedNetworks, ref) {
		o.MaskedNetworks = append(o.MaskedNetworks, ref)
	}
}

func (o *Ospf) RegisterNodes(*emulator.Emulator) error { return nil }

func (o *Ospf) Configure(emu *emulator.Emulator) error {
	reg := emu.Registry()
	routers, err := nodesOf(reg, registry.ClassRouter)
	if err != nil {
		return err
	}
	for _, n := range routers {
		if slices.Contains(o.MaskedASNs, n.ASN) || n.IsConfiguredBy(o.Name()) {
			continue
		}
		if err := o.configureRouter(reg, n); err != nil {
			return fmt.Errorf("router %s: %w", n.ID(), err)
		}
	}
	return nil
}

func (o *Ospf) configureRouter(reg *registry.Registry, n *topology.Node) error {
	var b strings.Builder
	b.WriteString("\n    ipv4 {\n        table t_ospf;\n        import all;\n        export all;\n    };\n")
	b.WriteString("    area 0 {\n")
	b.WriteString("        interface \"dummy0\" { stub; };\n")
	for _, iface := range n.Interfaces {
		net, err := networkOf(reg, iface)
		if err != nil {
			return err
		}
		if net.Type != topology.NetworkLocal {
			continue
		}
		if slices.Contains(o.MaskedNetworks, NetworkRef{Scope: net.Scope, Name: net.Name}) {
			fmt.Fprintf(&b, "        interface %q { stub; };\n", net.Name)
			continue
		}
		fmt.Fprintf(&b, "        interface %q { hello 1; dead count 2; };\n", net.Name)
	}
	b.WriteString("    };\n")

	n.AddTable("t_ospf")
	n.AddProtocol("ospf", "ospf1", b.String())
	addPipe(n, "t_ospf")
	n.MarkConfiguredBy(o.Name())
	return nil
}
