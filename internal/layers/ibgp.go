package layers

import (
	"fmt"
	"slices"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// Ibgp builds a full iBGP mesh between the loopbacks of the routers of
// every AS, reachable through OSPF.
type Ibgp struct {
	MaskedASNs []int `yaml:"masked_asns,omitempty" json:"masked_asns,omitempty"`
}

func NewIbgp() *Ibgp { return &Ibgp{} }

func (i *Ibgp) Name() string { return IbgpLayer }

func (i *Ibgp) Dependencies() []emulator.Dependency {
	return []emulator.Dependency{emulator.Requires(RoutingLayer), emulator.Requires(OspfLayer)}
}

// MaskAsn leaves asn out of the mesh
func (i *Ibgp) MaskAsn(asn int) {
	if !slices.Contains(i.MaskedASNs, asn) {
		i.MaskedASNs = append(i.MaskedASNs, asn)
	}
}

func (i *Ibgp) RegisterNodes(*emulator.Emulator) error { return nil }

func (i *Ibgp) Configure(emu *emulator.Emulator) error {
	routers, err := nodesOf(emu.Registry(), registry.ClassRouter)
	if err != nil {
		return err
	}

	var asns []int
	byASN := make(map[int][]*topology.Node)
	for _, n := range routers {
		if slices.Contains(i.MaskedASNs, n.ASN) {
			continue
		}
		if _, seen := byASN[n.ASN]; !seen {
			asns = append(asns, n.ASN)
		}
		byASN[n.ASN] = append(byASN[n.ASN], n)
	}

	for _, asn := range asns {
		mesh := byASN[asn]
		for _, local := range mesh {
			if local.IsConfiguredBy(i.Name()) {
				continue
			}
			if !local.Loopback.IsValid() {
				return fmt.Errorf("router %s has no loopback: %w", local.ID(), errdefs.ErrInvalidTopology)
			}
			ensureBgpTable(local)
			peer := 0
			for _, remote := range mesh {
				if remote == local {
					continue
				}
				if !remote.Loopback.IsValid() {
					return fmt.Errorf("router %s has no loopback: %w", remote.ID(), errdefs.ErrInvalidTopology)
				}
				peer++
				local.AddProtocol("bgp", fmt.Sprintf("ibgp%d", peer), fmt.Sprintf(
					"\n    ipv4 {\n        table t_bgp;\n        import all;\n        export all;\n        igp table t_ospf;\n    };\n"+
						"    local %s as %d;\n    neighbor %s as %d;\n", local.Loopback, asn, remote.Loopback, asn))
			}
			local.MarkConfiguredBy(i.Name())
		}
	}
	return nil
}
