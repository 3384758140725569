package merger

import (
	"slices"

	"seedemu/internal/emulator"
	"seedemu/internal/layers"
)

// RoutingMerger merges routing layers drawing from the same loopback pool
type RoutingMerger struct{}

func (RoutingMerger) Name() string        { return "RoutingMerger" }
func (RoutingMerger) TargetLayer() string { return layers.RoutingLayer }

func (m RoutingMerger) Merge(a, b emulator.Layer) (emulator.Layer, error) {
	ra, rb, err := cast[*layers.Routing](m, a, b)
	if err != nil {
		return nil, err
	}
	if ra.LoopbackPrefix != rb.LoopbackPrefix {
		return nil, conflict("Routing/loopback_prefix", "%s and %s differ", ra.LoopbackPrefix, rb.LoopbackPrefix)
	}
	return &layers.Routing{
		LoopbackPrefix: ra.LoopbackPrefix,
		NextLoopback:   max(ra.NextLoopback, rb.NextLoopback),
	}, nil
}

// OspfMerger unions masked ASNs and networks
type OspfMerger struct{}

func (OspfMerger) Name() string        { return "OspfMerger" }
func (OspfMerger) TargetLayer() string { return layers.OspfLayer }

func (m OspfMerger) Merge(a, b emulator.Layer) (emulator.Layer, error) {
	oa, ob, err := cast[*layers.Ospf](m, a, b)
	if err != nil {
		return nil, err
	}
	out := layers.NewOspf()
	for _, asn := range slices.Concat(oa.MaskedASNs, ob.MaskedASNs) {
		out.MaskAsn(asn)
	}
	for _, ref := range slices.Concat(oa.MaskedNetworks, ob.MaskedNetworks) {
		out.MaskNetwork(ref.Scope, ref.Name)
	}
	return out, nil
}

// IbgpMerger unions masked ASNs
type IbgpMerger struct{}

func (IbgpMerger) Name() string        { return "IbgpMerger" }
func (IbgpMerger) TargetLayer() string { return layers.IbgpLayer }

func (m IbgpMerger) Merge(a, b emulator.Layer) (emulator.Layer, error) {
	ia, ib, err := cast[*layers.Ibgp](m, a, b)
	if err != nil {
		return nil, err
	}
	out := layers.NewIbgp()
	for _, asn := range slices.Concat(ia.MaskedASNs, ib.MaskedASNs) {
		out.MaskAsn(asn)
	}
	return out, nil
}
