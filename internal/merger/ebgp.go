package merger

import (
	"fmt"
	"slices"

	"seedemu/internal/emulator"
	"seedemu/internal/layers"
)

// EbgpMerger unions peerings. A peering present on both sides must carry
// the same relationship; private peerings match in either direction.
type EbgpMerger struct{}

func (EbgpMerger) Name() string        { return "EbgpMerger" }
func (EbgpMerger) TargetLayer() string { return layers.EbgpLayer }

func (m EbgpMerger) Merge(a, b emulator.Layer) (emulator.Layer, error) {
	ea, eb, err := cast[*layers.Ebgp](m, a, b)
	if err != nil {
		return nil, err
	}
	out := layers.NewEbgp()

	type rsKey struct{ ix, asn int }
	rs := make(map[rsKey]layers.PeerRelationship)
	for _, p := range slices.Concat(ea.RouteServerPeerings, eb.RouteServerPeerings) {
		k := rsKey{p.IX, p.ASN}
		rel, seen := rs[k]
		if !seen {
			rs[k] = p.Relationship
			out.RouteServerPeerings = append(out.RouteServerPeerings, p)
			continue
		}
		if rel != p.Relationship {
			return nil, conflict(fmt.Sprintf("Ebgp/rs/ix%d/as%d", p.IX, p.ASN), "relationship %s and %s differ", rel, p.Relationship)
		}
	}

	type privKey struct{ ix, lo, hi int }
	priv := make(map[privKey]layers.PeerRelationship)
	for _, p := range slices.Concat(ea.PrivatePeerings, eb.PrivatePeerings) {
		k, rel := privKey{p.IX, p.A, p.B}, p.Relationship
		if p.A > p.B {
			k.lo, k.hi = p.B, p.A
			rel = rel.Inverse()
		}
		seen, ok := priv[k]
		if !ok {
			priv[k] = rel
			out.PrivatePeerings = append(out.PrivatePeerings, p)
			continue
		}
		if seen != rel {
			return nil, conflict(fmt.Sprintf("Ebgp/private/ix%d/as%d-as%d", p.IX, k.lo, k.hi), "relationship %s and %s differ", seen, rel)
		}
	}
	return out, nil
}
