package merger

import (
	"net/netip"
	"reflect"
	"slices"
	"strconv"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"seedemu/internal/emulator"
	"seedemu/internal/layers"
	"seedemu/internal/topology"
)

// modelOptions compare model values field by field. Providers are compared
// separately.
var modelOptions = []cmp.Option{
	cmp.Comparer(func(x, y netip.Addr) bool { return x == y }),
	cmp.Comparer(func(x, y netip.Prefix) bool { return x == y }),
	cmpopts.IgnoreFields(topology.Network{}, "RemoteAccess"),
	cmpopts.EquateEmpty(),
}

// BaseMerger merges autonomous systems and internet exchanges
type BaseMerger struct{}

func (BaseMerger) Name() string        { return "BaseMerger" }
func (BaseMerger) TargetLayer() string { return layers.BaseLayer }

func (m BaseMerger) Merge(a, b emulator.Layer) (emulator.Layer, error) {
	ba, bb, err := cast[*layers.Base](m, a, b)
	if err != nil {
		return nil, err
	}
	out := layers.NewBase()

	switch {
	case len(ba.NameServers) == 0:
		out.NameServers = slices.Clone(bb.NameServers)
	case len(bb.NameServers) == 0 || slices.Equal(ba.NameServers, bb.NameServers):
		out.NameServers = slices.Clone(ba.NameServers)
	default:
		return nil, conflict("Base/name_servers", "%v and %v differ", ba.NameServers, bb.NameServers)
	}

	for _, asA := range ba.AutonomousSystems() {
		as := asA
		if asB := bb.AutonomousSystem(asA.ASN); asB != nil {
			if as, err = mergeAS(asA, asB); err != nil {
				return nil, err
			}
		}
		if err := out.AddAutonomousSystem(as); err != nil {
			return nil, err
		}
	}
	for _, asB := range bb.AutonomousSystems() {
		if out.AutonomousSystem(asB.ASN) == nil {
			if err := out.AddAutonomousSystem(asB); err != nil {
				return nil, err
			}
		}
	}

	for _, ixA := range ba.InternetExchanges() {
		ix := ixA
		if ixB := bb.InternetExchange(ixA.ID); ixB != nil {
			path := "Base/" + ixA.Name()
			if err := equalNetwork(path+"/net", ixA.Network, ixB.Network); err != nil {
				return nil, err
			}
			if !cmp.Equal(ixA.RouteServer, ixB.RouteServer, modelOptions...) {
				return nil, conflict(path+"/rs", "route servers differ: %s", cmp.Diff(ixA.RouteServer, ixB.RouteServer, modelOptions...))
			}
			if net := unionNetwork(ixA.Network, ixB.Network); net != ixA.Network {
				cp := *ixA
				cp.Network = net
				ix = &cp
			}
		}
		if err := out.AddInternetExchange(ix); err != nil {
			return nil, err
		}
	}
	for _, ixB := range bb.InternetExchanges() {
		if out.InternetExchange(ixB.ID) == nil {
			if err := out.AddInternetExchange(ixB); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// mergeAS unions the networks and nodes of two definitions of one AS
func mergeAS(a, b *topology.AutonomousSystem) (*topology.AutonomousSystem, error) {
	path := "Base/as" + strconv.Itoa(a.ASN)
	out := topology.NewAutonomousSystem(a.ASN)

	switch {
	case len(a.NameServers) == 0:
		out.NameServers = slices.Clone(b.NameServers)
	case len(b.NameServers) == 0 || slices.Equal(a.NameServers, b.NameServers):
		out.NameServers = slices.Clone(a.NameServers)
	default:
		return nil, conflict(path+"/name_servers", "%v and %v differ", a.NameServers, b.NameServers)
	}

	for _, na := range a.Networks {
		if nb := b.Network(na.Name); nb != nil {
			if err := equalNetwork(path+"/net/"+na.Name, na, nb); err != nil {
				return nil, err
			}
			na = unionNetwork(na, nb)
		}
		out.Networks = append(out.Networks, na)
	}
	for _, nb := range b.Networks {
		if a.Network(nb.Name) == nil {
			out.Networks = append(out.Networks, nb)
		}
	}

	for _, na := range a.Nodes {
		if nb := b.Node(na.Name); nb != nil && !cmp.Equal(na, nb, modelOptions...) {
			return nil, conflict(path+"/node/"+na.Name, "definitions differ: %s", cmp.Diff(na, nb, modelOptions...))
		}
		out.Nodes = append(out.Nodes, na)
	}
	for _, nb := range b.Nodes {
		if a.Node(nb.Name) == nil {
			out.Nodes = append(out.Nodes, nb)
		}
	}
	return out, nil
}

func equalNetwork(path string, a, b *topology.Network) error {
	if a.Prefix != b.Prefix {
		return conflict(path, "prefix %s and %s differ", a.Prefix, b.Prefix)
	}
	if !cmp.Equal(a, b, modelOptions...) {
		return conflict(path, "definitions differ: %s", cmp.Diff(a, b, modelOptions...))
	}
	if a.RemoteAccess != nil && b.RemoteAccess != nil && !reflect.DeepEqual(a.RemoteAccess, b.RemoteAccess) {
		return conflict(path+"/remote_access", "providers %s and %s differ", a.RemoteAccess.Name(), b.RemoteAccess.Name())
	}
	return nil
}

// unionNetwork returns a, or a copy of a carrying b's provider when only b
// enables remote access. a and b must already be equal.
func unionNetwork(a, b *topology.Network) *topology.Network {
	if a.RemoteAccess != nil || b.RemoteAccess == nil {
		return a
	}
	c := a.Clone()
	c.RemoteAccess = b.RemoteAccess
	return c
}
