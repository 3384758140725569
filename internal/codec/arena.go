package codec

import (
	"fmt"
	"strconv"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/layers"
	"seedemu/internal/raps"
	"seedemu/internal/topology"
)

// Layer kinds
const (
	kindBase    = "base"
	kindRouting = "routing"
	kindOspf    = "ospf"
	kindIbgp    = "ibgp"
	kindEbgp    = "ebgp"
	kindDNS     = "dns"
)

// Provider kinds
const (
	kindSoftEther = "softether"
	kindWireGuard = "wireguard"
)

type baseState struct {
	NameServers []string  `yaml:"name_servers,omitempty"`
	ASes        []asState `yaml:"autonomous_systems,omitempty"`
	IXes        []ixState `yaml:"internet_exchanges,omitempty"`
}

type asState struct {
	ASN         int      `yaml:"asn"`
	NameServers []string `yaml:"name_servers,omitempty"`
	Networks    []string `yaml:"networks,omitempty"`
	Nodes       []string `yaml:"nodes,omitempty"`
	Bridges     []string `yaml:"bridges,omitempty"`
}

type ixState struct {
	ID          int    `yaml:"id"`
	Network     string `yaml:"network"`
	RouteServer string `yaml:"route_server"`
	Bridge      string `yaml:"bridge,omitempty"`
}

// arena assigns ids to nodes, networks and providers by identity
type arena struct {
	nodes     []*topology.Node
	nodeIDs   map[*topology.Node]string
	networks  []*topology.Network
	netIDs    map[*topology.Network]string
	providers []topology.RemoteAccessProvider
	rapIDs    map[topology.RemoteAccessProvider]string

	byNodeID map[string]*topology.Node
	byNetID  map[string]*topology.Network
}

func newArena() *arena {
	return &arena{
		nodeIDs: make(map[*topology.Node]string),
		netIDs:  make(map[*topology.Network]string),
		rapIDs:  make(map[topology.RemoteAccessProvider]string),
	}
}

func (a *arena) node(n *topology.Node) string {
	if n == nil {
		return ""
	}
	if id, ok := a.nodeIDs[n]; ok {
		return id
	}
	id := "n" + strconv.Itoa(len(a.nodes))
	a.nodes = append(a.nodes, n)
	a.nodeIDs[n] = id
	return id
}

func (a *arena) network(n *topology.Network) string {
	if id, ok := a.netIDs[n]; ok {
		return id
	}
	id := "net" + strconv.Itoa(len(a.networks))
	a.networks = append(a.networks, n)
	a.netIDs[n] = id
	return id
}

func (a *arena) provider(p topology.RemoteAccessProvider) string {
	if id, ok := a.rapIDs[p]; ok {
		return id
	}
	id := "rap" + strconv.Itoa(len(a.providers))
	a.providers = append(a.providers, p)
	a.rapIDs[p] = id
	return id
}

// fill writes the arena into the snapshot
func (a *arena) fill(s *Snapshot) error {
	for _, n := range a.nodes {
		s.Nodes = append(s.Nodes, nodeRecord{ID: a.nodeIDs[n], Node: n})
	}
	for _, n := range a.networks {
		rec := networkRecord{ID: a.netIDs[n], Network: n}
		if n.RemoteAccess != nil {
			rec.RemoteAccess = a.provider(n.RemoteAccess)
		}
		s.Networks = append(s.Networks, rec)
	}
	for _, p := range a.providers {
		rec := providerRecord{ID: a.rapIDs[p]}
		switch p.(type) {
		case *raps.SoftEther:
			rec.Kind = kindSoftEther
		case *raps.WireGuard:
			rec.Kind = kindWireGuard
		default:
			return fmt.Errorf("remote access provider %T: %w", p, errdefs.ErrInvalidTopology)
		}
		if err := rec.Config.Encode(p); err != nil {
			return fmt.Errorf("failed to encode provider %s: %w", p.Name(), err)
		}
		s.Providers = append(s.Providers, rec)
	}
	return nil
}

func (a *arena) encodeLayer(l emulator.Layer) (string, any, error) {
	switch v := l.(type) {
	case *layers.Base:
		st := baseState{NameServers: v.NameServers}
		for _, as := range v.AutonomousSystems() {
			rec := asState{ASN: as.ASN, NameServers: as.NameServers}
			for _, n := range as.Networks {
				rec.Networks = append(rec.Networks, a.network(n))
			}
			for _, n := range as.Nodes {
				rec.Nodes = append(rec.Nodes, a.node(n))
			}
			for _, n := range as.Bridges {
				rec.Bridges = append(rec.Bridges, a.node(n))
			}
			st.ASes = append(st.ASes, rec)
		}
		for _, ix := range v.InternetExchanges() {
			st.IXes = append(st.IXes, ixState{
				ID:          ix.ID,
				Network:     a.network(ix.Network),
				RouteServer: a.node(ix.RouteServer),
				Bridge:      a.node(ix.Bridge),
			})
		}
		return kindBase, st, nil
	case *layers.Routing:
		return kindRouting, v, nil
	case *layers.Ospf:
		return kindOspf, v, nil
	case *layers.Ibgp:
		return kindIbgp, v, nil
	case *layers.Ebgp:
		return kindEbgp, v, nil
	case *layers.DomainNameService:
		return kindDNS, v, nil
	}
	return "", nil, fmt.Errorf("layer %s (%T) cannot be persisted: %w", l.Name(), l, errdefs.ErrInvalidTopology)
}

// loadArena indexes the decoded nodes and networks and reattaches
// providers
func loadArena(s *Snapshot) (*arena, error) {
	a := newArena()
	a.byNodeID = make(map[string]*topology.Node, len(s.Nodes))
	a.byNetID = make(map[string]*topology.Network, len(s.Networks))

	providers := make(map[string]topology.RemoteAccessProvider, len(s.Providers))
	for _, rec := range s.Providers {
		var p topology.RemoteAccessProvider
		switch rec.Kind {
		case kindSoftEther:
			se := &raps.SoftEther{}
			if err := rec.Config.Decode(se); err != nil {
				return nil, fmt.Errorf("failed to decode provider %s: %w", rec.ID, err)
			}
			p = se
		case kindWireGuard:
			wg := &raps.WireGuard{}
			if err := rec.Config.Decode(wg); err != nil {
				return nil, fmt.Errorf("failed to decode provider %s: %w", rec.ID, err)
			}
			p = wg
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q: %w", rec.ID, rec.Kind, errdefs.ErrInvalidTopology)
		}
		providers[rec.ID] = p
	}

	for _, rec := range s.Nodes {
		if rec.Node == nil {
			return nil, fmt.Errorf("node %s is empty: %w", rec.ID, errdefs.ErrInvalidTopology)
		}
		a.byNodeID[rec.ID] = rec.Node
	}
	for _, rec := range s.Networks {
		if rec.Network == nil {
			return nil, fmt.Errorf("network %s is empty: %w", rec.ID, errdefs.ErrInvalidTopology)
		}
		if rec.RemoteAccess != "" {
			p, ok := providers[rec.RemoteAccess]
			if !ok {
				return nil, fmt.Errorf("network %s: provider %s: %w", rec.ID, rec.RemoteAccess, errdefs.ErrNotFound)
			}
			rec.Network.RemoteAccess = p
		}
		a.byNetID[rec.ID] = rec.Network
	}
	return a, nil
}

func (a *arena) nodeByID(id string) (*topology.Node, error) {
	if n, ok := a.byNodeID[id]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("node %q: %w", id, errdefs.ErrNotFound)
}

func (a *arena) networkByID(id string) (*topology.Network, error) {
	if n, ok := a.byNetID[id]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("network %q: %w", id, errdefs.ErrNotFound)
}

func (a *arena) decodeLayer(rec layerRecord) (emulator.Layer, error) {
	var l emulator.Layer
	switch rec.Kind {
	case kindBase:
		return a.decodeBase(rec)
	case kindRouting:
		l = &layers.Routing{}
	case kindOspf:
		l = &layers.Ospf{}
	case kindIbgp:
		l = &layers.Ibgp{}
	case kindEbgp:
		l = &layers.Ebgp{}
	case kindDNS:
		l = &layers.DomainNameService{}
	default:
		return nil, fmt.Errorf("unknown layer kind %q: %w", rec.Kind, errdefs.ErrInvalidTopology)
	}
	if err := rec.State.Decode(l); err != nil {
		return nil, fmt.Errorf("failed to decode layer %s: %w", rec.Kind, err)
	}
	if dns, ok := l.(*layers.DomainNameService); ok && dns.Root == nil {
		dns.Root = layers.NewZone(".")
	}
	return l, nil
}

func (a *arena) decodeBase(rec layerRecord) (*layers.Base, error) {
	var st baseState
	if err := rec.State.Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode layer %s: %w", rec.Kind, err)
	}
	base := layers.NewBase()
	base.NameServers = st.NameServers

	for _, s := range st.ASes {
		as := topology.NewAutonomousSystem(s.ASN)
		as.NameServers = s.NameServers
		for _, id := range s.Networks {
			n, err := a.networkByID(id)
			if err != nil {
				return nil, fmt.Errorf("as%d: %w", s.ASN, err)
			}
			as.Networks = append(as.Networks, n)
		}
		for _, id := range s.Nodes {
			n, err := a.nodeByID(id)
			if err != nil {
				return nil, fmt.Errorf("as%d: %w", s.ASN, err)
			}
			as.Nodes = append(as.Nodes, n)
		}
		for _, id := range s.Bridges {
			n, err := a.nodeByID(id)
			if err != nil {
				return nil, fmt.Errorf("as%d: %w", s.ASN, err)
			}
			as.Bridges = append(as.Bridges, n)
		}
		if err := base.AddAutonomousSystem(as); err != nil {
			return nil, err
		}
	}

	for _, s := range st.IXes {
		net, err := a.networkByID(s.Network)
		if err != nil {
			return nil, fmt.Errorf("ix%d: %w", s.ID, err)
		}
		rs, err := a.nodeByID(s.RouteServer)
		if err != nil {
			return nil, fmt.Errorf("ix%d: %w", s.ID, err)
		}
		ix := &topology.InternetExchange{ID: s.ID, Network: net, RouteServer: rs}
		if s.Bridge != "" {
			if ix.Bridge, err = a.nodeByID(s.Bridge); err != nil {
				return nil, fmt.Errorf("ix%d: %w", s.ID, err)
			}
		}
		if err := base.AddInternetExchange(ix); err != nil {
			return nil, err
		}
	}
	return base, nil
}
