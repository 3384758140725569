package layers

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"go.uber.org/zap"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// PeerRelationship is the business relationship of a BGP session
type PeerRelationship string

const (
	PeerRelationshipPeer     PeerRelationship = "peer"
	PeerRelationshipProvider PeerRelationship = "provider"
	PeerRelationshipCustomer PeerRelationship = "customer"
)

// ParsePeerRelationship parses peer, provider or customer. The empty string
// is a peer.
func ParsePeerRelationship(s string) (PeerRelationship, error) {
	switch PeerRelationship(strings.ToLower(s)) {
	case "", PeerRelationshipPeer:
		return PeerRelationshipPeer, nil
	case PeerRelationshipProvider:
		return PeerRelationshipProvider, nil
	case PeerRelationshipCustomer:
		return PeerRelationshipCustomer, nil
	}
	return "", fmt.Errorf("peer relationship %q: %w", s, errdefs.ErrInvalidTopology)
}

// Inverse returns the relationship seen from the other end
func (r PeerRelationship) Inverse() PeerRelationship {
	switch r {
	case PeerRelationshipProvider:
		return PeerRelationshipCustomer
	case PeerRelationshipCustomer:
		return PeerRelationshipProvider
	default:
		return PeerRelationshipPeer
	}
}

// RouteServerPeering connects an AS to the route server of an exchange
type RouteServerPeering struct {
	IX           int              `yaml:"ix" json:"ix"`
	ASN          int              `yaml:"asn" json:"asn"`
	Relationship PeerRelationship `yaml:"relationship" json:"relationship"`
}

// PrivatePeering connects two ASes directly over an exchange LAN.
// Relationship is what A is to B: Provider means A sells transit to B.
type PrivatePeering struct {
	IX           int              `yaml:"ix" json:"ix"`
	A            int              `yaml:"a" json:"a"`
	B            int              `yaml:"b" json:"b"`
	Relationship PeerRelationship `yaml:"relationship" json:"relationship"`
}

// Ebgp sets up inter-domain sessions at internet exchanges
type Ebgp struct {
	RouteServerPeerings []RouteServerPeering `yaml:"route_server_peerings,omitempty" json:"route_server_peerings,omitempty"`
	PrivatePeerings     []PrivatePeering     `yaml:"private_peerings,omitempty" json:"private_peerings,omitempty"`
}

func NewEbgp() *Ebgp { return &Ebgp{} }

func (e *Ebgp) Name() string { return EbgpLayer }

func (e *Ebgp) Dependencies() []emulator.Dependency {
	return []emulator.Dependency{emulator.Requires(RoutingLayer), emulator.Prefers(IbgpLayer)}
}

// AddRsPeer peers asn with the route server of ix
func (e *Ebgp) AddRsPeer(ix, asn int) error {
	for _, p := range e.RouteServerPeerings {
		if p.IX == ix && p.ASN == asn {
			return fmt.Errorf("rs peering ix%d as%d: %w", ix, asn, errdefs.ErrDuplicateKey)
		}
	}
	e.RouteServerPeerings = append(e.RouteServerPeerings, RouteServerPeering{IX: ix, ASN: asn, Relationship: PeerRelationshipPeer})
	return nil
}

// AddPrivatePeering peers a and b at ix
func (e *Ebgp) AddPrivatePeering(ix, a, b int, rel PeerRelationship) error {
	if a == b {
		return fmt.Errorf("private peering ix%d: as%d with itself: %w", ix, a, errdefs.ErrInvalidTopology)
	}
	if _, err := ParsePeerRelationship(string(rel)); err != nil {
		return err
	}
	for _, p := range e.PrivatePeerings {
		if p.IX == ix && ((p.A == a && p.B == b) || (p.A == b && p.B == a)) {
			return fmt.Errorf("private peering ix%d as%d-as%d: %w", ix, a, b, errdefs.ErrDuplicateKey)
		}
	}
	e.PrivatePeerings = append(e.PrivatePeerings, PrivatePeering{IX: ix, A: a, B: b, Relationship: rel})
	return nil
}

func (e *Ebgp) RegisterNodes(*emulator.Emulator) error { return nil }

// session is one side of a BGP session. neighborRel is what the neighbor is
// to the local AS.
type session struct {
	name        string
	local       netip.Addr
	localASN    int
	neighbor    netip.Addr
	neighborASN int
	neighborRel PeerRelationship
	rsClient    bool
}

type sessionPlan struct {
	nodes    []*topology.Node
	sessions map[*topology.Node][]session
}

func (p *sessionPlan) add(n *topology.Node, s session) {
	if _, ok := p.sessions[n]; !ok {
		p.nodes = append(p.nodes, n)
	}
	p.sessions[n] = append(p.sessions[n], s)
}

func (e *Ebgp) Configure(emu *emulator.Emulator) error {
	reg := emu.Registry()
	log := emu.Logger().Named(e.Name())
	plan := &sessionPlan{sessions: make(map[*topology.Node][]session)}

	for _, p := range e.RouteServerPeerings {
		ixName := topology.ExchangeName(p.IX)
		rs, err := registry.GetAs[*topology.Node](reg, registry.ScopeExchange, registry.ClassRouteServer, ixName)
		if err != nil {
			return fmt.Errorf("rs peering ix%d as%d: %w", p.IX, p.ASN, err)
		}
		rsIface := rs.Interface(ixName)
		if rsIface == nil {
			return fmt.Errorf("route server %s is not on %s: %w", rs.ID(), ixName, errdefs.ErrInvalidTopology)
		}
		router, addr, err := routerAt(reg, p.ASN, ixName)
		if err != nil {
			return fmt.Errorf("rs peering ix%d: %w", p.IX, err)
		}
		plan.add(router, session{
			name: fmt.Sprintf("p_rs%d", p.IX), local: addr, localASN: p.ASN,
			neighbor: rsIface.Address, neighborASN: p.IX, neighborRel: p.Relationship,
		})
		plan.add(rs, session{
			name: fmt.Sprintf("p_as%d", p.ASN), local: rsIface.Address, localASN: p.IX,
			neighbor: addr, neighborASN: p.ASN, rsClient: true,
		})
	}

	for _, p := range e.PrivatePeerings {
		ixName := topology.ExchangeName(p.IX)
		ra, aAddr, err := routerAt(reg, p.A, ixName)
		if err != nil {
			return fmt.Errorf("private peering ix%d: %w", p.IX, err)
		}
		rb, bAddr, err := routerAt(reg, p.B, ixName)
		if err != nil {
			return fmt.Errorf("private peering ix%d: %w", p.IX, err)
		}
		plan.add(ra, session{
			name: fmt.Sprintf("x_ix%d_as%d", p.IX, p.B), local: aAddr, localASN: p.A,
			neighbor: bAddr, neighborASN: p.B, neighborRel: p.Relationship.Inverse(),
		})
		plan.add(rb, session{
			name: fmt.Sprintf("x_ix%d_as%d", p.IX, p.A), local: bAddr, localASN: p.B,
			neighbor: aAddr, neighborASN: p.A, neighborRel: p.Relationship,
		})
	}

	for _, n := range plan.nodes {
		if n.IsConfiguredBy(e.Name()) {
			continue
		}
		if n.Role == topology.RoleRouter {
			ensureBgpTable(n)
			writeCommunities(n)
		}
		for _, s := range plan.sessions[n] {
			n.AddProtocol("bgp", s.name, s.body())
		}
		n.MarkConfiguredBy(e.Name())
		log.Debug("configured sessions", zap.String("node", n.ID()), zap.Int("sessions", len(plan.sessions[n])))
	}
	return nil
}

func (s session) body() string {
	var b strings.Builder
	if s.rsClient {
		b.WriteString("\n    ipv4 {\n        import all;\n        export all;\n    };\n    rs client;\n")
	} else {
		community, pref, export := "PEER_COMM", 20, "where bgp_large_community ~ [LOCAL_COMM, CUSTOMER_COMM]"
		switch s.neighborRel {
		case PeerRelationshipCustomer:
			community, pref, export = "CUSTOMER_COMM", 30, "all"
		case PeerRelationshipProvider:
			community, pref = "PROVIDER_COMM", 10
		}
		b.WriteString("\n    ipv4 {\n        table t_bgp;\n")
		fmt.Fprintf(&b, "        import filter {\n            bgp_large_community.add(%s);\n            bgp_local_pref = %d;\n            accept;\n        };\n", community, pref)
		fmt.Fprintf(&b, "        export %s;\n        next hop self;\n    };\n", export)
	}
	fmt.Fprintf(&b, "    local %s as %d;\n    neighbor %s as %d;\n", s.local, s.localASN, s.neighbor, s.neighborASN)
	return b.String()
}

// ensureBgpTable declares t_bgp and pipes it into master4 once
func ensureBgpTable(n *topology.Node) {
	if slices.Contains(n.Tables, "t_bgp") {
		return
	}
	n.AddTable("t_bgp")
	addPipe(n, "t_bgp")
}

func writeCommunities(n *topology.Node) {
	var b strings.Builder
	for i, name := range []string{"LOCAL_COMM", "CUSTOMER_COMM", "PEER_COMM", "PROVIDER_COMM"} {
		fmt.Fprintf(&b, "define %s = (%d, %d, 0);\n", name, n.ASN, i)
	}
	b.WriteString("protocol pipe {\n    table t_bgp;\n    peer table t_direct;\n    import none;\n")
	b.WriteString("    export filter {\n        bgp_large_community.add(LOCAL_COMM);\n        bgp_local_pref = 40;\n        accept;\n    };\n}\n")
	n.AppendFile(topology.BirdConfigPath, b.String())
}
