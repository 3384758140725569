// Package loader reads topology descriptions and turns them into emulators
// with the standard layer stack attached.
package loader

import (
	"fmt"
	"io"
	"maps"
	"net/netip"
	"os"
	"slices"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/layers"
	"seedemu/internal/topology"
)

// TopologyYAML represents the YAML file structure
type TopologyYAML struct {
	Name              string         `yaml:"name"`
	ServiceNetwork    string         `yaml:"service_network,omitempty"`
	NameServers       []string       `yaml:"name_servers,omitempty"`
	Exchanges         []ExchangeYAML `yaml:"exchanges,omitempty"`
	AutonomousSystems []ASYAML       `yaml:"autonomous_systems,omitempty"`
	Peerings          []PeeringYAML  `yaml:"peerings,omitempty"`
	Zones             []ZoneYAML     `yaml:"zones,omitempty"`
	Routing           *RoutingYAML   `yaml:"routing,omitempty"`
	Ospf              *OspfYAML      `yaml:"ospf,omitempty"`
	Ibgp              *IbgpYAML      `yaml:"ibgp,omitempty"`
}

// ExchangeYAML represents an internet exchange
type ExchangeYAML struct {
	ID           int                      `yaml:"id"`
	Prefix       string                   `yaml:"prefix,omitempty"`
	RemoteAccess bool                     `yaml:"remote_access,omitempty"`
	Link         *topology.LinkProperties `yaml:"link,omitempty"`
}

// ASYAML represents an autonomous system
type ASYAML struct {
	ASN         int           `yaml:"asn"`
	NameServers []string      `yaml:"name_servers,omitempty"`
	Networks    []NetworkYAML `yaml:"networks,omitempty"`
	Routers     []NodeYAML    `yaml:"routers,omitempty"`
	Hosts       []NodeYAML    `yaml:"hosts,omitempty"`
}

// NetworkYAML represents a local network of an AS
type NetworkYAML struct {
	Name         string                   `yaml:"name"`
	Prefix       string                   `yaml:"prefix,omitempty"`
	Hosts        *topology.OffsetRange    `yaml:"hosts,omitempty"`
	Routers      *topology.OffsetRange    `yaml:"routers,omitempty"`
	Excluded     []RangeYAML              `yaml:"excluded,omitempty"`
	RemoteAccess bool                     `yaml:"remote_access,omitempty"`
	Link         *topology.LinkProperties `yaml:"link,omitempty"`
}

// RangeYAML is an inclusive address range kept out of automatic assignment
type RangeYAML struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// NodeYAML represents a router or host
type NodeYAML struct {
	Name              string                  `yaml:"name"`
	Networks          []MembershipYAML        `yaml:"networks"`
	Software          []string                `yaml:"software,omitempty"`
	Files             map[string]string       `yaml:"files,omitempty"`
	BuildCommands     []string                `yaml:"build_commands,omitempty"`
	StartCommands     []string                `yaml:"start_commands,omitempty"`
	NameServers       []string                `yaml:"name_servers,omitempty"`
	Ports             []topology.Port         `yaml:"ports,omitempty"`
	SharedFolders     []topology.SharedFolder `yaml:"shared_folders,omitempty"`
	PersistentStorage []string                `yaml:"persistent_storage,omitempty"`
	Privileged        bool                    `yaml:"privileged,omitempty"`
}

// MembershipYAML is a network a node joins. It is written either as the
// network name or as a mapping with an address and link properties.
type MembershipYAML struct {
	Network string                   `yaml:"network"`
	Address string                   `yaml:"address,omitempty"`
	Link    *topology.LinkProperties `yaml:"link,omitempty"`
}

// UnmarshalYAML accepts a bare network name
func (m *MembershipYAML) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&m.Network)
	}
	type plain MembershipYAML
	return value.Decode((*plain)(m))
}

// PeeringYAML lists the sessions at one exchange
type PeeringYAML struct {
	IX          int                  `yaml:"ix"`
	RouteServer []int                `yaml:"route_server,omitempty"`
	Private     []PrivatePeeringYAML `yaml:"private,omitempty"`
}

// PrivatePeeringYAML is a direct session. Relationship is what A is to B.
type PrivatePeeringYAML struct {
	A            int    `yaml:"a"`
	B            []int  `yaml:"b"`
	Relationship string `yaml:"relationship,omitempty"`
}

// ZoneYAML is a DNS zone and the nodes hosting it
type ZoneYAML struct {
	Name    string        `yaml:"name"`
	Records []string      `yaml:"records,omitempty"`
	Hosts   []HostingYAML `yaml:"hosts,omitempty"`
}

// HostingYAML names a node serving a zone
type HostingYAML struct {
	ASN  int    `yaml:"asn"`
	Node string `yaml:"node"`
}

// RoutingYAML overrides the loopback pool
type RoutingYAML struct {
	LoopbackPrefix string `yaml:"loopback_prefix,omitempty"`
}

// OspfYAML excludes ASes and networks from OSPF
type OspfYAML struct {
	MaskedASNs     []int           `yaml:"masked_asns,omitempty"`
	MaskedNetworks []MaskedNetYAML `yaml:"masked_networks,omitempty"`
}

// IbgpYAML excludes ASes from the iBGP mesh
type IbgpYAML struct {
	MaskedASNs []int `yaml:"masked_asns,omitempty"`
}

// MaskedNetYAML names a network in an AS
type MaskedNetYAML struct {
	ASN     int    `yaml:"asn"`
	Network string `yaml:"network"`
}

// Option configures how topologies are built
type Option func(*options)

type options struct {
	logger        *zap.Logger
	servicePrefix netip.Prefix
	provider      topology.RemoteAccessProvider
}

// WithLogger sets the logger of the built emulator
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithServiceNetwork sets the service network prefix used when the
// topology does not set one
func WithServiceNetwork(prefix netip.Prefix) Option {
	return func(o *options) {
		o.servicePrefix = prefix
	}
}

// WithRemoteAccess sets the provider shared by every network marked for
// remote access
func WithRemoteAccess(p topology.RemoteAccessProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// LoadFile loads a topology from a YAML file
func LoadFile(path string, opts ...Option) (*emulator.Emulator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	return Load(f, opts...)
}

// Load parses a YAML topology and builds the emulator
func Load(r io.Reader, opts ...Option) (*emulator.Emulator, error) {
	var t TopologyYAML
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return t.Build(opts...)
}

// Build creates an emulator with Base, Routing, Ospf, Ibgp, Ebgp and
// DomainNameService layers holding the described topology
func (t *TopologyYAML) Build(opts ...Option) (*emulator.Emulator, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	emuOpts := []emulator.Option{emulator.WithName(t.Name), emulator.WithLogger(o.logger)}
	servicePrefix := o.servicePrefix
	if t.ServiceNetwork != "" {
		p, err := parsePrefix("service_network", t.ServiceNetwork)
		if err != nil {
			return nil, err
		}
		servicePrefix = p
	}
	if servicePrefix.IsValid() {
		emuOpts = append(emuOpts, emulator.WithServiceNetwork(servicePrefix))
	}

	base, err := t.buildBase(o)
	if err != nil {
		return nil, err
	}
	routing, err := t.buildRouting()
	if err != nil {
		return nil, err
	}
	ebgp, err := t.buildEbgp()
	if err != nil {
		return nil, err
	}
	dns, err := t.buildDNS()
	if err != nil {
		return nil, err
	}

	ospf := layers.NewOspf()
	if t.Ospf != nil {
		for _, asn := range t.Ospf.MaskedASNs {
			ospf.MaskAsn(asn)
		}
		for _, m := range t.Ospf.MaskedNetworks {
			ospf.MaskNetwork(strconv.Itoa(m.ASN), m.Network)
		}
	}
	ibgp := layers.NewIbgp()
	if t.Ibgp != nil {
		for _, asn := range t.Ibgp.MaskedASNs {
			ibgp.MaskAsn(asn)
		}
	}

	emu := emulator.New(emuOpts...)
	for _, l := range []emulator.Layer{base, routing, ospf, ibgp, ebgp, dns} {
		if err := emu.AddLayer(l); err != nil {
			return nil, err
		}
	}
	o.logger.Debug("topology loaded",
		zap.String("emulator", t.Name),
		zap.Int("exchanges", len(t.Exchanges)),
		zap.Int("autonomous_systems", len(t.AutonomousSystems)))
	return emu, nil
}

func (t *TopologyYAML) buildBase(o options) (*layers.Base, error) {
	base := layers.NewBase()
	base.NameServers = t.NameServers

	remoteAccess := func(where string, net *topology.Network) error {
		if o.provider == nil {
			return fmt.Errorf("%s: remote access requested without a provider: %w", where, errdefs.ErrInvalidTopology)
		}
		net.EnableRemoteAccess(o.provider)
		return nil
	}

	for _, x := range t.Exchanges {
		where := topology.ExchangeName(x.ID)
		prefix, err := optionalPrefix(where, x.Prefix)
		if err != nil {
			return nil, err
		}
		ix, err := base.CreateInternetExchange(x.ID, prefix, nil)
		if err != nil {
			return nil, err
		}
		if x.Link != nil {
			if err := ix.Network.SetDefaultLinkProperties(*x.Link); err != nil {
				return nil, err
			}
		}
		if x.RemoteAccess {
			if err := remoteAccess(where, ix.Network); err != nil {
				return nil, err
			}
		}
	}

	for _, a := range t.AutonomousSystems {
		as, err := base.CreateAutonomousSystem(a.ASN)
		if err != nil {
			return nil, err
		}
		as.NameServers = a.NameServers

		for _, n := range a.Networks {
			where := fmt.Sprintf("as%d/%s", a.ASN, n.Name)
			prefix, err := optionalPrefix(where, n.Prefix)
			if err != nil {
				return nil, err
			}
			aac, err := constraintFor(where, prefix, n)
			if err != nil {
				return nil, err
			}
			net, err := as.CreateNetwork(n.Name, prefix, aac)
			if err != nil {
				return nil, err
			}
			if n.Link != nil {
				if err := net.SetDefaultLinkProperties(*n.Link); err != nil {
					return nil, err
				}
			}
			if n.RemoteAccess {
				if err := remoteAccess(where, net); err != nil {
					return nil, err
				}
			}
		}

		for _, r := range a.Routers {
			node, err := as.CreateRouter(r.Name)
			if err != nil {
				return nil, err
			}
			if err := r.apply(node); err != nil {
				return nil, fmt.Errorf("as%d/%s: %w", a.ASN, r.Name, err)
			}
		}
		for _, h := range a.Hosts {
			node, err := as.CreateHost(h.Name)
			if err != nil {
				return nil, err
			}
			if err := h.apply(node); err != nil {
				return nil, fmt.Errorf("as%d/%s: %w", a.ASN, h.Name, err)
			}
		}
	}
	return base, nil
}

// constraintFor returns nil unless the network overrides an offset range or
// excludes addresses
func constraintFor(where string, prefix netip.Prefix, n NetworkYAML) (*topology.AddressAssignmentConstraint, error) {
	if n.Hosts == nil && n.Routers == nil && len(n.Excluded) == 0 {
		return nil, nil
	}
	if !prefix.IsValid() {
		return nil, fmt.Errorf("%s: address ranges need an explicit prefix: %w", where, errdefs.ErrInvalidTopology)
	}
	aac, err := topology.DefaultConstraint(prefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", where, err)
	}
	if n.Hosts != nil {
		aac.Hosts = *n.Hosts
	}
	if n.Routers != nil {
		aac.Routers = *n.Routers
	}
	for _, r := range n.Excluded {
		from, errFrom := netip.ParseAddr(r.From)
		to, errTo := netip.ParseAddr(r.To)
		if errFrom != nil || errTo != nil || !prefix.Contains(from) || !prefix.Contains(to) {
			return nil, fmt.Errorf("%s: excluded range %s-%s not in %s: %w", where, r.From, r.To, prefix, errdefs.ErrInvalidTopology)
		}
		if err := aac.Exclude(from, to); err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
	}
	return aac, nil
}

func (n NodeYAML) apply(node *topology.Node) error {
	for _, m := range n.Networks {
		if m.Address == "" {
			if err := node.JoinNetwork(m.Network); err != nil {
				return err
			}
		} else {
			addr, err := netip.ParseAddr(m.Address)
			if err != nil {
				return fmt.Errorf("network %s: address %q: %w", m.Network, m.Address, errdefs.ErrInvalidTopology)
			}
			if err := node.JoinNetworkAt(m.Network, addr); err != nil {
				return err
			}
		}
		if m.Link != nil {
			if err := node.SetLinkProperties(m.Network, *m.Link); err != nil {
				return err
			}
		}
	}
	for _, sw := range n.Software {
		node.AddSoftware(sw)
	}
	for _, path := range slices.Sorted(maps.Keys(n.Files)) {
		node.SetFile(path, n.Files[path])
	}
	for _, cmd := range n.BuildCommands {
		node.AddBuildCommand(cmd)
	}
	for _, cmd := range n.StartCommands {
		node.AppendStartCommand(cmd, false)
	}
	node.NameServers = append(node.NameServers, n.NameServers...)
	for _, p := range n.Ports {
		if !validPort(p.Host) || !validPort(p.Container) {
			return fmt.Errorf("port %d:%d: %w", p.Host, p.Container, errdefs.ErrInvalidTopology)
		}
		node.AddPort(p.Host, p.Container, p.Proto)
	}
	for _, f := range n.SharedFolders {
		if f.NodePath == "" || f.HostPath == "" {
			return fmt.Errorf("shared folder %q:%q: both paths are required: %w", f.HostPath, f.NodePath, errdefs.ErrInvalidTopology)
		}
		node.AddSharedFolder(f.NodePath, f.HostPath)
	}
	for _, path := range n.PersistentStorage {
		node.AddPersistentStorage(path)
	}
	node.Privileged = node.Privileged || n.Privileged
	return nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func (t *TopologyYAML) buildRouting() (*layers.Routing, error) {
	routing := layers.NewRouting()
	if t.Routing != nil && t.Routing.LoopbackPrefix != "" {
		p, err := parsePrefix("routing.loopback_prefix", t.Routing.LoopbackPrefix)
		if err != nil {
			return nil, err
		}
		routing.LoopbackPrefix = p
	}
	return routing, nil
}

func (t *TopologyYAML) buildEbgp() (*layers.Ebgp, error) {
	ebgp := layers.NewEbgp()
	for _, p := range t.Peerings {
		for _, asn := range p.RouteServer {
			if err := ebgp.AddRsPeer(p.IX, asn); err != nil {
				return nil, err
			}
		}
		for _, pp := range p.Private {
			rel, err := layers.ParsePeerRelationship(pp.Relationship)
			if err != nil {
				return nil, fmt.Errorf("ix%d as%d: %w", p.IX, pp.A, err)
			}
			for _, b := range pp.B {
				if err := ebgp.AddPrivatePeering(p.IX, pp.A, b, rel); err != nil {
					return nil, err
				}
			}
		}
	}
	return ebgp, nil
}

func (t *TopologyYAML) buildDNS() (*layers.DomainNameService, error) {
	dns := layers.NewDomainNameService()
	for _, z := range t.Zones {
		zone := dns.GetZone(z.Name)
		for _, rec := range z.Records {
			zone.AddRecord(rec)
		}
		for _, h := range z.Hosts {
			if err := dns.HostZone(z.Name, h.ASN, h.Node); err != nil {
				return nil, err
			}
		}
	}
	return dns, nil
}

func optionalPrefix(where, s string) (netip.Prefix, error) {
	if s == "" {
		return netip.Prefix{}, nil
	}
	return parsePrefix(where, s)
}

func parsePrefix(where, s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%s: prefix %q: %w", where, s, errdefs.ErrInvalidTopology)
	}
	return p, nil
}
