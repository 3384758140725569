package layers

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// Zone is a node of the name hierarchy. Records and glue records are
// ordered sets; children are kept in insertion order.
type Zone struct {
	Label    string   `yaml:"label" json:"label"`
	Name     string   `yaml:"name" json:"name"`
	Records  []string `yaml:"records,omitempty" json:"records,omitempty"`
	Gules    []string `yaml:"gules,omitempty" json:"gules,omitempty"`
	Children []*Zone  `yaml:"children,omitempty" json:"children,omitempty"`
}

// NewZone creates an empty zone for a fully qualified name. "." and ""
// create the root zone.
func NewZone(name string) *Zone {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return &Zone{Name: "."}
	}
	label, _, _ := strings.Cut(name, ".")
	return &Zone{Label: label, Name: name + "."}
}

// IsRoot reports whether z is the root zone
func (z *Zone) IsRoot() bool {
	return z.Name == "."
}

// AddRecord adds a resource record once
func (z *Zone) AddRecord(record string) {
	if !slices.Contains(z.Records, record) {
		z.Records = append(z.Records, record)
	}
}

// AddGuleRecord adds a glue record once
func (z *Zone) AddGuleRecord(record string) {
	if !slices.Contains(z.Gules, record) {
		z.Gules = append(z.Gules, record)
	}
}

// Child returns the child zone with label, or nil
func (z *Zone) Child(label string) *Zone {
	for _, c := range z.Children {
		if c.Label == label {
			return c
		}
	}
	return nil
}

// Labels returns the child labels in insertion order
func (z *Zone) Labels() []string {
	labels := make([]string, len(z.Children))
	for i, c := range z.Children {
		labels[i] = c.Label
	}
	return labels
}

// Subzone returns the child zone with label, creating it if needed
func (z *Zone) Subzone(label string) *Zone {
	if c := z.Child(label); c != nil {
		return c
	}
	name := label + "." + z.Name
	if z.IsRoot() {
		name = label + "."
	}
	c := NewZone(name)
	z.Children = append(z.Children, c)
	return c
}

// AttachChild adds an existing zone as a child
func (z *Zone) AttachChild(c *Zone) error {
	if z.Child(c.Label) != nil {
		return fmt.Errorf("zone %s: child %s: %w", z.Name, c.Label, errdefs.ErrDuplicateKey)
	}
	z.Children = append(z.Children, c)
	return nil
}

// ZoneFile renders the zone in master file format
func (z *Zone) ZoneFile(primary string) string {
	var b strings.Builder
	b.WriteString("$TTL 300\n")
	fmt.Fprintf(&b, "$ORIGIN %s\n", z.Name)
	admin := "admin." + z.Name
	if z.IsRoot() {
		admin = "admin."
	}
	fmt.Fprintf(&b, "@ SOA %s %s 1 900 900 1800 60\n", primary, admin)
	for _, r := range z.Records {
		b.WriteString(r + "\n")
	}
	for _, r := range z.Gules {
		b.WriteString(r + "\n")
	}
	return b.String()
}

// ZoneHosting places a zone on a host
type ZoneHosting struct {
	Zone string `yaml:"zone" json:"zone"`
	ASN  int    `yaml:"asn" json:"asn"`
	Node string `yaml:"node" json:"node"`
}

// DomainNameService holds a zone tree and the hosts serving its zones.
// Configure publishes every hosting as NS and A records in the zone and as
// glue in its parent, then installs bind9 on the hosts.
type DomainNameService struct {
	Root     *Zone         `yaml:"root" json:"root"`
	Hostings []ZoneHosting `yaml:"hostings,omitempty" json:"hostings,omitempty"`
}

func NewDomainNameService() *DomainNameService {
	return &DomainNameService{Root: NewZone(".")}
}

func (d *DomainNameService) Name() string { return DNSLayer }

func (d *DomainNameService) Dependencies() []emulator.Dependency {
	return []emulator.Dependency{emulator.Requires(BaseLayer)}
}

// GetZone returns the zone for domain, creating the path to it
func (d *DomainNameService) GetZone(domain string) *Zone {
	z := d.Root
	for _, label := range zoneLabels(domain) {
		z = z.Subzone(label)
	}
	return z
}

// parent returns the parent of the zone for domain, nil for the root
func (d *DomainNameService) parent(domain string) *Zone {
	labels := zoneLabels(domain)
	if len(labels) == 0 {
		return nil
	}
	z := d.Root
	for _, label := range labels[:len(labels)-1] {
		z = z.Subzone(label)
	}
	return z
}

// HostZone serves domain from the host node of asn
func (d *DomainNameService) HostZone(domain string, asn int, node string) error {
	h := ZoneHosting{Zone: d.GetZone(domain).Name, ASN: asn, Node: node}
	if slices.Contains(d.Hostings, h) {
		return fmt.Errorf("zone %s on as%d/%s: %w", h.Zone, asn, node, errdefs.ErrDuplicateKey)
	}
	d.Hostings = append(d.Hostings, h)
	return nil
}

func (d *DomainNameService) RegisterNodes(*emulator.Emulator) error { return nil }

func (d *DomainNameService) Configure(emu *emulator.Emulator) error {
	reg := emu.Registry()
	log := emu.Logger().Named(d.Name())

	type served struct {
		zone    *Zone
		primary string
	}
	var hosts []*topology.Node
	byHost := make(map[*topology.Node][]served)
	perZone := make(map[string]int)

	for _, h := range d.Hostings {
		n, err := registry.GetAs[*topology.Node](reg, strconv.Itoa(h.ASN), registry.ClassHost, h.Node)
		if err != nil {
			return fmt.Errorf("zone %s: %w", h.Zone, err)
		}
		if len(n.Interfaces) == 0 || !n.Interfaces[0].Address.IsValid() {
			return fmt.Errorf("zone %s: host %s has no address: %w", h.Zone, n.ID(), errdefs.ErrInvalidTopology)
		}
		addr := n.Interfaces[0].Address

		zone := d.GetZone(h.Zone)
		perZone[zone.Name]++
		ns := nameServerName(zone, perZone[zone.Name])
		zone.AddRecord("@ NS " + ns)
		zone.AddRecord(fmt.Sprintf("%s A %s", ns, addr))
		if parent := d.parent(h.Zone); parent != nil {
			parent.AddGuleRecord(fmt.Sprintf("%s NS %s", zone.Name, ns))
			parent.AddGuleRecord(fmt.Sprintf("%s A %s", ns, addr))
		}

		if _, ok := byHost[n]; !ok {
			hosts = append(hosts, n)
		}
		byHost[n] = append(byHost[n], served{zone: zone, primary: ns})
		log.Debug("hosting zone", zap.String("zone", zone.Name), zap.String("node", n.ID()), zap.String("ns", ns))
	}

	for _, n := range hosts {
		if n.IsConfiguredBy(d.Name()) {
			continue
		}
		n.AddSoftware("bind9")
		n.SetFile("/etc/bind/named.conf.options", "options {\n    directory \"/var/cache/bind\";\n    recursion no;\n    dnssec-validation no;\n    empty-zones-enable no;\n    allow-query { any; };\n};\n")
		n.AppendFile("/etc/bind/named.conf", "include \"/etc/bind/named.conf.zones\";\n")
		for _, s := range byHost[n] {
			file := "/etc/bind/zones/" + zoneFileName(s.zone)
			n.SetFile(file, s.zone.ZoneFile(s.primary))
			n.AppendFile("/etc/bind/named.conf.zones", fmt.Sprintf(
				"zone %q { type master; file %q; allow-update { any; }; };\n", s.zone.Name, file))
		}
		n.AppendStartCommand("chown -R bind:bind /etc/bind/zones", false)
		n.AppendStartCommand("service named start", false)
		n.MarkConfiguredBy(d.Name())
	}
	return nil
}

// zoneLabels splits a domain into labels from the top, so www.example.com
// gives com, example, www.
func zoneLabels(domain string) []string {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return nil
	}
	labels := strings.Split(domain, ".")
	slices.Reverse(labels)
	return labels
}

func nameServerName(z *Zone, index int) string {
	if z.IsRoot() {
		return fmt.Sprintf("ns%d.root-servers.net.", index)
	}
	return fmt.Sprintf("ns%d.%s", index, z.Name)
}

func zoneFileName(z *Zone) string {
	if z.IsRoot() {
		return "root"
	}
	return strings.TrimSuffix(z.Name, ".")
}
