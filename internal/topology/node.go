package topology

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"

	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
)

// Role represents what a node does in the emulation
type Role string

const (
	RoleHost        Role = "host"
	RoleRouter      Role = "router"
	RoleRouteServer Role = "route_server"
)

// Class returns the registry class tag nodes of this role are registered under
func (r Role) Class() string {
	switch r {
	case RoleRouter:
		return registry.ClassRouter
	case RoleRouteServer:
		return registry.ClassRouteServer
	default:
		return registry.ClassHost
	}
}

// DefaultSoftware is installed on every node.
var DefaultSoftware = []string{
	"zsh", "curl", "nano", "vim-nox", "mtr-tiny", "iproute2", "iputils-ping",
	"tcpdump", "termshark", "dnsutils", "jq", "ipcalc", "netcat",
}

// LinkProperties shapes the traffic of an interface
type LinkProperties struct {
	LatencyMs    int     `yaml:"latency_ms" json:"latency_ms"`
	BandwidthBps int     `yaml:"bandwidth_bps" json:"bandwidth_bps"`
	DropPercent  float64 `yaml:"drop_percent" json:"drop_percent"`
}

// IsZero reports whether no shaping is configured
func (l LinkProperties) IsZero() bool {
	return l == LinkProperties{}
}

// Validate checks the ranges of the properties
func (l LinkProperties) Validate() error {
	if l.LatencyMs < 0 || l.BandwidthBps < 0 || l.DropPercent < 0 || l.DropPercent > 100 {
		return fmt.Errorf("link properties %+v: %w", l, errdefs.ErrInvalidTopology)
	}
	return nil
}

// Interface is a membership of a node in a network. Requested is the zero
// address for automatic assignment. Address and NetworkScope are filled in
// when the node is configured.
type Interface struct {
	Network      string         `yaml:"network" json:"network"`
	NetworkScope string         `yaml:"network_scope" json:"network_scope"`
	Requested    netip.Addr     `yaml:"requested" json:"requested"`
	Address      netip.Addr     `yaml:"address" json:"address"`
	Link         LinkProperties `yaml:"link" json:"link"`
}

// Auto reports whether the interface address is picked by the network
func (i *Interface) Auto() bool {
	return !i.Requested.IsValid()
}

// File is a file placed on a node
type File struct {
	Path    string `yaml:"path" json:"path"`
	Content string `yaml:"content" json:"content"`
}

// StartCommand is a command run when the node boots. Forked commands run in
// the background.
type StartCommand struct {
	Command string `yaml:"command" json:"command"`
	Fork    bool   `yaml:"fork,omitempty" json:"fork,omitempty"`
}

// Port publishes a container port on the emulation host
type Port struct {
	Host      int    `yaml:"host" json:"host"`
	Container int    `yaml:"container" json:"container"`
	Proto     string `yaml:"proto" json:"proto"`
}

// SharedFolder mounts a host directory into a node
type SharedFolder struct {
	NodePath string `yaml:"node_path" json:"node_path"`
	HostPath string `yaml:"host_path" json:"host_path"`
}

// Node represents a host, router or route server.
//
// A node joins a network at most once. Joins are resolved against the
// registry by Configure, after which the interface list is frozen.
type Node struct {
	Name  string `yaml:"name" json:"name"`
	Role  Role   `yaml:"role" json:"role"`
	ASN   int    `yaml:"asn" json:"asn"`
	Scope string `yaml:"scope" json:"scope"`

	Interfaces        []*Interface   `yaml:"interfaces,omitempty" json:"interfaces,omitempty"`
	Software          []string       `yaml:"software,omitempty" json:"software,omitempty"`
	Files             []File         `yaml:"files,omitempty" json:"files,omitempty"`
	BuildCommands     []string       `yaml:"build_commands,omitempty" json:"build_commands,omitempty"`
	StartCommands     []StartCommand `yaml:"start_commands,omitempty" json:"start_commands,omitempty"`
	Ports             []Port         `yaml:"ports,omitempty" json:"ports,omitempty"`
	NameServers       []string       `yaml:"name_servers,omitempty" json:"name_servers,omitempty"`
	Privileged        bool           `yaml:"privileged,omitempty" json:"privileged,omitempty"`
	SharedFolders     []SharedFolder `yaml:"shared_folders,omitempty" json:"shared_folders,omitempty"`
	PersistentStorage []string       `yaml:"persistent_storage,omitempty" json:"persistent_storage,omitempty"`

	// Router fields
	Loopback netip.Addr `yaml:"loopback" json:"loopback"`
	Tables   []string   `yaml:"tables,omitempty" json:"tables,omitempty"`

	ConfiguredBy []string `yaml:"configured_by,omitempty" json:"configured_by,omitempty"`
	Configured   bool     `yaml:"configured" json:"configured"`
}

// NewNode creates a node with the default software set. An empty scope means
// the decimal ASN.
func NewNode(name string, role Role, asn int, scope string) *Node {
	if scope == "" {
		scope = strconv.Itoa(asn)
	}
	n := &Node{
		Name:  name,
		Role:  role,
		ASN:   asn,
		Scope: scope,
	}
	for _, sw := range DefaultSoftware {
		n.AddSoftware(sw)
	}
	return n
}

// ID returns scope/name, the identity used for address leases
func (n *Node) ID() string {
	return n.Scope + "/" + n.Name
}

// JoinNetwork adds a membership with an automatically assigned address
func (n *Node) JoinNetwork(network string) error {
	return n.join(network, netip.Addr{})
}

// JoinNetworkAt adds a membership with a fixed address
func (n *Node) JoinNetworkAt(network string, addr netip.Addr) error {
	if !addr.IsValid() {
		return fmt.Errorf("node %s: join %s: invalid address: %w", n.ID(), network, errdefs.ErrInvalidTopology)
	}
	return n.join(network, addr)
}

func (n *Node) join(network string, addr netip.Addr) error {
	if n.Configured {
		return fmt.Errorf("node %s: join %s: node already configured: %w", n.ID(), network, errdefs.ErrInvalidTopology)
	}
	if n.Interface(network) != nil {
		return fmt.Errorf("node %s: already joined %s: %w", n.ID(), network, errdefs.ErrInvalidTopology)
	}
	n.Interfaces = append(n.Interfaces, &Interface{Network: network, Requested: addr})
	return nil
}

// Interface returns the membership in the named network, or nil
func (n *Node) Interface(network string) *Interface {
	for _, iface := range n.Interfaces {
		if iface.Network == network {
			return iface
		}
	}
	return nil
}

// SetLinkProperties overrides the shaping of one membership
func (n *Node) SetLinkProperties(network string, link LinkProperties) error {
	if err := link.Validate(); err != nil {
		return err
	}
	iface := n.Interface(network)
	if iface == nil {
		return fmt.Errorf("node %s: interface %s: %w", n.ID(), network, errdefs.ErrNotFound)
	}
	iface.Link = link
	return nil
}

// AddSoftware adds a package. Packages are kept once, in first-added order.
func (n *Node) AddSoftware(pkg string) {
	if !slices.Contains(n.Software, pkg) {
		n.Software = append(n.Software, pkg)
	}
}

// SetFile creates or replaces a file. A replaced file keeps its position.
func (n *Node) SetFile(path, content string) {
	for i := range n.Files {
		if n.Files[i].Path == path {
			n.Files[i].Content = content
			return
		}
	}
	n.Files = append(n.Files, File{Path: path, Content: content})
}

// AppendFile appends to a file, creating it if needed
func (n *Node) AppendFile(path, content string) {
	for i := range n.Files {
		if n.Files[i].Path == path {
			n.Files[i].Content += content
			return
		}
	}
	n.Files = append(n.Files, File{Path: path, Content: content})
}

// File returns a file by path
func (n *Node) File(path string) (File, bool) {
	for _, f := range n.Files {
		if f.Path == path {
			return f, true
		}
	}
	return File{}, false
}

// AddBuildCommand appends a build-time command
func (n *Node) AddBuildCommand(cmd string) {
	n.BuildCommands = append(n.BuildCommands, cmd)
}

// AppendStartCommand appends a boot command
func (n *Node) AppendStartCommand(cmd string, fork bool) {
	n.StartCommands = append(n.StartCommands, StartCommand{Command: cmd, Fork: fork})
}

// InsertStartCommand inserts a boot command at index, clamped to the list
func (n *Node) InsertStartCommand(index int, cmd string, fork bool) {
	index = max(0, min(index, len(n.StartCommands)))
	n.StartCommands = slices.Insert(n.StartCommands, index, StartCommand{Command: cmd, Fork: fork})
}

// AddPort publishes a container port on a host port
func (n *Node) AddPort(host, container int, proto string) {
	if proto == "" {
		proto = "tcp"
	}
	n.Ports = append(n.Ports, Port{Host: host, Container: container, Proto: proto})
}

// AddSharedFolder mounts hostPath at nodePath
func (n *Node) AddSharedFolder(nodePath, hostPath string) {
	n.SharedFolders = append(n.SharedFolders, SharedFolder{NodePath: nodePath, HostPath: hostPath})
}

// AddPersistentStorage keeps path across restarts
func (n *Node) AddPersistentStorage(path string) {
	n.PersistentStorage = append(n.PersistentStorage, path)
}

// IsConfiguredBy reports whether layer already configured this node
func (n *Node) IsConfiguredBy(layer string) bool {
	return slices.Contains(n.ConfiguredBy, layer)
}

// MarkConfiguredBy records that layer configured this node
func (n *Node) MarkConfiguredBy(layer string) {
	if !n.IsConfiguredBy(layer) {
		n.ConfiguredBy = append(n.ConfiguredBy, layer)
	}
}

// AddProtocol appends a BIRD protocol block to /etc/bird/bird.conf
func (n *Node) AddProtocol(protocol, name, body string) {
	n.AppendFile(BirdConfigPath, fmt.Sprintf("protocol %s %s {%s}\n", protocol, name, body))
}

// AddTable declares a BIRD routing table once
func (n *Node) AddTable(table string) {
	if slices.Contains(n.Tables, table) {
		return
	}
	n.Tables = append(n.Tables, table)
	n.AppendFile(BirdConfigPath, fmt.Sprintf("ipv4 table %s;\n", table))
}

// BirdConfigPath is where routers keep their BIRD configuration.
const BirdConfigPath = "/etc/bird/bird.conf"

// Configure resolves every pending membership against the registry and
// assigns addresses in join order. Networks are looked up in the node's own
// scope, then the exchange scope, then the emulator scope. Configuring an
// already configured node does nothing.
func (n *Node) Configure(reg *registry.Registry) error {
	if n.Configured {
		return nil
	}
	for _, iface := range n.Interfaces {
		net, err := resolveNetwork(reg, n.Scope, iface.Network)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID(), err)
		}
		var addr netip.Addr
		if iface.Auto() {
			addr, err = net.Assign(n.Role, n.ASN, n.ID())
		} else {
			addr = iface.Requested
			err = net.Claim(addr, n.ID())
		}
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID(), err)
		}
		iface.Address = addr
		iface.NetworkScope = net.Scope
		if iface.Link.IsZero() {
			iface.Link = net.Link
		}
	}
	if len(n.NameServers) > 0 {
		content := ""
		for _, ns := range n.NameServers {
			content += "nameserver " + ns + "\n"
		}
		n.SetFile("/etc/resolv.conf", content)
	}
	n.Configured = true
	return nil
}

func resolveNetwork(reg *registry.Registry, scope, name string) (*Network, error) {
	for _, s := range []string{scope, registry.ScopeExchange, registry.ScopeEmulator} {
		if !reg.Has(s, registry.ClassNetwork, name) {
			continue
		}
		return registry.GetAs[*Network](reg, s, registry.ClassNetwork, name)
	}
	return nil, fmt.Errorf("network %s: %w", name, errdefs.ErrNotFound)
}
