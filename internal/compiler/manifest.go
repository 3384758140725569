package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// ManifestName identifies the manifest compiler
const ManifestName = "manifest"

// NetworksFile is the manifest listing every network
const NetworksFile = "networks.yaml"

const bashShebang = "#!/bin/bash"

// Manifest writes one YAML manifest per node and a networks manifest.
// Commands and bash scripts are checked with a shell parser; a node that
// fails the check is reported and skipped without stopping its siblings.
type Manifest struct{}

// NewManifest creates a manifest compiler
func NewManifest() *Manifest {
	return &Manifest{}
}

// Name returns the compiler identifier
func (m *Manifest) Name() string {
	return ManifestName
}

type nodeManifest struct {
	Name          string                  `yaml:"name"`
	Role          topology.Role           `yaml:"role"`
	ASN           int                     `yaml:"asn"`
	Scope         string                  `yaml:"scope"`
	Loopback      string                  `yaml:"loopback,omitempty"`
	Privileged    bool                    `yaml:"privileged,omitempty"`
	Interfaces    []interfaceManifest     `yaml:"interfaces,omitempty"`
	NameServers   []string                `yaml:"name_servers,omitempty"`
	Software      []string                `yaml:"software,omitempty"`
	Files         []topology.File         `yaml:"files,omitempty"`
	BuildCommands []string                `yaml:"build_commands,omitempty"`
	StartCommands []topology.StartCommand `yaml:"start_commands,omitempty"`
	Ports         []topology.Port         `yaml:"ports,omitempty"`
	SharedFolders []topology.SharedFolder `yaml:"shared_folders,omitempty"`
	Storage       []string                `yaml:"persistent_storage,omitempty"`
}

type interfaceManifest struct {
	Network string                   `yaml:"network"`
	Scope   string                   `yaml:"scope"`
	Address string                   `yaml:"address"`
	Link    *topology.LinkProperties `yaml:"link,omitempty"`
}

type networkManifest struct {
	Name    string                   `yaml:"name"`
	Scope   string                   `yaml:"scope"`
	Type    topology.NetworkType     `yaml:"type"`
	Prefix  string                   `yaml:"prefix"`
	MTU     int                      `yaml:"mtu"`
	Link    *topology.LinkProperties `yaml:"link,omitempty"`
	Members []topology.Lease         `yaml:"members,omitempty"`
}

// FileName returns the manifest file name of a node
func FileName(key registry.Key) string {
	return fmt.Sprintf("%s_%s_%s.yaml", key.Scope, key.Class, key.Name)
}

// Compile writes the manifests. Per-node errors are combined into the
// returned error.
func (m *Manifest) Compile(ctx context.Context, emu *emulator.Emulator, dir string) error {
	logger := emu.Logger().Named("compiler")
	reg := emu.Registry()

	var errs error
	var networks []networkManifest
	nodes := 0
	for key, obj := range reg.All() {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		switch v := obj.(type) {
		case *topology.Network:
			networks = append(networks, buildNetwork(v))
		case *topology.Node:
			if err := m.compileNode(reg, key, v, dir); err != nil {
				logger.Warn("node skipped", zap.Stringer("node", key), zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			nodes++
		}
	}

	if err := writeYAML(filepath.Join(dir, NetworksFile), networks); err != nil {
		errs = multierr.Append(errs, err)
	}

	logger.Info("manifests written",
		zap.String("dir", dir),
		zap.Int("nodes", nodes),
		zap.Int("networks", len(networks)),
		zap.Int("errors", len(multierr.Errors(errs))))
	return errs
}

func (m *Manifest) compileNode(reg *registry.Registry, key registry.Key, n *topology.Node, dir string) error {
	if err := validateNode(n); err != nil {
		return err
	}

	out := nodeManifest{
		Name:          n.Name,
		Role:          n.Role,
		ASN:           n.ASN,
		Scope:         n.Scope,
		Privileged:    n.Privileged,
		NameServers:   n.NameServers,
		Software:      n.Software,
		Files:         n.Files,
		BuildCommands: n.BuildCommands,
		StartCommands: n.StartCommands,
		Ports:         n.Ports,
		SharedFolders: n.SharedFolders,
		Storage:       n.PersistentStorage,
	}
	if n.Loopback.IsValid() {
		out.Loopback = n.Loopback.String()
	}

	for _, iface := range n.Interfaces {
		net, err := registry.GetAs[*topology.Network](reg, iface.NetworkScope, registry.ClassNetwork, iface.Network)
		if err != nil {
			return fmt.Errorf("interface %s: %w", iface.Network, err)
		}
		if !iface.Address.IsValid() {
			return fmt.Errorf("interface %s has no address: %w", iface.Network, errdefs.ErrInvalidTopology)
		}
		im := interfaceManifest{
			Network: iface.Network,
			Scope:   iface.NetworkScope,
			Address: fmt.Sprintf("%s/%d", iface.Address, net.Prefix.Bits()),
		}
		if !iface.Link.IsZero() {
			link := iface.Link
			im.Link = &link
		}
		out.Interfaces = append(out.Interfaces, im)
	}

	return writeYAML(filepath.Join(dir, FileName(key)), out)
}

func buildNetwork(n *topology.Network) networkManifest {
	out := networkManifest{
		Name:    n.Name,
		Scope:   n.Scope,
		Type:    n.Type,
		Prefix:  n.Prefix.String(),
		MTU:     n.MTU,
		Members: n.Leases,
	}
	if !n.Link.IsZero() {
		link := n.Link
		out.Link = &link
	}
	return out
}

// validateNode parses every command and bash script of the node
func validateNode(n *topology.Node) error {
	parser := syntax.NewParser()
	var errs error
	check := func(name, src string) {
		if _, err := parser.Parse(strings.NewReader(src), name); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %w", errdefs.ErrInvalidTopology, err))
		}
	}

	for i, cmd := range n.BuildCommands {
		check(fmt.Sprintf("build[%d]", i), cmd)
	}
	for i, cmd := range n.StartCommands {
		check(fmt.Sprintf("start[%d]", i), cmd.Command)
	}
	for _, f := range n.Files {
		if strings.HasPrefix(f.Content, bashShebang) {
			check(f.Path, f.Content)
		}
	}
	return errs
}

func writeYAML(path string, v any) error {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
