// Package codec persists emulators as YAML snapshots so a topology fragment
// built in one process can be loaded, merged and rendered in another.
//
// Nodes and networks are referenced from several places at once: their AS
// or exchange, the registry, and remote access providers shared between
// networks. A snapshot stores each of them once in an arena and refers to
// them by id, so decoding restores the same sharing.
package codec

import (
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// FormatVersion is the snapshot layout written by Encode
const FormatVersion = 1

// Header identifies a snapshot
type Header struct {
	Version        int          `yaml:"version"`
	ID             string       `yaml:"id"`
	Emulator       string       `yaml:"emulator"`
	ServiceNetwork netip.Prefix `yaml:"service_network"`
	Created        time.Time    `yaml:"created"`
}

// Snapshot is the persisted form of an emulator
type Snapshot struct {
	Header    Header           `yaml:"header"`
	Nodes     []nodeRecord     `yaml:"nodes,omitempty"`
	Networks  []networkRecord  `yaml:"networks,omitempty"`
	Providers []providerRecord `yaml:"providers,omitempty"`
	Layers    []layerRecord    `yaml:"layers"`
	Registry  []entryRecord    `yaml:"registry,omitempty"`
}

type nodeRecord struct {
	ID   string         `yaml:"id"`
	Node *topology.Node `yaml:"node"`
}

type networkRecord struct {
	ID           string            `yaml:"id"`
	Network      *topology.Network `yaml:"network"`
	RemoteAccess string            `yaml:"remote_access,omitempty"`
}

type providerRecord struct {
	ID     string    `yaml:"id"`
	Kind   string    `yaml:"kind"`
	Config yaml.Node `yaml:"config"`
}

type layerRecord struct {
	Kind       string    `yaml:"kind"`
	Registered bool      `yaml:"registered,omitempty"`
	Configured bool      `yaml:"configured,omitempty"`
	State      yaml.Node `yaml:"state"`
}

// entryRecord is a registry entry. Nodes and networks are arena references;
// host port ledger entries carry their owner.
type entryRecord struct {
	Scope string `yaml:"scope"`
	Class string `yaml:"class"`
	Name  string `yaml:"name"`
	Ref   string `yaml:"ref,omitempty"`
	Owner string `yaml:"owner,omitempty"`
}

// Build captures the state of emu. A failed emulator cannot be captured.
func Build(emu *emulator.Emulator) (*Snapshot, error) {
	if err := emu.Failed(); err != nil {
		return nil, fmt.Errorf("snapshot of failed emulator %s: %w", emu.Name(), err)
	}
	a := newArena()
	s := &Snapshot{
		Header: Header{
			Version:        FormatVersion,
			ID:             uuid.NewString(),
			Emulator:       emu.Name(),
			ServiceNetwork: emu.ServicePrefix(),
			Created:        time.Now().UTC(),
		},
	}

	for _, l := range emu.Layers() {
		kind, state, err := a.encodeLayer(l)
		if err != nil {
			return nil, err
		}
		st := emu.Status(l.Name())
		rec := layerRecord{Kind: kind, Registered: st.Registered, Configured: st.Configured}
		if err := rec.State.Encode(state); err != nil {
			return nil, fmt.Errorf("failed to encode layer %s: %w", l.Name(), err)
		}
		s.Layers = append(s.Layers, rec)
	}

	for key, obj := range emu.Registry().All() {
		rec := entryRecord{Scope: key.Scope, Class: key.Class, Name: key.Name}
		switch v := obj.(type) {
		case *topology.Node:
			rec.Ref = a.node(v)
		case *topology.Network:
			rec.Ref = a.network(v)
		case string:
			rec.Owner = v
		default:
			return nil, fmt.Errorf("registry entry %s holds %T: %w", key, obj, errdefs.ErrInvalidTopology)
		}
		s.Registry = append(s.Registry, rec)
	}

	if err := a.fill(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Write encodes the snapshot as YAML
func (s *Snapshot) Write(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(s); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Read parses a YAML snapshot
func Read(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if s.Header.Version != FormatVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d: %w", s.Header.Version, FormatVersion, errdefs.ErrInvalidTopology)
	}
	return &s, nil
}

// Restore rebuilds an emulator from a snapshot. Options are applied after
// the name and service network recorded in the snapshot.
func (s *Snapshot) Restore(opts ...emulator.Option) (*emulator.Emulator, error) {
	a, err := loadArena(s)
	if err != nil {
		return nil, err
	}
	opts = append([]emulator.Option{
		emulator.WithName(s.Header.Emulator),
		emulator.WithServiceNetwork(s.Header.ServiceNetwork),
	}, opts...)
	emu := emulator.New(opts...)

	for _, rec := range s.Layers {
		l, err := a.decodeLayer(rec)
		if err != nil {
			return nil, err
		}
		st := emulator.LayerStatus{Registered: rec.Registered, Configured: rec.Configured}
		if err := emu.RestoreLayer(l, st); err != nil {
			return nil, err
		}
	}

	reg := emu.Registry()
	for _, rec := range s.Registry {
		var obj any
		switch rec.Class {
		case registry.ClassNetwork:
			obj, err = a.networkByID(rec.Ref)
		case registry.ClassHostPort:
			obj = rec.Owner
		default:
			obj, err = a.nodeByID(rec.Ref)
		}
		if err != nil {
			return nil, fmt.Errorf("registry entry %s/%s/%s: %w", rec.Scope, rec.Class, rec.Name, err)
		}
		if err := reg.Register(rec.Scope, rec.Class, rec.Name, obj); err != nil {
			return nil, err
		}
	}
	return emu, nil
}

// Encode writes a snapshot of emu to w
func Encode(w io.Writer, emu *emulator.Emulator) error {
	s, err := Build(emu)
	if err != nil {
		return err
	}
	return s.Write(w)
}

// Decode reads a snapshot from r and rebuilds the emulator
func Decode(r io.Reader, opts ...emulator.Option) (*emulator.Emulator, error) {
	s, err := Read(r)
	if err != nil {
		return nil, err
	}
	return s.Restore(opts...)
}
